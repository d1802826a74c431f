package gamedto

// MoveOutcome reports a committed user move and the engine's reply. The
// score delta is from the mover's perspective: negative improved their
// position, positive lost points.
type MoveOutcome struct {
	UserMove      string  `json:"user_move"`
	CommitSuccess bool    `json:"commit_success"`
	KatagoMove    string  `json:"katago_move"`
	ScoreDelta    float64 `json:"score_delta"`
}

// FirstMove is the engine's opening move when the bot plays first. All fields
// stay empty when it is the user's turn to open.
type FirstMove struct {
	Move    string `json:"move,omitempty"`
	Color   string `json:"color,omitempty"`
	Message string `json:"message,omitempty"`
}

type FinalScore struct {
	Score          string `json:"score"`
	BlackPrisoners int    `json:"black_prisoners"`
	WhitePrisoners int    `json:"white_prisoners"`
}

type ServerInfo struct {
	Name      string  `json:"name"`
	Version   string  `json:"version"`
	BoardSize int     `json:"board_size"`
	Komi      float64 `json:"komi"`
}

type BoardState struct {
	Board     [][]string `json:"board"`
	BoardSize int        `json:"board_size"`
}
