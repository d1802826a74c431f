package gamedto

import "time"

type InitializeRequest struct {
	BoardSize     int     `json:"board_size"`
	Komi          float64 `json:"komi"`
	Handicap      int     `json:"handicap"`
	KatagoCommand string  `json:"katago_command,omitempty"`
}

type InitializeResponse struct {
	Message string `json:"message"`
}

type CreateGameRequest struct {
	BoardSize int     `json:"board_size"`
	Komi      float64 `json:"komi"`
	UserColor string  `json:"user_color"`
	Persona   string  `json:"persona"`
}

type GameResponse struct {
	ID        int64     `json:"id"`
	UUID      string    `json:"uuid"`
	BoardSize int       `json:"board_size"`
	Komi      float64   `json:"komi"`
	Handicap  int       `json:"handicap"`
	UserColor string    `json:"user_color"`
	AIColor   string    `json:"ai_color"`
	Persona   string    `json:"persona"`
	GameOver  bool      `json:"game_over"`
	CreatedAt time.Time `json:"created_at"`
}

type BoardResponse struct {
	GameResponse
	Board [][]string     `json:"board"`
	Moves []MoveResponse `json:"moves"`
}

type MoveResponse struct {
	Color      string    `json:"color"`
	Coordinate string    `json:"coordinate"`
	MoveNumber int       `json:"move_number"`
	CreatedAt  time.Time `json:"created_at"`
}

type SubmitMoveRequest struct {
	Coordinate string `json:"coordinate"`
}

type SubmitMoveResponse struct {
	UserMove    string        `json:"user_move"`
	AIMove      string        `json:"ai_move,omitempty"`
	BotResponse string        `json:"bot_response"`
	Committed   bool          `json:"committed"`
	ScoreDelta  string        `json:"score_delta,omitempty"`
	Game        *GameResponse `json:"game,omitempty"`
}

type FirstMoveResponse struct {
	Move       string      `json:"move,omitempty"`
	Color      string      `json:"color,omitempty"`
	Message    string      `json:"message,omitempty"`
	BoardState *BoardState `json:"board_state,omitempty"`
}

type ChatMessageRequest struct {
	GameID  int64  `json:"game_id"`
	Content string `json:"content"`
	Role    string `json:"role,omitempty"`
}

type ChatMessageResponse struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type SendMessageResponse struct {
	UserMessage ChatMessageResponse `json:"user_message"`
	BotMessage  ChatMessageResponse `json:"bot_message"`
}

type FinishRequest struct {
	// Method is "count" (default) or "resign".
	Method string `json:"method,omitempty"`
}

type FinishResponse struct {
	Result string `json:"result"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
