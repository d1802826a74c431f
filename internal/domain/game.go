package domain

import "time"

// GameRecord is a persisted game. ID is the repository's key; UUID travels
// through the web API and session store.
type GameRecord struct {
	ID        int64
	UUID      string
	BoardSize int
	Komi      float64
	Handicap  int
	UserColor string // "B" or "W"
	Persona   string
	GameOver  bool
	Result    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AIColor is the side opposite the user.
func (g *GameRecord) AIColor() string {
	if g.UserColor == "W" {
		return "B"
	}
	return "W"
}

type MoveRecord struct {
	Color      string
	Coordinate string
	MoveNumber int
	CreatedAt  time.Time
}

type ChatRecord struct {
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt time.Time
}
