package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/dakling/katagollum/internal/board"
	"github.com/dakling/katagollum/internal/domain"
)

// Archiver persists finished games. The Postgres repository and the
// in-memory one both satisfy it.
type Archiver interface {
	SaveResult(ctx context.Context, sess *Session, method string) error
	RecentGames(ctx context.Context, limit int) ([]domain.GameRecord, error)
	Close() error
}

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// SaveResult upserts a finished game keyed by its uuid.
func (r *Repository) SaveResult(ctx context.Context, sess *Session, method string) error {
	if r == nil || r.db == nil || sess == nil {
		return nil
	}
	g := sess.Game

	sgf := BuildSGF(&g, sess.Moves)
	movesRaw, _ := json.Marshal(sess.Moves)
	chatRaw, _ := json.Marshal(sess.Chats)
	duration := g.UpdatedAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}

	q := `INSERT INTO go_games (
	    uuid, board_size, komi, handicap, user_color, persona,
	    result, result_method, move_count, moves, chat, sgf,
	    started_at, ended_at, duration_ms
	  ) VALUES (
	    $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
	  ) ON CONFLICT (uuid) DO UPDATE SET
	    board_size=EXCLUDED.board_size,
	    komi=EXCLUDED.komi,
	    handicap=EXCLUDED.handicap,
	    user_color=EXCLUDED.user_color,
	    persona=EXCLUDED.persona,
	    result=EXCLUDED.result,
	    result_method=EXCLUDED.result_method,
	    move_count=EXCLUDED.move_count,
	    moves=EXCLUDED.moves,
	    chat=EXCLUDED.chat,
	    sgf=EXCLUDED.sgf,
	    started_at=EXCLUDED.started_at,
	    ended_at=EXCLUDED.ended_at,
	    duration_ms=EXCLUDED.duration_ms`

	_, err := r.db.ExecContext(ctx, q,
		g.UUID, g.BoardSize, g.Komi, g.Handicap, g.UserColor, g.Persona,
		strings.TrimSpace(g.Result), strings.TrimSpace(method),
		len(sess.Moves), string(movesRaw), string(chatRaw), sgf,
		g.CreatedAt, g.UpdatedAt, duration,
	)
	return err
}

// RecentGames lists the latest archived games, newest first.
func (r *Repository) RecentGames(ctx context.Context, limit int) ([]domain.GameRecord, error) {
	if r == nil || r.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT uuid, board_size, komi, handicap, user_color, persona,
	        result, started_at, ended_at
	      FROM go_games ORDER BY ended_at DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GameRecord
	for rows.Next() {
		var g domain.GameRecord
		if err := rows.Scan(&g.UUID, &g.BoardSize, &g.Komi, &g.Handicap,
			&g.UserColor, &g.Persona, &g.Result, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, err
		}
		g.GameOver = true
		out = append(out, g)
	}
	return out, rows.Err()
}

// BuildSGF renders a game record and its moves as an SGF document.
func BuildSGF(g *domain.GameRecord, moves []domain.MoveRecord) string {
	if g == nil {
		return ""
	}
	size := g.BoardSize
	if size <= 0 {
		size = 19
	}
	date := g.UpdatedAt
	if date.IsZero() {
		date = time.Now()
	}

	var b strings.Builder
	b.WriteString("(;GM[1]FF[4]CA[UTF-8]AP[katagollum]")
	b.WriteString(fmt.Sprintf("SZ[%d]", size))
	b.WriteString(fmt.Sprintf("KM[%s]", formatKomi(g.Komi)))
	if g.Handicap > 0 {
		b.WriteString(fmt.Sprintf("HA[%d]", g.Handicap))
	}
	black, white := "Human", "KataGo"
	if g.UserColor == "W" {
		black, white = "KataGo", "Human"
	}
	b.WriteString(fmt.Sprintf("PB[%s]PW[%s]", sanitizeSGF(black), sanitizeSGF(white)))
	if res := strings.TrimSpace(g.Result); res != "" {
		b.WriteString(fmt.Sprintf("RE[%s]", sanitizeSGF(res)))
	}
	b.WriteString(fmt.Sprintf("DT[%04d-%02d-%02d]", date.Year(), int(date.Month()), date.Day()))

	for _, mv := range moves {
		color := strings.ToUpper(strings.TrimSpace(mv.Color))
		if color != "B" && color != "W" {
			continue
		}
		b.WriteString(fmt.Sprintf(";%s[%s]", color, sgfPoint(mv.Coordinate, size)))
	}
	b.WriteString(")")
	return b.String()
}

// sgfPoint converts a display coordinate to SGF letters. SGF columns do not
// skip i, so this maps through grid indexes rather than the board alphabet.
// A pass renders as the empty point.
func sgfPoint(coord string, size int) string {
	c := strings.ToUpper(strings.TrimSpace(coord))
	if c == "" || c == "PASS" || c == "RESIGN" {
		return ""
	}
	row, col, ok := board.GridPosition(c, size)
	if !ok {
		return ""
	}
	return string([]byte{byte('a' + col), byte('a' + row)})
}

func sanitizeSGF(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "]", ")")
	return strings.TrimSpace(s)
}
