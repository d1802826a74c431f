// Package katago wraps the raw GTP session with typed commands and keeps the
// running positional score estimate used for move quality feedback.
package katago

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/board"
	"github.com/dakling/katagollum/internal/katago/gtp"
)

const (
	defaultCommandTimeout = 5 * time.Second
	defaultGenmoveTimeout = 10 * time.Second
)

// Client issues typed GTP commands. Failures degrade to zero values; callers
// that need the distinction get an ok bool.
type Client struct {
	session *gtp.Session
	tracker *Tracker
	logger  *zap.Logger

	commandTimeout time.Duration
	genmoveTimeout time.Duration
}

func NewClient(session *gtp.Session, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		session:        session,
		tracker:        NewTracker(session, logger),
		logger:         logger,
		commandTimeout: defaultCommandTimeout,
		genmoveTimeout: defaultGenmoveTimeout,
	}
}

// Tracker returns the score tracker bound to this client's session.
func (c *Client) Tracker() *Tracker { return c.tracker }

// Stop terminates the underlying engine process.
func (c *Client) Stop() error { return c.session.Stop() }

// Started reports whether the engine is attached and accepting commands.
func (c *Client) Started() bool { return c.session.Started() }

func (c *Client) Name(ctx context.Context) string {
	resp := c.session.Send(ctx, c.commandTimeout, "name")
	if !resp.Success || resp.Result == "" {
		return "unknown"
	}
	return resp.Result
}

func (c *Client) Version(ctx context.Context) string {
	resp := c.session.Send(ctx, c.commandTimeout, "version")
	if !resp.Success || resp.Result == "" {
		return "unknown"
	}
	return resp.Result
}

// SetBoardSize resizes the board. The engine wipes the position, so the score
// baseline is reset with it.
func (c *Client) SetBoardSize(ctx context.Context, size int) bool {
	resp := c.session.Send(ctx, c.commandTimeout, "boardsize", strconv.Itoa(size))
	if resp.Success {
		c.tracker.Reset()
	}
	return resp.Success
}

func (c *Client) SetKomi(ctx context.Context, komi float64) bool {
	resp := c.session.Send(ctx, c.commandTimeout, "komi", strconv.FormatFloat(komi, 'g', -1, 64))
	return resp.Success
}

func (c *Client) ClearBoard(ctx context.Context) bool {
	resp := c.session.Send(ctx, c.commandTimeout, "clear_board")
	if resp.Success {
		c.tracker.Reset()
	}
	return resp.Success
}

// Play commits a move, color "B" or "W", vertex in engine form.
func (c *Client) Play(ctx context.Context, color, vertex string) bool {
	resp := c.session.Send(ctx, c.commandTimeout, "play", color, vertex)
	return resp.Success
}

// Genmove asks the engine to move for color and returns its vertex.
func (c *Client) Genmove(ctx context.Context, color string) (string, bool) {
	resp := c.session.Send(ctx, c.genmoveTimeout, "genmove", color)
	if !resp.Success {
		return "", false
	}
	return resp.Result, true
}

func (c *Client) FinalScore(ctx context.Context) (string, bool) {
	resp := c.session.Send(ctx, c.commandTimeout, "final_score")
	if !resp.Success {
		return "", false
	}
	return resp.Result, true
}

// FinalStatusList returns the vertices reported for a status category.
func (c *Client) FinalStatusList(ctx context.Context, status string) []string {
	resp := c.session.Send(ctx, c.commandTimeout, "final_status_list", status)
	if !resp.Success {
		return nil
	}
	return strings.Fields(resp.Result)
}

func (c *Client) Handicap(ctx context.Context) int {
	resp := c.session.Send(ctx, c.commandTimeout, "get_handicap")
	if !resp.Success {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(resp.Result))
	if err != nil {
		return 0
	}
	return n
}

// Showboard returns the engine's board diagram, which arrives as auxiliary
// lines rather than the response payload.
func (c *Client) Showboard(ctx context.Context) (string, bool) {
	resp := c.session.Send(ctx, c.commandTimeout, "showboard")
	if !resp.Success {
		return "", false
	}
	return resp.Text(), true
}

// Board parses the showboard diagram into a size x size grid of B/W/".".
func (c *Client) Board(ctx context.Context, size int) [][]string {
	text, ok := c.Showboard(ctx)
	if !ok {
		return board.EmptyGrid(size)
	}
	return board.ParseShowboard(text, size)
}

// FixedHandicap places size-dependent standard handicap stones and returns
// their vertices, nil on failure.
func (c *Client) FixedHandicap(ctx context.Context, stones int) []string {
	resp := c.session.Send(ctx, c.commandTimeout, "fixed_handicap", strconv.Itoa(stones))
	if !resp.Success {
		return nil
	}
	return strings.Fields(resp.Result)
}

// PlaceFreeHandicap lets the engine choose handicap placements.
func (c *Client) PlaceFreeHandicap(ctx context.Context, stones int) []string {
	resp := c.session.Send(ctx, c.commandTimeout, "place_free_handicap", strconv.Itoa(stones))
	if !resp.Success {
		return nil
	}
	return strings.Fields(resp.Result)
}

// SetFreeHandicap places explicit handicap stones. An empty list is a no-op
// success.
func (c *Client) SetFreeHandicap(ctx context.Context, vertices []string) bool {
	if len(vertices) == 0 {
		return true
	}
	resp := c.session.Send(ctx, c.commandTimeout, "set_free_handicap", vertices...)
	return resp.Success
}
