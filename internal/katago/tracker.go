package katago

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/katago/gtp"
)

const (
	defaultAnalyzeTimeout = time.Second

	// analyzeInterval is the kata-analyze report interval in centiseconds.
	analyzeInterval = "1"

	maxScoreSamples = 10
	maxParsedLines  = 100
)

// Tracker keeps the running score estimate between moves. All values are
// normalized to Black's perspective; a positive number means Black is ahead.
// The engine reports scoreMean from the side to move, so normalization flips
// the sign when White is to move.
type Tracker struct {
	session *gtp.Session
	logger  *zap.Logger

	analyzeTimeout time.Duration

	mu   sync.Mutex
	prev float64
}

func NewTracker(session *gtp.Session, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		session:        session,
		logger:         logger,
		analyzeTimeout: defaultAnalyzeTimeout,
	}
}

// Reset zeroes the baseline. Called whenever the position is wiped.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.prev = 0
	t.mu.Unlock()
}

// Previous returns the current baseline, for logging.
func (t *Tracker) Previous() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prev
}

// Evaluate runs a brief kata-analyze and returns the mean of the first few
// scoreMean samples, raw from the engine. Neutral 0.0 when analysis yields
// nothing; a silent engine is not an error here.
func (t *Tracker) Evaluate(ctx context.Context) float64 {
	resp := t.session.Send(ctx, t.analyzeTimeout, "kata-analyze", analyzeInterval)
	if !resp.Success {
		t.logger.Warn("analysis failed, scoring neutral", zap.String("reason", resp.Text()))
		return 0
	}

	var scores []float64
	lines := resp.Lines
	if len(lines) > maxParsedLines {
		lines = lines[:maxParsedLines]
	}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "=") || strings.HasPrefix(line, "?") {
			continue
		}
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] != "scoreMean" {
				continue
			}
			v, err := strconv.ParseFloat(fields[i+1], 64)
			if err != nil {
				continue
			}
			scores = append(scores, v)
			if len(scores) >= maxScoreSamples {
				break
			}
		}
		if len(scores) >= maxScoreSamples {
			break
		}
	}

	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, v := range scores {
		sum += v
	}
	mean := sum / float64(len(scores))
	t.logger.Debug("position evaluated",
		zap.Float64("score_mean", mean),
		zap.Int("samples", len(scores)))
	return mean
}

// EvaluateFor evaluates the position and normalizes the result to Black's
// perspective given which color is to move.
func (t *Tracker) EvaluateFor(ctx context.Context, toMove string) float64 {
	score := t.Evaluate(ctx)
	if toMove == "W" {
		return -score
	}
	return score
}

// Seed establishes the baseline from the current position.
func (t *Tracker) Seed(ctx context.Context, toMove string) float64 {
	v := t.EvaluateFor(ctx, toMove)
	t.mu.Lock()
	t.prev = v
	t.mu.Unlock()
	return v
}

// MoveDelta evaluates the position after mover's stone went down and returns
// how much the move cost from the mover's own perspective: negative is a
// gain, positive is a loss. The baseline advances to the new value.
func (t *Tracker) MoveDelta(ctx context.Context, mover string) float64 {
	opponent := "B"
	if mover == "B" {
		opponent = "W"
	}
	after := t.EvaluateFor(ctx, opponent)

	t.mu.Lock()
	rawDelta := t.prev - after
	t.prev = after
	t.mu.Unlock()

	if mover == "W" {
		return -rawDelta
	}
	return rawDelta
}
