// Package game owns the engine side of a match: one KataGo process, the
// score baseline, and the operations the tool layer exposes.
package game

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/katago"
	"github.com/dakling/katagollum/internal/katago/gtp"
	"github.com/dakling/katagollum/internal/persona"
	"github.com/dakling/katagollum/pkg/gamedto"
)

var (
	ErrNotInitialized  = errors.New("game engine not initialized")
	ErrNoCommand       = errors.New("katago command not configured")
	ErrSessionNotFound = errors.New("game session not found")
)

const (
	defaultBoardSize = 19
	defaultKomi      = 7.5
)

// EngineFactory spawns an engine for the given invocation. The default
// factory starts a real process; tests substitute a scripted one.
type EngineFactory func(ctx context.Context, command []string, logger *zap.Logger) (*katago.Client, error)

func defaultEngineFactory(ctx context.Context, command []string, logger *zap.Logger) (*katago.Client, error) {
	session := gtp.NewSession(gtp.Config{Command: command}, logger)
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	return katago.NewClient(session, logger), nil
}

type Config struct {
	// KatagoCommand is the engine invocation used when an initialize
	// request does not carry its own.
	KatagoCommand []string

	// Factory overrides engine creation; nil uses the real process factory.
	Factory EngineFactory
}

// Service serializes all engine access. One command is in flight at a time,
// which also keeps the score baseline consistent.
type Service struct {
	catalog *persona.Catalog
	cfg     Config
	logger  *zap.Logger

	mu        sync.Mutex
	engine    *katago.Client
	boardSize int
	komi      float64
	handicap  int
}

func NewService(catalog *persona.Catalog, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Factory == nil {
		cfg.Factory = defaultEngineFactory
	}
	return &Service{
		catalog:   catalog,
		cfg:       cfg,
		logger:    logger,
		boardSize: defaultBoardSize,
		komi:      defaultKomi,
	}
}

// Initialize starts (or restarts) the engine, sizes the board, seeds the
// score baseline, and places handicap stones. It returns a banner describing
// the game.
func (s *Service) Initialize(ctx context.Context, req gamedto.InitializeRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.engine != nil {
		if err := s.engine.Stop(); err != nil {
			s.logger.Warn("failed to stop previous engine", zap.Error(err))
		}
		s.engine = nil
	}

	boardSize := req.BoardSize
	if boardSize <= 0 {
		boardSize = defaultBoardSize
	}
	komi := req.Komi
	if komi == 0 {
		komi = defaultKomi
	}

	command := s.cfg.KatagoCommand
	if cmd := strings.TrimSpace(req.KatagoCommand); cmd != "" {
		command = strings.Fields(cmd)
	}
	if len(command) == 0 {
		return "", ErrNoCommand
	}

	engine, err := s.cfg.Factory(ctx, command, s.logger)
	if err != nil {
		return "", fmt.Errorf("start engine: %w", err)
	}

	if !engine.SetBoardSize(ctx, boardSize) {
		_ = engine.Stop()
		return "", fmt.Errorf("failed to set board size to %d", boardSize)
	}
	engine.SetKomi(ctx, komi)
	engine.ClearBoard(ctx)
	engine.Tracker().Seed(ctx, "B")

	var stones []string
	if req.Handicap > 0 {
		stones = engine.FixedHandicap(ctx, req.Handicap)
		if len(stones) == 0 {
			_ = engine.Stop()
			return "", fmt.Errorf("failed to place %d handicap stones", req.Handicap)
		}
		// White moves first in a handicap game; re-seed from their side.
		engine.Tracker().Seed(ctx, "W")
	}

	name := engine.Name(ctx)
	version := engine.Version(ctx)

	s.engine = engine
	s.boardSize = boardSize
	s.komi = komi
	s.handicap = req.Handicap

	var handicapNote string
	if req.Handicap > 0 {
		handicapNote = fmt.Sprintf(", handicap: %d stones at %s", req.Handicap, strings.Join(stones, ", "))
	}
	banner := s.catalog.MessageOr("init_banner", map[string]any{
		"Name":         name,
		"Version":      version,
		"BoardSize":    boardSize,
		"Komi":         formatKomi(komi),
		"HandicapNote": handicapNote,
	}, fmt.Sprintf("Game initialized with %s %s (board size: %d, komi: %s%s)",
		name, version, boardSize, formatKomi(komi), handicapNote))

	s.logger.Info("game initialized",
		zap.String("engine", name),
		zap.String("engine_version", version),
		zap.Int("board_size", boardSize),
		zap.Float64("komi", komi),
		zap.Int("handicap", req.Handicap))
	return banner, nil
}

// ProcessUserMove commits the user's move, measures its cost against the
// score baseline, and answers with the engine's reply move. An illegal move
// is not an error: the outcome reports commit_success=false.
func (s *Service) ProcessUserMove(ctx context.Context, color, move string) (gamedto.MoveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return gamedto.MoveOutcome{}, ErrNotInitialized
	}

	if !s.engine.Play(ctx, color, move) {
		s.logger.Warn("engine rejected user move",
			zap.String("color", color),
			zap.String("move", move))
		return gamedto.MoveOutcome{}, nil
	}

	delta := s.engine.Tracker().MoveDelta(ctx, color)

	opponent := "W"
	if color == "W" {
		opponent = "B"
	}
	engineMove, ok := s.engine.Genmove(ctx, opponent)
	if !ok || engineMove == "" {
		engineMove = "PASS"
	}

	s.logger.Info("turn processed",
		zap.String("user_move", move),
		zap.String("user_color", color),
		zap.Float64("score_delta", delta),
		zap.String("engine_move", engineMove))

	return gamedto.MoveOutcome{
		UserMove:      move,
		CommitSuccess: true,
		KatagoMove:    engineMove,
		ScoreDelta:    delta,
	}, nil
}

// MakeFirstMove plays the opening move when the bot has it: Black in an even
// game where the user took White, or White in a handicap game where the user
// took Black. Otherwise the result is empty and the user opens.
func (s *Service) MakeFirstMove(ctx context.Context, userColor string) (gamedto.FirstMove, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return gamedto.FirstMove{}, ErrNotInitialized
	}

	var llmColor string
	switch {
	case s.handicap == 0 && userColor == "W":
		llmColor = "B"
	case s.handicap > 0 && userColor == "B":
		llmColor = "W"
	default:
		return gamedto.FirstMove{}, nil
	}

	move, ok := s.engine.Genmove(ctx, llmColor)
	if !ok || move == "" {
		return gamedto.FirstMove{
			Message: s.catalog.MessageOr("first_move_failed", nil, "Failed to generate opening move"),
		}, nil
	}

	s.engine.Tracker().Seed(ctx, userColor)

	var greeting string
	if s.handicap > 0 {
		greeting = s.catalog.MessageOr("first_move_handicap",
			map[string]any{"Move": move, "Handicap": s.handicap},
			fmt.Sprintf("I'll start. I play %s. Let's see how you handle a %d-stone handicap!", move, s.handicap))
	} else {
		greeting = s.catalog.MessageOr("first_move_even",
			map[string]any{"Move": move},
			fmt.Sprintf("I'll start. I play %s. Let's begin!", move))
	}

	s.logger.Info("opening move played",
		zap.String("move", move),
		zap.String("color", llmColor))
	return gamedto.FirstMove{Move: move, Color: llmColor, Message: greeting}, nil
}

// FinalScore asks the engine to score the finished game.
func (s *Service) FinalScore(ctx context.Context) (gamedto.FinalScore, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return gamedto.FinalScore{}, ErrNotInitialized
	}

	score, _ := s.engine.FinalScore(ctx)
	black := s.engine.FinalStatusList(ctx, "black_prisoners")
	white := s.engine.FinalStatusList(ctx, "white_prisoners")
	return gamedto.FinalScore{
		Score:          score,
		BlackPrisoners: len(black),
		WhitePrisoners: len(white),
	}, nil
}

// ServerInfo reports engine identity and game parameters.
func (s *Service) ServerInfo(ctx context.Context) (gamedto.ServerInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return gamedto.ServerInfo{}, ErrNotInitialized
	}
	return gamedto.ServerInfo{
		Name:      s.engine.Name(ctx),
		Version:   s.engine.Version(ctx),
		BoardSize: s.boardSize,
		Komi:      s.komi,
	}, nil
}

// BoardState reads the current position from the engine. Without an engine
// it reports an empty board rather than failing.
func (s *Service) BoardState(ctx context.Context) gamedto.BoardState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return gamedto.BoardState{Board: [][]string{}, BoardSize: s.boardSize}
	}
	return gamedto.BoardState{
		Board:     s.engine.Board(ctx, s.boardSize),
		BoardSize: s.boardSize,
	}
}

// Initialized reports whether an engine is attached.
func (s *Service) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine != nil
}

func (s *Service) BoardSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boardSize
}

func (s *Service) Komi() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.komi
}

func (s *Service) Handicap() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handicap
}

// Close stops the engine if one is running.
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engine == nil {
		return nil
	}
	err := s.engine.Stop()
	s.engine = nil
	return err
}

// formatKomi renders komi the way players write it: one decimal for whole
// and half values, full precision otherwise.
func formatKomi(k float64) string {
	if k == math.Trunc(k) {
		return strconv.FormatFloat(k, 'f', 1, 64)
	}
	return strconv.FormatFloat(k, 'f', -1, 64)
}
