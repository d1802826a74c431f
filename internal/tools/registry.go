// Package tools exposes the game operations as a named tool registry. The
// LLM sees a deliberately small surface: only the turn tool and the scoring
// tool are advertised, while the full set stays callable for the CLI, the
// HTTP endpoints, and the MCP server.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	svcgame "github.com/dakling/katagollum/internal/service/game"
	"github.com/dakling/katagollum/pkg/gamedto"
)

const (
	ToolInitializeGame  = "initialize_game"
	ToolProcessUserMove = "process_user_move"
	ToolMakeFirstMove   = "make_first_move"
	ToolGetFinalScore   = "get_final_score"
	ToolGetServerInfo   = "get_server_info"
)

var (
	toolCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "katagollum_tool_calls_total",
		Help: "Tool invocations by name and status.",
	}, []string{"tool", "status"})
	toolDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "katagollum_tool_call_duration_seconds",
		Help:    "Tool invocation latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"tool"})
)

func init() {
	prometheus.MustRegister(toolCalls, toolDuration)
}

type Registry struct {
	svc    *svcgame.Service
	logger *zap.Logger
}

func NewRegistry(svc *svcgame.Service, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{svc: svc, logger: logger}
}

// Definitions lists the tools advertised to the language model. Keeping the
// lifecycle tools off this list stops the model from re-initializing the
// game mid-conversation.
func (r *Registry) Definitions(ctx context.Context) ([]gamedto.ToolDefinition, error) {
	return []gamedto.ToolDefinition{
		{
			Name: ToolProcessUserMove,
			Description: "Process the user's Go move: commit it on the board, " +
				"measure how good it was, and play the engine's reply move.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"color": {"type": "string", "description": "The user's color, B or W"},
					"move": {"type": "string", "description": "The user's move in A19 notation, e.g. D4"}
				},
				"required": ["color", "move"]
			}`),
		},
		{
			Name:        ToolGetFinalScore,
			Description: "Score the finished game and report prisoners for both sides.",
			Parameters:  json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}, nil
}

type initializeArgs struct {
	BoardSize     int     `json:"board_size"`
	Komi          float64 `json:"komi"`
	Handicap      int     `json:"handicap"`
	KatagoCommand string  `json:"katago_command"`
}

type moveArgs struct {
	Color string `json:"color"`
	Move  string `json:"move"`
}

type firstMoveArgs struct {
	UserColor string `json:"user_color"`
}

// Call invokes a tool by name. Every registered tool is reachable here, not
// just the advertised ones.
func (r *Registry) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	start := time.Now()
	result, err := r.dispatch(ctx, name, args)
	status := "ok"
	if err != nil {
		status = "error"
	}
	toolCalls.WithLabelValues(name, status).Inc()
	toolDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())

	if err != nil {
		r.logger.Warn("tool call failed",
			zap.String("tool", name),
			zap.Error(err))
		return nil, err
	}
	r.logger.Debug("tool call completed",
		zap.String("tool", name),
		zap.Duration("elapsed", time.Since(start)))
	return result, nil
}

func (r *Registry) dispatch(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolInitializeGame:
		in := initializeArgs{BoardSize: 19, Komi: 7.5}
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return r.svc.Initialize(ctx, gamedto.InitializeRequest{
			BoardSize:     in.BoardSize,
			Komi:          in.Komi,
			Handicap:      in.Handicap,
			KatagoCommand: in.KatagoCommand,
		})

	case ToolProcessUserMove:
		var in moveArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return r.svc.ProcessUserMove(ctx, in.Color, in.Move)

	case ToolMakeFirstMove:
		var in firstMoveArgs
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return r.svc.MakeFirstMove(ctx, in.UserColor)

	case ToolGetFinalScore:
		return r.svc.FinalScore(ctx)

	case ToolGetServerInfo:
		return r.svc.ServerInfo(ctx)
	}
	return nil, &UnknownToolError{Name: name}
}

// UnknownToolError reports a tool name outside the registry. The message
// wording is part of the wire contract.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string { return "Unknown tool: " + e.Name }

// decodeArgs round-trips the loose argument map into a typed struct so that
// defaults preset on the struct survive absent keys.
func decodeArgs(args map[string]any, into any) error {
	if len(args) == 0 {
		return nil
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode tool arguments: %w", err)
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("decode tool arguments: %w", err)
	}
	return nil
}
