package game

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/llm"
	"github.com/dakling/katagollum/internal/persona"
	"github.com/dakling/katagollum/internal/tools"
	"github.com/dakling/katagollum/pkg/gamedto"
)

const userMovePrefix = "My move: "

// Fallback texts used when the message catalog cannot render a key.
const (
	msgNothingToSay       = "I have nothing to say."
	msgPlayPass           = "I play PASS."
	msgMoveFailed         = "The move failed."
	msgToolsUnavailable   = "Error: Could not connect to MCP server for tool definitions."
	msgIntegrityViolation = "Error: The user did not provide this move coordinate. Please respond conversationally instead."
)

// ModelClient is the slice of the LLM client the orchestrator needs.
type ModelClient interface {
	Chat(ctx context.Context, messages []llm.Message, personaPrompt string, tools []gamedto.ToolDefinition, gc llm.GameContext) (llm.ChatResult, error)
}

// ToolSource serves tool definitions and executes tool calls. It is either
// the in-process registry or a remote tool server.
type ToolSource interface {
	Definitions(ctx context.Context) ([]gamedto.ToolDefinition, error)
	Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// TurnResult is what one user turn produced. Reply always carries the bot's
// table talk. UserPlayed, EngineMove, and ScoreDelta are only meaningful
// when Committed is true; UserPlayed is the normalized coordinate the engine
// actually accepted, which matters when UserMove was free text.
type TurnResult struct {
	UserMove   string
	UserPlayed string
	Reply      string
	EngineMove string
	ScoreDelta float64
	Committed  bool
}

// Orchestrator drives one turn of the game conversation. The model never
// touches the engine directly: it proposes tool calls, the orchestrator
// screens them against what the user actually typed, and only clean calls
// reach the tools.
type Orchestrator struct {
	model     ModelClient
	tools     ToolSource
	validator *Validator
	catalog   *persona.Catalog
	prompt    string
	gameCtx   llm.GameContext
	logger    *zap.Logger

	mu      sync.Mutex
	history []llm.Message
}

func New(model ModelClient, source ToolSource, catalog *persona.Catalog, personaName string, gc llm.GameContext, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	prompt := persona.DefaultPrompt
	if catalog != nil {
		prompt = catalog.Prompt(personaName)
	}
	return &Orchestrator{
		model:     model,
		tools:     source,
		validator: NewValidator(gc.BoardSize),
		catalog:   catalog,
		prompt:    prompt,
		gameCtx:   gc,
		logger:    logger,
	}
}

// ProcessTurn runs one turn against the conversation history the
// orchestrator keeps. The user message is recorded even when the model call
// fails, so a retry does not lose what the user said.
func (o *Orchestrator) ProcessTurn(ctx context.Context, userMove string) (TurnResult, error) {
	o.mu.Lock()
	hist := append([]llm.Message(nil), o.history...)
	o.mu.Unlock()

	result, err := o.Run(ctx, userMove, hist)

	o.mu.Lock()
	o.history = append(o.history, llm.Message{Role: "user", Content: userMovePrefix + userMove})
	if err == nil {
		o.history = append(o.history, llm.Message{Role: "assistant", Content: result.Reply})
	}
	o.mu.Unlock()
	return result, err
}

// History returns a copy of the recorded conversation.
func (o *Orchestrator) History() []llm.Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]llm.Message(nil), o.history...)
}

// Run executes one turn on top of the given history without touching the
// orchestrator's own. An error is returned only when the model itself is
// unreachable; every tool-side failure degrades into a conversational reply.
func (o *Orchestrator) Run(ctx context.Context, userMove string, history []llm.Message) (TurnResult, error) {
	result := TurnResult{UserMove: userMove}

	defs, err := o.tools.Definitions(ctx)
	if err != nil || len(defs) == 0 {
		if err != nil {
			o.logger.Warn("tool definitions unavailable", zap.Error(err))
		}
		turnsTotal.WithLabelValues("no_tools").Inc()
		result.Reply = o.fallback("tools_unavailable", msgToolsUnavailable)
		return result, nil
	}

	messages := make([]llm.Message, 0, len(history)+len(defs)+2)
	messages = append(messages, history...)
	messages = append(messages, llm.Message{Role: "user", Content: userMovePrefix + userMove})

	resp, err := o.model.Chat(ctx, messages, o.prompt, defs, o.gameCtx)
	if err != nil {
		turnsTotal.WithLabelValues("model_error").Inc()
		return result, fmt.Errorf("model call: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		turnsTotal.WithLabelValues("chat").Inc()
		result.Reply = orElse(resp.Content, o.fallback("nothing_to_say", msgNothingToSay))
		return result, nil
	}

	userLower := strings.ToLower(userMove)
	for _, tc := range resp.ToolCalls {
		// The model must play the coordinate the user typed, not one it
		// invented. Compare against the raw argument before normalization.
		claimed := strings.ToLower(stringArg(tc.Arguments, "move"))
		if claimed != "" && !strings.Contains(userLower, claimed) {
			o.logger.Warn("model substituted a move coordinate",
				zap.String("tool", tc.Name),
				zap.String("claimed_move", claimed),
				zap.String("user_move", userMove))
			turnsTotal.WithLabelValues("integrity_violation").Inc()
			reply, cerr := o.degrade(ctx, messages, tc.Name, o.fallback("integrity_violation", msgIntegrityViolation))
			if cerr != nil {
				return result, cerr
			}
			result.Reply = reply
			return result, nil
		}

		if verr := o.validator.Validate(tc.Name, tc.Arguments); verr != nil {
			o.logger.Warn("tool arguments rejected",
				zap.String("tool", tc.Name),
				zap.Error(verr))
			turnsTotal.WithLabelValues("validation_failed").Inc()
			content := o.catalog.MessageOr("validation_failed", map[string]any{"Reason": verr.Error()},
				fmt.Sprintf("Error: %s. No move was played. Please respond conversationally instead.", verr.Error()))
			reply, cerr := o.degrade(ctx, messages, tc.Name, content)
			if cerr != nil {
				return result, cerr
			}
			result.Reply = reply
			return result, nil
		}

		raw, callErr := o.tools.Call(ctx, tc.Name, NormalizeArgs(tc.Arguments))
		messages = append(messages, llm.Message{
			Role:    "tool",
			Name:    tc.Name,
			Content: o.narrate(tc.Name, raw, callErr, &result),
		})
	}

	final, err := o.model.Chat(ctx, messages, o.prompt, nil, o.gameCtx)
	if err != nil {
		turnsTotal.WithLabelValues("model_error").Inc()
		return result, fmt.Errorf("model call: %w", err)
	}
	if result.Committed {
		turnsTotal.WithLabelValues("committed").Inc()
	} else {
		turnsTotal.WithLabelValues("uncommitted").Inc()
	}
	result.Reply = orElse(final.Content, o.fallback("play_pass", msgPlayPass))
	return result, nil
}

// narrate turns a tool result into the text the model sees. Move commits
// get a scripted line carrying the quality verdict and the engine's reply;
// the numeric score never reaches the model. Other tools are relayed as
// their raw JSON.
func (o *Orchestrator) narrate(toolName string, raw json.RawMessage, callErr error, result *TurnResult) string {
	if toolName == tools.ToolProcessUserMove {
		var out gamedto.MoveOutcome
		if callErr == nil {
			callErr = json.Unmarshal(raw, &out)
		}
		if callErr != nil || !out.CommitSuccess {
			if callErr != nil {
				o.logger.Warn("move tool call failed", zap.Error(callErr))
			}
			return o.fallback("move_failed", msgMoveFailed)
		}
		engineMove := out.KatagoMove
		if engineMove == "" {
			engineMove = "PASS"
		}
		result.UserPlayed = out.UserMove
		result.EngineMove = engineMove
		result.ScoreDelta = out.ScoreDelta
		result.Committed = true
		quality := QualityLabel(out.ScoreDelta)
		return o.catalog.MessageOr("move_result", map[string]any{"Quality": quality, "Move": engineMove},
			fmt.Sprintf("The user played a %s. You play %s.", quality, engineMove))
	}
	if callErr != nil {
		o.logger.Warn("tool call failed", zap.String("tool", toolName), zap.Error(callErr))
		encoded, _ := json.Marshal(map[string]string{"error": callErr.Error()})
		return string(encoded)
	}
	return string(raw)
}

// degrade answers a rejected tool call: the rejection text is fed back as
// the tool result and the model replies without tools.
func (o *Orchestrator) degrade(ctx context.Context, messages []llm.Message, toolName, content string) (string, error) {
	messages = append(messages, llm.Message{Role: "tool", Name: toolName, Content: content})
	resp, err := o.model.Chat(ctx, messages, o.prompt, nil, o.gameCtx)
	if err != nil {
		return "", fmt.Errorf("model call: %w", err)
	}
	return orElse(resp.Content, o.fallback("nothing_to_say", msgNothingToSay)), nil
}

// OpeningMove asks the engine for the first move when the bot opens. The
// greeting joins the conversation history so later turns remember it.
func (o *Orchestrator) OpeningMove(ctx context.Context, userColor string) (gamedto.FirstMove, error) {
	raw, err := o.tools.Call(ctx, tools.ToolMakeFirstMove, map[string]any{"user_color": userColor})
	if err != nil {
		return gamedto.FirstMove{}, fmt.Errorf("make first move: %w", err)
	}
	var first gamedto.FirstMove
	if err := json.Unmarshal(raw, &first); err != nil {
		return gamedto.FirstMove{}, fmt.Errorf("decode first move: %w", err)
	}
	if first.Message != "" {
		o.mu.Lock()
		o.history = append(o.history, llm.Message{Role: "assistant", Content: first.Message})
		o.mu.Unlock()
	}
	return first, nil
}

// QualityLabel grades a move by how many points it gave away. Negative
// deltas improved the mover's position.
func QualityLabel(delta float64) string {
	switch {
	case delta < 0:
		return "great"
	case delta <= 0.5:
		return "good"
	case delta <= 3:
		return "small mistake"
	case delta <= 5:
		return "medium mistake"
	case delta <= 10:
		return "big mistake"
	default:
		return "terrible move"
	}
}

func (o *Orchestrator) fallback(key, def string) string {
	return o.catalog.MessageOr(key, nil, def)
}

func orElse(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
