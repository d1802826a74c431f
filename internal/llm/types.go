package llm

import (
	"encoding/json"

	"github.com/dakling/katagollum/pkg/gamedto"
)

// Message is one chat turn. Tool results use Role "tool" with Name set to
// the tool that produced them.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// ToolCall is a tool invocation proposed by the model, with its arguments
// already decoded.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ChatResult is the model's reply: free text, tool calls, or both.
type ChatResult struct {
	Content   string
	ToolCalls []ToolCall
}

// GameContext is folded into the system prompt so the model knows the board.
type GameContext struct {
	BoardSize int
	Komi      float64
	UserColor string // "B" or "W"
}

type chatRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Temperature float64    `json:"temperature"`
	MaxTokens   int        `json:"max_tokens"`
	Tools       []wireTool `json:"tools,omitempty"`
}

type wireTool struct {
	Type     string                 `json:"type"`
	Function gamedto.ToolDefinition `json:"function"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Message struct {
		Content   string         `json:"content"`
		ToolCalls []wireToolCall `json:"tool_calls"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name string `json:"name"`
		// Arguments is a JSON object, or a string containing one; providers
		// differ.
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

func decodeArguments(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = []byte(s)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return map[string]any{}
	}
	return m
}
