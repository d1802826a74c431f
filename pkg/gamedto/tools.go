// Package gamedto holds the wire types shared by the tool endpoints, the web
// API, and their clients.
package gamedto

import "encoding/json"

// ToolDefinition describes one callable tool in the shape LLM chat APIs
// expect: a name, a description, and a JSON schema for the arguments.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type ToolListResponse struct {
	Tools []ToolDefinition `json:"tools"`
}

type ToolCallRequest struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ToolCallResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
