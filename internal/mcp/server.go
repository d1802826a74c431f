// Package mcp serves the engine tools over the Model Context Protocol so
// that external agents can drive a game without going through the REST API.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	svcgame "github.com/dakling/katagollum/internal/service/game"
	"github.com/dakling/katagollum/internal/tools"
	"github.com/dakling/katagollum/pkg/gamedto"
)

// Server wraps an MCP server exposing the five game tools. The tool set and
// argument shapes match the HTTP /call_tool surface.
type Server struct {
	srv    *mcp.Server
	logger *zap.Logger
}

type initializeInput struct {
	BoardSize     int     `json:"board_size,omitempty" jsonschema_description:"Board size, default 19"`
	Komi          float64 `json:"komi,omitempty" jsonschema_description:"Komi, default 7.5"`
	Handicap      int     `json:"handicap,omitempty" jsonschema_description:"Number of handicap stones for Black"`
	KatagoCommand string  `json:"katago_command,omitempty" jsonschema_description:"Engine command line override"`
}

type moveInput struct {
	Color string `json:"color" jsonschema_description:"The user's color, B or W"`
	Move  string `json:"move" jsonschema_description:"The user's move in A19 notation, e.g. D4"`
}

type firstMoveInput struct {
	UserColor string `json:"user_color" jsonschema_description:"The color the user plays, B or W"`
}

// NewServer registers the game tools against a fresh MCP server.
func NewServer(svc *svcgame.Service, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "KataGo", Version: version}, nil)
	s := &Server{srv: srv, logger: logger}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        tools.ToolInitializeGame,
		Description: "Start a new game: launch the engine and set board size, komi, and handicap.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in initializeInput) (*mcp.CallToolResult, struct{}, error) {
		if in.BoardSize == 0 {
			in.BoardSize = 19
		}
		if in.Komi == 0 {
			in.Komi = 7.5
		}
		msg, err := svc.Initialize(ctx, gamedto.InitializeRequest{
			BoardSize:     in.BoardSize,
			Komi:          in.Komi,
			Handicap:      in.Handicap,
			KatagoCommand: in.KatagoCommand,
		})
		if err != nil {
			return nil, struct{}{}, err
		}
		return textResult(msg), struct{}{}, nil
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name: tools.ToolProcessUserMove,
		Description: "Process the user's move: commit it to the board, analyze it, " +
			"and get the engine's response move. Call this once per turn.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in moveInput) (*mcp.CallToolResult, struct{}, error) {
		out, err := svc.ProcessUserMove(ctx, in.Color, in.Move)
		if err != nil {
			return nil, struct{}{}, err
		}
		return jsonResult(out)
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        tools.ToolMakeFirstMove,
		Description: "Generate the opening move for games where the engine's side moves first.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in firstMoveInput) (*mcp.CallToolResult, struct{}, error) {
		out, err := svc.MakeFirstMove(ctx, in.UserColor)
		if err != nil {
			return nil, struct{}{}, err
		}
		return jsonResult(out)
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        tools.ToolGetFinalScore,
		Description: "Get the final score of the game.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		out, err := svc.FinalScore(ctx)
		if err != nil {
			return nil, struct{}{}, err
		}
		return jsonResult(out)
	})

	mcp.AddTool(srv, &mcp.Tool{
		Name:        tools.ToolGetServerInfo,
		Description: "Report the engine name, version, and current game settings.",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		out, err := svc.ServerInfo(ctx)
		if err != nil {
			return nil, struct{}{}, err
		}
		return jsonResult(out)
	})

	return s
}

// Run serves MCP over stdin/stdout until the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("mcp server listening on stdio")
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

// Handler returns the streamable HTTP handler for mounting under a mux.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}
}

func jsonResult(v any) (*mcp.CallToolResult, struct{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, struct{}{}, err
	}
	return textResult(string(raw)), struct{}{}, nil
}
