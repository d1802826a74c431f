package game

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/tools"
	"github.com/dakling/katagollum/pkg/gamedto"
)

// RegistrySource serves tool calls from an in-process registry. This is the
// path the CLI and the bundled server take; no HTTP hop involved.
type RegistrySource struct {
	reg *tools.Registry
}

func NewRegistrySource(reg *tools.Registry) *RegistrySource {
	return &RegistrySource{reg: reg}
}

func (s *RegistrySource) Definitions(ctx context.Context) ([]gamedto.ToolDefinition, error) {
	return s.reg.Definitions(ctx)
}

func (s *RegistrySource) Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	result, err := s.reg.Call(ctx, name, args)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return raw, nil
}

const (
	remoteListTimeout = 10 * time.Second
	// Tool calls cover engine analysis; first moves on a cold engine can
	// take a while.
	remoteCallTimeout = 600 * time.Second
)

// RemoteSource talks to a tool server over HTTP: GET /list_tools for the
// definitions, POST /call_tool to execute.
type RemoteSource struct {
	baseURL string
	hc      *fasthttp.Client
	logger  *zap.Logger
}

func NewRemoteSource(baseURL string, logger *zap.Logger) *RemoteSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL = strings.TrimSpace(baseURL)
	if baseURL != "" && !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}
	return &RemoteSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc: &fasthttp.Client{
			MaxConnsPerHost: 4,
			ReadTimeout:     remoteCallTimeout,
			WriteTimeout:    10 * time.Second,
		},
		logger: logger,
	}
}

func (s *RemoteSource) Definitions(ctx context.Context) ([]gamedto.ToolDefinition, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(s.baseURL + "/list_tools")

	if err := s.hc.DoDeadline(req, resp, requestDeadline(ctx, remoteListTimeout)); err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if sc := resp.StatusCode(); sc != fasthttp.StatusOK {
		return nil, fmt.Errorf("list tools: status %d", sc)
	}
	var decoded gamedto.ToolListResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, fmt.Errorf("decode tool list: %w", err)
	}
	return decoded.Tools, nil
}

func (s *RemoteSource) Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(gamedto.ToolCallRequest{Name: name, Arguments: args})
	if err != nil {
		return nil, fmt.Errorf("encode tool call: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(s.baseURL + "/call_tool")
	req.Header.SetContentType("application/json")
	req.SetBodyRaw(body)

	if err := s.hc.DoDeadline(req, resp, requestDeadline(ctx, remoteCallTimeout)); err != nil {
		return nil, fmt.Errorf("call tool %s: %w", name, err)
	}

	var decoded gamedto.ToolCallResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return nil, fmt.Errorf("decode tool result: status %d: %w", resp.StatusCode(), err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("%s", decoded.Error)
	}
	if sc := resp.StatusCode(); sc != fasthttp.StatusOK {
		return nil, fmt.Errorf("call tool %s: status %d", name, sc)
	}
	s.logger.Debug("remote tool call ok", zap.String("tool", name))
	return decoded.Result, nil
}

func requestDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}
