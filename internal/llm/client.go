// Package llm talks to an OpenAI-compatible chat completions endpoint,
// local Ollama or hosted, with function tools attached.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/dakling/katagollum/pkg/gamedto"
)

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "katagollum_llm_requests_total",
			Help: "Chat completion requests, by provider and outcome.",
		},
		[]string{"provider", "status"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "katagollum_llm_request_duration_seconds",
			Help:    "Chat completion latency.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestDuration)
}

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	defaultOllamaBaseURL = "http://localhost:11434/v1"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"

	defaultTemperature = 0.7
	defaultMaxTokens   = 1024

	// Local models can be slow to first token; the request timeout is
	// generous on purpose.
	defaultTimeout  = 600 * time.Second
	defaultMaxConns = 16
)

type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Client is a thin fasthttp client for /chat/completions.
type Client struct {
	cfg     Config
	baseURL string
	timeout time.Duration
	hc      *fasthttp.Client
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Provider == "" {
		cfg.Provider = ProviderOllama
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		if cfg.Provider == ProviderOpenAI {
			baseURL = defaultOpenAIBaseURL
		} else {
			baseURL = defaultOllamaBaseURL
		}
	}

	return &Client{
		cfg:     cfg,
		baseURL: baseURL,
		timeout: timeout,
		hc: &fasthttp.Client{
			MaxConnsPerHost: defaultMaxConns,
			ReadTimeout:     timeout,
			WriteTimeout:    30 * time.Second,
		},
		logger: logger,
	}
}

// Chat sends the history plus a system prompt built from the persona text
// and the game context, and decodes the first choice.
func (c *Client) Chat(ctx context.Context, messages []Message, personaPrompt string, tools []gamedto.ToolDefinition, gc GameContext) (ChatResult, error) {
	payload := chatRequest{
		Model:       c.cfg.Model,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	payload.Messages = make([]Message, 0, len(messages)+1)
	payload.Messages = append(payload.Messages, Message{
		Role:    "system",
		Content: SystemPrompt(personaPrompt, gc),
	})
	payload.Messages = append(payload.Messages, messages...)
	for _, def := range tools {
		payload.Tools = append(payload.Tools, wireTool{Type: "function", Function: def})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return ChatResult{}, fmt.Errorf("encode chat request: %w", err)
	}

	begin := time.Now()
	result, err := c.post(ctx, body)
	requestDuration.WithLabelValues(c.cfg.Provider).Observe(time.Since(begin).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues(c.cfg.Provider, "error").Inc()
		c.logger.Warn("chat completion failed",
			zap.String("provider", c.cfg.Provider),
			zap.String("model", c.cfg.Model),
			zap.Error(err))
		return ChatResult{}, err
	}
	requestsTotal.WithLabelValues(c.cfg.Provider, "ok").Inc()

	c.logger.Debug("chat completion ok",
		zap.Int("tool_calls", len(result.ToolCalls)),
		zap.Int("content_len", len(result.Content)),
		zap.Duration("took", time.Since(begin)))
	return result, nil
}

func (c *Client) post(ctx context.Context, body []byte) (ChatResult, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.baseURL + "/chat/completions")
	req.Header.SetContentType("application/json")
	if key := c.cfg.APIKey; key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	req.SetBodyRaw(body)

	if err := c.hc.DoDeadline(req, resp, computeDeadline(ctx, c.timeout)); err != nil {
		return ChatResult{}, fmt.Errorf("llm request: %w", err)
	}
	if sc := resp.StatusCode(); sc != fasthttp.StatusOK {
		return ChatResult{}, fmt.Errorf("llm api returned status %d: %s", sc, truncateBody(resp.Body(), 512))
	}

	var decoded chatResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return ChatResult{}, fmt.Errorf("decode llm response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return ChatResult{}, fmt.Errorf("llm response had no choices")
	}

	msg := decoded.Choices[0].Message
	out := ChatResult{Content: msg.Content}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: decodeArguments(tc.Function.Arguments),
		})
	}
	return out, nil
}

// SystemPrompt appends the current game state to the persona text.
func SystemPrompt(personaPrompt string, gc GameContext) string {
	userWord, aiWord := "black", "white"
	if gc.UserColor == "W" {
		userWord, aiWord = "white", "black"
	}
	return strings.TrimSpace(fmt.Sprintf(`%s

Current game state:
- Board size: %dx%d
- Komi: %g
- You play: %s
- User plays: %s

Coordinate format: Use A19 notation (e.g., D4, Q16, T19).
Respond in an entertaining way - you have personality!`,
		personaPrompt, gc.BoardSize, gc.BoardSize, gc.Komi, aiWord, userWord))
}

func computeDeadline(ctx context.Context, timeout time.Duration) time.Time {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		return d
	}
	return deadline
}

func truncateBody(b []byte, limit int) string {
	if len(b) <= limit {
		return string(b)
	}
	return string(b[:limit]) + "..."
}
