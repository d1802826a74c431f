// Package web serves the browser-facing game API plus the plain HTTP tool
// endpoints that remote turn clients use.
package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/game"
	"github.com/dakling/katagollum/internal/llm"
	"github.com/dakling/katagollum/internal/persona"
	svcgame "github.com/dakling/katagollum/internal/service/game"
	"github.com/dakling/katagollum/internal/tools"
)

// TurnRunner executes one conversational turn against a history.
type TurnRunner interface {
	Run(ctx context.Context, userMove string, history []llm.Message) (game.TurnResult, error)
}

// TurnFactory builds a runner bound to one game's context and persona.
type TurnFactory func(gc llm.GameContext, personaName string) TurnRunner

type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// Deps carries everything the handlers reach for. Turns may be left nil; the
// server then drives the real orchestrator over the in-process registry.
type Deps struct {
	Service  *svcgame.Service
	Registry *tools.Registry
	Model    game.ModelClient
	Catalog  *persona.Catalog
	Store    *svcgame.SessionStore
	Archive  svcgame.Archiver
	Renderer svcgame.BoardRenderer
	Turns    TurnFactory
}

type Server struct {
	cfg      Config
	logger   *zap.Logger
	svc      *svcgame.Service
	registry *tools.Registry
	source   game.ToolSource
	catalog  *persona.Catalog
	store    *svcgame.SessionStore
	archive  svcgame.Archiver
	renderer svcgame.BoardRenderer
	turns    TurnFactory
	hub      *Hub
	httpSrv  *http.Server
}

func NewServer(cfg Config, deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Addr == "" {
		cfg.Addr = ":3001"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		svc:      deps.Service,
		registry: deps.Registry,
		source:   game.NewRegistrySource(deps.Registry),
		catalog:  deps.Catalog,
		store:    deps.Store,
		archive:  deps.Archive,
		renderer: deps.Renderer,
		turns:    deps.Turns,
		hub:      NewHub(logger),
	}
	if s.turns == nil {
		s.turns = func(gc llm.GameContext, personaName string) TurnRunner {
			return game.New(deps.Model, s.source, deps.Catalog, personaName, gc, logger)
		}
	}

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler assembles the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("POST /api/initialize/{$}", s.route("initialize", s.handleInitialize))
	mux.Handle("POST /api/games/{$}", s.route("create_game", s.handleCreateGame))
	mux.Handle("GET /api/games/{$}", s.route("list_games", s.handleListGames))
	mux.Handle("GET /api/games/{id}/board/{$}", s.route("board", s.handleBoard))
	mux.Handle("GET /api/games/{id}/board.png", s.route("board_png", s.handleBoardPNG))
	mux.Handle("GET /api/games/{id}/sgf/{$}", s.route("sgf", s.handleSGF))
	mux.Handle("POST /api/games/{id}/submit_move/{$}", s.route("submit_move", s.handleSubmitMove))
	mux.Handle("POST /api/games/{id}/first_move/{$}", s.route("first_move", s.handleFirstMove))
	mux.Handle("POST /api/games/{id}/finish/{$}", s.route("finish", s.handleFinish))
	mux.Handle("GET /api/chat/{$}", s.route("chat_list", s.handleChatList))
	mux.Handle("POST /api/chat/send_message/{$}", s.route("send_message", s.handleSendMessage))

	// Tool server surface for remote turn clients.
	mux.Handle("GET /list_tools", s.route("list_tools", s.handleListTools))
	mux.Handle("POST /call_tool", s.route("call_tool", s.handleCallTool))
	mux.Handle("GET /board_state", s.route("board_state", s.handleBoardState))

	mux.Handle("GET /healthz", s.route("healthz", s.handleHealthz))
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /ws", s.hub.handleWS)

	return allowCORS(mux)
}

// Run serves until the context is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", zap.String("addr", s.cfg.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	s.logger.Info("http server draining", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	return s.httpSrv.Shutdown(shutdownCtx)
}

func (s *Server) route(name string, h http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("handler panic",
					zap.String("route", name),
					zap.Any("panic", p))
				http.Error(rec, "internal error", http.StatusInternalServerError)
			}
			httpRequests.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
			httpDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
			s.logger.Debug("http request",
				zap.String("route", name),
				zap.Int("status", rec.status),
				zap.Duration("took", time.Since(start)))
		}()
		h(rec, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// allowCORS opens the API to browser frontends served from other origins.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
