// Package gamebuilder wires configuration into the runnable pieces shared by
// the CLI, the web server, and the MCP front ends.
package gamebuilder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dakling/katagollum/internal/config"
	"github.com/dakling/katagollum/internal/llm"
	"github.com/dakling/katagollum/internal/persona"
	svcgame "github.com/dakling/katagollum/internal/service/game"
	"github.com/dakling/katagollum/internal/tools"
)

// Core holds what every front end needs: the persona catalog, the model
// client, the engine service, and the tool registry.
type Core struct {
	Catalog  *persona.Catalog
	Model    *llm.Client
	Service  *svcgame.Service
	Registry *tools.Registry
}

func NewCore(cfg *config.AppConfig, logger *zap.Logger) (*Core, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	catalog, err := persona.Load()
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	model := llm.NewClient(llm.Config{
		Provider:    cfg.LLM.Provider,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)

	svc := svcgame.NewService(catalog, svcgame.Config{
		KatagoCommand: cfg.KatagoCommand(),
	}, logger)

	return &Core{
		Catalog:  catalog,
		Model:    model,
		Service:  svc,
		Registry: tools.NewRegistry(svc, logger),
	}, nil
}

func (c *Core) Close() error {
	if c == nil || c.Service == nil {
		return nil
	}
	return c.Service.Close()
}

// Deps adds the web server's persistence pieces on top of Core.
type Deps struct {
	*Core
	Store    *svcgame.SessionStore
	Archive  svcgame.Archiver
	Renderer svcgame.BoardRenderer

	rdb *redis.Client
}

// New builds the full web dependency set. Redis is required for game
// sessions; Postgres is optional and falls back to an in-memory archive.
func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	core, err := NewCore(cfg, logger)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if strings.TrimSpace(cfg.Server.RedisURL) == "" {
		_ = core.Close()
		return nil, fmt.Errorf("REDIS_URL is required for game sessions")
	}
	opts, err := redis.ParseURL(cfg.Server.RedisURL)
	if err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = core.Close()
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	store := svcgame.NewSessionStore(rdb, time.Duration(cfg.Server.SessionTTLSec)*time.Second)

	var archive svcgame.Archiver
	if strings.TrimSpace(cfg.Server.DatabaseURL) != "" {
		repo, err := svcgame.NewRepository(cfg.Server.DatabaseURL)
		if err != nil {
			_ = core.Close()
			_ = rdb.Close()
			return nil, fmt.Errorf("init repository: %w", err)
		}
		archive = repo
	} else {
		logger.Info("no DATABASE_URL set, archiving finished games in memory")
		archive = svcgame.NewMemoryArchiver()
	}

	return &Deps{
		Core:     core,
		Store:    store,
		Archive:  archive,
		Renderer: svcgame.NewGobanRenderer(),
		rdb:      rdb,
	}, nil
}

func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var first error
	if d.Archive != nil {
		if err := d.Archive.Close(); err != nil {
			first = err
		}
	}
	if d.rdb != nil {
		if err := d.rdb.Close(); err != nil && first == nil {
			first = err
		}
	}
	if err := d.Core.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
