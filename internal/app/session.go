// Package app wires one operator session: cache, engine, board, agent history and pollers.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"leadboard/internal/agents"
	"leadboard/internal/board"
	"leadboard/internal/cache"
	"leadboard/internal/config"
	"leadboard/internal/db"
	"leadboard/internal/domain"
	"leadboard/internal/engine"
	"leadboard/internal/events"
	"leadboard/internal/log"
	"leadboard/internal/migrate"
	"leadboard/internal/poll"
	"leadboard/internal/remote"
)

// Remote is everything a session needs from the remote lead store and agent runner.
type Remote interface {
	cache.Loader
	engine.LeadStore
	agents.RunSource
	agents.Runner
	GetLead(ctx context.Context, id int64) (domain.Lead, error)
	CreateLead(ctx context.Context, in domain.LeadCreate) (domain.Lead, error)
}

type Options struct {
	Workspace string
	Config    *config.Config
	// Remote defaults to an HTTP client built from Config.
	Remote Remote
	// Journal opens <workspace>/.leadboard/leadboard.db and records session activity.
	Journal bool
	Logger  *slog.Logger
}

type Session struct {
	ID     string
	Config *config.Config
	Remote Remote

	Cache   *cache.Cache
	Engine  *engine.Engine
	Board   *board.View
	History *agents.History
	Trigger *agents.Trigger

	HistoryPoller *poll.Poller
	// LeadsPoller is nil when polling.leads_interval is zero.
	LeadsPoller *poll.Poller

	DB      *sql.DB
	Journal events.Writer

	log *slog.Logger
}

// NewRemote builds the HTTP client for cfg.
func NewRemote(cfg *config.Config) *remote.Client {
	c := remote.New(cfg.API.BaseURL)
	c.Timeout = cfg.API.Timeout
	if cfg.Discovery.URL != "" {
		c.DiscoveryURL = cfg.Discovery.URL
	}
	return c
}

func Open(ctx context.Context, opts Options) (*Session, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.WithModule("session")
	}
	rm := opts.Remote
	if rm == nil {
		rm = NewRemote(cfg)
	}

	id := uuid.NewString()
	s := &Session{ID: id, Config: cfg, Remote: rm, log: logger.With("session", id)}
	s.Journal = events.Writer{SessionID: s.ID}
	if opts.Journal {
		conn, err := db.Open(db.Config{Workspace: opts.Workspace})
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		if err := migrate.MigrateContext(ctx, conn); err != nil {
			conn.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		s.DB = conn
		s.Journal.DB = conn
		if err := s.Journal.StartSession(ctx, cfg.API.BaseURL); err != nil {
			s.log.Warn("journal session start failed", "error", err)
		}
	}

	s.Cache = cache.New(rm, domain.LeadQuery{Limit: cfg.Polling.LeadsLimit})
	s.Engine = engine.New(s.Cache, rm, engine.Options{
		RequestTimeout:       cfg.API.Timeout,
		SerializePerLead:     cfg.Engine.SerializePerLead,
		DiscoveryReloadDelay: cfg.Discovery.ReloadDelay,
		DeleteConcurrency:    cfg.Engine.DeleteConcurrency,
		Journal:              s.Journal,
		Logger:               logger.With("module", "engine"),
	})
	s.Board = board.NewView(s.Cache)
	s.History = agents.NewHistory(rm, domain.RunQuery{Limit: cfg.Polling.HistoryLimit})
	s.HistoryPoller = poll.New("agent-history", cfg.Polling.HistoryInterval, s.History.Refresh, logger.With("module", "poll", "poller", "agent-history"))
	s.Trigger = agents.NewTrigger(rm, s.HistoryPoller, agents.TriggerOptions{
		SettleDelay: cfg.Agents.SettleDelay,
		Journal:     s.Journal,
		Logger:      logger.With("module", "agents"),
	})
	if cfg.Polling.LeadsInterval > 0 {
		s.LeadsPoller = poll.New("leads", cfg.Polling.LeadsInterval, s.Cache.LoadAll, logger.With("module", "poll", "poller", "leads"))
	}
	return s, nil
}

// Load fills the cache once. One-shot commands use it instead of Start.
func (s *Session) Load(ctx context.Context) error {
	if err := s.Cache.LoadAll(ctx); err != nil {
		return fmt.Errorf("%w: %w", engine.ErrOperationFailed, err)
	}
	return nil
}

// Start loads the cache and starts the pollers. A failed initial load is returned but the
// pollers run anyway, so the session recovers on its own.
func (s *Session) Start(ctx context.Context) error {
	loadErr := s.Load(ctx)
	if loadErr != nil {
		s.log.Warn("initial lead load failed", "error", loadErr)
	}
	if err := s.HistoryPoller.Start(ctx); err != nil {
		return err
	}
	if s.LeadsPoller != nil {
		if err := s.LeadsPoller.Start(ctx); err != nil {
			return err
		}
	}
	s.log.Info("session started", "leads", s.Cache.Len(), "base_url", s.Config.API.BaseURL)
	return loadErr
}

// Close stops timers and detaches from the cache. In-flight remote requests are left to finish
// on their own; their responses no longer reach the cache.
func (s *Session) Close() error {
	s.HistoryPoller.Stop()
	if s.LeadsPoller != nil {
		s.LeadsPoller.Stop()
	}
	s.Trigger.Close()
	s.Engine.Close()
	s.Board.Close()
	var errs []error
	if s.DB != nil {
		if err := s.Journal.EndSession(context.Background()); err != nil {
			errs = append(errs, err)
		}
		// journal writes from late responses fail quietly once the db is closed
		if err := s.DB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
