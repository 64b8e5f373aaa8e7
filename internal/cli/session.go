package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/roach88/packsale/internal/collectible"
	"github.com/roach88/packsale/internal/config"
	"github.com/roach88/packsale/internal/engine"
	"github.com/roach88/packsale/internal/signing"
	"github.com/roach88/packsale/internal/store"
)

// session is a running engine over the configured database.
type session struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger

	cancel context.CancelFunc
	done   chan error
}

// openSession loads the config, opens the database and starts the engine
// loop. Callers must Close the session.
func openSession(ctx context.Context, opts *RootOptions, logger *slog.Logger) (*session, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, commandError(ErrCodeConfig, "failed to load config", err)
	}
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, commandError(ErrCodeConfig, "invalid catalog", err)
	}
	oracle, err := cfg.NewOracle()
	if err != nil {
		return nil, commandError(ErrCodeConfig, "invalid oracle", err)
	}

	path := opts.Database
	if path == "" {
		path = cfg.DatabasePath()
	}
	logger.Debug("opening database", "path", path)
	st, err := store.Open(path)
	if err != nil {
		return nil, commandError(ErrCodeStore, "failed to open database", err)
	}

	e, err := engine.New(st, cat, oracle, signing.Recoverer{},
		engine.WithLedger(collectible.NewStored(st)),
		engine.WithLogger(logger),
	)
	if err != nil {
		st.Close()
		return nil, commandError(ErrCodeConfig, "failed to build engine", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := e.Bootstrap(runCtx); err != nil {
		cancel()
		st.Close()
		return nil, commandError(ErrCodeStore, "failed to bootstrap engine", err)
	}

	s := &session{cfg: cfg, store: st, engine: e, logger: logger, cancel: cancel, done: make(chan error, 1)}
	go func() {
		s.done <- e.Run(runCtx)
	}()
	return s, nil
}

// Close stops the engine loop and closes the database.
func (s *session) Close() error {
	s.cancel()
	runErr := <-s.done
	if errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		runErr = nil
	}
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
		return errors.Join(runErr, err)
	}
	return runErr
}

// withSession opens a session, runs fn and closes it.
func withSession(ctx context.Context, opts *RootOptions, logger *slog.Logger, fn func(*session) error) error {
	s, err := openSession(ctx, opts, logger)
	if err != nil {
		return err
	}
	fnErr := fn(s)
	if err := s.Close(); err != nil && fnErr == nil {
		return WrapExitError(ExitCommandError, "engine stopped with error", err)
	}
	return fnErr
}
