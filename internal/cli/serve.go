package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/packsale/internal/api"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr            string
	AdminToken      string
	ShutdownTimeout time.Duration
}

// adminTokenEnv supplies the admin token when --admin-token is unset.
const adminTokenEnv = "PACKSALE_ADMIN_TOKEN"

// adminToken returns flag, or the environment's token when flag is empty.
func adminToken(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(adminTokenEnv)
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the engine and its HTTP API",
		Long: `Start the single-writer engine over the configured database and serve
the HTTP API until interrupted.

The database is created if it doesn't exist. Outbox entries left by a
previous run are delivered before the API accepts requests.

Example:
  packsale serve --config ./packsale.yaml --addr :8080
  packsale serve --db /tmp/test.db --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&opts.AdminToken, "admin-token", "", "bearer token required on admin routes (default $"+adminTokenEnv+")")
	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := opts.logger(os.Stderr, slog.LevelInfo)
	slog.SetDefault(logger)

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	return withSession(ctx, opts.RootOptions, logger, func(s *session) error {
		srv := &http.Server{
			Addr:              opts.Addr,
			Handler:           api.New(s.engine, api.WithLogger(logger), api.WithAdminToken(adminToken(opts.AdminToken))).Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		return serveHTTP(ctx, cmd, srv, opts.ShutdownTimeout, logger)
	})
}

// serveHTTP runs srv until ctx is cancelled, then shuts it down.
func serveHTTP(ctx context.Context, cmd *cobra.Command, srv *http.Server, timeout time.Duration, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "Serving on %s. Press Ctrl-C to stop.\n", srv.Addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return WrapExitError(ExitCommandError, "http server failed", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return WrapExitError(ExitFailure, "http shutdown", err)
	}
	logger.Info("http server stopped gracefully")
	return nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
// The command's context is used as parent when set (for testing).
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// commandContext returns the command's context or Background.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// oneShot runs fn against a session and prints its result.
func oneShot(opts *RootOptions, cmd *cobra.Command, fn func(ctx context.Context, s *session) (any, error)) error {
	f := opts.formatter(cmd)
	ctx := commandContext(cmd)
	logger := opts.logger(cmd.ErrOrStderr(), slog.LevelWarn)

	var out any
	err := withSession(ctx, opts, logger, func(s *session) error {
		var err error
		out, err = fn(ctx, s)
		return err
	})
	if err != nil {
		return f.Fail(err)
	}
	return f.Success(out)
}
