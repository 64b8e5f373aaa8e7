package cli

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"

	"github.com/roach88/packsale/internal/api"
	"github.com/roach88/packsale/internal/worker"
)

// TemporalOptions holds flags for commands that talk to Temporal.
type TemporalOptions struct {
	*RootOptions
	HostPort  string
	Namespace string
	TaskQueue string
}

func (o *TemporalOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&o.HostPort, "temporal", client.DefaultHostPort, "Temporal frontend host:port")
	cmd.Flags().StringVar(&o.Namespace, "namespace", client.DefaultNamespace, "Temporal namespace")
	cmd.Flags().StringVar(&o.TaskQueue, "task-queue", worker.DefaultTaskQueue, "fulfillment task queue")
}

func (o *TemporalOptions) dial(logger *slog.Logger) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  o.HostPort,
		Namespace: o.Namespace,
		Logger:    log.NewStructuredLogger(logger),
	})
	if err != nil {
		return nil, commandError(ErrCodeTemporal, "unable to create Temporal client", err)
	}
	return c, nil
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TemporalOptions{RootOptions: rootOpts}
	var addr, token string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal fulfillment worker",
		Long: `Run a Temporal worker that drains commitments started with 'fulfill',
one mint batch per activity.

The worker owns the engine for the database. Pass --addr to serve the HTTP
API from the same engine instead of running 'serve' alongside it.

Example:
  packsale worker --temporal localhost:7233 --addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger(os.Stderr, slog.LevelInfo)
			slog.SetDefault(logger)

			ctx, cancel := signalContext(cmd, logger)
			defer cancel()

			return withSession(ctx, rootOpts, logger, func(s *session) error {
				c, err := opts.dial(logger)
				if err != nil {
					return err
				}
				defer c.Close()

				if addr != "" {
					srv := &http.Server{
						Addr:              addr,
						Handler:           api.New(s.engine, api.WithLogger(logger), api.WithAdminToken(adminToken(token))).Handler(),
						ReadHeaderTimeout: 5 * time.Second,
					}
					go func() {
						if err := serveHTTP(ctx, cmd, srv, 10*time.Second, logger); err != nil {
							logger.Error("http server failed", "error", err)
							cancel()
						}
					}()
				}

				hostname, _ := os.Hostname()
				w := worker.New(c, opts.TaskQueue, s.engine, "packsale-worker@"+hostname)
				logger.Info("worker starting", "task_queue", opts.TaskQueue, "temporal", opts.HostPort)

				stop := make(chan any)
				go func() {
					select {
					case <-ctx.Done():
					case <-sdkworker.InterruptCh():
					}
					close(stop)
				}()
				if err := w.Run(stop); err != nil {
					return WrapExitError(ExitFailure, "worker error", err)
				}
				logger.Info("worker stopped")
				return nil
			})
		},
	}

	opts.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "also serve the HTTP API on this address")
	cmd.Flags().StringVar(&token, "admin-token", "", "bearer token required on admin routes (default $"+adminTokenEnv+")")

	return cmd
}

// NewFulfillCommand creates the fulfill command.
func NewFulfillCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TemporalOptions{RootOptions: rootOpts}
	var wait bool

	cmd := &cobra.Command{
		Use:   "fulfill <sku> <commitment-id>",
		Short: "Start a fulfillment workflow for a commitment",
		Long: `Start the FulfillCommitment workflow, which mints the commitment batch
by batch until it is fulfilled. A commitment has at most one running
fulfillment.

Example:
  packsale fulfill rare 3 --wait`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			id, err := parseID(args[1])
			if err != nil {
				return f.Fail(err)
			}
			ctx := commandContext(cmd)
			logger := opts.logger(cmd.ErrOrStderr(), slog.LevelWarn)

			c, err := opts.dial(logger)
			if err != nil {
				return f.Fail(err)
			}
			defer c.Close()

			run, err := worker.Start(ctx, c, opts.TaskQueue, worker.FulfillRequest{SKU: args[0], ID: id})
			if err != nil {
				return f.Fail(commandError(ErrCodeTemporal, "start workflow", err))
			}
			f.VerboseLog("Started workflow %s run %s", run.GetID(), run.GetRunID())

			if !wait {
				return f.Success(map[string]string{"workflow_id": run.GetID(), "run_id": run.GetRunID()})
			}
			var res worker.FulfillResult
			if err := run.Get(ctx, &res); err != nil {
				return f.Fail(WrapExitError(ExitFailure, "fulfillment failed", err))
			}
			return f.Success(res)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the workflow to complete")

	return cmd
}
