package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	contractmq "mailflow/contracts/mq"
	"mailflow/internal/config"
	"mailflow/internal/httpserver"
	"mailflow/internal/model"
	"mailflow/internal/mqhandler"
	"mailflow/internal/workflow"
	pkgconfig "mailflow/pkg/config"
	"mailflow/pkg/logger"
	"mailflow/pkg/mq"
	"mailflow/pkg/otel"
)

const workerQueue = "mail.item.received.workflow.q"

type rootFlags struct {
	env       string
	configDir string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "mailflow",
		Short:         "Analyse inbox items, notify, and reconcile calendar events",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.env, "env", pkgconfig.GetConfigEnv(), "config environment overlay")
	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", pkgconfig.GetEnv("CONFIG_DIR", "config"), "directory holding base.yaml")

	root.AddCommand(
		newRunCmd(flags),
		newHealthCmd(flags),
		newServeCmd(flags),
		newWorkerCmd(flags),
		newReplayCmd(flags),
	)
	return root
}

// bootstrap loads config, builds the logger and wires the app.
func bootstrap(ctx context.Context, flags *rootFlags) (*app, error) {
	cfg, err := config.Load(flags.env, flags.configDir)
	if err != nil {
		return nil, err
	}
	log := logger.NewLogger(cfg.LogLevel)

	stopTracing, err := otel.Init(cfg.Tracing, log)
	if err != nil {
		log.Warn("Tracing disabled", zap.Error(err))
		stopTracing = func(context.Context) error { return nil }
	}

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		_ = stopTracing(context.Background())
		_ = log.Sync()
		return nil, err
	}
	a.stopTracing = stopTracing
	return a, nil
}

func (a *app) shutdown() {
	a.Close()
	if a.stopTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.stopTracing(ctx); err != nil {
			a.logger.Warn("Failed to flush traces", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	var (
		input    string
		limit    int
		sender   string
		mode     string
		noNotify bool
		noEvents bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process one batch of items and print the run result",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, flags)
			if err != nil {
				return err
			}
			defer a.shutdown()

			opts := a.cfg.RunOptions()
			if mode != "" {
				opts.Mode = mode
			}
			opts.Notify = opts.Notify && !noNotify
			opts.CreateEvents = opts.CreateEvents && !noEvents

			var req workflow.Request
			if input != "" {
				items, err := readItems(input)
				if err != nil {
					return err
				}
				req = workflow.ProcessRunRequest{Items: items, Options: opts}
			} else {
				filter := a.cfg.CoordinatorConfig(time.Now()).Filter
				if sender != "" {
					filter.Sender = sender
				}
				req = workflow.FetchRunRequest{Limit: limit, Filter: filter, Options: opts}
			}

			resp, err := a.coordinator.Dispatch(ctx, a.rc, req)
			if err != nil {
				return err
			}
			if a.dispatcher != nil {
				a.dispatcher.Flush(context.WithoutCancel(ctx))
			}
			return printJSON(cmd, resp.Run)
		},
	}

	cmd.Flags().StringVar(&input, "input", "", "JSON file with items to process instead of fetching")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum items to fetch (defaults to workflow.fetch_limit)")
	cmd.Flags().StringVar(&sender, "sender", "", "only fetch items from this sender")
	cmd.Flags().StringVar(&mode, "mode", "", "analysis mode: full, summary or events")
	cmd.Flags().BoolVar(&noNotify, "no-notify", false, "skip notifications")
	cmd.Flags().BoolVar(&noEvents, "no-events", false, "skip calendar events")
	return cmd
}

func readItems(path string) ([]model.InputItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read items: %w", err)
	}
	var items []model.InputItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	return items, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newHealthCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every collaborator and print the report",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, flags)
			if err != nil {
				return err
			}
			defer a.shutdown()

			resp, err := a.coordinator.Dispatch(ctx, a.rc, workflow.HealthCheckRequest{})
			if err != nil {
				return err
			}
			if err := printJSON(cmd, resp.Health); err != nil {
				return err
			}
			if resp.Health.Overall == model.StatusUnhealthy {
				return errors.New("unhealthy")
			}
			return nil
		},
	}
}

func newServeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled batches and serve health endpoints",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, flags)
			if err != nil {
				return err
			}
			defer a.shutdown()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return newScheduler(a, a.logger.Named("scheduler")).Run(gctx) })
			g.Go(func() error { return serveHTTP(gctx, a) })
			a.startDispatcher(gctx, g)
			return g.Wait()
		},
	}
}

func newWorkerCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process items from the message broker and serve health endpoints",
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, flags)
			if err != nil {
				return err
			}
			defer a.shutdown()

			if !a.cfg.MQ.Enabled() {
				return errors.New("worker needs mq.url")
			}

			consumer, err := mq.NewConsumer(a.cfg.MQ.URL, workerQueue, contractmq.RoutingKeyItemReceived, a.logger.Named("consumer"))
			if err != nil {
				return fmt.Errorf("init consumer: %w", err)
			}
			defer consumer.Close()

			var store mqhandler.ItemStore
			if a.items != nil {
				store = a.items
			}
			var hopts []mqhandler.Option
			if a.ledger {
				hopts = append(hopts, mqhandler.WithLedgerRetries())
			}
			handler := mqhandler.NewItemReceivedHandler(a.coordinator, store, a.rc, a.cfg.RunOptions(), a.logger.Named("handler"), hopts...)
			consumer.SetHandler(handler.Handle)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return consumer.StartConsuming(gctx) })
			g.Go(func() error { return serveHTTP(gctx, a) })
			a.startDispatcher(gctx, g)
			return g.Wait()
		},
	}
}

func (a *app) startDispatcher(ctx context.Context, g *errgroup.Group) {
	if a.dispatcher == nil {
		return
	}
	g.Go(func() error { return a.dispatcher.Run(ctx) })
}

func newReplayCmd(flags *rootFlags) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "replay-outbox",
		Short: "Requeue outbox events that exhausted their retries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := bootstrap(ctx, flags)
			if err != nil {
				return err
			}
			defer a.shutdown()

			if a.outbox == nil {
				return errors.New("replay-outbox needs both db and mq configured")
			}
			n, err := a.outbox.ReplayFailed(ctx, limit)
			if err != nil {
				return err
			}
			sent := a.dispatcher.Flush(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %d events, published %d\n", n, sent)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to requeue")
	return cmd
}

// serveHTTP runs the health router until ctx ends, then shuts it down.
func serveHTTP(ctx context.Context, a *app) error {
	addr := a.cfg.Server.Port
	if addr == "" {
		addr = "8080"
	}
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	router := httpserver.NewRouter(a.coordinator, a.rc, a.probes, a.logger.Named("http"))
	srv := router.Server(addr)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("HTTP server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	a.logger.Info("HTTP server stopped")
	return nil
}
