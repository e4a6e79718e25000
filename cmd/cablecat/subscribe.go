package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/lightforgemedia/go-actioncable/pkg/channel"
	"github.com/lightforgemedia/go-actioncable/pkg/client"
	"github.com/lightforgemedia/go-actioncable/pkg/config"
	"github.com/lightforgemedia/go-actioncable/pkg/metrics"
	"github.com/lightforgemedia/go-actioncable/pkg/tapbus"
	"github.com/lightforgemedia/go-actioncable/pkg/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

type subscribeFlags struct {
	count       int
	timeout     time.Duration
	pings       bool
	watch       bool
	metricsAddr string
}

func subscribeCmd(g *globalFlags) *cobra.Command {
	f := &subscribeFlags{}
	cmd := &cobra.Command{
		Use:   "subscribe [Channel [key=value ...]]",
		Short: "Subscribe and print received envelopes",
		Long: `Subscribe to the channel given on the command line plus every channel in
the config file, then print each envelope as received, one per line.

Pings are hidden unless --pings is set. With --count the command exits after
that many envelopes; with --timeout it exits when the time is up.`,
		Example: `  cablecat subscribe -u ws://localhost:3000/cable ChatChannel room=1
  cablecat subscribe -c actioncable.json --watch --metrics-addr :9100`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSubscribe(cmd, g, f, args)
		},
	}
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "exit after this many envelopes (0 = run until interrupted)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "exit after this long")
	cmd.Flags().BoolVar(&f.pings, "pings", false, "print ping envelopes too")
	cmd.Flags().BoolVar(&f.watch, "watch", false, "reload headers when the config file changes")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	return cmd
}

func runSubscribe(cmd *cobra.Command, g *globalFlags, f *subscribeFlags, args []string) error {
	var ids []channel.Identifier
	if len(args) > 0 {
		id, err := parseIdentifier(args)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	cli, cfg, logger, err := newClient(cmd, g)
	if err != nil {
		return err
	}
	defer cli.Close()

	fromFile, err := cfg.Identifiers()
	if err != nil {
		return err
	}
	ids = append(ids, fromFile...)
	if len(ids) == 0 {
		return errors.New("no channels: pass one on the command line or list them in the config file")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	bus := tapbus.New(0, logger)
	bus.Attach(cli)
	defer bus.Close()
	msgs, cancelMsgs := bus.AllMessages()
	defer cancelMsgs()

	if f.metricsAddr != "" {
		shutdown, err := serveMetrics(f.metricsAddr, cli, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	if f.watch {
		if cfg.Path() == "" {
			return errors.New("--watch needs --config")
		}
		w, err := config.NewWatcher(cfg.Path(), config.WithWatchLogger(logger))
		if err != nil {
			return err
		}
		w.Bind(cli)
		if err := w.Start(); err != nil {
			return err
		}
		defer w.Stop()
	}

	cli.Connect()
	for _, id := range ids {
		if _, err := cli.Subscribe(id, nil); err != nil {
			return err
		}
	}

	return printEnvelopes(ctx, cmd, msgs, f)
}

func printEnvelopes(ctx context.Context, cmd *cobra.Command, msgs <-chan tapbus.Event, f *subscribeFlags) error {
	out := cmd.OutOrStdout()
	printed := 0
	for {
		select {
		case <-ctx.Done():
			if f.count > 0 && printed < f.count && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("timed out after %d of %d envelopes", printed, f.count)
			}
			return nil
		case ev, ok := <-msgs:
			if !ok {
				return nil
			}
			if ev.Message.Type == wire.TypePing && !f.pings {
				continue
			}
			fmt.Fprintln(out, ev.Message.Text)
			printed++
			if f.count > 0 && printed >= f.count {
				return nil
			}
		}
	}
}

// metricsRouter serves /metrics and a /healthz that fails while the client
// is disconnected.
func metricsRouter(reg *prometheus.Registry, cli *client.Client) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if !cli.IsConnected() {
			http.Error(w, "disconnected", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return r
}

// serveMetrics exposes the client's metrics on addr until the returned func runs.
func serveMetrics(addr string, cli *client.Client, logger *slog.Logger) (func(), error) {
	reg := prometheus.NewRegistry()
	metrics.New(metrics.WithRegistry(reg)).Observe(cli)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}
	srv := &http.Server{Handler: metricsRouter(reg, cli), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	logger.Info(fmt.Sprintf("Serving metrics on http://%s/metrics", ln.Addr()))
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
