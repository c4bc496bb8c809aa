package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	notebooksync "github.com/lightforgemedia/go-notebooksync"
	"github.com/lightforgemedia/go-notebooksync/internal/config"
	"github.com/lightforgemedia/go-notebooksync/internal/logging"
	"github.com/lightforgemedia/go-notebooksync/pkg/cache"
	"github.com/lightforgemedia/go-notebooksync/pkg/model"
	"github.com/lightforgemedia/go-notebooksync/pkg/protocol"
	"github.com/lightforgemedia/go-notebooksync/pkg/realtime"
	"github.com/lightforgemedia/go-notebooksync/pkg/token"
	"github.com/lightforgemedia/go-notebooksync/pkg/topic"
	"github.com/lightforgemedia/go-notebooksync/pkg/transport"
)

type targetFlags struct {
	batchTable   int64
	notebook     int64
	conversation int64
	file         int64
	verbose      bool
}

// targets returns the targets named on the command line.
func (f targetFlags) targets() ([]topic.Target, error) {
	if f.conversation > 0 && f.notebook <= 0 {
		return nil, errors.New("--conversation requires --notebook")
	}
	var out []topic.Target
	if f.batchTable > 0 {
		out = append(out, topic.BatchTable(f.batchTable))
	}
	if f.notebook > 0 {
		out = append(out, topic.Notebook(f.notebook, f.conversation))
	}
	if f.file > 0 {
		out = append(out, topic.File(f.file))
	}
	return out, nil
}

func newRootCmd() *cobra.Command {
	var flags targetFlags
	cmd := &cobra.Command{
		Use:   "notebooksync",
		Short: "Mirror notebook, batch table and conversation updates from the push server",
		Long: `Connect to the push server named by NOTEBOOKSYNC_WS_URL, authenticate,
subscribe to the targets given as flags and keep local copies up to date.

Configuration is read from NOTEBOOKSYNC_* environment variables. When
NOTEBOOKSYNC_METRICS_ADDR is set, Prometheus metrics are served on /metrics.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := flags.targets()
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if flags.verbose {
				cfg.LogLevel = "debug"
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, targets, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().Int64Var(&flags.batchTable, "batch-table", 0, "batch table id to follow")
	cmd.Flags().Int64Var(&flags.notebook, "notebook", 0, "notebook (project) id to follow")
	cmd.Flags().Int64Var(&flags.conversation, "conversation", 0, "assistant conversation id, with --notebook")
	cmd.Flags().Int64Var(&flags.file, "file", 0, "file id to follow")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, targets []topic.Target, stderr io.Writer) error {
	logger, logCloser, err := logging.New(stderr, logging.Options{
		Level:      cfg.LogLevel,
		Format:     cfg.LogFormat,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return err
	}
	defer logCloser.Close()

	tokens, err := tokenSource(cfg, logger)
	if err != nil {
		return err
	}
	if c, ok := tokens.(io.Closer); ok {
		defer c.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	stores := notebooksync.NewStores(logger)
	defer stores.Close()
	registerCoalesced(reg, "notebooks", stores.Notebooks.Coalesced)
	registerCoalesced(reg, "batch_tables", stores.BatchTables.Coalesced)
	registerCoalesced(reg, "conversations", stores.Conversations.Coalesced)
	notifier := realtime.NotifierFunc(func(title, description string, severity protocol.Severity) {
		logger.Warn("notification", "title", title, "description", description, "severity", severity)
	})

	if cfg.MetricsAddr != "" {
		srv := serveMetrics(cfg.MetricsAddr, reg, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	go logChanges(ctx, logger, "notebook", stores.Notebooks.WatchAll(ctx), func(n model.Notebook) []any {
		return []any{"title", n.Title, "version", n.Version, "blocks", len(n.Blocks)}
	})
	go logChanges(ctx, logger, "batch_table", stores.BatchTables.WatchAll(ctx), func(b model.BatchTable) []any {
		return []any{"version", b.Version, "columns", len(b.Columns), "rows", len(b.Rows)}
	})
	go logChanges(ctx, logger, "conversation", stores.Conversations.WatchAll(ctx), func(c model.BotConversation) []any {
		return []any{"status", c.Status, "messages", len(c.Messages)}
	})

	client, err := notebooksync.Connect(ctx, cfg.WSURL, tokens, stores, notifier, targets, clientOptions(cfg, logger, reg)...)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("notebooksync running", "url", cfg.WSURL, "tab_id", client.TabID(), "targets", len(targets))

	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return nil
		case <-ticker.C:
			st := client.State()
			logger.Debug("status", "phase", st.Phase.String(), "auth", st.Auth.String(), "pending", len(st.Pending))
		}
	}
}

func tokenSource(cfg *config.Config, logger *slog.Logger) (token.Source, error) {
	if cfg.TokenFile != "" {
		return token.NewFileSource(cfg.TokenFile, token.WithLogger(logger))
	}
	return token.Static(cfg.Token), nil
}

func clientOptions(cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) []realtime.Option {
	opts := []realtime.Option{
		realtime.WithLogger(logger),
		realtime.WithRegisterer(reg),
		realtime.WithSubscribeTimeout(cfg.SubscribeTimeout),
		realtime.WithTransportOptions(
			transport.WithAutoReconnect(cfg.ReconnectAttempts, cfg.ReconnectDelayMin, cfg.ReconnectDelayMax),
			transport.WithPingInterval(cfg.PingInterval),
			transport.WithRateLimit(cfg.RatePerSecond, cfg.RateBurst),
		),
	}
	if kinds := priority(cfg.Priority); len(kinds) > 0 {
		opts = append(opts, realtime.WithPriority(kinds...))
	}
	if cfg.TabID != "" {
		opts = append(opts, realtime.WithTabID(cfg.TabID))
	}
	return opts
}

func priority(names []string) []topic.Kind {
	var kinds []topic.Kind
	for _, n := range names {
		switch strings.TrimSpace(n) {
		case "batch-table":
			kinds = append(kinds, topic.KindBatchTable)
		case "notebook":
			kinds = append(kinds, topic.KindNotebook)
		case "file":
			kinds = append(kinds, topic.KindFile)
		}
	}
	return kinds
}

// registerCoalesced exposes how many cache changes a slow watcher skipped.
func registerCoalesced(reg prometheus.Registerer, store string, count func() uint64) {
	reg.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace:   "notebooksync",
		Subsystem:   "cache",
		Name:        "coalesced_changes_total",
		Help:        "Cache changes merged into a later change because a watcher was behind.",
		ConstLabels: prometheus.Labels{"store": store},
	}, func() float64 { return float64(count()) }))
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}

func logChanges[T any](ctx context.Context, logger *slog.Logger, kind string, ch <-chan cache.Change[T], describe func(T) []any) {
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-ch:
			if !ok {
				return
			}
			if c.Deleted {
				logger.Info("entity removed", "kind", kind, "id", c.ID)
				continue
			}
			args := append([]any{"kind", kind, "id", c.ID}, describe(c.Value)...)
			logger.Info("entity updated", args...)
		}
	}
}
