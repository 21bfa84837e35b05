package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"memsqltop/cluster"
	"memsqltop/collector"
	"memsqltop/config"
	"memsqltop/logger"
	"memsqltop/poller"
	"memsqltop/present"
	"memsqltop/schema"
	"memsqltop/storage"
)

const (
	connectTimeout = 10 * time.Second
	clearScreen    = "\033[H\033[2J"
)

func main() {
	if err := newCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		for _, h := range errors.GetAllHints(err) {
			fmt.Fprintln(os.Stderr, "Hint:", h)
		}
		os.Exit(1)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "memsql-top",
		Short:         "Live view of the busiest queries in a MemSQL cluster",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.OutOrStdout())
		},
	}
	config.Flags(cmd.Flags())
	return cmd
}

func run(ctx context.Context, cfg *config.Config, out io.Writer) error {
	log, err := logger.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return errors.Wrap(err, "set up logger")
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// One fetch may take several intervals on a busy cluster, never forever.
	cycleTimeout := max(poller.DefaultTimeouts*cfg.Interval(), connectTimeout)
	opts := storage.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		User:      cfg.User,
		Password:  cfg.Password,
		Database:  cfg.Database,
		Timeout:   connectTimeout,
		IOTimeout: cycleTimeout,
	}
	profile, capacity, leaves, err := inspect(ctx, cfg, opts, log.Logger)
	if err != nil {
		return err
	}
	log.Logger.Info("profile selected",
		zap.String("profile", profile.Name),
		zap.Float64("cpu_capacity", capacity.CPU),
		zap.Float64("memory_capacity_mb", capacity.Memory),
		zap.Int("leaves", len(leaves)))

	source, memory, closeAll, err := openSource(ctx, cfg, opts, profile, leaves, log.Logger)
	if err != nil {
		return err
	}
	defer closeAll()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	sched := poller.New(source, profile, poller.Config{
		Interval: cfg.Interval(),
		Timeout:  cycleTimeout,
		Capacity: capacity,
		Memory:   memory,
		Metrics:  poller.NewMetrics(reg),
	}, log.Logger)
	if err := sched.Prime(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return display(gctx, out, present.NewTable(profile, cfg.Rows), sched.Mailbox()) })
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, reg, log.Logger) })
	}
	return g.Wait()
}

// inspect uses a short-lived connection to pick the profile, read the
// cluster's capacity and, in per-node mode, list the leaves.
func inspect(ctx context.Context, cfg *config.Config, opts storage.Options, log *zap.Logger) (*schema.Profile, collector.Capacity, []cluster.Leaf, error) {
	conn, err := storage.OpenMySQL(ctx, opts, log)
	if err != nil {
		return nil, collector.Capacity{}, nil, errors.WithHint(
			errors.Wrapf(err, "connect to %s:%d", opts.Host, opts.Port),
			"Check --host, --port, --user and --password.")
	}
	defer conn.Close()

	profile, err := schema.Detect(ctx, conn, schema.Candidates(cfg.PerNode), log)
	if err != nil {
		return nil, collector.Capacity{}, nil, err
	}
	capacity, err := collector.NewFetcher(conn, profile, log).Capacity(ctx)
	if err != nil {
		return nil, collector.Capacity{}, nil, err
	}
	if cfg.Cores > 0 {
		capacity.CPU = cfg.Cores
	}

	var leaves []cluster.Leaf
	if profile.Correlate != nil {
		if leaves, err = cluster.Discover(ctx, conn); err != nil {
			return nil, collector.Capacity{}, nil, err
		}
	}
	return profile, capacity, leaves, nil
}

// openSource opens the poller's own connections. Every node gets its own
// connection so a cycle can fetch them in parallel.
func openSource(
	ctx context.Context, cfg *config.Config, opts storage.Options, profile *schema.Profile, leaves []cluster.Leaf, log *zap.Logger,
) (collector.Source, poller.MemoryReader, func(), error) {
	var fetchers []*collector.Fetcher
	closeAll := func() {
		for _, f := range fetchers {
			if err := f.Close(); err != nil {
				log.Warn("close connection", zap.Error(err))
			}
		}
	}

	conn, err := storage.OpenMySQL(ctx, opts, log)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "open poller connection")
	}
	coord := collector.NewFetcher(conn, profile, log)
	fetchers = append(fetchers, coord)
	if len(leaves) == 0 {
		return coord, coord, closeAll, nil
	}

	workers := make([]collector.Source, 0, len(leaves))
	for _, leaf := range leaves {
		lo := opts
		lo.Host, lo.Port = leaf.Host, leaf.Port
		lo.User, lo.Password = cfg.LeafUser, cfg.LeafPassword
		lc, err := storage.OpenMySQL(ctx, lo, log.With(zap.Stringer("leaf", leaf)))
		if err != nil {
			closeAll()
			return nil, nil, nil, errors.WithHint(
				errors.Wrapf(err, "connect to leaf %s", leaf),
				"Leaves use --leaf-user and --leaf-password when set.")
		}
		f := collector.NewFetcher(lc, profile, log)
		fetchers = append(fetchers, f)
		workers = append(workers, f)
	}
	src := cluster.NewSource(coord, workers, cluster.NewAggregator(profile, log))
	return src, coord, closeAll, nil
}

// display redraws the table whenever a new packet lands.
func display(ctx context.Context, out io.Writer, table *present.Table, box *poller.Mailbox[poller.Packet]) error {
	redraw := false
	if f, ok := out.(*os.File); ok {
		redraw = isatty.IsTerminal(f.Fd())
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-box.Wake():
		}
		if redraw {
			fmt.Fprint(out, clearScreen)
		}
		if err := table.Render(out, box.Latest()); err != nil {
			return errors.Wrap(err, "render")
		}
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, log *zap.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("serving metrics", zap.String("addr", addr))

	select {
	case err := <-errc:
		return errors.Wrap(err, "metrics server")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
