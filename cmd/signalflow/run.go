package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/signalflow/internal/api"
	"github.com/newthinker/signalflow/internal/backtest"
	"github.com/newthinker/signalflow/internal/config"
	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/logger"
	"github.com/newthinker/signalflow/internal/metrics"
	"github.com/newthinker/signalflow/internal/notifier"
	"github.com/newthinker/signalflow/internal/notifier/email"
	"github.com/newthinker/signalflow/internal/notifier/telegram"
	"github.com/newthinker/signalflow/internal/notifier/webhook"
	"github.com/newthinker/signalflow/internal/portfolio"
	"github.com/newthinker/signalflow/internal/storage/archive"
	sigstore "github.com/newthinker/signalflow/internal/storage/signal"
)

var (
	runBars        string
	runMetricsFile string
	runAddr        string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Replay historical bars through the configured portfolio",
	Long: `Load the configured strategy graphs, build the portfolio and replay
historical bars through it cycle by cycle, then print performance statistics.`,
	RunE: runReplay,
}

func init() {
	runCmd.Flags().StringVar(&runBars, "bars", "", "YAML file of historical bars (required)")
	runCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "write Prometheus metrics to this textfile after the run")
	runCmd.Flags().StringVar(&runAddr, "addr", "", "serve the status API on this address during the run")

	runCmd.MarkFlagRequired("bars")

	rootCmd.AddCommand(runCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log := logger.Must(debug || cfg.Log.Development, cfg.Log.Level)
	defer log.Sync()
	if cfgFile == "" {
		log.Warn("no config file specified, using defaults")
	}

	defs, err := cfg.Definitions()
	if err != nil {
		return fmt.Errorf("loading strategies: %w", err)
	}
	bars, err := backtest.LoadBars(runBars)
	if err != nil {
		return err
	}

	bt := backtest.New(cfg.Backtest.Lookback, cfg.Backtest.Warmup, log)
	bt.Clock().Set(earliest(bars))

	journal := sigstore.NewMemoryStore(cfg.Storage.Journal.Capacity)
	opts := []portfolio.Option{
		portfolio.WithJournal(journal),
		portfolio.WithClock(bt.Clock().Now),
	}

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry()
		opts = append(opts, portfolio.WithMetrics(reg))
	}

	store, err := archive.Open(cfg.Storage.Archive)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	if store != nil {
		opts = append(opts, portfolio.WithArchive(store))
	}

	notifiers, err := buildNotifiers(cfg)
	if err != nil {
		return err
	}
	if len(notifiers.GetAll()) > 0 {
		opts = append(opts, portfolio.WithNotifier(notifiers))
	}

	p, err := portfolio.New(cfg.PortfolioConfig(), log, opts...)
	if err != nil {
		return fmt.Errorf("creating portfolio: %w", err)
	}
	for _, def := range defs {
		if err := p.AddStrategy(def); err != nil {
			return fmt.Errorf("adding strategy %s: %w", def.ID, err)
		}
	}

	addr := cfg.Server.Addr
	if runAddr != "" {
		addr = runAddr
	}
	if addr != "" {
		server, err := api.NewServer(api.Config{Addr: addr, APIKey: cfg.Server.APIKey}, api.Dependencies{
			Portfolio: p,
			Journal:   journal,
			Metrics:   reg,
		}, log)
		if err != nil {
			return fmt.Errorf("creating server: %w", err)
		}
		go func() {
			if err := server.Start(); err != nil {
				log.Error("server error", zap.Error(err))
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				log.Warn("server shutdown", zap.Error(err))
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("starting replay",
		zap.Int("strategies", len(defs)),
		zap.Int("bars", len(bars)),
	)
	result, err := bt.Run(ctx, p, bars)
	if err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	printResult(result)
	if store != nil {
		if err := printSnapshot(ctx, store); err != nil {
			log.Warn("reading archived snapshot", zap.Error(err))
		}
	}

	path := cfg.Metrics.Path
	if runMetricsFile != "" {
		path = runMetricsFile
	}
	if reg != nil && path != "" {
		if err := prometheus.WriteToTextfile(path, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
		log.Info("metrics written", zap.String("path", path))
	}
	return nil
}

// buildNotifiers registers every enabled notifier channel
func buildNotifiers(cfg *config.Config) (*notifier.Registry, error) {
	reg := notifier.NewRegistry()

	names := make([]string, 0, len(cfg.Notifiers))
	for name := range cfg.Notifiers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		nc := cfg.Notifiers[name]
		if !nc.Enabled {
			continue
		}
		var n notifier.Notifier
		switch name {
		case "telegram":
			n = telegram.New(nc.BotToken, nc.ChatID)
		case "webhook":
			n = webhook.New(nc.URL, nc.Headers)
		case "email":
			n = email.New(nc.Host, nc.Port, nc.Username, nc.Password, nc.From, nc.To)
		default:
			return nil, fmt.Errorf("unknown notifier %q", name)
		}
		if err := reg.RegisterMin(n, nc.MinSeverity); err != nil {
			return nil, fmt.Errorf("registering notifier %s: %w", name, err)
		}
	}
	return reg, nil
}

// printSnapshot reports the newest archived cycle snapshot
func printSnapshot(ctx context.Context, store archive.Storage) error {
	key, err := archive.Latest(ctx, store)
	if err != nil {
		return err
	}
	snap, err := portfolio.LoadSnapshot(ctx, store, key)
	if err != nil {
		return err
	}
	fmt.Printf("\nLast snapshot: %s (cycle %d, equity %.2f)\n", key, snap.Summary.Cycle, snap.State.TotalEquity)
	return nil
}

func earliest(bars []core.Bar) time.Time {
	first := bars[0].Time
	for _, b := range bars[1:] {
		if b.Time.Before(first) {
			first = b.Time
		}
	}
	return first
}

func printResult(r *backtest.Result) {
	fmt.Println("=== SignalFlow Replay ===")
	fmt.Printf("Period:         %s to %s\n", r.StartDate.Format("2006-01-02"), r.EndDate.Format("2006-01-02"))
	fmt.Printf("Initial equity: %.2f\n", r.InitialEquity)
	fmt.Printf("Final equity:   %.2f\n", r.FinalEquity)
	fmt.Printf("Total return:   %.2f%%\n", r.Stats.TotalReturn)
	fmt.Printf("Max drawdown:   %.2f%%\n", r.Stats.MaxDrawdown)
	fmt.Printf("Sharpe ratio:   %.2f\n", r.Stats.SharpeRatio)
	fmt.Printf("Cycles:         %d (%d skipped)\n", r.Stats.Cycles, r.Stats.Skipped)
	fmt.Printf("Trades:         %d (win rate %.1f%%)\n", r.Stats.Trades, r.Stats.WinRate)
	fmt.Printf("Rebalances:     %d\n", r.Stats.Rebalances)
	fmt.Printf("Alerts:         %d\n", r.Stats.Alerts)
	fmt.Println()

	ids := make([]string, 0, len(r.Final.Allocations))
	for id := range r.Final.Allocations {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STRATEGY\tSTATUS\tALLOCATION")
	for _, id := range ids {
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\n", id, r.Final.Strategies[id], r.Final.Allocations[id])
	}
	w.Flush()
}
