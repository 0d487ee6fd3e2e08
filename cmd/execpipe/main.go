// Package main is the entry point for the order execution pipeline.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fluxtrade/execpipe/internal/alerting"
	"github.com/fluxtrade/execpipe/internal/book"
	"github.com/fluxtrade/execpipe/internal/config"
	"github.com/fluxtrade/execpipe/internal/journal"
	"github.com/fluxtrade/execpipe/internal/ledger"
	"github.com/fluxtrade/execpipe/internal/metrics"
	"github.com/fluxtrade/execpipe/internal/pipeline"
	"github.com/fluxtrade/execpipe/internal/replay"
	"github.com/fluxtrade/execpipe/internal/risk"
	"github.com/fluxtrade/execpipe/internal/router"
	"github.com/fluxtrade/execpipe/internal/sched"
	"github.com/fluxtrade/execpipe/internal/types"
	"github.com/fluxtrade/execpipe/internal/ui"
	"github.com/fluxtrade/execpipe/internal/venue"
)

// Version information (set by build flags).
var (
	Version   = "0.5.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	// Parse command
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version", "-v", "--version":
		cmdVersion()
	case "help", "-h", "--help":
		printUsage()
	case "run":
		cmdRun(os.Args[2:])
	case "replay":
		cmdReplay(os.Args[2:])
	case "validate":
		cmdValidate(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Execpipe - Order Execution Pipeline for Simulated Venues

Usage:
  execpipe <command> [options]

Commands:
  run        Start the pipeline service (synthetic or stdin order flow)
  replay     Run a deterministic synthetic session and report stats
  validate   Validate configuration file
  version    Show version information
  help       Show this help message

Examples:
  execpipe replay --ui
  execpipe replay --config config.yaml --orders 200 --seed 7
  execpipe run --config config.yaml
  execpipe run --source stdin < orders.jsonl
  execpipe validate --config config.yaml

Use "execpipe <command> --help" for more information about a command.`)
}

func cmdVersion() {
	fmt.Printf("execpipe version %s\n", Version)
	fmt.Printf("  Build time: %s\n", BuildTime)
	fmt.Printf("  Git commit: %s\n", GitCommit)
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath := fs.String("config", "config.yaml", "Path to configuration file")
	fs.Parse(args)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Configuration is valid!")
	fmt.Printf("  Agent: %s\n", cfg.Account.AgentID)
	fmt.Printf("  Starting equity: $%.2f\n", cfg.Account.StartingEquity)
	fmt.Printf("  Venues: %s\n", strings.Join(cfg.VenueNames(), ", "))
	fmt.Printf("  Max position size: $%.0f\n", cfg.Risk.MaxPositionSizeUSD)
	fmt.Printf("  Max daily loss: $%.0f\n", cfg.Risk.MaxDailyLossUSD)
	if cfg.Journal.Enabled {
		fmt.Printf("  Journal: %s\n", cfg.Journal.Path)
	} else {
		fmt.Println("  Journal: disabled")
	}
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics: :%d%s\n", cfg.Metrics.Port, cfg.Metrics.Path)
	} else {
		fmt.Println("  Metrics: disabled")
	}
}

// allAlertEvents enumerates the events the pipeline can emit, used to
// build the per-event enable map from configuration.
var allAlertEvents = []alerting.AlertEvent{
	alerting.EventCircuitBreakerTripped,
	alerting.EventCircuitBreakerReset,
	alerting.EventVenueExhausted,
	alerting.EventVenueTrustFloor,
	alerting.EventRiskRejected,
	alerting.EventLimitRejected,
	alerting.EventOrderFilled,
	alerting.EventOrderPartial,
	alerting.EventJournalError,
	alerting.EventSessionSummary,
	alerting.EventPipelineStarted,
	alerting.EventPipelineStopped,
}

// stack bundles the assembled pipeline with the services it owns.
type stack struct {
	cfg     *config.Config
	pipe    *pipeline.Pipeline
	journal journal.Journal
	metrics *metrics.Server
	alerter alerting.Alerter
	logger  *slog.Logger
}

// buildStack assembles the full pipeline from configuration: journal,
// trust seeding, risk gate, ledger, books, scheduler, router, venues,
// alerting, and the metrics server (constructed, not started).
func buildStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	alerter := buildAlerter(cfg, logger)

	var jnl journal.Journal
	if cfg.Journal.Enabled {
		j, err := journal.NewSQLite(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		if err := j.Migrate(ctx); err != nil {
			_ = j.Close()
			return nil, fmt.Errorf("migrate journal: %w", err)
		}
		jnl = j
	}

	// Venue trust survives restarts: explicit config seeding wins,
	// otherwise the journal's last recorded scores are restored.
	trustSeed := cfg.Router.InitialTrust
	if len(trustSeed) == 0 && jnl != nil {
		if scores, err := jnl.LatestTrust(ctx); err != nil {
			logger.Warn("failed to restore venue trust", "err", err)
		} else if len(scores) > 0 {
			logger.Info("restored venue trust from journal", "venues", len(scores))
			trustSeed = scores
		}
	}

	gate := risk.NewGate(cfg.ToRiskLimits(), cfg.Account.StartingEquity)
	led := ledger.New(cfg.ToLedgerConfig(), logger)
	books := book.NewManager()
	scheduler := sched.New(cfg.ToSchedulerConfig(), books, logger)

	rt := router.New(cfg.ToRouterConfig(), router.NewTrustBook(trustSeed), logger)
	for _, simCfg := range cfg.ToSimConfigs() {
		rt.RegisterVenue(venue.NewSim(simCfg, logger))
	}

	pipe := pipeline.New(pipeline.Config{
		AgentID:      cfg.Account.AgentID,
		OrderTimeout: cfg.OrderTimeout(),
		AlertEvents:  alertEventFilter(cfg),
	}, gate, led, books, scheduler, rt, alerter, logger)
	if jnl != nil {
		pipe.AttachJournal(jnl)
	}

	var srv *metrics.Server
	if cfg.Metrics.Enabled {
		metrics.SetBuildInfo(Version, GitCommit, BuildTime)
		srv = metrics.NewServer(metrics.ServerConfig{
			Port:        cfg.Metrics.Port,
			MetricsPath: cfg.Metrics.Path,
			Version:     Version,
		}, logger)
		srv.RegisterHealthCheck("risk_gate", func() metrics.Check {
			if gate.Metrics().CircuitBreakerActive {
				return metrics.Check{Status: metrics.StatusUnhealthy, Message: "circuit breaker active"}
			}
			return metrics.Check{Status: metrics.StatusHealthy}
		})
	}

	return &stack{
		cfg:     cfg,
		pipe:    pipe,
		journal: jnl,
		metrics: srv,
		alerter: alerter,
		logger:  logger,
	}, nil
}

// buildAlerter assembles the configured alert channels. Returns nil
// when alerting is disabled; the pipeline treats nil as no-op.
func buildAlerter(cfg *config.Config, logger *slog.Logger) alerting.Alerter {
	if !cfg.Alerting.Enabled {
		return nil
	}

	channels := []alerting.Alerter{alerting.NewConsoleAlerter(logger)}
	if cfg.Alerting.WebhookURL != "" {
		channels = append(channels, alerting.NewWebhookAlerter(alerting.WebhookConfig{
			URL: cfg.Alerting.WebhookURL,
		}))
	}
	if cfg.Alerting.TelegramBotToken != "" && cfg.Alerting.TelegramChatID != "" {
		channels = append(channels, alerting.NewTelegramAlerter(alerting.TelegramConfig{
			BotToken: cfg.Alerting.TelegramBotToken,
			ChatID:   cfg.Alerting.TelegramChatID,
		}))
	}

	if len(channels) == 1 {
		return channels[0]
	}
	return alerting.NewMultiAlerter(logger, channels...)
}

// alertEventFilter builds the pipeline's per-event enable map. Nil
// means every event is enabled.
func alertEventFilter(cfg *config.Config) map[alerting.AlertEvent]bool {
	if len(cfg.Alerting.Events) == 0 {
		return nil
	}
	out := make(map[alerting.AlertEvent]bool, len(allAlertEvents))
	for _, event := range allAlertEvents {
		out[event] = cfg.IsAlertEventEnabled(string(event))
	}
	return out
}

// notify sends one event-driven alert from the CLI itself, honoring
// the configured event filter.
func (s *stack) notify(ctx context.Context, event alerting.AlertEvent, message string, fields ...any) {
	if s.alerter == nil || !s.cfg.IsAlertEventEnabled(string(event)) {
		return
	}
	if err := s.alerter.Alert(ctx, alerting.EventSeverity(event), message, fields...); err != nil {
		s.logger.Warn("failed to send alert", "event", event, "err", err)
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (built-in defaults when empty)")
	source := fs.String("source", "synthetic", "Order source: synthetic, stdin")
	interval := fs.Duration("interval", 2*time.Second, "Synthetic order interval")
	fs.Parse(args)

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config
	var cfg *config.Config
	var err error
	if *configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}

	slog.Info("execpipe starting",
		"version", Version,
		"agent", cfg.Account.AgentID,
		"venues", cfg.VenueNames(),
		"source", *source,
		"equity", cfg.Account.StartingEquity,
	)

	if st.metrics != nil {
		_ = st.metrics.Start()
	}
	st.notify(ctx, alerting.EventPipelineStarted, "Execution pipeline started",
		"agent", cfg.Account.AgentID, "version", Version)

	switch *source {
	case "synthetic":
		err = runSynthetic(ctx, st, *interval)
	case "stdin":
		err = runStdin(ctx, st)
	default:
		slog.Error("unknown order source", "source", *source)
		os.Exit(1)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("order flow stopped", "err", err)
	}

	slog.Info("shutdown signal received")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.ShutdownTimeout(),
	)
	defer cancel()

	if err := shutdown(shutdownCtx, st); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	slog.Info("execpipe shutdown complete")
}

// runSynthetic drives the pipeline with the deterministic flow until
// the context is cancelled.
func runSynthetic(ctx context.Context, st *stack, interval time.Duration) error {
	flow := replay.NewFlow(flowConfigFrom(st.cfg, 0))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		step := flow.Next()
		replay.ApplyStep(st.pipe, step, st.logger)
		if _, err := st.pipe.ExecuteOrder(ctx, step.Order); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.logger.Warn("order not executed", "symbol", step.Order.Symbol, "err", err)
		}
	}
}

// orderLine is the stdin wire format, one JSON object per line.
// Decimal fields are strings so precision survives the trip.
type orderLine struct {
	Symbol        string   `json:"symbol"`
	Side          string   `json:"side"`
	Quantity      string   `json:"quantity"`
	Price         string   `json:"price"`
	Venues        []string `json:"venues,omitempty"`
	ExecutionMode string   `json:"execution_mode,omitempty"`
	MaxSlippage   string   `json:"max_slippage,omitempty"`
}

// runStdin executes one order per input line until EOF or cancel.
// Blank lines and #-comments are skipped; bad lines are logged and
// skipped rather than stopping the flow.
func runStdin(ctx context.Context, st *stack) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		order, err := parseOrderLine(line, st.cfg.VenueNames())
		if err != nil {
			st.logger.Warn("skipping order line", "err", err)
			continue
		}
		if _, err := st.pipe.ExecuteOrder(ctx, order); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			st.logger.Warn("order not executed", "symbol", order.Symbol, "err", err)
		}
	}
	return scanner.Err()
}

func parseOrderLine(line string, defaultVenues []string) (*types.Order, error) {
	var in orderLine
	if err := json.Unmarshal([]byte(line), &in); err != nil {
		return nil, fmt.Errorf("parse order line: %w", err)
	}

	var side types.Side
	switch strings.ToUpper(in.Side) {
	case "BUY":
		side = types.SideBuy
	case "SELL":
		side = types.SideSell
	default:
		return nil, fmt.Errorf("%w: side %q", types.ErrInvalidOrder, in.Side)
	}

	qty, err := decimal.NewFromString(in.Quantity)
	if err != nil || !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity %q", types.ErrInvalidSize, in.Quantity)
	}
	price, err := decimal.NewFromString(in.Price)
	if err != nil || !price.IsPositive() {
		return nil, fmt.Errorf("%w: price %q", types.ErrInvalidPrice, in.Price)
	}

	order := &types.Order{
		Symbol:   in.Symbol,
		Side:     side,
		Quantity: qty,
		Price:    price,
		Venues:   in.Venues,
	}
	if len(order.Venues) == 0 {
		order.Venues = defaultVenues
	}
	if in.ExecutionMode != "" {
		order.AdditionalParams = map[string]string{"executionMode": in.ExecutionMode}
	}
	if in.MaxSlippage != "" {
		slip, err := decimal.NewFromString(in.MaxSlippage)
		if err != nil || slip.IsNegative() {
			return nil, fmt.Errorf("%w: max_slippage %q", types.ErrInvalidOrder, in.MaxSlippage)
		}
		order.MaxSlippage = slip
	}
	return order, nil
}

func cmdReplay(args []string) {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file (built-in defaults when empty)")
	orders := fs.Int("orders", 50, "Number of orders to replay")
	seed := fs.Int64("seed", 0, "Flow seed (0 keeps the default)")
	uiFlag := fs.Bool("ui", false, "Render a live terminal status view")
	delay := fs.Duration("delay", 0, "Pause between orders")
	fs.Parse(args)

	// The status view needs pacing to be watchable.
	if *uiFlag && *delay == 0 {
		*delay = 40 * time.Millisecond
	}

	// Setup logging; the live view owns stdout, so keep the logger
	// quiet there.
	logLevel := slog.LevelInfo
	if *uiFlag {
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if *configPath == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := buildStack(ctx, cfg, logger)
	if err != nil {
		slog.Error("failed to build pipeline", "err", err)
		os.Exit(1)
	}
	// Replays never serve metrics; the server stays constructed but
	// unstarted.

	runner := replay.NewRunner(replay.Config{
		Orders:    *orders,
		StepDelay: *delay,
		Flow:      flowConfigFrom(cfg, *seed),
	}, st.pipe, logger)

	var view *ui.StatusView
	if *uiFlag {
		view = ui.NewStatusView()
		view.Start()
		runner.SetProgressCallback(func(u replay.ProgressUpdate) {
			view.Render(frameFrom(st, u))
		})
	} else {
		runner.SetProgressCallback(func(u replay.ProgressUpdate) {
			ui.ProgressLine(u.Order, u.TotalOrders,
				fmt.Sprintf("%s %s %s", u.Symbol, u.Side, u.Status))
		})
	}

	stats, err := runner.Run(ctx)
	if view != nil {
		view.Stop()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// Report what the interrupted session managed to do.
			fmt.Println("\nreplay interrupted")
			stats = runner.Stats()
		} else {
			slog.Error("replay failed", "err", err)
			os.Exit(1)
		}
	}

	fmt.Println()
	fmt.Println(stats.FormatText())

	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdown(closeCtx, st); err != nil {
		slog.Error("shutdown error", "err", err)
	}
}

// flowConfigFrom derives the synthetic flow settings from the loaded
// configuration: configured venues and the scheduler's actual size
// thresholds, so the flow's bands line up with algorithm selection.
func flowConfigFrom(cfg *config.Config, seed int64) replay.FlowConfig {
	out := replay.DefaultFlowConfig()
	if names := cfg.VenueNames(); len(names) > 0 {
		out.Venues = names
	}
	if seed != 0 {
		out.Seed = seed
	}
	if cfg.Scheduler.TWAPMinQuantity > 0 {
		out.TWAPQty = cfg.Scheduler.TWAPMinQuantity
	}
	if cfg.Scheduler.VWAPMinQuantity > 0 {
		out.VWAPQty = cfg.Scheduler.VWAPMinQuantity
	}
	return out
}

// frameFrom assembles one status-view frame from live pipeline state.
func frameFrom(st *stack, u replay.ProgressUpdate) ui.Frame {
	f := ui.Frame{
		Order:       u.Order,
		TotalOrders: u.TotalOrders,
		LastSymbol:  u.Symbol,
		LastStatus:  u.Status,
		FillRatePct: u.FillRatePct,
		StartEquity: st.cfg.Account.StartingEquity,
		Equity:      u.Equity,
		Trust:       u.Trust,
	}

	books := st.pipe.Books()
	for _, sym := range books.Symbols() {
		snap, err := books.Snapshot(sym, 1)
		if err != nil || len(snap.Bids) == 0 || len(snap.Asks) == 0 {
			continue
		}
		imb, _ := books.Imbalance(sym, 5)
		f.Quotes = append(f.Quotes, ui.Quote{
			Symbol:    sym,
			Bid:       snap.Bids[0].Price,
			BidSize:   snap.Bids[0].Size,
			Ask:       snap.Asks[0].Price,
			AskSize:   snap.Asks[0].Size,
			Imbalance: imb,
		})
	}

	if agent, err := st.pipe.Ledger().Position(st.cfg.Account.AgentID); err == nil {
		for _, pos := range agent.Positions {
			if pos.NetSize.IsZero() {
				continue
			}
			f.Positions = append(f.Positions, ui.Position{
				Symbol:        pos.Symbol,
				NetSize:       pos.NetSize,
				AveragePrice:  pos.AveragePrice,
				UnrealizedPnL: pos.UnrealizedPnL,
			})
		}
	}
	return f
}

// shutdown runs the ordered teardown steps under the deadline.
func shutdown(ctx context.Context, st *stack) error {
	st.logger.Info("starting graceful shutdown")

	steps := []struct {
		name string
		fn   func() error
	}{
		{"send session summary", func() error {
			summary := st.pipe.Summary()
			st.notify(ctx, alerting.EventSessionSummary, summary.FormatText(),
				"fill_rate_pct", fmt.Sprintf("%.1f", summary.FillRatePct()))
			return nil
		}},
		{"announce stop", func() error {
			st.notify(ctx, alerting.EventPipelineStopped, "Execution pipeline stopped",
				"agent", st.cfg.Account.AgentID)
			return nil
		}},
		{"stop metrics server", func() error {
			if st.metrics == nil {
				return nil
			}
			return st.metrics.Shutdown(ctx)
		}},
		{"close journal", func() error {
			if st.journal == nil {
				return nil
			}
			return st.journal.Close()
		}},
	}

	for _, step := range steps {
		select {
		case <-ctx.Done():
			return fmt.Errorf("shutdown timeout during: %s", step.name)
		default:
			st.logger.Debug("shutdown step", "step", step.name)
			if err := step.fn(); err != nil {
				st.logger.Warn("shutdown step failed", "step", step.name, "err", err)
			}
		}
	}

	return nil
}
