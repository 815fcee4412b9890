package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"replaylab/internal/broker"
	"replaylab/internal/config"
	"replaylab/internal/domain"
	"replaylab/internal/metrics"
	"replaylab/internal/replay"
	"replaylab/internal/report"
	"replaylab/internal/store"
	"replaylab/internal/strategy"
	"replaylab/internal/strategy/builtins"
	"replaylab/internal/util"
	"replaylab/internal/walkforward"
)

const version = "0.1.0"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: replaylab <command> [options]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  replay       Run one strategy over historical bars\n")
		fmt.Fprintf(os.Stderr, "  walkforward  Grid-search and validate a strategy walk-forward\n")
		fmt.Fprintf(os.Stderr, "  fetch        Download historical bars into the local store\n")
		fmt.Fprintf(os.Stderr, "  strategies   List registered strategies\n")
		fmt.Fprintf(os.Stderr, "  version      Print the CLI version\n")
		fmt.Fprintf(os.Stderr, "\n")
	}

	if len(os.Args) < 2 {
		flag.Usage()
		os.Exit(1)
	}

	registry := strategy.NewRegistry()
	registry.Register("sma-cross", builtins.Factory)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch os.Args[1] {
	case "version":
		fmt.Printf("replaylab %s\n", version)

	case "strategies":
		for _, name := range registry.List() {
			fmt.Println(name)
		}

	case "replay":
		if err := runReplay(ctx, os.Args[2:], registry); err != nil {
			log.Fatalf("replay: %v", err)
		}

	case "walkforward":
		if err := runWalkForward(ctx, os.Args[2:], registry); err != nil {
			log.Fatalf("walkforward: %v", err)
		}

	case "fetch":
		if err := runFetch(ctx, os.Args[2:]); err != nil {
			log.Fatalf("fetch: %v", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		flag.Usage()
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Shared flags and helpers
// ---------------------------------------------------------------------------

// dataFlags are the dataset-selection options shared by replay and
// walkforward.
type dataFlags struct {
	configPath string
	symbols    string
	barsCSV    string
	start      string
	end        string
	interval   string
	allowGaps  bool
	outdir     string
}

func (f *dataFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", defaultConfigPath(), "path to the YAML config file")
	fs.StringVar(&f.symbols, "symbols", "", "comma-separated symbols (required)")
	fs.StringVar(&f.barsCSV, "bars", "", "per-symbol CSV sources, SYMBOL=path[,SYMBOL=path...]; omit to read the local store")
	fs.StringVar(&f.start, "start", "", "start date YYYY-MM-DD (store reads only)")
	fs.StringVar(&f.end, "end", "", "end date YYYY-MM-DD (store reads only)")
	fs.StringVar(&f.interval, "interval", "24h", "bar interval as a Go duration")
	fs.BoolVar(&f.allowGaps, "allow-gaps", false, "tolerate missing bars inside a session")
	fs.StringVar(&f.outdir, "outdir", "outputs", "directory for run artifacts")
}

func defaultConfigPath() string {
	if p := os.Getenv("REPLAYLAB_CONFIG"); p != "" {
		return p
	}
	return "config/replaylab.yaml"
}

func (f *dataFlags) symbolList() ([]string, error) {
	if f.symbols == "" {
		return nil, fmt.Errorf("-symbols is required")
	}
	syms := strings.Split(f.symbols, ",")
	for i := range syms {
		syms[i] = strings.ToUpper(strings.TrimSpace(syms[i]))
	}
	sort.Strings(syms)
	return syms, nil
}

// loadBars assembles the dataset, either from per-symbol CSV files or from
// the Parquet store within [start, end].
func (f *dataFlags) loadBars(ctx context.Context, cfg *config.Config, symbols []string) ([]domain.Bar, error) {
	if f.barsCSV != "" {
		sources, err := parseKVList(f.barsCSV)
		if err != nil {
			return nil, err
		}
		var bars []domain.Bar
		for _, sym := range symbols {
			path, ok := sources[sym]
			if !ok {
				return nil, fmt.Errorf("no -bars entry for symbol %s", sym)
			}
			b, err := store.LoadCSVBars(path, sym)
			if err != nil {
				return nil, err
			}
			bars = append(bars, b...)
		}
		return bars, nil
	}

	if f.start == "" || f.end == "" {
		return nil, fmt.Errorf("-start and -end are required when reading the local store")
	}
	start, err := time.Parse("2006-01-02", f.start)
	if err != nil {
		return nil, fmt.Errorf("bad -start: %w", err)
	}
	end, err := time.Parse("2006-01-02", f.end)
	if err != nil {
		return nil, fmt.Errorf("bad -end: %w", err)
	}
	end = end.Add(24*time.Hour - time.Nanosecond)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)
	var bars []domain.Bar
	for _, sym := range symbols {
		b, err := pstore.ReadBars(ctx, sym, start, end)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b...)
	}
	return bars, nil
}

func parseKVList(s string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", item)
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out, nil
}

// parseParams turns "short=10,long=30" into a strategy parameter set.
func parseParams(s string) (strategy.Params, error) {
	params := strategy.Params{}
	if s == "" {
		return params, nil
	}
	kv, err := parseKVList(s)
	if err != nil {
		return nil, err
	}
	for k, v := range kv {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value for param %s: %q", k, v)
		}
		params[strings.ToLower(k)] = f
	}
	return params, nil
}

func replayParams(cfg *config.Config) domain.ReplayParams {
	return domain.ReplayParams{
		SpreadBps:          cfg.Replay.SpreadBps,
		SpreadCentsMin:     cfg.Replay.SpreadCentsMin,
		CommissionPerShare: cfg.Replay.CommissionPerShare,
		FeeRateBps:         cfg.Replay.FeeRateBps,
		ParticipationRate:  cfg.Replay.ParticipationRate,
		LatencyBars:        cfg.Replay.LatencyBars,
		FillPolicy:         domain.FillPolicy(cfg.Replay.FillPolicy),
		StartingCash:       cfg.Replay.StartingCash,
	}
}

// runDir creates outputs/<command>/<runID> and records the invocation there.
func runDir(outdir, command, runID string, args []string) (string, error) {
	dir := filepath.Join(outdir, command, runID)
	if err := report.EnsureDir(dir); err != nil {
		return "", err
	}
	inv := map[string]any{"run_id": runID, "command": command, "args": args}
	return dir, report.WriteJSON(filepath.Join(dir, "run_config.json"), inv)
}

// ---------------------------------------------------------------------------
// replay
// ---------------------------------------------------------------------------

func runReplay(ctx context.Context, args []string, registry *strategy.Registry) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	var df dataFlags
	df.register(fs)
	stratName := fs.String("strategy", "sma-cross", "strategy to run")
	paramsFlag := fs.String("params", "", "strategy params, k=v[,k=v...]")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(df.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	symbols, err := df.symbolList()
	if err != nil {
		return err
	}
	factory, ok := registry.Get(*stratName)
	if !ok {
		return fmt.Errorf("unknown strategy %q", *stratName)
	}
	params, err := parseParams(*paramsFlag)
	if err != nil {
		return err
	}
	rp := replayParams(cfg)
	if err := rp.Validate(); err != nil {
		return err
	}
	interval, err := time.ParseDuration(df.interval)
	if err != nil {
		return fmt.Errorf("bad -interval: %w", err)
	}

	bars, err := df.loadBars(ctx, cfg, symbols)
	if err != nil {
		return err
	}
	feed, err := replay.NewFeed(bars, symbols, interval, df.allowGaps)
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	dir, err := runDir(df.outdir, "replay", runID, args)
	if err != nil {
		return err
	}

	logger.Info("starting replay",
		"run_id", runID,
		"strategy", *stratName,
		"symbols", symbols,
		"bars", feed.Len(),
	)

	runner := replay.NewRunner(feed, rp, factory(params), logger)
	res, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	summary := metrics.Summarize(res.Trades, res.Equity)
	if err := report.WriteRunDir(dir, summary, res.Trades, res.Equity); err != nil {
		return err
	}

	logger.Info("replay complete",
		"run_id", runID,
		"trades", summary.Trades,
		"net_pnl", summary.NetPnL,
		"expectancy", summary.Expectancy,
		"artifacts", dir,
	)
	return nil
}

// ---------------------------------------------------------------------------
// walkforward
// ---------------------------------------------------------------------------

func runWalkForward(ctx context.Context, args []string, registry *strategy.Registry) error {
	fs := flag.NewFlagSet("walkforward", flag.ExitOnError)
	var df dataFlags
	df.register(fs)
	stratName := fs.String("strategy", "sma-cross", "strategy to evaluate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(df.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	symbols, err := df.symbolList()
	if err != nil {
		return err
	}
	factory, ok := registry.Get(*stratName)
	if !ok {
		return fmt.Errorf("unknown strategy %q", *stratName)
	}
	interval, err := time.ParseDuration(df.interval)
	if err != nil {
		return fmt.Errorf("bad -interval: %w", err)
	}

	bars, err := df.loadBars(ctx, cfg, symbols)
	if err != nil {
		return err
	}

	wfCfg := walkforward.Config{
		Window: walkforward.WindowSpec{
			InSampleDays:  cfg.WalkForward.InSampleDays,
			OutSampleDays: cfg.WalkForward.OutSampleDays,
			StepDays:      cfg.WalkForward.StepDays,
		},
		Grid:      walkforward.Grid(cfg.WalkForward.Grid),
		Objective: walkforward.Objective(cfg.WalkForward.Objective),
		Constraints: walkforward.Constraints{
			MaxDrawdown:    cfg.WalkForward.Constraints.MaxDrawdown,
			MaxTradeLoss:   cfg.WalkForward.Constraints.MaxTradeLoss,
			MaxTurnover:    cfg.WalkForward.Constraints.MaxTurnover,
			MaxTimeInTrade: cfg.WalkForward.Constraints.MaxTimeInTrade,
			MinTrades:      cfg.WalkForward.Constraints.MinTrades,
		},
		Workers:   cfg.WalkForward.Workers,
		Replay:    replayParams(cfg),
		Symbols:   symbols,
		Interval:  interval,
		AllowGaps: df.allowGaps,
	}

	runID := uuid.NewString()
	dir, err := runDir(df.outdir, "walkforward", runID, args)
	if err != nil {
		return err
	}

	logger.Info("starting walk-forward",
		"run_id", runID,
		"strategy", *stratName,
		"symbols", symbols,
		"bars", len(bars),
	)

	controller := walkforward.New(bars, factory, wfCfg, logger)
	rep, err := controller.Run(ctx)
	if err != nil {
		return err
	}

	if err := persistWalkForward(ctx, cfg, runID, *stratName, wfCfg, rep); err != nil {
		return err
	}
	if err := writeWalkForwardArtifacts(dir, rep); err != nil {
		return err
	}

	logger.Info("walk-forward complete",
		"run_id", runID,
		"windows", len(rep.Windows),
		"evaluated", rep.EvaluatedWindows,
		"mean_oos_expectancy", rep.MeanOOSExpectancy,
		"artifacts", dir,
	)
	return nil
}

// persistWalkForward records the run and its windows in the result store.
func persistWalkForward(ctx context.Context, cfg *config.Config, runID, stratName string, wfCfg walkforward.Config, rep *walkforward.Report) error {
	rstore, err := store.NewSQLiteStore(cfg.Storage.ResultsPath)
	if err != nil {
		return err
	}
	defer rstore.Close()

	cfgJSON, err := json.Marshal(wfCfg)
	if err != nil {
		return err
	}
	if err := rstore.SaveRun(ctx, store.RunRecord{
		ID:        runID,
		CreatedAt: time.Now().UTC(),
		Strategy:  stratName,
		Config:    string(cfgJSON),
	}); err != nil {
		return err
	}

	for _, w := range rep.Windows {
		paramsJSON := ""
		if w.Params != nil {
			p, err := json.Marshal(w.Params)
			if err != nil {
				return err
			}
			paramsJSON = string(p)
		}
		rec := store.WindowRecord{
			RunID:          runID,
			Index:          w.Window.Index,
			Params:         paramsJSON,
			ISExpectancy:   w.InSample.Expectancy,
			ISNetPnL:       w.InSample.NetPnL,
			OOSExpectancy:  w.OutSample.Expectancy,
			OOSNetPnL:      w.OutSample.NetPnL,
			OOSMaxDrawdown: w.OutSample.MaxDrawdown,
			OOSTrades:      w.OutSample.Trades,
		}
		if err := rstore.SaveWindow(ctx, rec); err != nil {
			return err
		}
		if err := rstore.SaveTrades(ctx, runID, w.Window.Index, w.OOSTrades); err != nil {
			return err
		}
	}
	return nil
}

// writeWalkForwardArtifacts writes report.json plus per-window trade and
// equity files.
func writeWalkForwardArtifacts(dir string, rep *walkforward.Report) error {
	if err := report.WriteJSON(filepath.Join(dir, "report.json"), rep); err != nil {
		return err
	}
	for _, w := range rep.Windows {
		if w.Params == nil {
			continue
		}
		prefix := filepath.Join(dir, fmt.Sprintf("window_%03d", w.Window.Index))
		if err := report.WriteTradesCSV(prefix+"_trades.csv", w.OOSTrades); err != nil {
			return err
		}
		if err := report.WriteEquityCSV(prefix+"_equity.csv", w.OOSEquity); err != nil {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// fetch
// ---------------------------------------------------------------------------

func runFetch(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath(), "path to the YAML config file")
	symbols := fs.String("symbols", "", "comma-separated symbols (required)")
	start := fs.String("start", "", "start date YYYY-MM-DD (required)")
	end := fs.String("end", "", "end date YYYY-MM-DD (required)")
	interval := fs.String("interval", "24h", "bar interval as a Go duration")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	if *symbols == "" || *start == "" || *end == "" {
		return fmt.Errorf("-symbols, -start and -end are required")
	}
	startT, err := time.Parse("2006-01-02", *start)
	if err != nil {
		return fmt.Errorf("bad -start: %w", err)
	}
	endT, err := time.Parse("2006-01-02", *end)
	if err != nil {
		return fmt.Errorf("bad -end: %w", err)
	}
	dur, err := time.ParseDuration(*interval)
	if err != nil {
		return fmt.Errorf("bad -interval: %w", err)
	}

	alp := broker.NewAlpacaBroker(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Alpaca.DataURL)
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	for _, sym := range strings.Split(*symbols, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		bars, err := alp.GetBars(ctx, sym, dur, startT, endT)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", sym, err)
		}
		if err := pstore.WriteBars(ctx, bars); err != nil {
			return fmt.Errorf("storing %s: %w", sym, err)
		}
		logger.Info("fetched bars", "symbol", sym, "count", len(bars))
	}
	return nil
}
