package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the replaylab tools.
type Config struct {
	Storage     Storage           `yaml:"storage"`
	Alpaca      Alpaca            `yaml:"alpaca"`
	Logging     Logging           `yaml:"logging"`
	Replay      Replay            `yaml:"replay"`
	WalkForward WalkForwardConfig `yaml:"walkforward"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir     string `yaml:"data_dir"`
	ResultsPath string `yaml:"results_path"`
}

// Alpaca holds credentials and endpoints for the Alpaca data API, used only
// when fetching historical bars into the local store.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Replay holds the friction and sizing parameters of the fill simulator.
type Replay struct {
	SpreadBps          float64 `yaml:"spread_bps"`
	SpreadCentsMin     float64 `yaml:"spread_cents_min"`
	CommissionPerShare float64 `yaml:"commission_per_share"`
	FeeRateBps         float64 `yaml:"fee_rate_bps"`
	ParticipationRate  float64 `yaml:"participation_rate"`
	LatencyBars        int     `yaml:"latency_bars"`
	FillPolicy         string  `yaml:"fill_policy"`
	StartingCash       float64 `yaml:"starting_cash"`
}

// WalkForwardConfig defines the windowing, search grid and selection rules
// of a walk-forward run.
type WalkForwardConfig struct {
	InSampleDays  int                  `yaml:"in_sample_days"`
	OutSampleDays int                  `yaml:"out_sample_days"`
	StepDays      int                  `yaml:"step_days"`
	Grid          map[string][]float64 `yaml:"grid"`
	Objective     string               `yaml:"objective"`
	Constraints   ConstraintsConfig    `yaml:"constraints"`
	Workers       int                  `yaml:"workers"`
}

// ConstraintsConfig holds the hard in-sample disqualification limits. Zero
// values disable the corresponding check, except min_trades which defaults
// to zero (no minimum).
type ConstraintsConfig struct {
	MaxDrawdown    float64 `yaml:"max_drawdown"`
	MaxTradeLoss   float64 `yaml:"max_trade_loss"`
	MaxTurnover    float64 `yaml:"max_turnover"`
	MaxTimeInTrade float64 `yaml:"max_time_in_trade"`
	MinTrades      int     `yaml:"min_trades"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Default returns a Config with the built-in defaults applied. Loading a
// file overrides only the fields it sets.
func Default() *Config {
	return &Config{
		Storage: Storage{
			DataDir:     "data",
			ResultsPath: "results.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Replay: Replay{
			ParticipationRate: 1.0,
			LatencyBars:       1,
			FillPolicy:        "touch",
			StartingCash:      100_000,
		},
		WalkForward: WalkForwardConfig{
			Objective: "expectancy",
			Workers:   1,
		},
	}
}

// Load reads the YAML configuration file at the given path, parses it on top
// of the defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("RESULTS_PATH"); v != "" {
		cfg.Storage.ResultsPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
