package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Root holds all bot configuration. Values come from a YAML file, then
// environment variables override (secrets never live in the file).
type Root struct {
	Mode    string   `yaml:"mode"` // sim | live
	Symbols []string `yaml:"symbols"`

	Trading  Trading  `yaml:"trading"`
	Schedule Schedule `yaml:"schedule"`
	Exchange Exchange `yaml:"exchange"`
	Oracle   Oracle   `yaml:"oracle"`
	API      API      `yaml:"api"`
	Storage  Storage  `yaml:"storage"`
}

type Trading struct {
	MaxTradeUSD           float64 `yaml:"max_trade_usd"`
	DailyLossLimitUSD     float64 `yaml:"daily_loss_limit_usd"`
	ConfidenceThreshold   int     `yaml:"confidence_threshold"`
	MaxPositions          int     `yaml:"max_positions"`
	VolatilityLimitPct    float64 `yaml:"volatility_limit_pct"`
	ConcentrationLimitPct float64 `yaml:"concentration_limit_pct"`
	BreakerMaxErrors      int     `yaml:"breaker_max_errors"`
	BreakerCooldownMin    int     `yaml:"breaker_cooldown_min"`
}

type Schedule struct {
	EvaluateIntervalMin  int `yaml:"evaluate_interval_min"`
	RebalanceIntervalMin int `yaml:"rebalance_interval_min"`
}

type Exchange struct {
	APIKey            string  `yaml:"-"` // BINANCE_API_KEY
	SecretKey         string  `yaml:"-"` // BINANCE_SECRET_KEY
	Testnet           bool    `yaml:"testnet"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	SimBankrollUSD    float64 `yaml:"sim_bankroll_usd"`
}

type Oracle struct {
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"-"` // ORACLE_API_KEY
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type API struct {
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"-"` // API_AUTH_TOKEN
}

type Storage struct {
	StateFile  string `yaml:"state_file"`
	JournalDir string `yaml:"journal_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Load reads the YAML file (missing file is fine, defaults apply), loads a
// .env if present, and applies environment overrides.
func Load(path string) (*Root, error) {
	_ = godotenv.Load()

	c := &Root{}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Secrets and operational overrides from the environment.
	c.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
	c.Exchange.SecretKey = os.Getenv("BINANCE_SECRET_KEY")
	c.Oracle.APIKey = os.Getenv("ORACLE_API_KEY")
	c.API.AuthToken = os.Getenv("API_AUTH_TOKEN")
	if v := os.Getenv("BOT_MODE"); v != "" {
		c.Mode = v
	}
	if v := os.Getenv("ORACLE_BASE_URL"); v != "" {
		c.Oracle.BaseURL = v
	}
	if v := os.Getenv("MAX_TRADE_USD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Trading.MaxTradeUSD = f
		}
	}

	c.applyDefaults()

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Root) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "sim"
	}
	if len(c.Symbols) == 0 {
		c.Symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}
	}

	if c.Trading.MaxTradeUSD == 0 {
		c.Trading.MaxTradeUSD = 100
	}
	if c.Trading.DailyLossLimitUSD == 0 {
		c.Trading.DailyLossLimitUSD = 50
	}
	if c.Trading.ConfidenceThreshold == 0 {
		c.Trading.ConfidenceThreshold = 60
	}
	if c.Trading.MaxPositions == 0 {
		c.Trading.MaxPositions = 5
	}
	if c.Trading.VolatilityLimitPct == 0 {
		c.Trading.VolatilityLimitPct = 5
	}
	if c.Trading.ConcentrationLimitPct == 0 {
		c.Trading.ConcentrationLimitPct = 50
	}
	if c.Trading.BreakerMaxErrors == 0 {
		c.Trading.BreakerMaxErrors = 3
	}
	if c.Trading.BreakerCooldownMin == 0 {
		c.Trading.BreakerCooldownMin = 30
	}

	if c.Schedule.EvaluateIntervalMin == 0 {
		c.Schedule.EvaluateIntervalMin = 5
	}
	if c.Schedule.RebalanceIntervalMin == 0 {
		c.Schedule.RebalanceIntervalMin = 60
	}

	if c.Exchange.TimeoutSeconds == 0 {
		c.Exchange.TimeoutSeconds = 10
	}
	if c.Exchange.RequestsPerSecond == 0 {
		c.Exchange.RequestsPerSecond = 5
	}
	if c.Exchange.SimBankrollUSD == 0 {
		c.Exchange.SimBankrollUSD = 10000
	}

	if c.Oracle.BaseURL == "" {
		c.Oracle.BaseURL = "https://api.openai.com/v1"
	}
	if c.Oracle.Model == "" {
		c.Oracle.Model = "gpt-4o-mini"
	}
	if c.Oracle.TimeoutSeconds == 0 {
		c.Oracle.TimeoutSeconds = 60
	}

	if c.API.Addr == "" {
		c.API.Addr = ":8080"
	}

	if c.Storage.StateFile == "" {
		c.Storage.StateFile = "data/state.json"
	}
	if c.Storage.JournalDir == "" {
		c.Storage.JournalDir = "data/journal"
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/history.db"
	}
}

// validate enforces startup-fatal conditions. Live mode without exchange
// credentials aborts here, never inside the loop.
func (c *Root) validate() error {
	switch c.Mode {
	case "sim", "live":
	default:
		return fmt.Errorf("unknown mode %q (want sim or live)", c.Mode)
	}
	if c.Mode == "live" {
		if c.Exchange.APIKey == "" || c.Exchange.SecretKey == "" {
			return fmt.Errorf("live mode requires BINANCE_API_KEY and BINANCE_SECRET_KEY")
		}
	}
	if c.Oracle.APIKey == "" && os.Getenv("ORACLE_INSECURE_OK") == "" {
		// Some local model servers need no key; require an explicit opt-in.
		return fmt.Errorf("ORACLE_API_KEY not set (set ORACLE_INSECURE_OK=1 for keyless endpoints)")
	}
	if c.Trading.MaxTradeUSD <= 0 {
		return fmt.Errorf("max_trade_usd must be positive")
	}
	return nil
}
