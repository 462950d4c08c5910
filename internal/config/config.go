package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/newthinker/signalflow/internal/alert"
	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/graph"
	"github.com/newthinker/signalflow/internal/portfolio"
	"github.com/newthinker/signalflow/internal/storage/archive"
	"github.com/newthinker/signalflow/internal/strategy"
	"github.com/newthinker/signalflow/internal/timeframe"
)

type Config struct {
	Log        LogConfig                 `mapstructure:"log"`
	Portfolio  portfolio.Config          `mapstructure:"portfolio"`
	Fusion     timeframe.Config          `mapstructure:"fusion"`
	Strategies []StrategyConfig          `mapstructure:"strategies"`
	Alerts     AlertsConfig              `mapstructure:"alerts"`
	Backtest   BacktestConfig            `mapstructure:"backtest"`
	Storage    StorageConfig             `mapstructure:"storage"`
	Metrics    MetricsConfig             `mapstructure:"metrics"`
	Server     ServerConfig              `mapstructure:"server"`
	Notifiers  map[string]NotifierConfig `mapstructure:"notifiers"`

	// dir is the directory of the loaded file; graph paths resolve against it.
	dir string
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// StrategyConfig describes one graph strategy. Timeframe fields left empty
// are taken from the fusion section.
type StrategyConfig struct {
	ID          string               `mapstructure:"id"`
	Name        string               `mapstructure:"name"`
	Graph       string               `mapstructure:"graph"` // path to a YAML or JSON graph document
	Symbol      string               `mapstructure:"symbol"`
	Allocation  float64              `mapstructure:"allocation"`
	Timeframes  timeframe.Config     `mapstructure:"timeframes"`
	Constraints strategy.Constraints `mapstructure:"constraints"`
	Enabled     bool                 `mapstructure:"enabled"`
}

// AlertsConfig holds alerts configuration. Non-zero values override the
// matching portfolio settings.
type AlertsConfig struct {
	Cooldown time.Duration `mapstructure:"cooldown"`
	Rate     float64       `mapstructure:"rate"`
	Burst    int           `mapstructure:"burst"`
	Rules    []alert.Rule  `mapstructure:"rules"`
}

// BacktestConfig holds replay settings.
type BacktestConfig struct {
	Lookback int `mapstructure:"lookback"`
	Warmup   int `mapstructure:"warmup"`
}

type StorageConfig struct {
	Journal JournalConfig  `mapstructure:"journal"`
	Archive archive.Config `mapstructure:"archive"`
}

type JournalConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// MetricsConfig holds metrics configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"` // textfile written after a run
}

// ServerConfig holds the status server settings. An empty Addr disables
// the server; an empty APIKey disables authentication.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// NotifierConfig configures one alert channel. MinSeverity (info, warning
// or critical) drops alerts below it; empty means info.
type NotifierConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	MinSeverity string `mapstructure:"min_severity"`
	BotToken    string `mapstructure:"bot_token"`
	ChatID      string `mapstructure:"chat_id"`
	URL         string `mapstructure:"url"`
	// Email notifier fields
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
	// Webhook notifier fields
	Headers map[string]string `mapstructure:"headers"`
}

// Load reads configuration from file on top of Defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Support environment variable overrides
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	// Expand environment variables in string values
	for _, key := range v.AllKeys() {
		val := v.GetString(key)
		if strings.HasPrefix(val, "${") && strings.HasSuffix(val, "}") {
			envKey := strings.TrimSuffix(strings.TrimPrefix(val, "${"), "}")
			v.Set(key, os.Getenv(envKey))
		}
	}

	cfg := Defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.dir = filepath.Dir(path)

	// viper lowercases map keys; symbols are upper case
	if len(cfg.Portfolio.Risk.SectorMap) > 0 {
		sectors := make(map[string]string, len(cfg.Portfolio.Risk.SectorMap))
		for symbol, sector := range cfg.Portfolio.Risk.SectorMap {
			sectors[strings.ToUpper(symbol)] = sector
		}
		cfg.Portfolio.Risk.SectorMap = sectors
	}

	return cfg, nil
}

// Defaults returns a config with sensible defaults
func Defaults() *Config {
	pc := portfolio.DefaultConfig()
	return &Config{
		Portfolio: pc,
		Fusion:    timeframe.DefaultConfig(),
		Alerts: AlertsConfig{
			Cooldown: pc.AlertCooldown,
			Rate:     pc.AlertRate,
			Burst:    pc.AlertBurst,
		},
		Backtest: BacktestConfig{
			Lookback: 500,
			Warmup:   50,
		},
		Storage: StorageConfig{
			Journal: JournalConfig{
				Capacity: 10000,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// PortfolioConfig returns the portfolio section with the alerts section
// applied.
func (c *Config) PortfolioConfig() portfolio.Config {
	pc := c.Portfolio
	if c.Alerts.Cooldown > 0 {
		pc.AlertCooldown = c.Alerts.Cooldown
	}
	if c.Alerts.Rate > 0 {
		pc.AlertRate = c.Alerts.Rate
	}
	if c.Alerts.Burst > 0 {
		pc.AlertBurst = c.Alerts.Burst
	}
	pc.AlertRules = append(append([]alert.Rule(nil), pc.AlertRules...), c.Alerts.Rules...)
	return pc
}

// ResolveTimeframes merges the strategy's timeframe settings over fusion.
func (s StrategyConfig) ResolveTimeframes(fusion timeframe.Config) timeframe.Config {
	tf := fusion
	if s.Timeframes.Primary != "" {
		tf.Primary = s.Timeframes.Primary
	}
	if len(s.Timeframes.Secondary) > 0 {
		tf.Secondary = s.Timeframes.Secondary
	}
	if s.Timeframes.MaxSkew > 0 {
		tf.MaxSkew = s.Timeframes.MaxSkew
	}
	if s.Timeframes.Window > 0 {
		tf.Window = s.Timeframes.Window
	}
	if s.Timeframes.DedupBucket > 0 {
		tf.DedupBucket = s.Timeframes.DedupBucket
	}
	if s.Timeframes.ContributionThreshold > 0 {
		tf.ContributionThreshold = s.Timeframes.ContributionThreshold
	}
	if s.Timeframes.AgreementBoost > 0 {
		tf.AgreementBoost = s.Timeframes.AgreementBoost
	}
	return tf.WithDefaults()
}

// GraphPath resolves a strategy graph path against the config file's
// directory.
func (c *Config) GraphPath(s StrategyConfig) string {
	if filepath.IsAbs(s.Graph) || c.dir == "" {
		return s.Graph
	}
	return filepath.Join(c.dir, s.Graph)
}

// Definitions loads every strategy graph and builds validated definitions
func (c *Config) Definitions() ([]strategy.Definition, error) {
	defs := make([]strategy.Definition, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		g, err := graph.LoadFile(c.GraphPath(s))
		if err != nil {
			return nil, fmt.Errorf("strategy %s: %w", s.ID, err)
		}
		def := strategy.Definition{
			ID:          s.ID,
			Name:        s.Name,
			Symbol:      s.Symbol,
			Graph:       g,
			Timeframes:  s.ResolveTimeframes(c.Fusion),
			Allocation:  s.Allocation,
			Constraints: s.Constraints,
			Enabled:     s.Enabled,
		}
		if def.Name == "" {
			def.Name = g.Name
		}
		if err := def.Validate(); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.PortfolioConfig().Validate(); err != nil {
		return err
	}
	if err := c.Fusion.Validate(); err != nil {
		return err
	}

	// Strategy validation
	seen := make(map[string]bool, len(c.Strategies))
	var total float64
	for i, s := range c.Strategies {
		if s.ID == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("strategies[%d]: id is required", i))
		}
		if seen[s.ID] {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("strategy %s defined twice", s.ID))
		}
		seen[s.ID] = true
		if s.Graph == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("strategy %s: graph file is required", s.ID))
		}
		if s.Allocation < 0 || s.Allocation > 100 {
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("strategy %s: allocation must be between 0 and 100, got %f", s.ID, s.Allocation))
		}
		if err := s.ResolveTimeframes(c.Fusion).Validate(); err != nil {
			return fmt.Errorf("strategy %s: %w", s.ID, err)
		}
		total += s.Allocation
	}
	if total > 100 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("strategy allocations sum to %f, above 100", total))
	}
	if n := len(c.Strategies); n > c.Portfolio.MaxStrategies {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("%d strategies configured, max_strategies is %d", n, c.Portfolio.MaxStrategies))
	}

	// Backtest validation
	if c.Backtest.Lookback < 0 || c.Backtest.Warmup < 0 {
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("backtest lookback and warmup cannot be negative"))
	}

	// Archive validation
	switch c.Storage.Archive.Type {
	case "":
	case "localfs":
		if c.Storage.Archive.Path == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage.archive.path required for localfs"))
		}
	case "s3":
		if c.Storage.Archive.S3.Bucket == "" {
			return core.WrapError(core.ErrConfigMissing,
				fmt.Errorf("storage.archive.s3.bucket required for s3"))
		}
	default:
		return core.WrapError(core.ErrConfigInvalid,
			fmt.Errorf("unknown archive type %q", c.Storage.Archive.Type))
	}

	// Notifier validation - enabled notifiers need their endpoint
	for name, n := range c.Notifiers {
		if !n.Enabled {
			continue
		}
		switch n.MinSeverity {
		case "", alert.SeverityInfo, alert.SeverityWarning, alert.SeverityCritical:
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("notifier %s: unknown min_severity %q", name, n.MinSeverity))
		}
		switch name {
		case "telegram":
			if n.BotToken == "" || n.ChatID == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("telegram bot_token and chat_id required"))
			}
		case "webhook":
			if n.URL == "" {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("webhook url required"))
			}
		case "email":
			if n.Host == "" || n.From == "" || len(n.To) == 0 {
				return core.WrapError(core.ErrConfigMissing,
					fmt.Errorf("email host, from and to required"))
			}
		default:
			return core.WrapError(core.ErrConfigInvalid,
				fmt.Errorf("unknown notifier %q", name))
		}
	}

	return nil
}
