package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/newthinker/signalflow/internal/core"
	"github.com/newthinker/signalflow/internal/portfolio"
	"github.com/newthinker/signalflow/internal/storage/archive"
)

const smaGraph = `
id: sma-breakout
name: SMA breakout
nodes:
  - id: src
    type: dataSource
    parameters:
      symbol: AAPL
  - id: sma
    type: technicalIndicator
    parameters:
      indicator: SMA
      period: 5
  - id: above
    type: condition
    parameters:
      condition: greater_than
      value: 100
  - id: buy
    type: action
    parameters:
      action: buy
      quantity: 10
edges:
  - {id: e1, source: src, target: sma}
  - {id: e2, source: sma, target: above}
  - {id: e3, source: above, target: buy}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FromFile(t *testing.T) {
	content := `
log:
  development: true

portfolio:
  initial_capital: 250000
  drift_threshold: 7.5
  rebalance_schedule: "@every 4h"
  objective: diversification
  strategy_timeout: 2s
  risk:
    base_position_size: 1.5
    sector_map:
      AAPL: tech

fusion:
  primary: 1h
  window: 2h

strategies:
  - id: breakout
    graph: graphs/sma.yaml
    allocation: 40
    enabled: true
    timeframes:
      secondary: [4h]
    constraints:
      max_daily_trades: 3

alerts:
  cooldown: 30m
  rules:
    - name: heat
      expr: "portfolio_heat > 0.05"
      severity: warning
      for: 10m

storage:
  archive:
    type: localfs
    path: "/tmp/signalflow/archive"

server:
  addr: ":8081"
  api_key: local-key
`

	tmpDir := t.TempDir()
	cfgPath := writeFile(t, tmpDir, "config.yaml", content)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if !cfg.Log.Development {
		t.Error("expected development logging")
	}
	if cfg.Portfolio.InitialCapital != 250000 {
		t.Errorf("expected initial capital 250000, got %f", cfg.Portfolio.InitialCapital)
	}
	if cfg.Portfolio.Objective != portfolio.ObjectiveDiversification {
		t.Errorf("expected diversification objective, got %s", cfg.Portfolio.Objective)
	}
	if cfg.Portfolio.StrategyTimeout != 2*time.Second {
		t.Errorf("expected 2s timeout, got %v", cfg.Portfolio.StrategyTimeout)
	}
	if cfg.Portfolio.Risk.BasePositionSize != 1.5 || cfg.Portfolio.Risk.SectorMap["AAPL"] != "tech" {
		t.Errorf("unexpected risk config %+v", cfg.Portfolio.Risk)
	}
	// unset keys keep their defaults
	if cfg.Portfolio.MaxStrategies != portfolio.DefaultConfig().MaxStrategies {
		t.Errorf("expected default max_strategies, got %d", cfg.Portfolio.MaxStrategies)
	}
	if cfg.Backtest.Lookback != 500 {
		t.Errorf("expected default lookback 500, got %d", cfg.Backtest.Lookback)
	}

	if len(cfg.Strategies) != 1 || cfg.Strategies[0].Constraints.MaxDailyTrades != 3 {
		t.Fatalf("unexpected strategies %+v", cfg.Strategies)
	}
	tf := cfg.Strategies[0].ResolveTimeframes(cfg.Fusion)
	if tf.Primary != "1h" || len(tf.Secondary) != 1 || tf.Secondary[0] != "4h" || tf.Window != 2*time.Hour {
		t.Errorf("unexpected timeframes %+v", tf)
	}
	if got := cfg.GraphPath(cfg.Strategies[0]); got != filepath.Join(tmpDir, "graphs", "sma.yaml") {
		t.Errorf("graph path = %s", got)
	}

	pc := cfg.PortfolioConfig()
	if pc.AlertCooldown != 30*time.Minute {
		t.Errorf("expected alert cooldown 30m, got %v", pc.AlertCooldown)
	}
	if len(pc.AlertRules) != 1 || pc.AlertRules[0].For != 10*time.Minute {
		t.Errorf("unexpected alert rules %+v", pc.AlertRules)
	}

	if cfg.Server.Addr != ":8081" || cfg.Server.APIKey != "local-key" {
		t.Errorf("unexpected server config %+v", cfg.Server)
	}
	if cfg.Storage.Archive.Type != "localfs" {
		t.Errorf("expected localfs, got %s", cfg.Storage.Archive.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected loaded config to validate: %v", err)
	}
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("SIGNALFLOW_TEST_TOKEN", "secret-token")
	cfgPath := writeFile(t, t.TempDir(), "config.yaml", `
notifiers:
  telegram:
    enabled: true
    bot_token: "${SIGNALFLOW_TEST_TOKEN}"
    chat_id: "42"
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if got := cfg.Notifiers["telegram"].BotToken; got != "secret-token" {
		t.Errorf("expected expanded token, got %q", got)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDefinitions(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "graphs"), 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "graphs"), "sma.yaml", smaGraph)
	cfgPath := writeFile(t, dir, "config.yaml", `
strategies:
  - id: breakout
    graph: graphs/sma.yaml
    allocation: 30
    enabled: true
`)

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	defs, err := cfg.Definitions()
	if err != nil {
		t.Fatalf("Definitions() error = %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	def := defs[0]
	if def.Name != "SMA breakout" {
		t.Errorf("expected name from graph, got %q", def.Name)
	}
	if def.TradedSymbol() != "AAPL" {
		t.Errorf("expected AAPL, got %s", def.TradedSymbol())
	}
	if def.Timeframes.Primary != "1d" || def.Allocation != 30 || !def.Enabled {
		t.Errorf("unexpected definition %+v", def)
	}

	cfg.Strategies[0].Graph = "graphs/missing.yaml"
	if _, err := cfg.Definitions(); err == nil {
		t.Error("expected error for missing graph file")
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Portfolio.PerSignalCapitalCap != 0.10 {
		t.Errorf("expected default per-signal cap 0.10, got %f", cfg.Portfolio.PerSignalCapitalCap)
	}
	if cfg.Fusion.Primary != "1d" {
		t.Errorf("expected default primary 1d, got %s", cfg.Fusion.Primary)
	}
	if cfg.Storage.Journal.Capacity != 10000 {
		t.Errorf("expected journal capacity 10000, got %d", cfg.Storage.Journal.Capacity)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	strat := func(id string, allocation float64) StrategyConfig {
		return StrategyConfig{ID: id, Graph: id + ".yaml", Allocation: allocation, Enabled: true}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr *core.Error
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) { c.Strategies = []StrategyConfig{strat("a", 60), strat("b", 40)} },
		},
		{
			name:    "invalid portfolio",
			mutate:  func(c *Config) { c.Portfolio.InitialCapital = 0 },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "missing strategy id",
			mutate:  func(c *Config) { c.Strategies = []StrategyConfig{strat("", 10)} },
			wantErr: core.ErrConfigMissing,
		},
		{
			name:    "duplicate strategy",
			mutate:  func(c *Config) { c.Strategies = []StrategyConfig{strat("a", 10), strat("a", 10)} },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name: "missing graph",
			mutate: func(c *Config) {
				c.Strategies = []StrategyConfig{{ID: "a", Allocation: 10}}
			},
			wantErr: core.ErrConfigMissing,
		},
		{
			name:    "allocations above 100",
			mutate:  func(c *Config) { c.Strategies = []StrategyConfig{strat("a", 70), strat("b", 40)} },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "unknown archive",
			mutate:  func(c *Config) { c.Storage.Archive = archive.Config{Type: "ftp"} },
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *Config) { c.Storage.Archive = archive.Config{Type: "s3"} },
			wantErr: core.ErrConfigMissing,
		},
		{
			name: "enabled webhook without url",
			mutate: func(c *Config) {
				c.Notifiers = map[string]NotifierConfig{"webhook": {Enabled: true}}
			},
			wantErr: core.ErrConfigMissing,
		},
		{
			name: "disabled notifier is not checked",
			mutate: func(c *Config) {
				c.Notifiers = map[string]NotifierConfig{"email": {Enabled: false}}
			},
		},
		{
			name: "unknown notifier severity",
			mutate: func(c *Config) {
				c.Notifiers = map[string]NotifierConfig{"webhook": {Enabled: true, URL: "http://x", MinSeverity: "urgent"}}
			},
			wantErr: core.ErrConfigInvalid,
		},
		{
			name:    "negative warmup",
			mutate:  func(c *Config) { c.Backtest.Warmup = -1 },
			wantErr: core.ErrConfigInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %s", err, tt.wantErr.Code)
			}
		})
	}
}
