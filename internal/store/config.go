package store

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BudgetStrategy is one strategy profile row in the budget config.
type BudgetStrategy struct {
	StrategyID       string  `yaml:"strategy_id"`
	Enabled          bool    `yaml:"enabled"`
	Weight           float64 `yaml:"weight"`
	MaxNotionalRatio float64 `yaml:"max_notional_ratio"`
}

type Config struct {
	Mode        string `yaml:"mode"`
	PollSeconds int    `yaml:"poll_seconds"`
	StatePath   string `yaml:"state_path"`
	JournalDir  string `yaml:"journal_dir"`
	Execution   struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"execution"`
	Risk struct {
		DailyLossLimit    float64 `yaml:"daily_loss_limit"`
		MaxPositions      int     `yaml:"max_positions"`
		PerTradeLossLimit float64 `yaml:"per_trade_loss_limit"`
		CooldownSec       int64   `yaml:"cooldown_sec"`
		AutoApprove       bool    `yaml:"auto_approve"`
	} `yaml:"risk"`
	Breaker struct {
		FailThreshold int   `yaml:"fail_threshold"`
		CooldownSec   int64 `yaml:"cooldown_sec"`
	} `yaml:"breaker"`
	Budget struct {
		TotalNotional float64          `yaml:"total_notional"`
		ReserveRatio  float64          `yaml:"reserve_ratio"`
		Strategies    []BudgetStrategy `yaml:"strategies"`
	} `yaml:"budget"`
	Caps struct {
		DefaultSymbolNotional float64            `yaml:"default_symbol_notional"`
		PerSymbol             map[string]float64 `yaml:"per_symbol"`
	} `yaml:"caps"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"metrics"`
}

func (c *Config) Validate() error {
	if c.Mode != "DRY_RUN" && c.Mode != "LIVE" {
		return fmt.Errorf("invalid mode '%s': must be 'DRY_RUN' or 'LIVE'", c.Mode)
	}
	if c.Budget.ReserveRatio < 0 || c.Budget.ReserveRatio >= 1 {
		return fmt.Errorf("budget.reserve_ratio must be in [0,1), got %.4f", c.Budget.ReserveRatio)
	}
	for _, s := range c.Budget.Strategies {
		if s.StrategyID == "" {
			return fmt.Errorf("budget.strategies entry missing strategy_id")
		}
		if s.Weight < 0 {
			return fmt.Errorf("budget.strategies[%s].weight must be >= 0, got %.4f", s.StrategyID, s.Weight)
		}
		if s.MaxNotionalRatio < 0 || s.MaxNotionalRatio > 1 {
			return fmt.Errorf("budget.strategies[%s].max_notional_ratio must be in [0,1], got %.4f", s.StrategyID, s.MaxNotionalRatio)
		}
	}
	if c.Risk.DailyLossLimit < 0 {
		return fmt.Errorf("risk.daily_loss_limit must be >= 0, got %.4f", c.Risk.DailyLossLimit)
	}
	if c.Caps.DefaultSymbolNotional < 0 {
		return fmt.Errorf("caps.default_symbol_notional must be >= 0, got %.2f", c.Caps.DefaultSymbolNotional)
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.PollSeconds == 0 {
		c.PollSeconds = 15
	}
	if c.StatePath == "" {
		c.StatePath = "intents.db"
	}
	if c.JournalDir == "" {
		c.JournalDir = "logs"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9464"
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &c, nil
}
