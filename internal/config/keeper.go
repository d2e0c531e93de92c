package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/andrew-solarstorm/go-packages/common"
	"gopkg.in/yaml.v3"

	"github.com/hxuan190/leverage-keeper/internal/domain"
	"github.com/hxuan190/leverage-keeper/internal/rebalance"
)

type ReserveConfig struct {
	Address      string
	Mint         string
	Vault        string
	Oracle       string
	TokenProgram string
}

// Strategy is the position's rebalancing policy. It seeds the keeper store on
// first start; later changes go through the store.
type Strategy struct {
	Settings domain.RebalanceSettings `yaml:"settings"`
	DCA      *domain.DCASettings      `yaml:"dca,omitempty"`
	Fees     rebalance.FeeSchedule    `yaml:"fees"`
	Referred bool                     `yaml:"referred"`
}

func (s Strategy) Validate() error {
	if err := s.Settings.Validate(); err != nil {
		return err
	}
	if s.DCA != nil {
		return s.DCA.Automation.Validate()
	}
	return nil
}

type KeeperConfig struct {
	ProgramID     string
	LendingMarket string
	Obligation    string
	Supply        ReserveConfig
	Debt          ReserveConfig
	StateMaxAge   time.Duration

	StrategyFile string
	Strategy     Strategy

	SwapAPIURL      string
	BaseSlippageBps uint16
	MaxSlippageBps  uint16

	MaxRetries int
	RetryDelay time.Duration
	Atomic     bool
	Deadline   time.Duration

	Urgency        string
	MaxPriorityFee uint64

	CronSpec string
	DBPath   string
}

func (c *KeeperConfig) Key() string {
	return KEEPER_CONFIG_KEY
}

func (c *KeeperConfig) Load() error {
	c.ProgramID = os.Getenv("LENDING_PROGRAM_ID")
	c.LendingMarket = os.Getenv("LENDING_MARKET")
	c.Obligation = os.Getenv("LENDING_OBLIGATION")
	c.Supply = loadReserve("SUPPLY")
	c.Debt = loadReserve("DEBT")
	c.StateMaxAge = time.Duration(common.GetEnvOrDefaultInt("STATE_MAX_AGE_SECONDS", 120)) * time.Second

	c.SwapAPIURL = common.GetEnvOrDefault("SWAP_API_URL", "https://lite-api.jup.ag/swap/v1")
	c.BaseSlippageBps = uint16(common.GetEnvOrDefaultInt("SWAP_BASE_SLIPPAGE_BPS", 30))
	c.MaxSlippageBps = uint16(common.GetEnvOrDefaultInt("SWAP_MAX_SLIPPAGE_BPS", 300))

	c.MaxRetries = common.GetEnvOrDefaultInt("KEEPER_MAX_RETRIES", 4)
	c.RetryDelay = time.Duration(common.GetEnvOrDefaultInt("KEEPER_RETRY_DELAY_MS", 150)) * time.Millisecond
	c.Atomic = common.GetEnvOrDefault("KEEPER_ATOMIC", "true") == "true"
	c.Deadline = time.Duration(common.GetEnvOrDefaultInt("KEEPER_DEADLINE_SECONDS", 0)) * time.Second

	c.Urgency = common.GetEnvOrDefault("PRIORITY_URGENCY", "normal")
	c.MaxPriorityFee = uint64(common.GetEnvOrDefaultInt("PRIORITY_MAX_FEE_MICRO_LAMPORTS", 1_000_000))

	c.CronSpec = common.GetEnvOrDefault("KEEPER_CRON", "@every 1m")
	c.DBPath = common.GetEnvOrDefault("KEEPER_DB_PATH", "./data/keeper.db")

	c.StrategyFile = common.GetEnvOrDefault("KEEPER_STRATEGY_FILE", "./configs/strategy.yaml")
	strategy, err := LoadStrategy(c.StrategyFile)
	if err != nil {
		return err
	}
	c.Strategy = strategy
	return c.Validate()
}

func (c *KeeperConfig) Validate() error {
	if c.ProgramID == "" || c.LendingMarket == "" {
		return errors.New("invalid keeper config: lending program and market are required")
	}
	if c.Supply.Address == "" || c.Supply.Mint == "" || c.Debt.Address == "" || c.Debt.Mint == "" {
		return errors.New("invalid keeper config: both reserves are required")
	}
	if c.MaxRetries < 0 || c.RetryDelay <= 0 || c.StateMaxAge <= 0 {
		return errors.New("invalid keeper config: retry and freshness settings must be positive")
	}
	if c.MaxSlippageBps < c.BaseSlippageBps {
		return errors.New("invalid keeper config: max slippage below base slippage")
	}
	if c.CronSpec == "" || c.DBPath == "" {
		return errors.New("invalid keeper config: cron and db path are required")
	}
	return c.Strategy.Validate()
}

func loadReserve(prefix string) ReserveConfig {
	return ReserveConfig{
		Address:      os.Getenv(prefix + "_RESERVE"),
		Mint:         os.Getenv(prefix + "_MINT"),
		Vault:        os.Getenv(prefix + "_VAULT"),
		Oracle:       os.Getenv(prefix + "_ORACLE"),
		TokenProgram: os.Getenv(prefix + "_TOKEN_PROGRAM"),
	}
}

// LoadStrategy reads the strategy YAML. A missing file yields the default
// fee schedule and an empty band, which Validate rejects.
func LoadStrategy(path string) (Strategy, error) {
	strategy := Strategy{Fees: rebalance.DefaultFeeSchedule()}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Strategy{}, fmt.Errorf("read strategy: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &strategy); err != nil {
			return Strategy{}, fmt.Errorf("parse strategy: %w", err)
		}
	}
	return strategy, nil
}
