package keeper

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/robfig/cron/v3"
	container "github.com/thehyperflames/dicontainer-go"

	"github.com/hxuan190/leverage-keeper/internal/adapters/blockchain"
	"github.com/hxuan190/leverage-keeper/internal/adapters/persistence"
	"github.com/hxuan190/leverage-keeper/internal/adapters/swapapi"
	"github.com/hxuan190/leverage-keeper/internal/common"
	"github.com/hxuan190/leverage-keeper/internal/config"
	"github.com/hxuan190/leverage-keeper/internal/planner"
	"github.com/hxuan190/leverage-keeper/internal/priority"
	"github.com/hxuan190/leverage-keeper/internal/txn"
	"github.com/hxuan190/leverage-keeper/internal/venue/lending"
)

const (
	KEEPER_SERVICE = "keeper-svc"

	// lendingAlias names the venue program in the program error registry.
	lendingAlias = "lending"

	swapAPIRequestsPerSecond = 1
)

// Service runs the keeper on the configured cron schedule.
type Service struct {
	container.BaseDIInstance
	logger *common.ServiceLogger

	cfg     *config.KeeperConfig
	keeper  *Keeper
	storage *persistence.Storage
	cron    *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc
}

func (svc *Service) ID() string {
	return KEEPER_SERVICE
}

func (svc *Service) Configure(c container.IContainer) error {
	svc.logger = common.NewServiceLogger(svc)
	svc.cfg = c.GetConfig(config.KEEPER_CONFIG_KEY).(*config.KeeperConfig)
	rpcConfig := c.GetConfig(config.RPC_CONFIG_KEY).(*config.RPCConfig)
	lutConfig := c.GetConfig(config.LUT_CONFIG_KEY).(*config.LUTConfig)
	registryConfig := c.GetConfig(config.ERROR_REGISTRY_CONFIG_KEY).(*config.ErrorRegistryConfig)
	blockhash := c.Instance(blockchain.BLOCKHASH_CACHE_SERVICE).(*blockchain.BlockhashCacheService)

	storage, err := persistence.NewStorage(svc.cfg.DBPath)
	if err != nil {
		return err
	}
	svc.storage = storage

	svc.keeper, err = Build(Deps{
		RPC:       rpcConfig,
		LUT:       lutConfig,
		Keeper:    svc.cfg,
		Registry:  registryConfig,
		Blockhash: blockhash,
		Store:     storage,
	})
	if err != nil {
		_ = storage.Close()
		return err
	}
	return nil
}

func (svc *Service) Start() error {
	svc.ctx, svc.cancel = context.WithCancel(context.Background())
	svc.cron = cron.New()
	if _, err := svc.cron.AddFunc(svc.cfg.CronSpec, svc.tick); err != nil {
		return fmt.Errorf("register keeper schedule %q: %w", svc.cfg.CronSpec, err)
	}
	svc.cron.Start()

	svc.logger.Info().Str("schedule", svc.cfg.CronSpec).Msg("keeper scheduled")
	return nil
}

func (svc *Service) Stop() error {
	if svc.cancel != nil {
		svc.cancel()
	}
	if svc.cron != nil {
		<-svc.cron.Stop().Done()
	}
	svc.logger.Info().Msg("keeper stopped")
	return svc.storage.Close()
}

func (svc *Service) Keeper() *Keeper {
	return svc.keeper
}

func (svc *Service) tick() {
	if _, err := svc.keeper.RunOnce(svc.ctx, RunRequest{Trigger: TriggerCron}); err != nil {
		svc.logger.Warn().Err(err).Msg("scheduled run failed")
	}
}

// Deps are what Build needs from configuration.
type Deps struct {
	RPC      *config.RPCConfig
	LUT      *config.LUTConfig
	Keeper   *config.KeeperConfig
	Registry *config.ErrorRegistryConfig

	// Blockhash defaults to an RPC-only cache.
	Blockhash blockchain.BlockhashSource
	Store     Store
}

// Build wires the production keeper: lending venue, swap API, RPC adapter and
// transaction manager.
func Build(d Deps) (*Keeper, error) {
	signer, err := blockchain.LoadSigner(d.RPC.KeeperKey)
	if err != nil {
		return nil, err
	}
	venueCfg, err := lendingConfig(d.Keeper, d.LUT, signer.PublicKey())
	if err != nil {
		return nil, err
	}

	registry, err := d.Registry.Registry(map[string]solana.PublicKey{lendingAlias: venueCfg.ProgramID})
	if err != nil {
		return nil, err
	}

	rpcClient := d.RPC.NewClient()
	blockhash := d.Blockhash
	if blockhash == nil {
		blockhash = blockchain.NewBlockhashCache(rpcClient)
	}

	adapterOpts := blockchain.DefaultAdapterOptions()
	adapterOpts.RateLimit = float64(d.RPC.RateLimit)
	adapterOpts.RateBurst = d.RPC.RateBurst
	adapterOpts.PollInterval = d.RPC.PollInterval
	adapter := blockchain.NewRPCAdapter(rpcClient, blockhash, registry, adapterOpts)

	venueClient, err := lending.NewClient(venueCfg, adapter)
	if err != nil {
		return nil, err
	}

	budget := priority.NewBudget(
		priority.NewFeeCalculator(priority.RPCFeeSource(rpcClient)),
		priority.ParseUrgency(d.Keeper.Urgency),
		d.Keeper.MaxPriorityFee,
	)
	manager := txn.NewTransactionsManager(txn.NewLookupTableCache(adapter), adapter, signer, budget)

	strategy := d.Keeper.Strategy
	return New(
		venueClient,
		swapapi.NewClient(d.Keeper.SwapAPIURL, swapAPIRequestsPerSecond),
		manager,
		d.Store,
		strategy.Settings,
		strategy.DCA,
		Options{
			Swap:     planner.SwapConfig{BaseSlippageBps: d.Keeper.BaseSlippageBps, MaxSlippageBps: d.Keeper.MaxSlippageBps},
			Fees:     strategy.Fees,
			Referred: strategy.Referred,
			Tx: txn.Options{
				Atomic:     d.Keeper.Atomic,
				MaxRetries: d.Keeper.MaxRetries,
				RetryDelay: d.Keeper.RetryDelay,
				Deadline:   d.Keeper.Deadline,
			},
		},
	)
}

func lendingConfig(k *config.KeeperConfig, lut *config.LUTConfig, owner solana.PublicKey) (lending.Config, error) {
	tables, err := lut.PublicKeys()
	if err != nil {
		return lending.Config{}, err
	}
	var parseErr error
	parse := func(field, value string) solana.PublicKey {
		if value == "" || parseErr != nil {
			return solana.PublicKey{}
		}
		pk, err := solana.PublicKeyFromBase58(value)
		if err != nil {
			parseErr = fmt.Errorf("%s: %w", field, err)
		}
		return pk
	}
	reserve := func(prefix string, r config.ReserveConfig) lending.Reserve {
		return lending.Reserve{
			Address:        parse(prefix+" reserve", r.Address),
			Mint:           parse(prefix+" mint", r.Mint),
			LiquidityVault: parse(prefix+" vault", r.Vault),
			Oracle:         parse(prefix+" oracle", r.Oracle),
			TokenProgram:   parse(prefix+" token program", r.TokenProgram),
		}
	}

	cfg := lending.Config{
		ProgramID:     parse("program", k.ProgramID),
		LendingMarket: parse("market", k.LendingMarket),
		Owner:         owner,
		Obligation:    parse("obligation", k.Obligation),
		Supply:        reserve("supply", k.Supply),
		Debt:          reserve("debt", k.Debt),
		LookupTables:  tables,
		MaxStateAge:   k.StateMaxAge,
	}
	if parseErr != nil {
		return lending.Config{}, fmt.Errorf("%w: %w", lending.ErrInvalidConfig, parseErr)
	}
	return cfg, nil
}
