package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hxuan190/leverage-keeper/internal/adapters/persistence"
	"github.com/hxuan190/leverage-keeper/internal/config"
	"github.com/hxuan190/leverage-keeper/internal/fixedpoint"
	"github.com/hxuan190/leverage-keeper/internal/keeper"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan one rebalance against live state without submitting",
	Long: `Fetch the position, plan the rebalance and quote the swap. Nothing is
signed or sent.

Examples:
  keeper plan
  keeper plan --target-bps 6000 --deposit 5000000`,
	RunE: runPlan,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Plan and submit one rebalance now",
	RunE:  runOnce,
}

var (
	targetBps int
	deposit   uint64
	withdraw  uint64
)

func init() {
	for _, cmd := range []*cobra.Command{planCmd, runCmd} {
		cmd.Flags().IntVar(&targetBps, "target-bps", -1, "Explicit target rate in bps; 0 unwinds the position (default: settings band)")
		cmd.Flags().Uint64Var(&deposit, "deposit", 0, "Supply to deposit before rebalancing, in base units")
		cmd.Flags().Uint64Var(&withdraw, "withdraw", 0, "Supply to withdraw before rebalancing, in base units")
		rootCmd.AddCommand(cmd)
	}
}

func request() (keeper.RunRequest, error) {
	req := keeper.RunRequest{Trigger: keeper.TriggerCLI, DepositBaseUnit: deposit, WithdrawBaseUnit: withdraw}
	if targetBps >= 0 {
		if targetBps > fixedpoint.MaxBps {
			return req, fmt.Errorf("target-bps %d above %d", targetBps, fixedpoint.MaxBps)
		}
		bps := uint16(targetBps)
		req.TargetBps = &bps
	}
	return req, nil
}

func loadDeps(store keeper.Store) (keeper.Deps, error) {
	d := keeper.Deps{
		RPC:      &config.RPCConfig{},
		LUT:      &config.LUTConfig{},
		Keeper:   &config.KeeperConfig{},
		Registry: &config.ErrorRegistryConfig{},
		Store:    store,
	}
	if err := d.RPC.Load(); err != nil {
		return d, err
	}
	if err := d.RPC.Validate(); err != nil {
		return d, err
	}
	for _, c := range []interface{ Load() error }{d.LUT, d.Keeper, d.Registry} {
		if err := c.Load(); err != nil {
			return d, err
		}
	}
	return d, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(v interface{}) error {
	out, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(os.Stdout, string(out))
	return err
}

func runPlan(cmd *cobra.Command, args []string) error {
	req, err := request()
	if err != nil {
		return err
	}
	deps, err := loadDeps(nil)
	if err != nil {
		return err
	}
	k, err := keeper.Build(deps)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	plan, err := k.PlanOnly(ctx, req)
	if err != nil {
		return err
	}
	return printJSON(plan)
}

func runOnce(cmd *cobra.Command, args []string) error {
	req, err := request()
	if err != nil {
		return err
	}
	deps, err := loadDeps(nil)
	if err != nil {
		return err
	}
	storage, err := persistence.NewStorage(deps.Keeper.DBPath)
	if err != nil {
		return err
	}
	defer storage.Close()
	deps.Store = storage

	k, err := keeper.Build(deps)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	record, runErr := k.RunOnce(ctx, req)
	if err := printJSON(record); err != nil {
		log.Error().Err(err).Msg("failed to print run record")
	}
	return runErr
}
