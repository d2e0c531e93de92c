package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	container "github.com/thehyperflames/dicontainer-go"
	"github.com/thehyperflames/yellowstone"

	"github.com/hxuan190/leverage-keeper/internal/adapters/blockchain"
	"github.com/hxuan190/leverage-keeper/internal/config"
	"github.com/hxuan190/leverage-keeper/internal/http"
	"github.com/hxuan190/leverage-keeper/internal/keeper"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the keeper on its cron schedule with the ops API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	// di container config
	conf := container.NewConf(
		&config.GeneralConfig{},
		&config.RPCConfig{},
		&yellowstone.Config{},
		&config.LUTConfig{},
		&config.KeeperConfig{},
		&config.ErrorRegistryConfig{},
	)

	// di container
	dic, err := container.New(
		conf,

		&yellowstone.Service{},
		&blockchain.BlockhashCacheService{},

		&keeper.Service{},

		&http.HTTPService{},
	)
	if err != nil {
		log.Error().Err(err).Msg("failed to create di container")
		return err
	}

	// waits for SIGINT/SIGTERM
	if err := dic.Run(); err != nil {
		log.Error().Err(err).Msg("failed to run di container")
		return err
	}

	log.Info().Msg("Shutting down services...")
	if err := dic.Stop(); err != nil {
		log.Error().Err(err).Msg("error during shutdown")
		return err
	}
	log.Info().Msg("Shutdown complete")
	return nil
}
