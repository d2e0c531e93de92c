package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hxuan190/leverage-keeper/internal/common"
)

var (
	envFile  string
	logLevel string
	logJSON  bool
)

var rootCmd = &cobra.Command{
	Use:   "keeper",
	Short: "Keeps a leveraged lending position inside its rebalance band",
	Long: `keeper watches one leveraged position on a lending venue, plans the
debt adjustment that brings it back to its target liquidation-utilization
rate, and submits the swap and venue instructions that execute it.

Examples:
  keeper serve
  keeper plan --target-bps 0
  keeper run --deposit 1000000`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		common.InitLogger(logLevel, logJSON)
		if err := godotenv.Load(envFile); err != nil {
			log.Warn().Err(err).Str("file", envFile).Msg("env file not loaded, using process environment")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Env file to load before reading config")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Write JSON logs instead of console output")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
