package main

import (
	"balance-keeper/internal/config"
	"balance-keeper/internal/logger"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "balance-keeper",
	Short: "Keeps Ethereum account balances in line on every new block",
	Long: `balance-keeper subscribes to new block headers and reacts to the
balances of a set of accounts: it either sweeps funds to a collection
address or keeps each account between a lower and an upper bound using a
faucet account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logger.Init(cfg.LogLevel)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is $CONFIG_FILE, then ./config.yml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn or error (default is $LOG_LEVEL)")
}

func main() {
	defer func() {
		if r := recover(); r != nil {
			logger.GetLogger().Error().Interface("panic", r).Msg("Application panicked")
			os.Exit(1)
		}
	}()

	if err := rootCmd.Execute(); err != nil {
		logger.GetLogger().Error().Err(err).Msg("Exiting")
		os.Exit(1)
	}
}
