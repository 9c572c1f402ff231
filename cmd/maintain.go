package main

import (
	"balance-keeper/internal/logger"
	"balance-keeper/internal/models"
	"balance-keeper/internal/policy"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var maintainCmd = &cobra.Command{
	Use:   "maintain",
	Short: "Keep maintained accounts inside the balance range",
	Long: `Maintain checks every maintained account on each new block. Accounts
below the lower bound are refilled from the faucet account up to the upper
bound; accounts above the upper bound return the excess, minus gas, to it.`,
	Args: cobra.NoArgs,
	RunE: runMaintain,
}

func init() {
	rootCmd.AddCommand(maintainCmd)
}

func runMaintain(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateMaintain(); err != nil {
		return err
	}
	faucet, err := cfg.FaucetAccount()
	if err != nil {
		return err
	}
	accounts, err := cfg.MaintainAccounts()
	if err != nil {
		return err
	}
	rng, err := cfg.BalanceRange()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp("rinkeby-maintenance", cfg, cfg.MaintainEndpoint(), models.Addresses(accounts))

	maintainer := policy.NewMaintainer(a.client, a.transferer, faucet, accounts, rng, cfg.GasLimit, logger.Component("maintainer"))
	a.monitor.OnNewBlock(maintainer)

	return a.run(ctx)
}
