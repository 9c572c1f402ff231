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

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Sweep collect accounts to the target address",
	Long: `Collect watches the collect accounts and, on every new block (or on
every balance change with COLLECT_TRIGGER=balanceChange), transfers everything
above the reserve line, minus gas, to the target address.`,
	Args: cobra.NoArgs,
	RunE: runCollect,
}

func init() {
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, _ []string) error {
	if err := cfg.ValidateCollect(); err != nil {
		return err
	}
	accounts, err := cfg.CollectAccounts()
	if err != nil {
		return err
	}
	reserve, err := cfg.CollectReserve()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp("eth-collect", cfg, cfg.CollectEndpoint(), models.Addresses(accounts))

	collector := policy.NewCollector(a.client, a.transferer, cfg.CollectTarget(), accounts, reserve, cfg.GasLimit, logger.Component("collector"))
	switch policy.Trigger(cfg.Collect.Trigger) {
	case policy.TriggerBalanceChange:
		a.monitor.OnBalanceChange(collector)
	default:
		a.monitor.OnNewBlock(collector)
	}

	return a.run(ctx)
}
