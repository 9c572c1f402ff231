package policy

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

var (
	_ interfaces.BlockObserver         = (*Collector)(nil)
	_ interfaces.BalanceChangeObserver = (*Collector)(nil)
)

// Trigger selects which monitor notification drives a Collector.
type Trigger string

const (
	TriggerNewBlock      Trigger = "newBlock"
	TriggerBalanceChange Trigger = "balanceChange"
)

// Collector sweeps everything above the reserve line, minus gas, from its
// accounts to a single target address.
type Collector struct {
	client     priceReader
	transferer *Transferer
	target     common.Address
	accounts   []models.Account
	byAddress  map[common.Address]models.Account
	reserve    *big.Int
	gasLimit   uint64
	logger     *zerolog.Logger
}

func NewCollector(client priceReader, transferer *Transferer, target common.Address, accounts []models.Account, reserve *big.Int, gasLimit uint64, logger *zerolog.Logger) *Collector {
	if reserve == nil {
		reserve = new(big.Int)
	}
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	byAddress := make(map[common.Address]models.Account, len(accounts))
	for _, acc := range accounts {
		byAddress[acc.Address()] = acc
	}
	return &Collector{
		client:     client,
		transferer: transferer,
		target:     target,
		accounts:   accounts,
		byAddress:  byAddress,
		reserve:    new(big.Int).Set(reserve),
		gasLimit:   gasLimit,
		logger:     logger,
	}
}

// OnNewBlock sweeps every collector account.
func (c *Collector) OnNewBlock(ctx context.Context, header models.BlockHeader) error {
	var errs []error
	for _, acc := range c.accounts {
		if err := c.collect(ctx, acc); err != nil {
			c.logger.Error().
				Err(err).
				Str("account", acc.String()).
				Uint64("blockNumber", header.Number).
				Msg("Failed to collect from account")
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", models.ErrPolicy, err)
	}
	return nil
}

// OnBalanceChange sweeps the account whose balance changed, if it is one of ours.
func (c *Collector) OnBalanceChange(ctx context.Context, event models.BalanceChangeEvent) error {
	acc, ok := c.byAddress[event.Address]
	if !ok {
		return nil
	}
	if err := c.collect(ctx, acc); err != nil {
		c.logger.Error().
			Err(err).
			Str("account", acc.String()).
			Uint64("blockNumber", event.After.BlockNumber).
			Msg("Failed to collect from account")
		return fmt.Errorf("%w: %w", models.ErrPolicy, err)
	}
	return nil
}

func (c *Collector) collect(ctx context.Context, acc models.Account) error {
	addr := acc.Address()
	if c.transferer.Busy(addr) {
		c.logger.Debug().Str("account", addr.Hex()).Msg("Transfer in flight, skipping account")
		return nil
	}

	balance, err := c.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrBalanceQuery, addr.Hex(), err)
	}
	gasPrice, err := c.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrGasPrice, err)
	}

	amount, ok := SweepAmount(balance, GasCost(c.gasLimit, gasPrice), c.reserve)
	if !ok {
		return nil
	}

	intent, err := models.NewTransferIntent(models.TransferCollect, acc, c.target, amount, c.gasLimit, gasPrice)
	if err != nil {
		return nil
	}
	c.transferer.Submit(ctx, intent, addr)
	return nil
}
