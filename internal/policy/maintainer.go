package policy

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"
)

var _ interfaces.BlockObserver = (*Maintainer)(nil)

type priceReader interface {
	interfaces.BalanceReader
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Maintainer keeps every maintained account inside the threshold range,
// refilling from the faucet below the floor and returning the excess to it
// above the ceiling.
type Maintainer struct {
	client     priceReader
	transferer *Transferer
	faucet     models.Account
	accounts   []models.Account
	rng        models.ThresholdRange
	gasLimit   uint64
	logger     *zerolog.Logger
}

func NewMaintainer(client priceReader, transferer *Transferer, faucet models.Account, accounts []models.Account, rng models.ThresholdRange, gasLimit uint64, logger *zerolog.Logger) *Maintainer {
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	return &Maintainer{
		client:     client,
		transferer: transferer,
		faucet:     faucet,
		accounts:   accounts,
		rng:        rng,
		gasLimit:   gasLimit,
		logger:     logger,
	}
}

// OnNewBlock evaluates every account. Query failures do not skip the other
// accounts; they are returned together once all accounts were visited.
func (m *Maintainer) OnNewBlock(ctx context.Context, header models.BlockHeader) error {
	var errs []error
	for _, acc := range m.accounts {
		if err := m.maintain(ctx, acc); err != nil {
			m.logger.Error().
				Err(err).
				Str("account", acc.String()).
				Uint64("blockNumber", header.Number).
				Msg("Failed to maintain account")
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", models.ErrPolicy, err)
	}
	return nil
}

func (m *Maintainer) maintain(ctx context.Context, acc models.Account) error {
	addr := acc.Address()
	if m.transferer.Busy(addr) {
		m.logger.Debug().Str("account", addr.Hex()).Msg("Transfer in flight, skipping account")
		return nil
	}

	balance, err := m.client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", models.ErrBalanceQuery, addr.Hex(), err)
	}

	switch Classify(balance, m.rng) {
	case ActionRefill:
		gasPrice, err := m.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrGasPrice, err)
		}
		intent, err := models.NewTransferIntent(models.TransferFaucet, m.faucet, addr, RefillAmount(balance, m.rng), m.gasLimit, gasPrice)
		if err != nil {
			return nil
		}
		m.transferer.Submit(ctx, intent, addr)

	case ActionWithdraw:
		gasPrice, err := m.client.SuggestGasPrice(ctx)
		if err != nil {
			return fmt.Errorf("%w: %w", models.ErrGasPrice, err)
		}
		amount, ok := SweepAmount(balance, GasCost(m.gasLimit, gasPrice), m.rng.Upper)
		if !ok {
			m.logger.Debug().
				Str("account", addr.Hex()).
				Str("balance", balance.String()).
				Str("gasPrice", gasPrice.String()).
				Msg("Excess does not cover gas, skipping withdraw")
			return nil
		}
		intent, err := models.NewTransferIntent(models.TransferWithdraw, acc, m.faucet.Address(), amount, m.gasLimit, gasPrice)
		if err != nil {
			return nil
		}
		m.transferer.Submit(ctx, intent, addr)
	}

	return nil
}
