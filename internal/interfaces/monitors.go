package interfaces

import (
	"balance-keeper/internal/models"
	"context"
)

// BlockObserver is notified once per new block. The notification runs
// concurrently with the block's balance diff, so observers must not rely on
// balance-change notifications for the same block having happened yet.
type BlockObserver interface {
	OnNewBlock(ctx context.Context, header models.BlockHeader) error
}

// BalanceChangeObserver is notified when a watched address's balance differs
// between two consecutive blocks.
type BalanceChangeObserver interface {
	OnBalanceChange(ctx context.Context, event models.BalanceChangeEvent) error
}

type BlockObserverFunc func(ctx context.Context, header models.BlockHeader) error

func (f BlockObserverFunc) OnNewBlock(ctx context.Context, header models.BlockHeader) error {
	return f(ctx, header)
}

type BalanceChangeObserverFunc func(ctx context.Context, event models.BalanceChangeEvent) error

func (f BalanceChangeObserverFunc) OnBalanceChange(ctx context.Context, event models.BalanceChangeEvent) error {
	return f(ctx, event)
}

// BalanceMonitor defines the interface for block driven balance monitoring
type BalanceMonitor interface {
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error

	// Errors delivers failures raised after Start returned.
	Errors() <-chan error

	OnNewBlock(o BlockObserver)
	OnBalanceChange(o BalanceChangeObserver)
	AddAddress(addr string) error
	WatchedAddresses() []string
}
