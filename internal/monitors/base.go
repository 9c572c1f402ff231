package monitors

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"balance-keeper/internal/validation"
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// BaseMonitor contains the watch list and observer registry shared by monitors
type BaseMonitor struct {
	Addresses []common.Address
	Mu        sync.RWMutex
	Logger    *zerolog.Logger

	blockObservers   []interfaces.BlockObserver
	balanceObservers []interfaces.BalanceChangeObserver
}

func NewBaseMonitor(logger *zerolog.Logger, addresses ...common.Address) *BaseMonitor {
	b := &BaseMonitor{
		Logger:    logger,
		Addresses: []common.Address{},
	}
	for _, addr := range addresses {
		b.addAddress(addr)
	}
	return b
}

// AddAddress adds a hex address to the watch list. Duplicates are ignored.
func (b *BaseMonitor) AddAddress(address string) error {
	if err := validation.ValidateAddress(address); err != nil {
		return fmt.Errorf("cannot watch %q: %w", address, err)
	}
	b.addAddress(common.HexToAddress(address))
	return nil
}

func (b *BaseMonitor) addAddress(addr common.Address) {
	b.Mu.Lock()
	defer b.Mu.Unlock()

	for _, watched := range b.Addresses {
		if watched == addr {
			return
		}
	}
	b.Addresses = append(b.Addresses, addr)
}

func (b *BaseMonitor) IsWatchedAddress(address common.Address) bool {
	b.Mu.RLock()
	defer b.Mu.RUnlock()

	for _, watchedAddr := range b.Addresses {
		if watchedAddr == address {
			return true
		}
	}

	return false
}

// WatchList returns a copy of the watched addresses in insertion order.
func (b *BaseMonitor) WatchList() []common.Address {
	b.Mu.RLock()
	defer b.Mu.RUnlock()

	out := make([]common.Address, len(b.Addresses))
	copy(out, b.Addresses)
	return out
}

func (b *BaseMonitor) WatchedAddresses() []string {
	list := b.WatchList()
	out := make([]string, len(list))
	for i, addr := range list {
		out[i] = addr.Hex()
	}
	return out
}

func (b *BaseMonitor) OnNewBlock(o interfaces.BlockObserver) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	b.blockObservers = append(b.blockObservers, o)
}

func (b *BaseMonitor) OnBalanceChange(o interfaces.BalanceChangeObserver) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	b.balanceObservers = append(b.balanceObservers, o)
}

// NotifyNewBlock calls every block observer, even when some of them fail,
// and returns their joined errors.
func (b *BaseMonitor) NotifyNewBlock(ctx context.Context, header models.BlockHeader) error {
	b.Mu.RLock()
	observers := append([]interfaces.BlockObserver(nil), b.blockObservers...)
	b.Mu.RUnlock()

	var errs []error
	for _, o := range observers {
		if err := b.safeCall(func() error { return o.OnNewBlock(ctx, header) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NotifyBalanceChange calls every balance change observer and returns their
// joined errors.
func (b *BaseMonitor) NotifyBalanceChange(ctx context.Context, event models.BalanceChangeEvent) error {
	b.Mu.RLock()
	observers := append([]interfaces.BalanceChangeObserver(nil), b.balanceObservers...)
	b.Mu.RUnlock()

	var errs []error
	for _, o := range observers {
		if err := b.safeCall(func() error { return o.OnBalanceChange(ctx, event) }); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// safeCall turns an observer panic into an error.
func (b *BaseMonitor) safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.Logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("Observer panicked")
			err = fmt.Errorf("observer panicked: %v", r)
		}
	}()
	return fn()
}

// Recover logs a panic on a monitor goroutine instead of crashing the process.
func (b *BaseMonitor) Recover() {
	if r := recover(); r != nil {
		b.Logger.Error().
			Interface("panic", r).
			Str("stack", string(debug.Stack())).
			Msg("Monitor goroutine panicked, recovering")
	}
}
