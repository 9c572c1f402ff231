package evm

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"balance-keeper/internal/monitors"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"
)

var _ interfaces.BalanceMonitor = (*BalanceMonitor)(nil)

type balanceClient interface {
	interfaces.HeadSubscriber
	interfaces.BalanceReader
}

// BalanceMonitor follows new block headers and reports, for every watched
// address, balance differences between each block and its parent.
type BalanceMonitor struct {
	*monitors.BaseMonitor
	client balanceClient
	opts   Options

	lifecycle sync.Mutex
	state     atomic.Int32
	gen       atomic.Uint64
	sub       ethereum.Subscription
	quit      chan struct{}

	errs chan error
}

func NewBalanceMonitor(baseMonitor *monitors.BaseMonitor, client balanceClient, opts Options) *BalanceMonitor {
	return &BalanceMonitor{
		BaseMonitor: baseMonitor,
		client:      client,
		opts:        opts.withDefaults(),
		errs:        make(chan error, 1),
	}
}

func (e *BalanceMonitor) State() State {
	return State(e.state.Load())
}

// Errors delivers subscription and block processing failures that happen
// after Start returned. At most one error is buffered.
func (e *BalanceMonitor) Errors() <-chan error {
	return e.errs
}

// Start subscribes to new block headers. Calling it while subscribed drops
// the current subscription first.
func (e *BalanceMonitor) Start(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.State() == StateSubscribed {
		e.state.Store(int32(StateRestarting))
		e.Logger.Info().Msg("Balance monitor already subscribed, restarting")
		if err := e.shutdownLocked(ctx); err != nil {
			return fmt.Errorf("%w: %w", models.ErrStartup, err)
		}
	}

	if c, ok := e.client.(interfaces.Connector); ok {
		if err := c.Connect(ctx); err != nil {
			e.state.Store(int32(StateIdle))
			return fmt.Errorf("%w: %w", models.ErrStartup, err)
		}
	}

	headers := make(chan *types.Header, e.opts.HeaderBuffer)
	sub, err := e.client.SubscribeNewHead(ctx, headers)
	if err != nil {
		e.state.Store(int32(StateIdle))
		return fmt.Errorf("%w: %w", models.ErrStartup, err)
	}

	gen := e.gen.Add(1)
	e.drainErrors()

	quit := make(chan struct{})
	e.sub = sub
	e.quit = quit
	e.state.Store(int32(StateSubscribed))

	e.Logger.Info().
		Int("addressCount", len(e.WatchList())).
		Str("dispatch", string(e.opts.Dispatch)).
		Uint64("generation", gen).
		Msg("Balance monitor subscribed to new blocks")

	// Block handlers are not cancelled by the caller or by Shutdown.
	go e.run(context.WithoutCancel(ctx), gen, sub, headers, quit)

	return nil
}

// Shutdown drops the subscription. It is a no-op when idle.
func (e *BalanceMonitor) Shutdown(ctx context.Context) error {
	e.lifecycle.Lock()
	defer e.lifecycle.Unlock()

	if e.State() == StateIdle {
		return nil
	}
	if err := e.shutdownLocked(ctx); err != nil {
		e.Logger.Error().Err(err).Msg("Failed to stop balance monitor")
		return err
	}
	e.Logger.Info().Msg("Balance monitor stopped")
	return nil
}

func (e *BalanceMonitor) shutdownLocked(ctx context.Context) error {
	sub, quit := e.sub, e.quit
	e.sub, e.quit = nil, nil
	e.gen.Add(1)
	e.state.Store(int32(StateIdle))

	if quit != nil {
		close(quit)
	}
	if sub == nil {
		return nil
	}
	return unsubscribe(ctx, sub)
}

func unsubscribe(ctx context.Context, sub ethereum.Subscription) error {
	done := make(chan struct{})
	go func() {
		sub.Unsubscribe()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", models.ErrUnsubscribeFailed, ctx.Err())
	}
}

func (e *BalanceMonitor) run(ctx context.Context, gen uint64, sub ethereum.Subscription, headers <-chan *types.Header, quit <-chan struct{}) {
	defer e.Recover()

	for {
		select {
		case <-quit:
			return
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return
			}
			e.Logger.Error().Err(err).Uint64("generation", gen).Msg("Block subscription failed")
			e.raise(gen, fmt.Errorf("%w: %w", models.ErrSubscription, err))
			return
		case h := <-headers:
			if h == nil || h.Number == nil {
				continue
			}
			select {
			case <-quit:
				return
			default:
			}

			if e.opts.Dispatch == DispatchConcurrent {
				go func() {
					defer e.Recover()
					e.handleHeader(ctx, gen, h)
				}()
				continue
			}
			e.handleHeader(ctx, gen, h)
		}
	}
}

func (e *BalanceMonitor) handleHeader(ctx context.Context, gen uint64, h *types.Header) {
	header := models.NewBlockHeader(h)

	e.Logger.Debug().
		Uint64("number", header.Number).
		Str("hash", header.Hash.Hex()).
		Msg("New block")

	var (
		wg        sync.WaitGroup
		notifyErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		notifyErr = e.NotifyNewBlock(ctx, header)
	}()

	changes, checkErr := e.checkBlock(ctx, header)
	wg.Wait()

	errs := []error{notifyErr, checkErr}
	for _, change := range changes {
		errs = append(errs, e.NotifyBalanceChange(ctx, change))
	}

	if err := errors.Join(errs...); err != nil {
		e.Logger.Error().
			Err(err).
			Uint64("blockNumber", header.Number).
			Msg("Error processing block")
		e.raise(gen, fmt.Errorf("%w: block %d: %w", models.ErrBlockProcessing, header.Number, err))
	}
}

// checkBlock diffs every watched address between the parent block and this
// one. A failing address does not stop the others; changes come back in
// watch list order.
func (e *BalanceMonitor) checkBlock(ctx context.Context, header models.BlockHeader) ([]models.BalanceChangeEvent, error) {
	addrs := e.WatchList()
	if len(addrs) == 0 || header.Number == 0 {
		return nil, nil
	}

	results := make([]*models.BalanceChangeEvent, len(addrs))
	errs := make([]error, len(addrs))

	g := new(errgroup.Group)
	g.SetLimit(e.opts.QueryConcurrency)
	for i, addr := range addrs {
		g.Go(func() error {
			results[i], errs[i] = e.checkAddress(ctx, addr, header.Number)
			return nil
		})
	}
	_ = g.Wait()

	var changes []models.BalanceChangeEvent
	for _, r := range results {
		if r != nil {
			changes = append(changes, *r)
		}
	}
	return changes, errors.Join(errs...)
}

func (e *BalanceMonitor) checkAddress(ctx context.Context, addr common.Address, number uint64) (*models.BalanceChangeEvent, error) {
	var before, after *big.Int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		before, err = e.client.BalanceAt(gctx, addr, new(big.Int).SetUint64(number-1))
		return err
	})
	g.Go(func() (err error) {
		after, err = e.client.BalanceAt(gctx, addr, new(big.Int).SetUint64(number))
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %s at block %d: %w", models.ErrBalanceQuery, addr.Hex(), number, err)
	}

	if before.Cmp(after) == 0 {
		return nil, nil
	}

	return &models.BalanceChangeEvent{
		Address: addr,
		Before:  models.BalanceSnapshot{Address: addr, BlockNumber: number - 1, Balance: before},
		After:   models.BalanceSnapshot{Address: addr, BlockNumber: number, Balance: after},
	}, nil
}

// raise queues a monitor level error unless it belongs to an older
// subscription or another error is already pending.
func (e *BalanceMonitor) raise(gen uint64, err error) {
	if e.gen.Load() != gen {
		e.Logger.Debug().Err(err).Uint64("generation", gen).Msg("Dropping error from previous subscription")
		return
	}
	select {
	case e.errs <- err:
	default:
		e.Logger.Debug().Err(err).Msg("Monitor error already pending, dropping")
	}
}

func (e *BalanceMonitor) drainErrors() {
	for {
		select {
		case <-e.errs:
		default:
			return
		}
	}
}
