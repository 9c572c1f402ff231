package monitors

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

func TestNewBaseMonitor_DeduplicatesAddresses(t *testing.T) {
	logger := zerolog.New(nil)
	a := common.HexToAddress("0x0000000000000000000000000000000000000001")
	b := common.HexToAddress("0x0000000000000000000000000000000000000002")

	base := NewBaseMonitor(&logger, a, b, a)

	got := base.WatchList()
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("WatchList() = %v, want [%s %s]", got, a.Hex(), b.Hex())
	}
	if !base.IsWatchedAddress(b) {
		t.Error("Expected b to be watched")
	}
	if base.IsWatchedAddress(common.Address{}) {
		t.Error("Expected zero address not to be watched")
	}
}

func TestBaseMonitor_NotifyNewBlockCallsEveryObserver(t *testing.T) {
	logger := zerolog.New(nil)
	base := NewBaseMonitor(&logger)

	var calls []string
	failing := errors.New("first failed")
	base.OnNewBlock(interfaces.BlockObserverFunc(func(context.Context, models.BlockHeader) error {
		calls = append(calls, "first")
		return failing
	}))
	base.OnNewBlock(interfaces.BlockObserverFunc(func(context.Context, models.BlockHeader) error {
		calls = append(calls, "second")
		panic("boom")
	}))
	base.OnNewBlock(interfaces.BlockObserverFunc(func(context.Context, models.BlockHeader) error {
		calls = append(calls, "third")
		return nil
	}))

	err := base.NotifyNewBlock(context.Background(), models.BlockHeader{Number: 1})

	if len(calls) != 3 {
		t.Fatalf("Expected 3 observer calls, got %v", calls)
	}
	if !errors.Is(err, failing) {
		t.Errorf("Expected joined error to contain observer error, got %v", err)
	}
}

func TestBaseMonitor_NotifyBalanceChange(t *testing.T) {
	logger := zerolog.New(nil)
	base := NewBaseMonitor(&logger)

	var got []models.BalanceChangeEvent
	base.OnBalanceChange(interfaces.BalanceChangeObserverFunc(func(_ context.Context, e models.BalanceChangeEvent) error {
		got = append(got, e)
		return nil
	}))

	event := models.BalanceChangeEvent{Address: common.HexToAddress("0x01")}
	if err := base.NotifyBalanceChange(context.Background(), event); err != nil {
		t.Fatalf("NotifyBalanceChange() error = %v", err)
	}
	if len(got) != 1 || got[0].Address != event.Address {
		t.Errorf("Observer received %v, want one event for %s", got, event.Address.Hex())
	}
}
