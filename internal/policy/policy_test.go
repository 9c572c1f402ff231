package policy

import (
	"balance-keeper/internal/models"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockChain answers balance and gas price queries and records signed intents
type mockChain struct {
	mu         sync.Mutex
	balances   map[common.Address]*big.Int
	balanceErr map[common.Address]error
	gasPrice   *big.Int
	signErr    map[common.Address]error
	signed     []models.TransferIntent
	// hold keeps broadcast update channels open until closed.
	hold chan struct{}
}

func newMockChain(gasPrice int64) *mockChain {
	return &mockChain{
		balances:   make(map[common.Address]*big.Int),
		balanceErr: make(map[common.Address]error),
		signErr:    make(map[common.Address]error),
		gasPrice:   big.NewInt(gasPrice),
	}
}

func (m *mockChain) BalanceAt(_ context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.balanceErr[account]; err != nil {
		return nil, err
	}
	if b, ok := m.balances[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (m *mockChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.gasPrice), nil
}

func (m *mockChain) SignTransfer(_ context.Context, intent models.TransferIntent) (*types.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.signErr[intent.From.Address()]; err != nil {
		return nil, err
	}
	m.signed = append(m.signed, intent)
	to := intent.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(len(m.signed)),
		To:       &to,
		Value:    intent.Amount,
		Gas:      intent.GasLimit,
		GasPrice: intent.GasPrice,
	}), nil
}

func (m *mockChain) Broadcast(_ context.Context, tx *types.Transaction) <-chan models.TxUpdate {
	updates := make(chan models.TxUpdate, 2)
	go func() {
		defer close(updates)
		updates <- models.TxUpdate{Stage: models.TxSubmitted, Hash: tx.Hash()}
		if m.hold != nil {
			<-m.hold
		}
		updates <- models.TxUpdate{Stage: models.TxConfirmed, Hash: tx.Hash(), Receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}
	}()
	return updates
}

func (m *mockChain) setBalance(addr common.Address, wei int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[addr] = big.NewInt(wei)
}

func (m *mockChain) intents() []models.TransferIntent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TransferIntent(nil), m.signed...)
}

// mockEmitter records emitted events
type mockEmitter struct {
	mu     sync.Mutex
	events []models.Event
}

func (e *mockEmitter) EmitEvent(_ context.Context, event models.Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, event)
	return nil
}

func (e *mockEmitter) eventTypes() []models.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]models.EventType, len(e.events))
	for i, ev := range e.events {
		out[i] = ev.Type
	}
	return out
}

func newAccount(t *testing.T) models.Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return models.NewAccount(key)
}

func testLogger() *zerolog.Logger {
	l := zerolog.New(nil)
	return &l
}

func mustRange(t *testing.T, lower, upper int64) models.ThresholdRange {
	t.Helper()
	rng, err := models.NewThresholdRange(big.NewInt(lower), big.NewInt(upper))
	require.NoError(t, err)
	return rng
}

func TestSweepAmount(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		gasCost int64
		reserve int64
		want    int64
		ok      bool
	}{
		{"above reserve", 600, 21, 500, 79, true},
		{"gas exceeds excess", 600, 21000, 500, 600 - 21000 - 500, false},
		{"exactly zero", 521, 21, 500, 0, false},
		{"no reserve", 1000, 21, 0, 979, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SweepAmount(big.NewInt(tt.balance), big.NewInt(tt.gasCost), big.NewInt(tt.reserve))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got.Int64())
		})
	}
}

func TestClassify(t *testing.T) {
	rng := mustRange(t, 100, 500)
	assert.Equal(t, ActionRefill, Classify(big.NewInt(99), rng))
	assert.Equal(t, ActionNone, Classify(big.NewInt(100), rng))
	assert.Equal(t, ActionNone, Classify(big.NewInt(500), rng))
	assert.Equal(t, ActionWithdraw, Classify(big.NewInt(501), rng))
}

func TestMaintainer_RefillsFromFaucet(t *testing.T) {
	chain := newMockChain(1)
	faucet, acc := newAccount(t), newAccount(t)
	chain.setBalance(acc.Address(), 50)

	m := NewMaintainer(chain, NewTransferer(chain, nil, NewInflight(), testLogger()), faucet, []models.Account{acc}, mustRange(t, 100, 500), DefaultGasLimit, testLogger())
	require.NoError(t, m.OnNewBlock(context.Background(), models.BlockHeader{Number: 1}))

	intents := chain.intents()
	require.Len(t, intents, 1)
	assert.Equal(t, models.TransferFaucet, intents[0].Kind)
	assert.Equal(t, faucet.Address(), intents[0].From.Address())
	assert.Equal(t, acc.Address(), intents[0].To)
	assert.Equal(t, int64(450), intents[0].Amount.Int64())
}

func TestMaintainer_WithdrawsExcess(t *testing.T) {
	tests := []struct {
		name     string
		gasLimit uint64
		want     int64
	}{
		{"gas cost eats the excess", 21000, 0},
		{"small gas cost", 21, 79},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newMockChain(1)
			faucet, acc := newAccount(t), newAccount(t)
			chain.setBalance(acc.Address(), 600)

			m := NewMaintainer(chain, NewTransferer(chain, nil, nil, testLogger()), faucet, []models.Account{acc}, mustRange(t, 100, 500), tt.gasLimit, testLogger())
			require.NoError(t, m.OnNewBlock(context.Background(), models.BlockHeader{Number: 1}))

			intents := chain.intents()
			if tt.want == 0 {
				assert.Empty(t, intents)
				return
			}
			require.Len(t, intents, 1)
			assert.Equal(t, models.TransferWithdraw, intents[0].Kind)
			assert.Equal(t, acc.Address(), intents[0].From.Address())
			assert.Equal(t, faucet.Address(), intents[0].To)
			assert.Equal(t, tt.want, intents[0].Amount.Int64())
		})
	}
}

func TestMaintainer_InRangeDoesNothing(t *testing.T) {
	chain := newMockChain(1)
	acc := newAccount(t)
	chain.setBalance(acc.Address(), 300)

	m := NewMaintainer(chain, NewTransferer(chain, nil, nil, testLogger()), newAccount(t), []models.Account{acc}, mustRange(t, 100, 500), DefaultGasLimit, testLogger())
	require.NoError(t, m.OnNewBlock(context.Background(), models.BlockHeader{Number: 1}))
	assert.Empty(t, chain.intents())
}

func TestMaintainer_SigningFailureIsolated(t *testing.T) {
	chain := newMockChain(1)
	accounts := []models.Account{newAccount(t), newAccount(t), newAccount(t)}
	for _, acc := range accounts {
		chain.setBalance(acc.Address(), 600)
	}
	chain.signErr[accounts[0].Address()] = models.ErrMissingRawTransaction

	m := NewMaintainer(chain, NewTransferer(chain, nil, NewInflight(), testLogger()), newAccount(t), accounts, mustRange(t, 100, 500), 21, testLogger())
	err := m.OnNewBlock(context.Background(), models.BlockHeader{Number: 1})

	require.NoError(t, err)
	intents := chain.intents()
	require.Len(t, intents, 2)
	assert.Equal(t, accounts[1].Address(), intents[0].From.Address())
	assert.Equal(t, accounts[2].Address(), intents[1].From.Address())
}

func TestMaintainer_BalanceQueryFailureIsolated(t *testing.T) {
	chain := newMockChain(1)
	broken, healthy := newAccount(t), newAccount(t)
	chain.balanceErr[broken.Address()] = errors.New("node unavailable")
	chain.setBalance(healthy.Address(), 50)

	m := NewMaintainer(chain, NewTransferer(chain, nil, nil, testLogger()), newAccount(t), []models.Account{broken, healthy}, mustRange(t, 100, 500), DefaultGasLimit, testLogger())
	err := m.OnNewBlock(context.Background(), models.BlockHeader{Number: 1})

	assert.ErrorIs(t, err, models.ErrPolicy)
	assert.ErrorIs(t, err, models.ErrBalanceQuery)
	require.Len(t, chain.intents(), 1)
	assert.Equal(t, healthy.Address(), chain.intents()[0].To)
}

func TestCollector_SweepsToTarget(t *testing.T) {
	tests := []struct {
		name     string
		gasLimit uint64
		want     int64
	}{
		{"small gas cost", 21, 979},
		{"gas cost above balance", 21000, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newMockChain(1)
			acc := newAccount(t)
			target := common.HexToAddress("0x00000000000000000000000000000000000000ff")
			chain.setBalance(acc.Address(), 1000)

			c := NewCollector(chain, NewTransferer(chain, nil, nil, testLogger()), target, []models.Account{acc}, big.NewInt(0), tt.gasLimit, testLogger())
			require.NoError(t, c.OnNewBlock(context.Background(), models.BlockHeader{Number: 1}))

			intents := chain.intents()
			if tt.want == 0 {
				assert.Empty(t, intents)
				return
			}
			require.Len(t, intents, 1)
			assert.Equal(t, models.TransferCollect, intents[0].Kind)
			assert.Equal(t, target, intents[0].To)
			assert.Equal(t, tt.want, intents[0].Amount.Int64())
		})
	}
}

func TestCollector_OnBalanceChangeIgnoresForeignAddresses(t *testing.T) {
	chain := newMockChain(1)
	acc := newAccount(t)
	chain.setBalance(acc.Address(), 1000)
	target := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	c := NewCollector(chain, NewTransferer(chain, nil, nil, testLogger()), target, []models.Account{acc}, nil, 21, testLogger())

	foreign := models.BalanceChangeEvent{Address: common.HexToAddress("0x01")}
	require.NoError(t, c.OnBalanceChange(context.Background(), foreign))
	assert.Empty(t, chain.intents())

	own := models.BalanceChangeEvent{
		Address: acc.Address(),
		After:   models.BalanceSnapshot{Address: acc.Address(), BlockNumber: 2, Balance: big.NewInt(1000)},
	}
	require.NoError(t, c.OnBalanceChange(context.Background(), own))
	assert.Len(t, chain.intents(), 1)
}

func TestTransferer_SkipsAccountWithTransferInFlight(t *testing.T) {
	chain := newMockChain(1)
	chain.hold = make(chan struct{})
	emitter := &mockEmitter{}
	acc := newAccount(t)
	chain.setBalance(acc.Address(), 1000)
	target := common.HexToAddress("0x00000000000000000000000000000000000000ff")

	transferer := NewTransferer(chain, emitter, NewInflight(), testLogger())
	c := NewCollector(chain, transferer, target, []models.Account{acc}, nil, 21, testLogger())

	require.NoError(t, c.OnNewBlock(context.Background(), models.BlockHeader{Number: 1}))
	require.NoError(t, c.OnNewBlock(context.Background(), models.BlockHeader{Number: 2}))
	assert.Len(t, chain.intents(), 1)
	assert.True(t, transferer.Busy(acc.Address()))

	close(chain.hold)
	assert.Eventually(t, func() bool {
		return !transferer.Busy(acc.Address())
	}, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return len(emitter.eventTypes()) == 2
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, []models.EventType{models.EventTransferSubmitted, models.EventTransferConfirmed}, emitter.eventTypes())

	require.NoError(t, c.OnNewBlock(context.Background(), models.BlockHeader{Number: 3}))
	assert.Len(t, chain.intents(), 2)
}

func TestInflight_NilDisablesTracking(t *testing.T) {
	var f *Inflight
	addr := common.HexToAddress("0x01")

	assert.True(t, f.Acquire(addr))
	assert.True(t, f.Acquire(addr))
	assert.False(t, f.Busy(addr))
	f.Release(addr)
}
