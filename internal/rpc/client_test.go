package rpc

import (
	"balance-keeper/internal/models"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockBackend is a mock implementation of Backend for testing
type MockBackend struct {
	mu           sync.Mutex
	chainID      *big.Int
	pendingNonce uint64
	balanceErrs  []error
	balanceCalls int
	sendErr      error
	sent         []*types.Transaction
	receipt      *types.Receipt
}

func (m *MockBackend) BalanceAt(context.Context, common.Address, *big.Int) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balanceCalls++
	if len(m.balanceErrs) > 0 {
		err := m.balanceErrs[0]
		m.balanceErrs = m.balanceErrs[1:]
		return nil, err
	}
	return big.NewInt(42), nil
}

func (m *MockBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (m *MockBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pendingNonce, nil
}

func (m *MockBackend) ChainID(context.Context) (*big.Int, error) {
	return m.chainID, nil
}

func (m *MockBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, tx)
	return nil
}

func (m *MockBackend) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.receipt == nil {
		return nil, ethereum.NotFound
	}
	return m.receipt, nil
}

func (m *MockBackend) SubscribeNewHead(context.Context, chan<- *types.Header) (ethereum.Subscription, error) {
	return nil, errors.New("not supported")
}

func setupTestClient(t *testing.T, backend *MockBackend) *Client {
	t.Helper()
	logger := zerolog.New(nil)
	if backend.chainID == nil {
		backend.chainID = big.NewInt(1337)
	}
	return NewClient("ws://localhost:8546", backend, Options{
		RateLimit:           1000, // high rate limit for tests
		MaxRetries:          2,
		ReceiptPollInterval: 5 * time.Millisecond,
		ConfirmTimeout:      200 * time.Millisecond,
	}, &logger)
}

func testIntent(t *testing.T, from models.Account) models.TransferIntent {
	t.Helper()
	intent, err := models.NewTransferIntent(
		models.TransferCollect,
		from,
		common.HexToAddress("0x00000000000000000000000000000000000000ff"),
		big.NewInt(979),
		21000,
		big.NewInt(1),
	)
	require.NoError(t, err)
	return intent
}

func signingAccount(t *testing.T) models.Account {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return models.NewAccount(key)
}

func collect(updates <-chan models.TxUpdate) []models.TxUpdate {
	var out []models.TxUpdate
	for u := range updates {
		out = append(out, u)
	}
	return out
}

func TestClient_SignTransferWithoutKey(t *testing.T) {
	c := setupTestClient(t, &MockBackend{})
	from := models.WatchOnlyAccount(common.HexToAddress("0x01"))

	_, err := c.SignTransfer(context.Background(), testIntent(t, from))
	assert.ErrorIs(t, err, models.ErrMissingRawTransaction)
}

func TestClient_SignTransfer(t *testing.T) {
	backend := &MockBackend{pendingNonce: 5}
	c := setupTestClient(t, backend)
	from := signingAccount(t)

	first, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)
	second, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)

	assert.Equal(t, uint64(5), first.Nonce())
	assert.Equal(t, uint64(6), second.Nonce(), "nonce must advance while the node has not seen the first transfer")
	assert.Equal(t, int64(979), first.Value().Int64())
	assert.Equal(t, uint64(21000), first.Gas())

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), first)
	require.NoError(t, err)
	assert.Equal(t, from.Address(), sender)
}

func TestClient_BroadcastConfirmed(t *testing.T) {
	backend := &MockBackend{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful, BlockNumber: big.NewInt(10)}}
	c := setupTestClient(t, backend)

	tx, err := c.SignTransfer(context.Background(), testIntent(t, signingAccount(t)))
	require.NoError(t, err)

	updates := collect(c.Broadcast(context.Background(), tx))
	require.Len(t, updates, 2)
	assert.Equal(t, models.TxSubmitted, updates[0].Stage)
	assert.Equal(t, tx.Hash(), updates[0].Hash)
	assert.Equal(t, models.TxConfirmed, updates[1].Stage)
	assert.True(t, updates[1].Terminal())
	assert.Len(t, backend.sent, 1)
}

func TestClient_BroadcastFailures(t *testing.T) {
	tests := []struct {
		name    string
		backend *MockBackend
		stages  []models.TxStage
		wantErr error
	}{
		{
			name:    "send rejected",
			backend: &MockBackend{sendErr: errors.New("insufficient funds for gas * price + value")},
			stages:  []models.TxStage{models.TxFailed},
			wantErr: models.ErrBroadcast,
		},
		{
			name:    "reverted",
			backend: &MockBackend{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}},
			stages:  []models.TxStage{models.TxSubmitted, models.TxFailed},
			wantErr: models.ErrTransactionReverted,
		},
		{
			name:    "never mined",
			backend: &MockBackend{},
			stages:  []models.TxStage{models.TxSubmitted, models.TxFailed},
			wantErr: models.ErrConfirmTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := setupTestClient(t, tt.backend)
			tx, err := c.SignTransfer(context.Background(), testIntent(t, signingAccount(t)))
			require.NoError(t, err)

			updates := collect(c.Broadcast(context.Background(), tx))
			require.Len(t, updates, len(tt.stages))
			for i, stage := range tt.stages {
				assert.Equal(t, stage, updates[i].Stage)
			}
			assert.ErrorIs(t, updates[len(updates)-1].Err, tt.wantErr)
		})
	}
}

func TestClient_FailedBroadcastReleasesNonce(t *testing.T) {
	backend := &MockBackend{pendingNonce: 3, sendErr: errors.New("rejected")}
	c := setupTestClient(t, backend)
	from := signingAccount(t)

	tx, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)
	collect(c.Broadcast(context.Background(), tx))

	next, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.Nonce())
}

func TestClient_BalanceAtRetries(t *testing.T) {
	backend := &MockBackend{balanceErrs: []error{errors.New("timeout")}}
	c := setupTestClient(t, backend)

	balance, err := c.BalanceAt(context.Background(), common.HexToAddress("0x01"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())
	assert.Equal(t, 2, backend.balanceCalls)
}

func TestClient_BalanceAtGivesUp(t *testing.T) {
	backend := &MockBackend{balanceErrs: []error{errors.New("timeout"), errors.New("timeout"), errors.New("timeout")}}
	c := setupTestClient(t, backend)

	_, err := c.BalanceAt(context.Background(), common.HexToAddress("0x01"), nil)
	assert.Error(t, err)
	assert.Equal(t, 2, backend.balanceCalls)
}

func TestClient_UnconfirmedTransferReleasesNonce(t *testing.T) {
	backend := &MockBackend{pendingNonce: 3}
	c := setupTestClient(t, backend)
	from := signingAccount(t)

	tx, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)
	require.Equal(t, uint64(3), tx.Nonce())

	updates := collect(c.Broadcast(context.Background(), tx))
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	require.Equal(t, models.TxFailed, last.Stage)
	require.ErrorIs(t, last.Err, models.ErrConfirmTimeout)

	next, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next.Nonce(), "the node still expects nonce 3")
}

func TestClient_RevertedTransferReleasesNonce(t *testing.T) {
	backend := &MockBackend{pendingNonce: 7, receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}
	c := setupTestClient(t, backend)
	from := signingAccount(t)

	tx, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)
	collect(c.Broadcast(context.Background(), tx))

	backend.mu.Lock()
	backend.pendingNonce = 8
	backend.mu.Unlock()

	next, err := c.SignTransfer(context.Background(), testIntent(t, from))
	require.NoError(t, err)
	assert.Equal(t, uint64(8), next.Nonce())
}

func TestClient_ConnectRetriesAfterDialFailure(t *testing.T) {
	logger := zerolog.New(nil)
	c := NewLazyClient("ws://localhost:8546", Options{RateLimit: 1000}, &logger)

	backend := &MockBackend{chainID: big.NewInt(5)}
	var dials int
	c.dial = func(context.Context, string) (Backend, func(), error) {
		dials++
		if dials == 1 {
			return nil, nil, errors.New("connection refused")
		}
		return backend, func() {}, nil
	}

	_, err := c.BalanceAt(context.Background(), common.HexToAddress("0x01"), nil)
	assert.ErrorIs(t, err, models.ErrNotConnected)

	assert.Error(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))
	assert.Equal(t, 2, dials)

	balance, err := c.BalanceAt(context.Background(), common.HexToAddress("0x01"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(42), balance.Int64())

	c.Close()
	_, err = c.BalanceAt(context.Background(), common.HexToAddress("0x01"), nil)
	assert.ErrorIs(t, err, models.ErrNotConnected)
}
