package rpc

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var _ interfaces.ChainClient = (*Client)(nil)

// Backend is the subset of *ethclient.Client the Client relies on.
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

type Options struct {
	RateLimit           float64
	MaxRetries          int
	RetryDelay          time.Duration
	ReceiptPollInterval time.Duration
	ConfirmTimeout      time.Duration
}

// Client provides a node client with rate limiting, retries, and structured logging
type Client struct {
	Endpoint            string
	RateLimiter         *rate.Limiter
	MaxRetries          int
	RetryDelay          time.Duration
	ReceiptPollInterval time.Duration
	ConfirmTimeout      time.Duration
	Logger              *zerolog.Logger

	connMu sync.RWMutex
	eth    Backend
	closer func()
	dial   func(ctx context.Context, endpoint string) (Backend, func(), error)

	chainMu sync.Mutex
	chainID *big.Int

	nonces *nonceTracker
}

// NewLazyClient returns a client that dials endpoint on Connect. Calls made
// before a successful Connect fail with models.ErrNotConnected.
// Subscriptions need a websocket or IPC endpoint.
func NewLazyClient(endpoint string, opts Options, logger *zerolog.Logger) *Client {
	c := NewClient(endpoint, nil, opts, logger)
	c.dial = dialEthClient
	return c
}

func dialEthClient(ctx context.Context, endpoint string) (Backend, func(), error) {
	rpcClient, err := gethrpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, nil, err
	}
	eth := ethclient.NewClient(rpcClient)
	return eth, eth.Close, nil
}

// Connect dials the node unless already connected and checks it answers
// with a chain id. A failed attempt leaves the client disconnected so the
// next call dials again.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	if c.eth != nil {
		c.connMu.Unlock()
		return nil
	}
	if c.dial == nil {
		c.connMu.Unlock()
		return models.ErrNotConnected
	}
	eth, closer, err := c.dial(ctx, c.Endpoint)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to dial %s: %w", c.Endpoint, err)
	}
	c.eth, c.closer = eth, closer
	c.connMu.Unlock()

	chainID, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return err
	}
	c.Logger.Info().
		Str("endpoint", c.Endpoint).
		Str("chainId", chainID.String()).
		Msg("Connected to node")

	return nil
}

func (c *Client) backend() (Backend, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.eth == nil {
		return nil, models.ErrNotConnected
	}
	return c.eth, nil
}

// NewClient wraps an existing backend.
func NewClient(endpoint string, eth Backend, opts Options, logger *zerolog.Logger) *Client {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.ReceiptPollInterval <= 0 {
		opts.ReceiptPollInterval = 3 * time.Second
	}
	if opts.ConfirmTimeout <= 0 {
		opts.ConfirmTimeout = 10 * time.Minute
	}

	return &Client{
		Endpoint:            endpoint,
		RateLimiter:         rate.NewLimiter(rate.Limit(opts.RateLimit), 1),
		MaxRetries:          opts.MaxRetries,
		RetryDelay:          opts.RetryDelay,
		ReceiptPollInterval: opts.ReceiptPollInterval,
		ConfirmTimeout:      opts.ConfirmTimeout,
		Logger:              logger,
		eth:                 eth,
		nonces:              newNonceTracker(),
	}
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	var balance *big.Int
	err := c.call(ctx, "eth_getBalance", func(ctx context.Context, eth Backend) (err error) {
		balance, err = eth.BalanceAt(ctx, account, blockNumber)
		return err
	})
	return balance, err
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := c.call(ctx, "eth_gasPrice", func(ctx context.Context, eth Backend) (err error) {
		price, err = eth.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

func (c *Client) SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error) {
	c.Logger.Debug().Str("endpoint", c.Endpoint).Msg("Subscribing to new heads")

	eth, err := c.backend()
	if err != nil {
		return nil, err
	}
	sub, err := eth.SubscribeNewHead(ctx, ch)
	if err != nil {
		c.Logger.Error().Err(err).Str("endpoint", c.Endpoint).Msg("New head subscription failed")
		return nil, err
	}
	return sub, nil
}

// ChainID returns the node's chain id. It is fetched once.
func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	c.chainMu.Lock()
	defer c.chainMu.Unlock()

	if c.chainID != nil {
		return c.chainID, nil
	}
	var id *big.Int
	if err := c.call(ctx, "eth_chainId", func(ctx context.Context, eth Backend) (err error) {
		id, err = eth.ChainID(ctx)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c.chainID = id
	return id, nil
}

// SignTransfer builds and signs a legacy value transfer for the intent.
func (c *Client) SignTransfer(ctx context.Context, intent models.TransferIntent) (*types.Transaction, error) {
	if !intent.From.CanSign() {
		return nil, fmt.Errorf("%w: no key for %s", models.ErrMissingRawTransaction, intent.From)
	}

	chainID, err := c.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMissingRawTransaction, err)
	}

	from := intent.From.Address()
	release := c.nonces.lock(from)
	defer release()

	var pending uint64
	if err := c.call(ctx, "eth_getTransactionCount", func(ctx context.Context, eth Backend) (err error) {
		pending, err = eth.PendingNonceAt(ctx, from)
		return err
	}); err != nil {
		return nil, fmt.Errorf("%w: nonce: %w", models.ErrMissingRawTransaction, err)
	}
	nonce := c.nonces.next(from, pending)

	to := intent.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    intent.Amount,
		Gas:      intent.GasLimit,
		GasPrice: intent.GasPrice,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), intent.From.Key())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrMissingRawTransaction, err)
	}
	c.nonces.commit(from, nonce)

	c.Logger.Debug().
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Uint64("nonce", nonce).
		Str("txHash", signed.Hash().Hex()).
		Msg("Signed transaction")

	return signed, nil
}

// Broadcast sends the transaction once and then polls for its receipt.
func (c *Client) Broadcast(ctx context.Context, tx *types.Transaction) <-chan models.TxUpdate {
	updates := make(chan models.TxUpdate, 3)

	go func() {
		defer close(updates)

		hash := tx.Hash()
		if err := c.callOnce(ctx, "eth_sendRawTransaction", func(ctx context.Context, eth Backend) error {
			return eth.SendTransaction(ctx, tx)
		}); err != nil {
			c.forgetNonce(tx)
			updates <- models.TxUpdate{Stage: models.TxFailed, Hash: hash, Err: fmt.Errorf("%w: %w", models.ErrBroadcast, err)}
			return
		}
		updates <- models.TxUpdate{Stage: models.TxSubmitted, Hash: hash}

		// A dropped or evicted transaction leaves a gap at its nonce, so any
		// failure hands nonce selection back to the node.
		receipt, err := c.waitMined(ctx, hash)
		switch {
		case err != nil:
			c.forgetNonce(tx)
			updates <- models.TxUpdate{Stage: models.TxFailed, Hash: hash, Err: err}
		case receipt.Status != types.ReceiptStatusSuccessful:
			c.forgetNonce(tx)
			updates <- models.TxUpdate{Stage: models.TxFailed, Hash: hash, Receipt: receipt, Err: models.ErrTransactionReverted}
		default:
			updates <- models.TxUpdate{Stage: models.TxConfirmed, Hash: hash, Receipt: receipt}
		}
	}()

	return updates
}

func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.ConfirmTimeout)
	defer cancel()

	t := time.NewTicker(c.ReceiptPollInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", models.ErrConfirmTimeout, hash.Hex())
		case <-t.C:
		}

		var receipt *types.Receipt
		err := c.callOnce(ctx, "eth_getTransactionReceipt", func(ctx context.Context, eth Backend) (err error) {
			receipt, err = eth.TransactionReceipt(ctx, hash)
			return err
		})
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			c.Logger.Debug().Err(err).Str("txHash", hash.Hex()).Msg("Receipt not available yet")
		}
	}
}

func (c *Client) forgetNonce(tx *types.Transaction) {
	c.chainMu.Lock()
	chainID := c.chainID
	c.chainMu.Unlock()
	if chainID == nil {
		return
	}
	from, err := types.Sender(types.LatestSignerForChainID(chainID), tx)
	if err != nil {
		return
	}
	c.nonces.reset(from)
}

// call performs a unary RPC with rate limiting and fixed delay retries
func (c *Client) call(ctx context.Context, method string, fn func(ctx context.Context, eth Backend) error) error {
	eth, err := c.backend()
	if err != nil {
		return err
	}
	c.Logger.Trace().
		Str("endpoint", c.Endpoint).
		Str("method", method).
		Msg("Making RPC call")

	err = c.retry(ctx, func() error {
		if err := c.RateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit error: %w", err)
		}
		return fn(ctx, eth)
	})
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		c.Logger.Error().
			Err(err).
			Str("method", method).
			Msg("RPC call failed")
	}
	return err
}

// callOnce is call without retries, for requests that must not be repeated.
func (c *Client) callOnce(ctx context.Context, method string, fn func(ctx context.Context, eth Backend) error) error {
	eth, err := c.backend()
	if err != nil {
		return err
	}
	if err := c.RateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit error: %w", err)
	}
	err = fn(ctx, eth)
	if err != nil && !errors.Is(err, ethereum.NotFound) {
		c.Logger.Error().
			Err(err).
			Str("method", method).
			Msg("RPC call failed")
	}
	return err
}

// retry executes a function with retry logic
func (c *Client) retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < c.MaxRetries; i++ {
		if err = fn(); err == nil || errors.Is(err, ethereum.NotFound) {
			return err
		}
		if i == c.MaxRetries-1 {
			break
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(c.RetryDelay):
		}
	}
	return err
}

// Close closes the node connection. A lazy client can Connect again.
func (c *Client) Close() {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closer != nil {
		c.closer()
	}
	c.closer = nil
	if c.dial != nil {
		c.eth = nil
	}
}
