package interfaces

import (
	"balance-keeper/internal/models"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BalanceReader reads account balances. A nil block number means latest.
type BalanceReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// HeadSubscriber delivers new block headers.
type HeadSubscriber interface {
	SubscribeNewHead(ctx context.Context, ch chan<- *types.Header) (ethereum.Subscription, error)
}

// TransferSender prices, signs and broadcasts value transfers.
type TransferSender interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)

	// SignTransfer returns models.ErrMissingRawTransaction when the intent
	// cannot be turned into a broadcastable transaction.
	SignTransfer(ctx context.Context, intent models.TransferIntent) (*types.Transaction, error)

	// Broadcast sends a signed transaction. The returned channel yields the
	// lifecycle updates and is closed after the terminal one.
	Broadcast(ctx context.Context, tx *types.Transaction) <-chan models.TxUpdate
}

// Connector is implemented by clients that dial the node on demand.
type Connector interface {
	Connect(ctx context.Context) error
}

// ChainClient is everything the keeper needs from a node.
type ChainClient interface {
	BalanceReader
	HeadSubscriber
	TransferSender
}
