package models

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// BlockHeader is the part of a block header the monitor cares about.
type BlockHeader struct {
	Number uint64
	Hash   common.Hash
}

func NewBlockHeader(h *types.Header) BlockHeader {
	return BlockHeader{
		Number: h.Number.Uint64(),
		Hash:   h.Hash(),
	}
}

// BalanceSnapshot is the balance of an address at a given block, in wei.
type BalanceSnapshot struct {
	Address     common.Address
	BlockNumber uint64
	Balance     *big.Int
}

// BalanceChangeEvent pairs the snapshots of one address at blocks N-1 and N.
type BalanceChangeEvent struct {
	Address common.Address
	Before  BalanceSnapshot
	After   BalanceSnapshot
}

// Delta returns After - Before.
func (e BalanceChangeEvent) Delta() *big.Int {
	return new(big.Int).Sub(e.After.Balance, e.Before.Balance)
}

// ThresholdRange is the [Lower, Upper] window a maintained account is kept in.
type ThresholdRange struct {
	Lower *big.Int
	Upper *big.Int
}

func NewThresholdRange(lower, upper *big.Int) (ThresholdRange, error) {
	if lower == nil || upper == nil {
		return ThresholdRange{}, fmt.Errorf("%w: bounds are required", ErrInvalidRange)
	}
	if lower.Sign() < 0 || upper.Sign() < 0 {
		return ThresholdRange{}, fmt.Errorf("%w: bounds must not be negative", ErrInvalidRange)
	}
	if lower.Cmp(upper) > 0 {
		return ThresholdRange{}, fmt.Errorf("%w: lower %s is above upper %s", ErrInvalidRange, lower, upper)
	}
	return ThresholdRange{
		Lower: new(big.Int).Set(lower),
		Upper: new(big.Int).Set(upper),
	}, nil
}

type TransferKind string

const (
	TransferFaucet   TransferKind = "faucet"
	TransferWithdraw TransferKind = "withdraw"
	TransferCollect  TransferKind = "collect"
)

func (k TransferKind) String() string {
	return string(k)
}

// TransferIntent is a value transfer waiting to be signed and broadcast.
// Amount is always strictly positive.
type TransferIntent struct {
	Kind     TransferKind
	From     Account
	To       common.Address
	Amount   *big.Int
	GasLimit uint64
	GasPrice *big.Int
}

func NewTransferIntent(kind TransferKind, from Account, to common.Address, amount *big.Int, gasLimit uint64, gasPrice *big.Int) (TransferIntent, error) {
	if amount == nil || amount.Sign() <= 0 {
		return TransferIntent{}, ErrNonPositiveAmount
	}
	if gasPrice == nil {
		return TransferIntent{}, fmt.Errorf("gas price is required")
	}
	return TransferIntent{
		Kind:     kind,
		From:     from,
		To:       to,
		Amount:   new(big.Int).Set(amount),
		GasLimit: gasLimit,
		GasPrice: new(big.Int).Set(gasPrice),
	}, nil
}

type TxStage int

const (
	TxSubmitted TxStage = iota
	TxConfirmed
	TxFailed
)

func (s TxStage) String() string {
	switch s {
	case TxSubmitted:
		return "submitted"
	case TxConfirmed:
		return "confirmed"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TxUpdate is one lifecycle notification of a broadcast transaction.
type TxUpdate struct {
	Stage   TxStage
	Hash    common.Hash
	Receipt *types.Receipt
	Err     error
}

// Terminal reports whether no further updates follow this one.
func (u TxUpdate) Terminal() bool {
	return u.Stage == TxConfirmed || u.Stage == TxFailed
}
