package models

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventBalanceChange     EventType = "balance_change"
	EventTransferSubmitted EventType = "transfer_submitted"
	EventTransferConfirmed EventType = "transfer_confirmed"
	EventTransferFailed    EventType = "transfer_failed"
)

// Event is the record published for balance changes and transfer lifecycle
// notifications. Wei amounts are decimal strings.
type Event struct {
	ID           string       `json:"id"`
	Type         EventType    `json:"type"`
	Address      string       `json:"address"`
	Counterparty string       `json:"counterparty,omitempty"`
	Kind         TransferKind `json:"kind,omitempty"`
	BlockNumber  uint64       `json:"blockNumber,omitempty"`
	Before       string       `json:"before,omitempty"`
	After        string       `json:"after,omitempty"`
	Amount       string       `json:"amount,omitempty"`
	AmountEther  string       `json:"amountEther,omitempty"`
	TxHash       string       `json:"txHash,omitempty"`
	Error        string       `json:"error,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

func NewBalanceChangeEventRecord(e BalanceChangeEvent) Event {
	return Event{
		ID:          uuid.NewString(),
		Type:        EventBalanceChange,
		Address:     e.Address.Hex(),
		BlockNumber: e.After.BlockNumber,
		Before:      e.Before.Balance.String(),
		After:       e.After.Balance.String(),
		Amount:      e.Delta().String(),
		AmountEther: FormatEther(e.Delta()),
		Timestamp:   time.Now().UTC(),
	}
}

func NewTransferEventRecord(intent TransferIntent, update TxUpdate) Event {
	ev := Event{
		ID:           uuid.NewString(),
		Address:      intent.From.Address().Hex(),
		Counterparty: intent.To.Hex(),
		Kind:         intent.Kind,
		Amount:       intent.Amount.String(),
		AmountEther:  FormatEther(intent.Amount),
		Timestamp:    time.Now().UTC(),
	}
	if update.Hash != (common.Hash{}) {
		ev.TxHash = update.Hash.Hex()
	}
	switch update.Stage {
	case TxSubmitted:
		ev.Type = EventTransferSubmitted
	case TxConfirmed:
		ev.Type = EventTransferConfirmed
		if update.Receipt != nil && update.Receipt.BlockNumber != nil {
			ev.BlockNumber = update.Receipt.BlockNumber.Uint64()
		}
	default:
		ev.Type = EventTransferFailed
		if update.Err != nil {
			ev.Error = update.Err.Error()
		}
	}
	return ev
}

// FormatEther renders a wei amount in ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -18).String()
}
