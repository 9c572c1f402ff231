package policy

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Transferer signs, broadcasts and follows transfer intents for the policies.
type Transferer struct {
	client   interfaces.TransferSender
	emitter  interfaces.EventEmitter
	inflight *Inflight
	logger   *zerolog.Logger
}

// NewTransferer creates a Transferer. emitter and inflight may be nil.
func NewTransferer(client interfaces.TransferSender, emitter interfaces.EventEmitter, inflight *Inflight, logger *zerolog.Logger) *Transferer {
	return &Transferer{
		client:   client,
		emitter:  emitter,
		inflight: inflight,
		logger:   logger,
	}
}

// Busy reports whether subject has a transfer that is not settled yet.
func (t *Transferer) Busy(subject common.Address) bool {
	return t.inflight.Busy(subject)
}

// Submit signs and broadcasts the intent and follows it in the background.
// subject is the account the transfer is about; it stays busy until the
// transfer settles. Submit returns false if the intent was abandoned.
func (t *Transferer) Submit(ctx context.Context, intent models.TransferIntent, subject common.Address) bool {
	if !t.inflight.Acquire(subject) {
		t.logger.Debug().
			Str("account", subject.Hex()).
			Str("kind", intent.Kind.String()).
			Msg("Transfer already in flight, skipping")
		return false
	}

	tx, err := t.client.SignTransfer(ctx, intent)
	if err != nil || tx == nil {
		t.inflight.Release(subject)
		t.logger.Error().
			Err(err).
			Str("from", intent.From.Address().Hex()).
			Str("to", intent.To.Hex()).
			Str("value", intent.Amount.String()).
			Msg("Failed to sign transaction")
		return false
	}

	updates := t.client.Broadcast(ctx, tx)
	go t.follow(ctx, intent, subject, updates)
	return true
}

func (t *Transferer) follow(ctx context.Context, intent models.TransferIntent, subject common.Address, updates <-chan models.TxUpdate) {
	defer t.inflight.Release(subject)

	label := title(intent.Kind.String())
	for u := range updates {
		switch u.Stage {
		case models.TxSubmitted:
			t.logger.Info().
				Str("from", intent.From.Address().Hex()).
				Str("to", intent.To.Hex()).
				Str("value", intent.Amount.String()).
				Str("valueEth", models.FormatEther(intent.Amount)).
				Str("txHash", u.Hash.Hex()).
				Msg(label + " transaction submitted")
		case models.TxConfirmed:
			t.logger.Info().
				Str("from", intent.From.Address().Hex()).
				Str("to", intent.To.Hex()).
				Str("value", intent.Amount.String()).
				Str("txHash", u.Hash.Hex()).
				Msg(label + " transaction executed")
		case models.TxFailed:
			t.logger.Error().
				Err(u.Err).
				Str("from", intent.From.Address().Hex()).
				Str("to", intent.To.Hex()).
				Str("value", intent.Amount.String()).
				Str("txHash", u.Hash.Hex()).
				Msg(label + " transaction failed")
		}
		t.emit(ctx, models.NewTransferEventRecord(intent, u))
	}
}

func (t *Transferer) emit(ctx context.Context, event models.Event) {
	if t.emitter == nil {
		return
	}
	if err := t.emitter.EmitEvent(ctx, event); err != nil {
		t.logger.Error().
			Err(err).
			Str("type", string(event.Type)).
			Str("txHash", event.TxHash).
			Msg("Error emitting transfer event")
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
