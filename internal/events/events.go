package events

import (
	"balance-keeper/internal/interfaces"
	"balance-keeper/internal/models"
	"context"

	"github.com/rs/zerolog"
)

var (
	_ interfaces.EventEmitter          = (*LogEmitter)(nil)
	_ interfaces.BalanceChangeObserver = (*BalanceReporter)(nil)
)

// LogEmitter logs every event and forwards it to the wrapped emitter.
type LogEmitter struct {
	WrappedEmitter interfaces.EventEmitter
	Logger         *zerolog.Logger
}

func NewLogEmitter(wrapped interfaces.EventEmitter, logger *zerolog.Logger) *LogEmitter {
	return &LogEmitter{WrappedEmitter: wrapped, Logger: logger}
}

// EmitEvent logs the event and forwards it to the wrapped emitter
func (l *LogEmitter) EmitEvent(ctx context.Context, event models.Event) error {
	entry := l.Logger.Debug().
		Str("id", event.ID).
		Str("type", string(event.Type)).
		Str("address", event.Address)

	if event.Counterparty != "" {
		entry = entry.Str("counterparty", event.Counterparty)
	}
	if event.Kind != "" {
		entry = entry.Str("kind", event.Kind.String())
	}
	if event.TxHash != "" {
		entry = entry.Str("txHash", event.TxHash)
	}
	entry.
		Uint64("blockNumber", event.BlockNumber).
		Str("amount", event.Amount).
		Time("timestamp", event.Timestamp).
		Msg("Event details")

	if l.WrappedEmitter != nil {
		return l.WrappedEmitter.EmitEvent(ctx, event)
	}
	return nil
}

// BalanceReporter logs balance changes of watched addresses and publishes
// them as balance_change events.
type BalanceReporter struct {
	emitter interfaces.EventEmitter
	logger  *zerolog.Logger
}

func NewBalanceReporter(emitter interfaces.EventEmitter, logger *zerolog.Logger) *BalanceReporter {
	return &BalanceReporter{emitter: emitter, logger: logger}
}

// OnBalanceChange never fails; emission errors are only logged.
func (r *BalanceReporter) OnBalanceChange(ctx context.Context, change models.BalanceChangeEvent) error {
	r.logger.Info().
		Str("address", change.Address.Hex()).
		Uint64("blockNumber", change.After.BlockNumber).
		Str("before", change.Before.Balance.String()).
		Str("after", change.After.Balance.String()).
		Msg("Address balance change")

	if r.emitter == nil {
		return nil
	}
	event := models.NewBalanceChangeEventRecord(change)
	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		r.logger.Error().
			Err(err).
			Str("address", event.Address).
			Msg("Error emitting balance change event")
	}
	return nil
}
