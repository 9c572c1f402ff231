package interfaces

import (
	"balance-keeper/internal/models"
	"context"
)

// EventEmitter defines the interface for emitting events
type EventEmitter interface {
	EmitEvent(ctx context.Context, event models.Event) error
}
