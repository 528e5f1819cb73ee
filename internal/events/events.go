// Package events публикация событий движения остатков (Kafka, WebSocket).
// Публикация выполняется после коммита и не влияет на результат операции.
package events

import (
	"context"
	"encoding/json"
	"time"

	"stockledger/server/internal/models"
	"stockledger/server/internal/quantity"
)

// MovementEvent событие "остаток изменился"
type MovementEvent struct {
	MovementID     uint                `json:"movement_id"`
	IngredientID   uint                `json:"ingredient_id"`
	IngredientName string              `json:"ingredient_name"`
	Kind           models.MovementKind `json:"kind"`
	Delta          quantity.Quantity   `json:"delta"`
	ResultingStock quantity.Quantity   `json:"resulting_stock"`
	MinimumStock   quantity.Quantity   `json:"minimum_stock"`
	BelowMinimum   bool                `json:"below_minimum"`
	SaleID         *uint               `json:"sale_id,omitempty"`
	Note           string              `json:"note,omitempty"`
	At             time.Time           `json:"at"`
}

func (e MovementEvent) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func DecodeMovementEvent(data []byte) (MovementEvent, error) {
	var e MovementEvent
	err := json.Unmarshal(data, &e)
	return e, err
}

// Publisher fire-and-forget: ошибки доставки логируются реализацией
type Publisher interface {
	PublishMovement(ctx context.Context, event MovementEvent)
}

// Nop ничего не публикует
type Nop struct{}

func (Nop) PublishMovement(context.Context, MovementEvent) {}

// Fanout рассылает событие всем получателям
type Fanout []Publisher

func (f Fanout) PublishMovement(ctx context.Context, event MovementEvent) {
	for _, p := range f {
		if p != nil {
			p.PublishMovement(ctx, event)
		}
	}
}

// Recorder запоминает события (тесты)
type Recorder struct {
	events chan MovementEvent
}

func NewRecorder(capacity int) *Recorder {
	return &Recorder{events: make(chan MovementEvent, capacity)}
}

func (r *Recorder) PublishMovement(_ context.Context, event MovementEvent) {
	select {
	case r.events <- event:
	default:
	}
}

// Drain возвращает накопленные события
func (r *Recorder) Drain() []MovementEvent {
	var out []MovementEvent
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
