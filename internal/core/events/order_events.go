package events

import (
	"time"

	"github.com/google/uuid"
)

const (
	EventTypeOrderPhaseChanged = "order.phase_changed"
)

type OrderPhaseChangedEvent struct {
	BaseEvent
	OrderNumber string `json:"order_number"`
	FromPhase   string `json:"from_phase"`
	ToPhase     string `json:"to_phase"`
	ActorID     int64  `json:"actor_id"`
	AssignedTo  *int64 `json:"assigned_to,omitempty"`
}

func NewOrderPhaseChangedEvent(orderNumber, fromPhase, toPhase string, actorID int64, assignedTo *int64) *OrderPhaseChangedEvent {
	data := map[string]interface{}{
		"order_number": orderNumber,
		"from_phase":   fromPhase,
		"to_phase":     toPhase,
		"actor_id":     actorID,
	}
	if assignedTo != nil {
		data["assigned_to"] = *assignedTo
	}
	return &OrderPhaseChangedEvent{
		BaseEvent: BaseEvent{
			ID:        uuid.New().String(),
			Type:      EventTypeOrderPhaseChanged,
			Timestamp: time.Now().UTC(),
			Data:      data,
		},
		OrderNumber: orderNumber,
		FromPhase:   fromPhase,
		ToPhase:     toPhase,
		ActorID:     actorID,
		AssignedTo:  assignedTo,
	}
}
