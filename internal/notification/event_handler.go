package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/frahmantamala/meddevice-orders/internal/core/events"
)

type EventHandler struct {
	dispatcher *Dispatcher
	logger     *slog.Logger
}

func NewEventHandler(dispatcher *Dispatcher, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (h *EventHandler) HandlePhaseChanged(ctx context.Context, event events.Event) error {
	changed, ok := event.(*events.OrderPhaseChangedEvent)
	if !ok {
		h.logger.Error("invalid event type for phase changed handler", "event_type", event.EventType())
		return fmt.Errorf("expected OrderPhaseChangedEvent, got %T", event)
	}

	err := h.dispatcher.Enqueue(Notification{
		EventID:     changed.EventID(),
		OrderNumber: changed.OrderNumber,
		FromPhase:   changed.FromPhase,
		ToPhase:     changed.ToPhase,
		ActorID:     changed.ActorID,
		AssignedTo:  changed.AssignedTo,
		OccurredAt:  changed.OccurredAt(),
	})
	if err != nil {
		return fmt.Errorf("queue notification for %s: %w", changed.OrderNumber, err)
	}
	return nil
}

func (h *EventHandler) RegisterEventHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventTypeOrderPhaseChanged, h.HandlePhaseChanged)

	h.logger.Info("notification event handlers registered",
		"handlers", []string{events.EventTypeOrderPhaseChanged})
}
