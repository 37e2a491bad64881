package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/meddevice-orders/internal/core/events"
	"github.com/frahmantamala/meddevice-orders/internal/notification"
	"github.com/frahmantamala/meddevice-orders/internal/order"
	"github.com/frahmantamala/meddevice-orders/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event management commands",
	Long:  `Push synthetic events through the notification pipeline for testing and debugging`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [order-number]",
	Short: "Publish a synthetic order phase change",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishTestEvent(args[0])
	},
}

var (
	eventFrom    string
	eventTo      string
	eventActorID int64
)

func publishTestEvent(orderNumber string) error {
	from, ok := order.ParsePhase(eventFrom)
	if !ok {
		return fmt.Errorf("unknown phase %q", eventFrom)
	}
	to, ok := order.ParsePhase(eventTo)
	if !ok {
		return fmt.Errorf("unknown phase %q", eventTo)
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	lg := logger.LoggerWrapper()

	eventBus := events.NewEventBus(lg)
	dispatcher := newNotificationDispatcher(cfg.Notification, nil, lg)
	dispatcher.Start()
	notification.NewEventHandler(dispatcher, lg).RegisterEventHandlers(eventBus)

	event := events.NewOrderPhaseChangedEvent(orderNumber, string(from), string(to), eventActorID, nil)
	lg.Info("publishing test event", "event_type", event.EventType(), "event_id", event.EventID())

	// synchronous so the notification is queued before the pool drains
	if err := eventBus.PublishSync(context.Background(), event); err != nil {
		dispatcher.Shutdown()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Notification.Timeout+time.Second)
	defer cancel()
	if err := dispatcher.Drain(drainCtx); err != nil {
		lg.Warn("notification not delivered before timeout", "error", err)
	}
	dispatcher.Shutdown()
	lg.Info("test event delivered", "event_id", event.EventID())
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventFrom, "from", string(order.PhaseDraft), "phase the order leaves")
	publishEventCmd.Flags().StringVar(&eventTo, "to", string(order.PhaseConfiguration), "phase the order enters")
	publishEventCmd.Flags().Int64Var(&eventActorID, "actor", 0, "acting user id")

	eventCmd.AddCommand(publishEventCmd)
}
