package notifications

import (
	"context"
	"log/slog"

	"contentflow/internal/events"
	"contentflow/internal/logging"
)

// Subscriber yields workflow transitions until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context) (<-chan events.Transition, error)
}

// Listen forwards terminal transitions from sub to svc until ctx is done.
// Delivery failures are logged and never retried.
func Listen(ctx context.Context, sub Subscriber, svc Service, logger *slog.Logger) error {
	transitions, err := sub.Subscribe(ctx)
	if err != nil {
		return err
	}
	logger = logging.NewComponentLogger(logger, "notifications")
	for t := range transitions {
		var sendErr error
		switch t.To {
		case "completed":
			sendErr = svc.NotifyWorkflowCompleted(ctx, t.WorkflowID, t.Brand, t.ResultURL)
		case "failed":
			sendErr = svc.NotifyWorkflowFailed(ctx, t.WorkflowID, t.Brand, t.Stage, t.Error)
		default:
			continue
		}
		if sendErr != nil {
			logging.WarnWithContext(logger, "notification delivery failed", "notification_failed",
				logging.WorkflowID(t.WorkflowID),
				logging.String(logging.FieldStatus, t.To),
				logging.Error(sendErr),
				logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic and network access"),
			)
		}
	}
	return nil
}
