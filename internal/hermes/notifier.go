package hermes

import (
	"context"
	"fmt"

	"github.com/scoopsocials/scoop-trust/internal/moderation"
)

// Publisher is the part of Client the notifier needs.
type Publisher interface {
	Publish(subject string, data any) error
}

// Notifier publishes workflow events on the bus, one subject per event type.
type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier {
	return &Notifier{pub: pub}
}

// SubjectFor maps an event type to its NATS subject.
func SubjectFor(t moderation.EventType) (string, bool) {
	switch t {
	case moderation.EventFlagSubmitted:
		return SubjectFlagSubmitted, true
	case moderation.EventFlagDecided:
		return SubjectFlagDecided, true
	case moderation.EventFlagResubmitted:
		return SubjectFlagResubmit, true
	case moderation.EventTrustUpdated:
		return SubjectTrustUpdated, true
	default:
		return "", false
	}
}

func (n *Notifier) Notify(_ context.Context, evt moderation.Event) error {
	subject, ok := SubjectFor(evt.Type)
	if !ok {
		return fmt.Errorf("no subject for event type %q", evt.Type)
	}
	if err := n.pub.Publish(subject, evt); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
