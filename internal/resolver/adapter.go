package resolver

import (
	"context"

	"github.com/retailvision/trinetra/internal/eventlog"
)

// EventLogSubscription adapts *eventlog.Subscription to the Fetcher
// interface, converting eventlog.Message (which carries an unexported
// NATS handle) into the resolver's own Message shape so tests can supply
// a Fetcher without ever touching NATS.
type EventLogSubscription struct {
	sub *eventlog.Subscription
}

func NewEventLogSubscription(sub *eventlog.Subscription) *EventLogSubscription {
	return &EventLogSubscription{sub: sub}
}

func (a *EventLogSubscription) Fetch(ctx context.Context, count int) ([]*Message, error) {
	msgs, err := a.sub.Fetch(ctx, count)
	if err != nil {
		return nil, err
	}
	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		m := m
		out = append(out, &Message{Key: m.Key, Data: m.Data, Ack: m.Ack, Nak: m.Nak})
	}
	return out, nil
}

func (a *EventLogSubscription) Lag() (int, error) {
	return a.sub.Lag()
}

var _ Fetcher = (*EventLogSubscription)(nil)
