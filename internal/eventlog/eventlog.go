// Package eventlog implements the durable partitioned event log on top
// of NATS JetStream: detections, identities, and alerts topics, each
// with consumer groups and manual offset (ack) commit discipline for
// the Resolver's at-least-once replay guarantee.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	TopicDetections = "detections"
	TopicIdentities = "identities"
	TopicAlerts     = "alerts"

	// TopicDetectionsBilling is used only when DETECTIONS_TOPIC_MODE=dual,
	// mirroring billing-camera detections so a dedicated resolver pool
	// can prioritize them without affecting the default consumer group.
	TopicDetectionsBilling = "detections-billing"
)

// Log wraps a JetStream context bound to the three (or four) TRINETRA
// streams/subjects.
type Log struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// Connect dials the NATS cluster and ensures the TRINETRA streams exist.
// bootstrap is the value of EVENT_LOG_BOOTSTRAP (host:port, no scheme).
func Connect(bootstrap string) (*Log, error) {
	nc, err := nats.Connect("nats://" + bootstrap)
	if err != nil {
		return nil, fmt.Errorf("eventlog: connect: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("eventlog: jetstream: %w", err)
	}

	l := &Log{nc: nc, js: js}
	if err := l.ensureStreams(); err != nil {
		nc.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) ensureStreams() error {
	streams := []struct {
		name     string
		subjects []string
	}{
		{name: "DETECTIONS", subjects: []string{TopicDetections + ".>", TopicDetectionsBilling + ".>"}},
		{name: "IDENTITIES", subjects: []string{TopicIdentities + ".>"}},
		{name: "ALERTS", subjects: []string{TopicAlerts + ".>"}},
	}

	for _, s := range streams {
		_, err := l.js.AddStream(&nats.StreamConfig{
			Name:      s.name,
			Subjects:  s.subjects,
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour, // minimum retention operators can replay against
			Storage:   nats.FileStorage,
		})
		if err != nil && err != nats.ErrStreamNameAlreadyInUse {
			return fmt.Errorf("eventlog: ensure stream %s: %w", s.name, err)
		}
	}
	return nil
}

// subject returns the wire subject for a topic+key pair, e.g.
// "detections.cam_01" or "identities.cust_007".
func subject(topic, key string) string {
	return topic + "." + key
}

// Publish sends data to topic, partitioned by key, with bounded retries
// and exponential backoff matching the teacher's publisher shape. It
// waits for the broker ack (PublishMsg uses JetStream's synchronous ack
// by default) up to the caller's context deadline.
func (l *Log) Publish(ctx context.Context, topic, key string, data []byte, maxRetries int) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := l.js.Publish(subject(topic, key), data, nats.Context(ctx))
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep((100 * time.Millisecond) << attempt)
	}
	return fmt.Errorf("eventlog: publish to %s failed after %d retries: %w", topic, maxRetries, lastErr)
}

// Message is one delivered JetStream message. Callers must call Ack (or
// leave it unacked to trigger redelivery) explicitly — this is the
// manual-commit surface the Resolver's outage handling depends on.
type Message struct {
	Key  string // partition key, parsed out of the subject
	Data []byte
	msg  *nats.Msg
}

// Ack commits this message's offset.
func (m *Message) Ack() error { return m.msg.Ack() }

// Nak explicitly requests redelivery (used when processing fails in a
// way that should be retried rather than silently dropped).
func (m *Message) Nak() error { return m.msg.Nak() }

// Subscription is a durable, manually-acked pull consumer bound to one
// topic for one named consumer group. Multiple Resolver instances
// subscribing with the same group name share the topic's partitions.
type Subscription struct {
	sub *nats.Subscription
}

// Subscribe creates (or reuses) a durable pull consumer named group on
// topic, with AckExplicit policy so Ack must be called per-message.
func (l *Log) Subscribe(topic, group string) (*Subscription, error) {
	sub, err := l.js.PullSubscribe(topic+".>", group, nats.AckExplicit(), nats.ManualAck())
	if err != nil {
		return nil, fmt.Errorf("eventlog: subscribe %s/%s: %w", topic, group, err)
	}
	return &Subscription{sub: sub}, nil
}

// Fetch pulls up to count messages, waiting up to the context deadline.
// Returns an empty slice (not an error) on timeout with zero messages.
func (s *Subscription) Fetch(ctx context.Context, count int) ([]*Message, error) {
	msgs, err := s.sub.Fetch(count, nats.Context(ctx))
	if err != nil {
		if err == nats.ErrTimeout {
			return nil, nil
		}
		return nil, fmt.Errorf("eventlog: fetch: %w", err)
	}

	out := make([]*Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, &Message{Key: keyFromSubject(m.Subject), Data: m.Data, msg: m})
	}
	return out, nil
}

func keyFromSubject(subj string) string {
	for i := 0; i < len(subj); i++ {
		if subj[i] == '.' {
			return subj[i+1:]
		}
	}
	return subj
}

// Lag reports the number of pending (undelivered or unacked) messages
// for this subscription's consumer — used to alert when consumer lag on
// the detections topic exceeds the configured threshold.
func (s *Subscription) Lag() (int, error) {
	info, err := s.sub.ConsumerInfo()
	if err != nil {
		return 0, err
	}
	return int(info.NumPending) + info.NumAckPending, nil
}

// Close drains the underlying NATS connection.
func (l *Log) Close() { l.nc.Close() }
