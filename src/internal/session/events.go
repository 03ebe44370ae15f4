// FILE: srpauth/src/internal/session/events.go
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
)

// Event kinds, also used as topic suffixes
const (
	EventRefreshed = "session.refreshed"
	EventLoggedOut = "session.logged_out"
)

// Event describes a session lifecycle change. It never carries tokens.
type Event struct {
	Kind   string    `json:"kind"`
	UID    string    `json:"uid"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// EventPublisher receives session lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}

// WatermillPublisher publishes events as JSON messages on
// topicPrefix + kind.
type WatermillPublisher struct {
	publisher   message.Publisher
	topicPrefix string
}

func NewWatermillPublisher(publisher message.Publisher, topicPrefix string) *WatermillPublisher {
	return &WatermillPublisher{
		publisher:   publisher,
		topicPrefix: topicPrefix,
	}
}

// Topic returns the topic an event kind is published on.
func (p *WatermillPublisher) Topic(kind string) string {
	return p.topicPrefix + kind
}

func (p *WatermillPublisher) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set("uid", ev.UID)

	if err := p.publisher.Publish(p.Topic(ev.Kind), msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
