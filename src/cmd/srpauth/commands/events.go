// FILE: srpauth/src/cmd/srpauth/commands/events.go
package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"srpauth/src/internal/session"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/lixenwraith/log"
)

// subscribeEvents logs every session event published on topic until ctx
// is done.
func subscribeEvents(ctx context.Context, sub message.Subscriber, topic string, logger *log.Logger) error {
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			var ev session.Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				logger.Warn("msg", "Dropping malformed session event",
					"component", "events",
					"topic", topic,
					"error", err)
				msg.Nack()
				continue
			}
			logger.Info("msg", "Session event",
				"component", "events",
				"kind", ev.Kind,
				"uid", ev.UID,
				"reason", ev.Reason,
				"at", ev.At)
			msg.Ack()
		}
	}()
	return nil
}

// watermillLogger routes watermill's internal logging into the
// application logger.
type watermillLogger struct {
	logger *log.Logger
	fields watermill.LogFields
}

func newWatermillLogger(logger *log.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: logger}
}

func (w *watermillLogger) args(msg string, fields watermill.LogFields) []any {
	args := []any{"msg", msg, "component", "watermill"}
	for k, v := range w.fields.Add(fields) {
		args = append(args, k, v)
	}
	return args
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.logger.Error(append(w.args(msg, fields), "error", err)...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Info(w.args(msg, fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug(w.args(msg, fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Debug(w.args(msg, fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger, fields: w.fields.Add(fields)}
}
