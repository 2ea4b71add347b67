// Package events publishes document lifecycle notifications on an
// in-process pub/sub so observers do not couple to the pipeline.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
)

// Topic carries every document event
const Topic = "paperflow.documents"

// Event kinds
const (
	KindImported   = "imported"
	KindDuplicate  = "duplicate"
	KindSplit      = "split"
	KindClassified = "classified"
	KindValidated  = "validated"
	KindFailed     = "failed"
	KindScanDone   = "scan_done"
)

// Event is one lifecycle notification
type Event struct {
	Kind       string            `json:"kind"`
	DocumentID string            `json:"document_id,omitempty"`
	Status     string            `json:"status,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// Bus is a thin typed wrapper over a watermill GoChannel. A nil *Bus drops
// events silently.
type Bus struct {
	pubSub *gochannel.GoChannel
	logger *zap.Logger
}

// NewBus creates an in-memory bus
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		pubSub: gochannel.NewGoChannel(
			// ordered delivery: each publish waits for subscribers to ack
			gochannel.Config{OutputChannelBuffer: 256, BlockPublishUntilSubscriberAck: true},
			watermill.NopLogger{},
		),
		logger: logger,
	}
}

// Publish sends ev to all subscribers. Errors are logged, never returned to
// the pipeline.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("failed to encode event", zap.Error(err))
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubSub.Publish(Topic, msg); err != nil {
		b.logger.Warn("failed to publish event", zap.String("kind", ev.Kind), zap.Error(err))
	}
}

// Subscribe runs handler for every event until ctx is done. Messages that
// cannot be decoded are acked and dropped.
func (b *Bus) Subscribe(ctx context.Context, handler func(Event)) error {
	messages, err := b.pubSub.Subscribe(ctx, Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			var ev Event
			if err := json.Unmarshal(msg.Payload, &ev); err != nil {
				b.logger.Warn("dropping malformed event", zap.Error(err))
				msg.Ack()
				continue
			}
			handler(ev)
			msg.Ack()
		}
	}()
	return nil
}

// Close shuts the bus down and ends all subscriptions
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	return b.pubSub.Close()
}

// LogSubscriber writes every event to logger
func LogSubscriber(logger *zap.Logger) func(Event) {
	return func(ev Event) {
		fields := []zap.Field{
			zap.String("kind", ev.Kind),
			zap.String("document_id", ev.DocumentID),
		}
		if ev.Status != "" {
			fields = append(fields, zap.String("status", ev.Status))
		}
		for k, v := range ev.Attributes {
			fields = append(fields, zap.String(k, v))
		}
		logger.Info("document event", fields...)
	}
}
