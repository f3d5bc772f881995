// Package pubsub delivers payloads as Google Cloud Pub/Sub messages.
package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"

	"github.com/JakeFAU/session-harvester/internal/delivery"
)

// Sink publishes each payload as one message and waits for the server ack.
type Sink struct {
	topic *pubsub.Topic
}

// New wraps an existing topic handle.
func New(topic *pubsub.Topic) *Sink {
	return &Sink{topic: topic}
}

// Dial creates a client for projectID and returns a sink for topicID along
// with the client, which the caller must close.
func Dial(ctx context.Context, projectID, topicID string) (*Sink, *pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return New(client.Topic(topicID)), client, nil
}

// Send implements delivery.Sink.
func (s *Sink) Send(ctx context.Context, payload delivery.Payload) error {
	if s == nil || s.topic == nil {
		return fmt.Errorf("pubsub topic is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	attrs := map[string]string{"account": payload.Account}
	if payload.Batch != nil {
		attrs["batch_number"] = payload.Batch.Label()
	}
	if payload.RunID != "" {
		attrs["run_id"] = payload.RunID
	}
	result := s.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish payload: %w", err)
	}
	return nil
}

// Stop flushes and stops the topic's background publisher.
func (s *Sink) Stop() {
	if s != nil && s.topic != nil {
		s.topic.Stop()
	}
}
