package pubsub

import (
	"context"
	"errors"

	pubsub "cloud.google.com/go/pubsub/v2"
)

// MessagePublisher sends a payload with attributes and waits for the server id.
type MessagePublisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

type publishResult interface {
	Get(context.Context) (string, error)
}

type rawPublisher interface {
	Publish(context.Context, *pubsub.Message) publishResult
}

// TopicPublisher adapts a Pub/Sub v2 publisher to MessagePublisher.
type TopicPublisher struct {
	pub rawPublisher
}

// NewTopicPublisher wraps p. A nil p yields nil.
func NewTopicPublisher(p *pubsub.Publisher) *TopicPublisher {
	if p == nil {
		return nil
	}
	return &TopicPublisher{pub: gcpPublisher{p}}
}

// Publish blocks until the message is acknowledged by the server or ctx ends.
func (t *TopicPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	if t == nil || t.pub == nil {
		return "", errors.New("publisher not configured")
	}
	result := t.pub.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	if result == nil {
		return "", errors.New("publish result is nil")
	}
	return result.Get(ctx)
}

type gcpPublisher struct {
	*pubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *pubsub.Message) publishResult {
	return p.Publisher.Publish(ctx, msg)
}
