package changedetect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/opsconsole/internal/reconcile"
	"github.com/angelmondragon/opsconsole/pkg/pubsub"
	"github.com/google/uuid"
)

const (
	EventDiscrepancyDetected = "order.discrepancy_detected"
	aggregateOrder           = "fulfillment_order"
	envelopeVersion          = 1
)

// Discrepancy is a newly detected difference between the two platforms.
type Discrepancy struct {
	OrderID     string                    `json:"orderId"`
	OrderNumber string                    `json:"orderNumber"`
	Changes     []reconcile.ItemDiffEntry `json:"changes"`
	Tagged      bool                      `json:"tagged"`
	DetectedAt  time.Time                 `json:"detectedAt"`
}

// Notifier is told about discrepancies that were not already known.
type Notifier interface {
	NotifyDiscrepancy(ctx context.Context, d Discrepancy) error
}

type eventEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// PubSubNotifier publishes discrepancies to a Pub/Sub topic.
type PubSubNotifier struct {
	publisher pubsub.MessagePublisher
	newID     func() string
}

func NewPubSubNotifier(publisher pubsub.MessagePublisher) (*PubSubNotifier, error) {
	if publisher == nil {
		return nil, errors.New("publisher required")
	}
	return &PubSubNotifier{publisher: publisher, newID: uuid.NewString}, nil
}

func (n *PubSubNotifier) NotifyDiscrepancy(ctx context.Context, d Discrepancy) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal discrepancy: %w", err)
	}
	eventID := n.newID()
	payload, err := json.Marshal(eventEnvelope{
		Version:    envelopeVersion,
		EventID:    eventID,
		OccurredAt: d.DetectedAt.UTC(),
		Data:       data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	attrs := map[string]string{
		"event_id":       eventID,
		"event_type":     EventDiscrepancyDetected,
		"aggregate_type": aggregateOrder,
		"aggregate_id":   d.OrderID,
		"created_at":     d.DetectedAt.UTC().Format(time.RFC3339Nano),
	}
	if _, err := n.publisher.Publish(ctx, payload, attrs); err != nil {
		return fmt.Errorf("publish discrepancy for order %s: %w", d.OrderID, err)
	}
	return nil
}
