package pubsub

import (
	"context"
	"errors"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
)

func TestTopicResourceName(t *testing.T) {
	c := &Client{projectID: "ops-prod"}
	if got := c.topicResourceName("order-discrepancies"); got != "projects/ops-prod/topics/order-discrepancies" {
		t.Fatalf("unexpected topic name %s", got)
	}
	full := "projects/other/topics/x"
	if got := c.topicResourceName(full); got != full {
		t.Fatalf("full resource names should pass through, got %s", got)
	}
	if got := c.topicResourceName("  "); got != "" {
		t.Fatalf("blank names resolve to empty, got %s", got)
	}
	if got := (&Client{}).topicResourceName("t"); got != "" {
		t.Fatalf("missing project should resolve to empty, got %s", got)
	}
}

func TestNilClientHelpers(t *testing.T) {
	var c *Client
	if c.Publisher("t") != nil {
		t.Fatal("nil client should not return a publisher")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error on nil client")
	}
}

type fakeResult struct {
	id  string
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return r.id, r.err }

type fakeRaw struct {
	last *pubsub.Message
	res  publishResult
}

func (f *fakeRaw) Publish(_ context.Context, msg *pubsub.Message) publishResult {
	f.last = msg
	return f.res
}

func TestTopicPublisherPublish(t *testing.T) {
	raw := &fakeRaw{res: fakeResult{id: "msg-1"}}
	pub := &TopicPublisher{pub: raw}

	id, err := pub.Publish(context.Background(), []byte(`{"orderId":"1"}`), map[string]string{"event_type": "order.discrepancy"})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if id != "msg-1" {
		t.Fatalf("unexpected id %s", id)
	}
	if raw.last.Attributes["event_type"] != "order.discrepancy" {
		t.Fatalf("attributes not forwarded")
	}

	raw.res = fakeResult{err: errors.New("unavailable")}
	if _, err := pub.Publish(context.Background(), nil, nil); err == nil {
		t.Fatal("expected publish error")
	}

	var nilPub *TopicPublisher
	if _, err := nilPub.Publish(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error from nil publisher")
	}
	if NewTopicPublisher(nil) != nil {
		t.Fatal("expected nil wrapper for nil publisher")
	}
}
