package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/swiftcart/api/internal/services"
)

// PubSubShipmentPublisher publishes shipment retry jobs to a Pub/Sub topic.
// A worker subscription drains the topic and calls the shipment service's
// EnsureShipment, which makes redelivered messages harmless.
type PubSubShipmentPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

// NewPubSubShipmentPublisher constructs a Pub/Sub backed shipment retry publisher.
func NewPubSubShipmentPublisher(topic *pubsub.Topic) (*PubSubShipmentPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub shipment publisher: topic is required")
	}
	return &PubSubShipmentPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishShipmentRetry enqueues a shipment booking retry on the configured topic.
func (p *PubSubShipmentPublisher) PublishShipmentRetry(ctx context.Context, job services.ShipmentRetryJob) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub shipment publisher: not initialised")
	}
	if strings.TrimSpace(job.OrderID) == "" {
		return errors.New("pubsub shipment publisher: order id is required")
	}

	data, err := p.marshal(job)
	if err != nil {
		return fmt.Errorf("marshal shipment retry job: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "orderId", job.OrderID)
	setAttr(attrs, "attempt", strconv.Itoa(job.Attempt))

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})

	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish shipment retry job: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}

var _ services.ShipmentJobPublisher = (*PubSubShipmentPublisher)(nil)
