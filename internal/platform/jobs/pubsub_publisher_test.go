package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/swiftcart/api/internal/services"
)

func TestPubSubShipmentPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "shipment-retries")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubShipmentPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubShipmentPublisher: %v", err)
	}

	job := services.ShipmentRetryJob{
		OrderID:  "ord_test",
		Attempt:  1,
		QueuedAt: time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if err := publisher.PublishShipmentRetry(ctx, job); err != nil {
		t.Fatalf("PublishShipmentRetry: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.ShipmentRetryJob
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != job.OrderID || payload.Attempt != job.Attempt {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if attr := messages[0].Attributes["orderId"]; attr != "ord_test" {
		t.Fatalf("expected orderId attribute, got %q", attr)
	}
}

func TestPubSubShipmentPublisherRequiresOrderID(t *testing.T) {
	publisher := &PubSubShipmentPublisher{topic: &pubsub.Topic{}, marshal: json.Marshal}
	if err := publisher.PublishShipmentRetry(context.Background(), services.ShipmentRetryJob{}); err == nil {
		t.Fatalf("expected error for missing order id")
	}
}
