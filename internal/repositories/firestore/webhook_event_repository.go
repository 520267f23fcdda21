package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/swiftcart/api/internal/domain"
	pfirestore "github.com/swiftcart/api/internal/platform/firestore"
	"github.com/swiftcart/api/internal/repositories"
)

const webhookEventCollection = "webhookEvents"

// WebhookEventRepository records processed gateway events. The document ID is
// derived from (provider, eventId) so a duplicate delivery maps onto the same
// document and the create fails with already-exists.
type WebhookEventRepository struct {
	base *pfirestore.BaseRepository[webhookEventDocument]
}

// NewWebhookEventRepository constructs a Firestore-backed webhook event log.
func NewWebhookEventRepository(provider *pfirestore.Provider) (*WebhookEventRepository, error) {
	if provider == nil {
		return nil, errors.New("webhook event repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[webhookEventDocument](provider, webhookEventCollection, nil, nil)
	return &WebhookEventRepository{base: base}, nil
}

// Record stores the event and reports whether it was seen for the first time.
// A duplicate (provider, eventId) pair returns false with no error.
func (r *WebhookEventRepository) Record(ctx context.Context, event domain.WebhookEvent) (bool, error) {
	if r == nil || r.base == nil {
		return false, errors.New("webhook event repository not initialised")
	}

	id, err := webhookEventDocID(event.Provider, event.EventID)
	if err != nil {
		return false, err
	}

	receivedAt := event.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return false, err
	}
	_, err = ref.Create(ctx, webhookEventDocument{
		Provider:   strings.TrimSpace(event.Provider),
		EventID:    strings.TrimSpace(event.EventID),
		OrderID:    strings.TrimSpace(event.OrderID),
		ReceivedAt: receivedAt,
	})
	if err != nil {
		wrapped := pfirestore.WrapError("webhookEvents.record", err)
		var repoErr repositories.RepositoryError
		if errors.As(wrapped, &repoErr) && repoErr.IsConflict() {
			return false, nil
		}
		return false, wrapped
	}
	return true, nil
}

// Find loads a recorded event.
func (r *WebhookEventRepository) Find(ctx context.Context, provider string, eventID string) (domain.WebhookEvent, error) {
	if r == nil || r.base == nil {
		return domain.WebhookEvent{}, errors.New("webhook event repository not initialised")
	}

	id, err := webhookEventDocID(provider, eventID)
	if err != nil {
		return domain.WebhookEvent{}, err
	}

	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.WebhookEvent{}, err
	}
	return domain.WebhookEvent{
		Provider:   doc.Data.Provider,
		EventID:    doc.Data.EventID,
		OrderID:    doc.Data.OrderID,
		ReceivedAt: doc.Data.ReceivedAt,
	}, nil
}

func webhookEventDocID(provider string, eventID string) (string, error) {
	p := strings.TrimSpace(provider)
	e := strings.TrimSpace(eventID)
	if p == "" || e == "" {
		return "", errors.New("webhook event repository: provider and event id are required")
	}
	// Firestore document IDs must not contain slashes.
	e = strings.ReplaceAll(e, "/", "_")
	return fmt.Sprintf("%s__%s", p, e), nil
}

type webhookEventDocument struct {
	Provider   string    `firestore:"provider"`
	EventID    string    `firestore:"eventId"`
	OrderID    string    `firestore:"orderId,omitempty"`
	ReceivedAt time.Time `firestore:"receivedAt"`
}

var _ repositories.WebhookEventRepository = (*WebhookEventRepository)(nil)
