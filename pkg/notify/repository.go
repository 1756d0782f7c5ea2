package notify

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/pitabwire/frame/datastore/pool"

	"github.com/dialogforge/dialogforge/pkg/events"
)

// Repository provides CRUD operations for notification models.
type Repository struct {
	pool pool.Pool
}

// NewRepository creates a notification repository.
func NewRepository(pool pool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) db(ctx context.Context, readOnly bool) *gorm.DB {
	return r.pool.DB(ctx, readOnly)
}

// CreateEndpoint persists a new endpoint.
func (r *Repository) CreateEndpoint(ctx context.Context, ep *Endpoint) error {
	return r.db(ctx, false).Create(ep).Error
}

// GetByID returns an endpoint by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*Endpoint, error) {
	var ep Endpoint
	err := r.db(ctx, true).Where("id = ?", id).First(&ep).Error
	if err != nil {
		return nil, err
	}
	return &ep, nil
}

// ListActive returns all active endpoints.
func (r *Repository) ListActive(ctx context.Context) ([]Endpoint, error) {
	var endpoints []Endpoint
	err := r.db(ctx, true).Where("is_active = ?", true).Find(&endpoints).Error
	return endpoints, err
}

// ListByEventType returns active endpoints subscribed to the given event type.
func (r *Repository) ListByEventType(ctx context.Context, et events.EventType) ([]Endpoint, error) {
	var endpoints []Endpoint
	// JSONB containment keeps the filter in the database.
	err := r.db(ctx, true).
		Where("is_active = ? AND event_types @> ?", true, fmt.Sprintf(`[%q]`, et)).
		Find(&endpoints).Error
	return endpoints, err
}

// ListAll returns every endpoint, for admin listing.
func (r *Repository) ListAll(ctx context.Context) ([]Endpoint, error) {
	var endpoints []Endpoint
	err := r.db(ctx, true).Find(&endpoints).Error
	return endpoints, err
}

// Update persists changes to an endpoint.
func (r *Repository) Update(ctx context.Context, ep *Endpoint) error {
	return r.db(ctx, false).Save(ep).Error
}

// Delete soft-deletes an endpoint.
func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.db(ctx, false).Where("id = ?", id).Delete(&Endpoint{}).Error
}

// RecordDelivery persists a delivery attempt.
func (r *Repository) RecordDelivery(ctx context.Context, da *DeliveryAttempt) error {
	return r.db(ctx, false).Create(da).Error
}

// ListDeliveries returns delivery attempts for an endpoint, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, endpointID string, limit, offset int) ([]DeliveryAttempt, error) {
	var attempts []DeliveryAttempt
	q := r.db(ctx, true).
		Where("endpoint_id = ?", endpointID).
		Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	err := q.Find(&attempts).Error
	return attempts, err
}

// CreateDeadLetter persists a dead-lettered event.
func (r *Repository) CreateDeadLetter(ctx context.Context, dl *DeadLetter) error {
	return r.db(ctx, false).Create(dl).Error
}

// ListDeadLetters returns replayable dead letters for an endpoint.
func (r *Repository) ListDeadLetters(ctx context.Context, endpointID string) ([]DeadLetter, error) {
	var letters []DeadLetter
	err := r.db(ctx, true).
		Where("endpoint_id = ? AND replayable = ?", endpointID, true).
		Order("created_at DESC").
		Find(&letters).Error
	return letters, err
}

// MarkDeadLetterReplayed marks a dead letter as no longer replayable.
func (r *Repository) MarkDeadLetterReplayed(ctx context.Context, id string) error {
	return r.db(ctx, false).
		Model(&DeadLetter{}).
		Where("id = ?", id).
		Update("replayable", false).Error
}
