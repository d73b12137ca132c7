package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"attendance-punch/internal/credential"
	"attendance-punch/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CredentialStore persists the credential bundle.
type CredentialStore interface {
	LoadCredentials(ctx context.Context) (credential.Set, error)
	SaveCredentials(ctx context.Context, set credential.Set) error
	SetCredential(ctx context.Context, name, value string) error
}

// PunchLog records submission outcomes.
type PunchLog interface {
	RecordPunch(ctx context.Context, rec *model.PunchRecord) error
	RecentPunches(ctx context.Context, limit int) ([]model.PunchRecord, error)
}

// SubscriptionStore manages push subscriptions for credential alerts.
type SubscriptionStore interface {
	UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error
	DeleteSubscription(ctx context.Context, endpoint string) error
	ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error)
}

// Store defines the interface for all database operations.
type Store interface {
	CredentialStore
	PunchLog
	SubscriptionStore
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// LoadCredentials returns every stored cookie. An empty store yields an
// empty, non-nil set.
func (s *gormStore) LoadCredentials(ctx context.Context) (credential.Set, error) {
	var rows []model.Credential
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}
	set := make(credential.Set, len(rows))
	for _, r := range rows {
		set[r.Name] = r.Value
	}
	return set, nil
}

// SaveCredentials replaces the stored bundle with set.
func (s *gormStore) SaveCredentials(ctx context.Context, set credential.Set) error {
	now := time.Now().UTC()
	rows := make([]model.Credential, 0, len(set))
	names := make([]string, 0, len(set))
	for name, value := range set {
		rows = append(rows, model.Credential{Name: name, Value: value, UpdatedAt: now})
		names = append(names, name)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		del := tx.Session(&gorm.Session{AllowGlobalUpdate: true})
		if len(names) > 0 {
			del = del.Where("name NOT IN ?", names)
		}
		if err := del.Delete(&model.Credential{}).Error; err != nil {
			return fmt.Errorf("failed to prune credentials: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		if err := upsertCredentials(tx, rows); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}
		return nil
	})
}

// SetCredential stores a single named cookie, leaving the others untouched.
func (s *gormStore) SetCredential(ctx context.Context, name, value string) error {
	row := []model.Credential{{Name: name, Value: value, UpdatedAt: time.Now().UTC()}}
	if err := upsertCredentials(s.db.WithContext(ctx), row); err != nil {
		return fmt.Errorf("failed to set credential %q: %w", name, err)
	}
	return nil
}

func upsertCredentials(tx *gorm.DB, rows []model.Credential) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rows).Error
}

// RecordPunch appends a submission outcome to the history.
func (s *gormStore) RecordPunch(ctx context.Context, rec *model.PunchRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("failed to record punch %s: %w", rec.SubmissionID, err)
	}
	return nil
}

// RecentPunches returns up to limit records, newest first.
func (s *gormStore) RecentPunches(ctx context.Context, limit int) ([]model.PunchRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var recs []model.PunchRecord
	if err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("failed to list punches: %w", err)
	}
	return recs, nil
}

// UpsertSubscription creates or replaces a subscription's keys.
func (s *gormStore) UpsertSubscription(ctx context.Context, sub *model.PushSubscription) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "endpoint"}},
		DoUpdates: clause.AssignmentColumns([]string{"p256dh", "auth"}),
	}).Create(sub).Error
}

// DeleteSubscription removes a subscription. Deleting an unknown endpoint
// returns ErrNotFound.
func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	res := s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint})
	if res.Error != nil {
		return fmt.Errorf("failed to delete subscription %s: %w", endpoint, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSubscriptions returns every stored subscription.
func (s *gormStore) ListSubscriptions(ctx context.Context) ([]model.PushSubscription, error) {
	var subs []model.PushSubscription
	if err := s.db.WithContext(ctx).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}
