package models

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirrorRecord is implemented by every mirror entity.
// Fillable returns the mutable columns; id, is_active and last_sync_at are owned by the sync.
type MirrorRecord interface {
	GetId() string
	Fillable() map[string]interface{}
}

// MirrorStore is the gorm-backed mirror: upsert-by-id and id-set lookup, nothing else.
type MirrorStore struct {
	db *gorm.DB
}

func NewMirrorStore(db *gorm.DB) *MirrorStore {
	return &MirrorStore{db: db}
}

func modelFor(entityType EntityType) (interface{}, error) {
	switch entityType {
	case EntityTypeParty:
		return &Party{}, nil
	case EntityTypeUser:
		return &User{}, nil
	case EntityTypeOrder:
		return &Order{}, nil
	case EntityTypeTask:
		return &Task{}, nil
	case EntityTypeTimeEntry:
		return &TimeEntry{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityType)
	}
}

// Upsert inserts createFields for id, or applies updateFields when the row already exists.
// A single INSERT ... ON DUPLICATE KEY UPDATE statement, so each record commits atomically.
func (s *MirrorStore) Upsert(ctx context.Context, entityType EntityType, id string, createFields map[string]interface{}, updateFields map[string]interface{}) error {
	tx, err := s.upsert(ctx, entityType, id, createFields, updateFields)
	if err != nil {
		return err
	}
	return tx.Error
}

func (s *MirrorStore) upsert(ctx context.Context, entityType EntityType, id string, createFields map[string]interface{}, updateFields map[string]interface{}) (*gorm.DB, error) {
	model, err := modelFor(entityType)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("upsert %s: empty id", entityType)
	}

	values := make(map[string]interface{}, len(createFields)+1)
	for k, v := range createFields {
		values[k] = v
	}
	values["id"] = id

	onConflict := clause.OnConflict{Columns: []clause.Column{{Name: "id"}}}
	if len(updateFields) > 0 {
		onConflict.DoUpdates = clause.Assignments(updateFields)
	} else {
		onConflict.DoNothing = true
	}

	return s.db.WithContext(ctx).
		Model(model).
		Clauses(onConflict).
		Create(values), nil
}

// KnownIds returns every id currently mirrored for entityType.
func (s *MirrorStore) KnownIds(ctx context.Context, entityType EntityType) (map[string]struct{}, error) {
	model, err := modelFor(entityType)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := s.db.WithContext(ctx).Model(model).Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	return known, nil
}
