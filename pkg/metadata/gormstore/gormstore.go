// Package gormstore keeps identity metadata in the user_metadata table.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/identity"
)

// UserMetadata is a row of user_metadata.
type UserMetadata struct {
	SubjectID      string `gorm:"primaryKey"`
	Metadata       []byte `gorm:"type:jsonb"`
	ExistsRemotely bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (UserMetadata) TableName() string {
	return "user_metadata"
}

const upsertSQL = `INSERT INTO user_metadata (subject_id, metadata, exists_remotely, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (subject_id) DO UPDATE SET
  metadata = user_metadata.metadata || EXCLUDED.metadata,
  exists_remotely = user_metadata.exists_remotely OR EXCLUDED.exists_remotely,
  updated_at = EXCLUDED.updated_at`

// Store implements metadata.Store with gorm.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// New creates a Store on db.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Get(ctx context.Context, subjectID string) (map[string]any, error) {
	var row UserMetadata
	err := s.db.WithContext(ctx).Where("subject_id = ?", subjectID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load metadata: %w", err)
	}

	md := map[string]any{}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &md); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	if row.ExistsRemotely {
		md[identity.ExistsRemotelyKey] = true
	}
	return md, nil
}

// Update merges patch in one statement, so concurrent updates of different
// keys do not overwrite each other.
func (s *Store) Update(ctx context.Context, subjectID string, patch map[string]any) error {
	encoded, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	existsRemotely, _ := patch[identity.ExistsRemotelyKey].(bool)
	now := s.now().UTC()

	err = s.db.WithContext(ctx).Exec(upsertSQL, subjectID, encoded, existsRemotely, now, now).Error
	if err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}
	return nil
}

// Provisioned lists identities flagged as existing remotely, most recent
// first.
func (s *Store) Provisioned(ctx context.Context, limit int) ([]UserMetadata, error) {
	var rows []UserMetadata
	err := s.db.WithContext(ctx).
		Where("exists_remotely = ?", true).
		Order("updated_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
