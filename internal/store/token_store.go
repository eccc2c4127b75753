// Package store persists one encrypted token record per (owner, service)
// pair. It performs no network calls and no cryptography; callers hand it
// ciphertext and get ciphertext back.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/gymstat/coach-bot/internal/db/models"
	"github.com/gymstat/coach-bot/internal/errs"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the persisted token state for one (owner, service) pair.
// Token fields hold ciphertext.
type Record struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
}

// TokenStore reads and writes token records. Each operation touches exactly
// one record; the unique (owner_id, service) index keeps writes atomic per
// key with no partial state observable.
type TokenStore struct {
	db *gorm.DB
}

func New(db *gorm.DB) *TokenStore {
	return &TokenStore{db: db}
}

// Get returns the record for (ownerID, service), or nil when absent.
func (s *TokenStore) Get(ownerID int64, service string) (*Record, error) {
	var row models.UserToken
	err := s.db.Where("owner_id = ? AND service = ?", ownerID, service).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read token record: %v", errs.ErrPersistence, err)
	}
	return &Record{
		AccessToken:  row.AccessToken,
		RefreshToken: row.RefreshToken,
		ExpiresAt:    row.ExpiresAt,
	}, nil
}

// Put upserts the record for (ownerID, service) in a single statement.
func (s *TokenStore) Put(ownerID int64, service string, rec Record) error {
	row := models.UserToken{
		OwnerID:      ownerID,
		Service:      service,
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		ExpiresAt:    rec.ExpiresAt,
	}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "owner_id"}, {Name: "service"}},
		DoUpdates: clause.AssignmentColumns([]string{"access_token", "refresh_token", "expires_at", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("%w: save token record: %v", errs.ErrPersistence, err)
	}
	return nil
}

// Clear removes the record for (ownerID, service). Clearing is always scoped
// to the single pair; no operation here touches another service's tokens.
func (s *TokenStore) Clear(ownerID int64, service string) error {
	err := s.db.Where("owner_id = ? AND service = ?", ownerID, service).
		Delete(&models.UserToken{}).Error
	if err != nil {
		return fmt.Errorf("%w: clear token record: %v", errs.ErrPersistence, err)
	}
	return nil
}
