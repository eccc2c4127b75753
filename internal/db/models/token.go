package models

import "time"

// UserToken stores one encrypted token pair per user and external service.
// AccessToken and RefreshToken hold ciphertext only; ExpiresAt is set
// whenever AccessToken is set.
type UserToken struct {
	ID           uint   `gorm:"primaryKey"`
	OwnerID      int64  `gorm:"uniqueIndex:idx_owner_service"`
	Service      string `gorm:"uniqueIndex:idx_owner_service"` // e.g. "gymstat"
	AccessToken  string
	RefreshToken string // empty when the authority issued none
	ExpiresAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
