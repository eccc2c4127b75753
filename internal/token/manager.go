// Package token returns currently valid access tokens for external services,
// refreshing them near expiry. Every failure path fails closed: a token the
// caller cannot trust is never returned, and the stored record is cleared so
// the user is asked to log in again.
package token

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gymstat/coach-bot/internal/errs"
	"github.com/gymstat/coach-bot/internal/secret"
	"github.com/gymstat/coach-bot/internal/store"
	"github.com/gymstat/coach-bot/internal/util"
	"golang.org/x/sync/singleflight"
)

// RefreshMargin is how early before expiry a token is considered stale.
const RefreshMargin = 300 * time.Second

// Refresher exchanges a refresh token for a new token pair at the remote
// authority. expiresIn is the new lifetime in seconds; refresh may be empty
// when the authority did not rotate it.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, expiresIn int, err error)
}

// Manager is the token lifecycle manager for per-user service tokens.
// Concurrent callers for the same (owner, service) pair collapse into one
// in-flight lookup/refresh instead of racing the remote authority.
type Manager struct {
	store     *store.TokenStore
	cipher    *secret.Cipher
	refresher Refresher
	group     singleflight.Group

	now func() time.Time // test hook
}

func NewManager(st *store.TokenStore, cipher *secret.Cipher, refresher Refresher) *Manager {
	return &Manager{
		store:     st,
		cipher:    cipher,
		refresher: refresher,
		now:       time.Now,
	}
}

// GetValidToken returns a plaintext access token for (ownerID, service).
// A missing or unrecoverable record yields errs.ErrNotAuthorized; the caller
// must force re-authentication.
func (m *Manager) GetValidToken(ctx context.Context, ownerID int64, service string) (string, error) {
	key := fmt.Sprintf("%d:%s", ownerID, service)
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		return m.getValidToken(ctx, ownerID, service)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (m *Manager) getValidToken(ctx context.Context, ownerID int64, service string) (string, error) {
	rec, err := m.store.Get(ownerID, service)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", errs.ErrNotAuthorized
	}
	if rec.AccessToken == "" || rec.ExpiresAt == nil {
		// Broken record, can't be trusted.
		return "", m.clear(ownerID, service, "record missing token or expiry")
	}

	if m.now().Before(rec.ExpiresAt.Add(-RefreshMargin)) {
		access, err := m.cipher.Decrypt(rec.AccessToken)
		if err != nil || access == "" {
			return "", m.clear(ownerID, service, "stored access token is unreadable")
		}
		return access, nil
	}

	// Near or past expiry: a refresh token is required from here on.
	if rec.RefreshToken == "" {
		return "", m.clear(ownerID, service, "no refresh token")
	}
	refresh, err := m.cipher.Decrypt(rec.RefreshToken)
	if err != nil || refresh == "" {
		return "", m.clear(ownerID, service, "stored refresh token is unreadable")
	}

	log.Printf("token: refreshing %s token for owner %d", service, ownerID)
	access, newRefresh, expiresIn, err := m.refresher.Refresh(ctx, refresh)
	if err != nil {
		log.Printf("token: refresh failed for owner %d: %v", ownerID, err)
		return "", m.clear(ownerID, service, "authority rejected the refresh")
	}
	if access == "" {
		return "", m.clear(ownerID, service, "refresh response carried no access token")
	}
	if expiresIn <= 0 {
		expiresIn = 3600
	}

	accessEnc, err := m.cipher.Encrypt(access)
	if err != nil {
		return "", m.clear(ownerID, service, "could not encrypt refreshed token")
	}
	refreshEnc := rec.RefreshToken // carried forward unchanged when not rotated
	if newRefresh != "" {
		if refreshEnc, err = m.cipher.Encrypt(newRefresh); err != nil {
			return "", m.clear(ownerID, service, "could not encrypt rotated refresh token")
		}
	}

	expiresAt := m.now().Add(time.Duration(expiresIn) * time.Second)
	if err := m.store.Put(ownerID, service, store.Record{
		AccessToken:  accessEnc,
		RefreshToken: refreshEnc,
		ExpiresAt:    &expiresAt,
	}); err != nil {
		return "", err
	}
	log.Printf("token: refreshed %s token for owner %d (%s, expires %s)",
		service, ownerID, util.MaskToken(access), expiresAt.UTC().Format(time.RFC3339))
	return access, nil
}

// clear drops the record for exactly this (owner, service) pair and reports
// that re-authentication is required. Storage failures during the clear win
// over the auth error so they are not silently swallowed.
func (m *Manager) clear(ownerID int64, service, reason string) error {
	log.Printf("token: clearing %s record for owner %d: %s", service, ownerID, reason)
	if err := m.store.Clear(ownerID, service); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", errs.ErrNotAuthorized, reason)
}
