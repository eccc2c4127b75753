package token

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gymstat/coach-bot/internal/db/models"
	"github.com/gymstat/coach-bot/internal/errs"
	"github.com/gymstat/coach-bot/internal/secret"
	"github.com/gymstat/coach-bot/internal/store"
	"gorm.io/gorm"
)

const testService = "gymstat"

type refreshFunc func(ctx context.Context, refreshToken string) (string, string, int, error)

func (f refreshFunc) Refresh(ctx context.Context, refreshToken string) (string, string, int, error) {
	return f(ctx, refreshToken)
}

type fixture struct {
	store   *store.TokenStore
	cipher  *secret.Cipher
	manager *Manager
	calls   *atomic.Int32
}

func newFixture(t *testing.T, refresh refreshFunc) *fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	if err := db.AutoMigrate(&models.UserToken{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	key, err := secret.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cipher, err := secret.NewCipher(key)
	if err != nil {
		t.Fatalf("new cipher: %v", err)
	}

	calls := &atomic.Int32{}
	counting := refreshFunc(func(ctx context.Context, rt string) (string, string, int, error) {
		calls.Add(1)
		if refresh == nil {
			return "", "", 0, errors.New("unexpected refresh call")
		}
		return refresh(ctx, rt)
	})

	st := store.New(db)
	return &fixture{
		store:   st,
		cipher:  cipher,
		manager: NewManager(st, cipher, counting),
		calls:   calls,
	}
}

func (f *fixture) seed(t *testing.T, owner int64, access, refresh string, expiresAt time.Time) {
	t.Helper()
	accessEnc, err := f.cipher.Encrypt(access)
	if err != nil {
		t.Fatalf("encrypt access: %v", err)
	}
	refreshEnc, err := f.cipher.Encrypt(refresh)
	if err != nil {
		t.Fatalf("encrypt refresh: %v", err)
	}
	if err := f.store.Put(owner, testService, store.Record{
		AccessToken:  accessEnc,
		RefreshToken: refreshEnc,
		ExpiresAt:    &expiresAt,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
}

func TestGetValidToken_AbsentRecord(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.GetValidToken(context.Background(), 42, testService)
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if n := f.calls.Load(); n != 0 {
		t.Fatalf("expected no refresh calls, got %d", n)
	}
}

func TestGetValidToken_FreshTokenNoNetwork(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 42, "access-1", "refresh-1", time.Now().Add(time.Hour))

	got, err := f.manager.GetValidToken(context.Background(), 42, testService)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "access-1" {
		t.Fatalf("expected stored token unchanged, got %q", got)
	}
	if n := f.calls.Load(); n != 0 {
		t.Fatalf("fresh token must not trigger refresh, got %d calls", n)
	}
}

func TestGetValidToken_RefreshOnExpiry(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (string, string, int, error) {
		if rt != "refresh-1" {
			t.Errorf("refresher got wrong token %q", rt)
		}
		return "access-2", "refresh-2", 7200, nil
	})
	f.seed(t, 42, "access-1", "refresh-1", time.Now().Add(time.Minute)) // inside the 300s margin

	got, err := f.manager.GetValidToken(context.Background(), 42, testService)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "access-2" {
		t.Fatalf("expected refreshed token, got %q", got)
	}
	if n := f.calls.Load(); n != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", n)
	}

	// New pair persisted, encrypted.
	rec, err := f.store.Get(42, testService)
	if err != nil || rec == nil {
		t.Fatalf("record after refresh: %+v, %v", rec, err)
	}
	if access, _ := f.cipher.Decrypt(rec.AccessToken); access != "access-2" {
		t.Fatalf("persisted access token = %q, want access-2", access)
	}
	if refresh, _ := f.cipher.Decrypt(rec.RefreshToken); refresh != "refresh-2" {
		t.Fatalf("persisted refresh token = %q, want refresh-2", refresh)
	}
	if rec.ExpiresAt == nil || time.Until(*rec.ExpiresAt) < 90*time.Minute {
		t.Fatalf("expected expiry ~2h out, got %v", rec.ExpiresAt)
	}
}

func TestGetValidToken_RefreshTokenCarriedForward(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (string, string, int, error) {
		return "access-2", "", 3600, nil // authority did not rotate
	})
	f.seed(t, 42, "access-1", "refresh-1", time.Now().Add(time.Minute))

	before, _ := f.store.Get(42, testService)

	if _, err := f.manager.GetValidToken(context.Background(), 42, testService); err != nil {
		t.Fatalf("get: %v", err)
	}

	after, _ := f.store.Get(42, testService)
	if after.RefreshToken != before.RefreshToken {
		t.Fatal("refresh token ciphertext should be carried forward unchanged")
	}
}

func TestGetValidToken_RefreshRejectedClearsRecord(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, rt string) (string, string, int, error) {
		return "", "", 0, fmt.Errorf("%w: refresh rejected (401)", errs.ErrNotAuthorized)
	})
	f.seed(t, 42, "access-1", "refresh-1", time.Now().Add(time.Minute))

	_, err := f.manager.GetValidToken(context.Background(), 42, testService)
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if rec, _ := f.store.Get(42, testService); rec != nil {
		t.Fatal("record should be cleared after a rejected refresh")
	}
}

func TestGetValidToken_MissingRefreshTokenClearsRecord(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 42, "access-1", "", time.Now().Add(time.Minute))

	_, err := f.manager.GetValidToken(context.Background(), 42, testService)
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if rec, _ := f.store.Get(42, testService); rec != nil {
		t.Fatal("record should be cleared when no refresh token exists")
	}
	if n := f.calls.Load(); n != 0 {
		t.Fatalf("expected no refresh calls, got %d", n)
	}
}

func TestGetValidToken_SingleFlight(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, func(ctx context.Context, rt string) (string, string, int, error) {
		<-release
		return "access-2", "refresh-2", 3600, nil
	})
	f.seed(t, 42, "access-1", "refresh-1", time.Now().Add(time.Minute))

	var wg sync.WaitGroup
	results := make([]string, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := f.manager.GetValidToken(context.Background(), 42, testService)
			if err != nil {
				t.Errorf("concurrent get %d: %v", i, err)
			}
			results[i] = tok
		}(i)
	}

	// Let both goroutines reach the manager before the refresh completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := f.calls.Load(); n != 1 {
		t.Fatalf("expected exactly one outbound refresh, got %d", n)
	}
	if results[0] != "access-2" || results[1] != "access-2" {
		t.Fatalf("both callers should see the refreshed token, got %v", results)
	}
}
