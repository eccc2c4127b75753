package gymstat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gymstat/coach-bot/internal/errs"
)

func TestLogin_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/auth/login" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["login"] != "user@example.com" || body["password"] != "hunter22" {
			t.Errorf("unexpected credentials: %v", body)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "acc",
			"refresh_token": "ref",
			"expires_in":    1800,
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	pair, err := c.Login(context.Background(), "user@example.com", "hunter22")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.AccessToken != "acc" || pair.RefreshToken != "ref" || pair.ExpiresIn != 1800 {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestLogin_DefaultExpiry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"access_token": "acc"})
	}))
	defer srv.Close()

	pair, err := NewClient(srv.URL, time.Second).Login(context.Background(), "u", "p")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if pair.ExpiresIn != 3600 {
		t.Fatalf("expected default expiry 3600, got %d", pair.ExpiresIn)
	}
}

func TestLogin_WrongCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Login(context.Background(), "u", "bad")
	if !errors.Is(err, errs.ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}
}

func TestRefresh_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/users/refresh" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["refresh_token"] != "ref-1" {
			t.Errorf("unexpected refresh token %q", body["refresh_token"])
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "acc-2",
			"expires_in":   900,
		})
	}))
	defer srv.Close()

	access, refresh, expiresIn, err := NewClient(srv.URL, time.Second).Refresh(context.Background(), "ref-1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if access != "acc-2" || refresh != "" || expiresIn != 900 {
		t.Fatalf("unexpected result: %q %q %d", access, refresh, expiresIn)
	}
}

func TestRefresh_RejectedMapsToNotAuthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "expired", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, _, _, err := NewClient(srv.URL, time.Second).Refresh(context.Background(), "ref-1")
	if !errors.Is(err, errs.ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestGetProfile_SendsBearer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("Authorization = %q", got)
		}
		json.NewEncoder(w).Encode(Profile{Name: "Ivan", Age: 30, Weight: 82.5, Gender: "male"})
	}))
	defer srv.Close()

	p, err := NewClient(srv.URL, time.Second).GetProfile(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	block := p.PromptBlock()
	for _, want := range []string{"Name: Ivan", "Age: 30", "Weight: 82.5", "Gender: male"} {
		if !strings.Contains(block, want) {
			t.Errorf("prompt block missing %q:\n%s", want, block)
		}
	}
	if strings.Contains(block, "Height") {
		t.Errorf("unset height should be skipped:\n%s", block)
	}
}

func TestRegister_Conflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	err := NewClient(srv.URL, time.Second).Register(context.Background(), RegisterRequest{
		Login: "ivan", Email: "a@b.cc", Password: "secretpw",
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}
}

func TestTrainings_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, time.Second).Trainings(context.Background(), "tok", nil)
	if !errors.Is(err, errs.ErrTransient) {
		t.Fatalf("expected ErrTransient, got %v", err)
	}
}
