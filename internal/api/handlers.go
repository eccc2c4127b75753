package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gymstat/coach-bot/internal/chunk"
	"github.com/gymstat/coach-bot/internal/gateway"
	"github.com/gymstat/coach-bot/internal/gymstat"
	"github.com/gymstat/coach-bot/internal/logging"
	"github.com/gymstat/coach-bot/internal/secret"
	"github.com/gymstat/coach-bot/internal/session"
	"github.com/gymstat/coach-bot/internal/store"
	"github.com/gymstat/coach-bot/internal/version"
)

// Fitness is the slice of the gym-stat client the handlers need.
type Fitness interface {
	Register(ctx context.Context, reg gymstat.RegisterRequest) error
	Login(ctx context.Context, login, password string) (*gymstat.TokenPair, error)
	GetProfile(ctx context.Context, token string) (*gymstat.Profile, error)
	UpdateProfile(ctx context.Context, token string, fields map[string]interface{}) error
	Trainings(ctx context.Context, token string, params url.Values) (json.RawMessage, error)
	WeightData(ctx context.Context, token string, params url.Values) (json.RawMessage, error)
	CreateWeightEntry(ctx context.Context, token string, entry map[string]interface{}) error
}

// TokenWriter persists and clears encrypted token records.
type TokenWriter interface {
	Put(ownerID int64, service string, rec store.Record) error
	Clear(ownerID int64, service string) error
}

// Sessions is the conversation manager surface used by the handlers.
type Sessions interface {
	Start(ctx context.Context, ownerID int64, provider gateway.Provider) error
	Message(ctx context.Context, ownerID int64, text string) (string, error)
	End(ownerID int64) error
	Status(ownerID int64) (session.State, gateway.Provider)
}

// Deps wires the handlers to the rest of the service.
type Deps struct {
	Fitness      Fitness
	Tokens       gymstat.TokenSource
	TokenWriter  TokenWriter
	Cipher       *secret.Cipher
	Sessions     Sessions
	MessageLimit int
}

// Router builds the full route tree.
func Router(d Deps) chi.Router {
	r := chi.NewRouter()
	r.Use(logging.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", HealthHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/register", RegisterHandler(d.Fitness))
		r.Post("/auth/login", LoginHandler(d.Fitness, d.Cipher, d.TokenWriter))
		r.Post("/auth/logout", LogoutHandler(d.TokenWriter))

		r.Route("/sessions/{ownerID}", func(r chi.Router) {
			r.Post("/start", StartSessionHandler(d.Sessions))
			r.Post("/messages", MessageHandler(d.Sessions, d.MessageLimit))
			r.Get("/", SessionStatusHandler(d.Sessions))
			r.Delete("/", EndSessionHandler(d.Sessions))
		})

		r.Route("/users/{ownerID}", func(r chi.Router) {
			r.Get("/profile", ProfileHandler(d.Tokens, d.Fitness))
			r.Patch("/profile", UpdateProfileHandler(d.Tokens, d.Fitness))
			r.Get("/trainings", TrainingsHandler(d.Tokens, d.Fitness))
			r.Get("/weight", WeightHistoryHandler(d.Tokens, d.Fitness))
			r.Post("/weight", CreateWeightHandler(d.Tokens, d.Fitness))
		})
	})
	return r
}

// HealthHandler reports liveness and the build version.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	}
}

// RegisterHandler creates a gym-stat account.
func RegisterHandler(fitness Fitness) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var reg gymstat.RegisterRequest
		if !decodeBody(w, r, &reg) {
			return
		}
		if reg.Login == "" || reg.Email == "" || reg.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "login, email and password are required"})
			return
		}
		if err := fitness.Register(r.Context(), reg); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "registered"})
	}
}

type loginRequest struct {
	OwnerID  int64  `json:"owner_id"`
	Login    string `json:"login"`
	Password string `json:"password"`
}

// LoginHandler authenticates against gym-stat and persists the encrypted
// token pair for the owner. Credentials pass through; only ciphertext is
// stored.
func LoginHandler(fitness Fitness, cipher *secret.Cipher, tokens TokenWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.OwnerID == 0 || req.Login == "" || req.Password == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id, login and password are required"})
			return
		}

		pair, err := fitness.Login(r.Context(), req.Login, req.Password)
		if err != nil {
			writeError(w, r, err)
			return
		}

		accessEnc, err := cipher.Encrypt(pair.AccessToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		refreshEnc, err := cipher.Encrypt(pair.RefreshToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		expiresAt := time.Now().Add(time.Duration(pair.ExpiresIn) * time.Second)
		if err := tokens.Put(req.OwnerID, gymstat.Service, store.Record{
			AccessToken:  accessEnc,
			RefreshToken: refreshEnc,
			ExpiresAt:    &expiresAt,
		}); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged in"})
	}
}

type logoutRequest struct {
	OwnerID int64 `json:"owner_id"`
}

// LogoutHandler drops the stored token record for the owner.
func LogoutHandler(tokens TokenWriter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req logoutRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.OwnerID == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "owner_id is required"})
			return
		}
		if err := tokens.Clear(req.OwnerID, gymstat.Service); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

type startRequest struct {
	Provider string `json:"provider"`
}

// StartSessionHandler opens a conversation with the chosen provider.
func StartSessionHandler(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerParam(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid owner id"})
			return
		}
		var req startRequest
		if !decodeBody(w, r, &req) {
			return
		}
		provider, err := gateway.ParseProvider(req.Provider)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown provider"})
			return
		}
		if err := sessions.Start(r.Context(), ownerID, provider); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "started"})
	}
}

type messageRequest struct {
	Text string `json:"text"`
}

// MessageHandler relays one user message into the conversation and returns
// the reply pre-split into transport-sized segments.
func MessageHandler(sessions Sessions, limit int) http.HandlerFunc {
	if limit < 1 {
		limit = chunk.TransportLimit
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerParam(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid owner id"})
			return
		}
		var req messageRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.Text == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
			return
		}
		reply, err := sessions.Message(r.Context(), ownerID, req.Text)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"segments": chunk.Split(reply, limit),
		})
	}
}

// SessionStatusHandler reports the conversation state for an owner.
func SessionStatusHandler(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerParam(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid owner id"})
			return
		}
		state, provider := sessions.Status(ownerID)
		writeJSON(w, http.StatusOK, map[string]string{
			"state":    state.String(),
			"provider": string(provider),
		})
	}
}

// EndSessionHandler closes the conversation.
func EndSessionHandler(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerParam(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid owner id"})
			return
		}
		if err := sessions.End(ownerID); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ended"})
	}
}

// withToken resolves a valid access token for the owner before running fn.
func withToken(tokens gymstat.TokenSource, fn func(w http.ResponseWriter, r *http.Request, token string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := ownerParam(r)
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid owner id"})
			return
		}
		tok, err := tokens.GetValidToken(r.Context(), ownerID, gymstat.Service)
		if err != nil {
			writeError(w, r, err)
			return
		}
		fn(w, r, tok)
	}
}

// ProfileHandler returns the gym-stat profile.
func ProfileHandler(tokens gymstat.TokenSource, fitness Fitness) http.HandlerFunc {
	return withToken(tokens, func(w http.ResponseWriter, r *http.Request, tok string) {
		profile, err := fitness.GetProfile(r.Context(), tok)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	})
}

// UpdateProfileHandler patches profile fields.
func UpdateProfileHandler(tokens gymstat.TokenSource, fitness Fitness) http.HandlerFunc {
	return withToken(tokens, func(w http.ResponseWriter, r *http.Request, tok string) {
		var fields map[string]interface{}
		if !decodeBody(w, r, &fields) {
			return
		}
		if err := fitness.UpdateProfile(r.Context(), tok, fields); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	})
}

// TrainingsHandler proxies the training list.
func TrainingsHandler(tokens gymstat.TokenSource, fitness Fitness) http.HandlerFunc {
	return withToken(tokens, func(w http.ResponseWriter, r *http.Request, tok string) {
		raw, err := fitness.Trainings(r.Context(), tok, r.URL.Query())
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	})
}

// WeightHistoryHandler proxies the weighing history.
func WeightHistoryHandler(tokens gymstat.TokenSource, fitness Fitness) http.HandlerFunc {
	return withToken(tokens, func(w http.ResponseWriter, r *http.Request, tok string) {
		raw, err := fitness.WeightData(r.Context(), tok, r.URL.Query())
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(raw)
	})
}

// CreateWeightHandler records a new weighing.
func CreateWeightHandler(tokens gymstat.TokenSource, fitness Fitness) http.HandlerFunc {
	return withToken(tokens, func(w http.ResponseWriter, r *http.Request, tok string) {
		var entry map[string]interface{}
		if !decodeBody(w, r, &entry) {
			return
		}
		if err := fitness.CreateWeightEntry(r.Context(), tok, entry); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"status": "recorded"})
	})
}
