package gateway

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gymstat/coach-bot/internal/errs"
	"github.com/gymstat/coach-bot/internal/util"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/singleflight"
)

// CredentialConfig describes the GigaChat OAuth bootstrap: a Basic-auth
// client-credentials exchange with a fixed scope. Every outbound call to the
// authority carries a unique RqUID correlation header.
type CredentialConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string
	Timeout      time.Duration
}

// CredentialCache owns the process-wide GigaChat bearer credential. The
// credential is shared across all users, held until the backend revokes it
// with a 401, and reacquired under a single-flight guard so that concurrent
// callers wait for one in-flight exchange instead of issuing their own.
type CredentialCache struct {
	cfg     *clientcredentials.Config
	baseCtx context.Context
	group   singleflight.Group

	mu         sync.Mutex
	source     oauth2.TokenSource
	lastToken  string
	obtainedAt time.Time
}

func NewCredentialCache(cfg CredentialConfig) *CredentialCache {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	conf := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{cfg.Scope},
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	baseCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{
		Timeout:   cfg.Timeout,
		Transport: &correlationTransport{base: http.DefaultTransport},
	})
	return &CredentialCache{
		cfg:     conf,
		baseCtx: baseCtx,
		source:  conf.TokenSource(baseCtx),
	}
}

// Token returns the cached access token, performing the exchange when none
// is held. Concurrent callers collapse into one exchange.
func (c *CredentialCache) Token(ctx context.Context) (string, error) {
	v, err, _ := c.group.Do("credential", func() (interface{}, error) {
		c.mu.Lock()
		src := c.source
		c.mu.Unlock()

		tok, err := src.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: gigachat credential exchange: %v", errs.ErrAuth, err)
		}

		c.mu.Lock()
		if tok.AccessToken != c.lastToken {
			c.lastToken = tok.AccessToken
			c.obtainedAt = time.Now()
			log.Printf("gateway: acquired gigachat credential %s", util.MaskToken(tok.AccessToken))
		}
		c.mu.Unlock()
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate discards the cached credential. The next Token call performs a
// fresh exchange. Called when the backend answers 401: a revoked credential
// must never be reused.
func (c *CredentialCache) Invalidate() {
	c.mu.Lock()
	c.source = c.cfg.TokenSource(c.baseCtx)
	c.lastToken = ""
	c.mu.Unlock()
	log.Printf("gateway: gigachat credential invalidated")
}

// ObtainedAt reports when the current credential was acquired.
func (c *CredentialCache) ObtainedAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.obtainedAt
}

// correlationTransport stamps each authority request with a fresh RqUID.
type correlationTransport struct {
	base http.RoundTripper
}

func (t *correlationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("RqUID", uuid.NewString())
	req.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(req)
}
