// Package gateway issues chat-completion requests to the configured AI
// backends with a shared retry/backoff policy. Degraded outcomes (server
// down, provider rejected the request) come back as user-facing text in
// Result.Text; faults the caller must act on come back in Result.Err.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gymstat/coach-bot/internal/errs"
	"github.com/gymstat/coach-bot/internal/util"
)

// Provider selects a conversational backend.
type Provider string

const (
	ProviderGigaChat Provider = "gigachat"
	ProviderChatGPT  Provider = "chatgpt"
)

// ParseProvider validates a provider name from the outside world.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderGigaChat, ProviderChatGPT:
		return Provider(s), nil
	default:
		return "", fmt.Errorf("%w: unknown provider %q", errs.ErrProvider, s)
	}
}

// Turn is one message of a conversation in the wire format both backends
// accept.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Result is the outcome of one completion call. Exactly one of Text and Err
// is meaningful: Text carries either the assistant's reply or a short
// user-facing degradation notice, Err carries a fault with an errs kind.
type Result struct {
	Text string
	Err  error
}

const (
	maxTokens   = 2500
	temperature = 0.7

	defaultRetries = 3
	defaultDelay   = 2 * time.Second
	defaultTimeout = 60 * time.Second

	msgServerError = "Error: the assistant hit a server error. Please try again later."
	msgUnreachable = "Error: the assistant could not be reached. Please try again later."
	msgNoResponse  = "Error: no response from the assistant after several attempts."
)

// Config wires both provider variants into one gateway.
type Config struct {
	GigaChatURL   string
	GigaChatModel string
	Credentials   *CredentialCache // process-wide GigaChat bearer

	ChatGPTURL   string
	ChatGPTKey   string
	ChatGPTModel string

	Retries int
	Delay   time.Duration
	Timeout time.Duration // bounds one whole Generate call
}

type Gateway struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Gateway {
	if cfg.Retries <= 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.Delay <= 0 {
		cfg.Delay = defaultDelay
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.GigaChatModel == "" {
		cfg.GigaChatModel = "GigaChat"
	}
	if cfg.ChatGPTModel == "" {
		cfg.ChatGPTModel = "gpt-4o-mini"
	}
	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// callTarget is the per-variant part of a completion call: where to post,
// how to authenticate, and whether a 401 can be recovered by reacquiring
// the credential (GigaChat only).
type callTarget struct {
	provider Provider
	url      string
	auth     func(ctx context.Context, req *http.Request) error
	reauth   func(ctx context.Context) error // nil when 401 is final
}

// Generate requests a completion for the ordered turn history. Turn order is
// preserved in the outbound request.
func (g *Gateway) Generate(ctx context.Context, provider Provider, turns []Turn) Result {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	switch provider {
	case ProviderGigaChat:
		creds := g.cfg.Credentials
		if creds == nil {
			return Result{Err: fmt.Errorf("%w: gigachat credentials not configured", errs.ErrAuth)}
		}
		return g.complete(ctx, callTarget{
			provider: ProviderGigaChat,
			url:      g.cfg.GigaChatURL,
			auth: func(ctx context.Context, req *http.Request) error {
				tok, err := creds.Token(ctx)
				if err != nil {
					return err
				}
				log.Printf("gateway: gigachat request with credential %s", util.MaskToken(tok))
				req.Header.Set("Authorization", "Bearer "+tok)
				req.Header.Set("RqUID", uuid.NewString())
				return nil
			},
			reauth: func(ctx context.Context) error {
				creds.Invalidate()
				_, err := creds.Token(ctx)
				return err
			},
		}, g.cfg.GigaChatModel, turns)

	case ProviderChatGPT:
		if g.cfg.ChatGPTKey == "" {
			return Result{Err: fmt.Errorf("%w: chatgpt API key is not configured", errs.ErrAuth)}
		}
		return g.complete(ctx, callTarget{
			provider: ProviderChatGPT,
			url:      g.cfg.ChatGPTURL,
			auth: func(ctx context.Context, req *http.Request) error {
				req.Header.Set("Authorization", "Bearer "+g.cfg.ChatGPTKey)
				return nil
			},
		}, g.cfg.ChatGPTModel, turns)

	default:
		return Result{Err: fmt.Errorf("%w: unknown provider %q", errs.ErrProvider, provider)}
	}
}

type chatRequest struct {
	Model       string  `json:"model"`
	Messages    []Turn  `json:"messages"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *Gateway) complete(ctx context.Context, target callTarget, model string, turns []Turn) Result {
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    turns,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return Result{Err: fmt.Errorf("%w: marshal completion request: %v", errs.ErrProvider, err)}
	}

	retries := g.cfg.Retries
	for attempt := 1; attempt <= retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.url, bytes.NewReader(body))
		if err != nil {
			return Result{Err: fmt.Errorf("%w: build completion request: %v", errs.ErrProvider, err)}
		}
		req.Header.Set("Content-Type", "application/json")
		if err := target.auth(ctx, req); err != nil {
			return Result{Err: err}
		}

		log.Printf("gateway: %s attempt %d/%d", target.provider, attempt, retries)
		resp, err := g.httpClient.Do(req)
		if err != nil {
			log.Printf("gateway: %s request failed: %v", target.provider, err)
			if attempt == retries {
				return Result{Text: msgUnreachable}
			}
			if err := sleepCtx(ctx, g.cfg.Delay); err != nil {
				return Result{Err: fmt.Errorf("%w: %v", errs.ErrTransient, err)}
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		status := resp.StatusCode
		log.Printf("gateway: %s responded %d", target.provider, status)
		if readErr != nil {
			log.Printf("gateway: %s response body unreadable: %v", target.provider, readErr)
			if attempt == retries {
				return Result{Text: msgUnreachable}
			}
			if err := sleepCtx(ctx, g.cfg.Delay); err != nil {
				return Result{Err: fmt.Errorf("%w: %v", errs.ErrTransient, err)}
			}
			continue
		}

		switch {
		case status == http.StatusOK:
			var parsed chatResponse
			if err := json.Unmarshal(respBody, &parsed); err != nil || len(parsed.Choices) == 0 {
				log.Printf("gateway: %s malformed completion: %s", target.provider, util.TruncateLog(string(respBody), util.DefaultLogMaxLen))
				return Result{Err: fmt.Errorf("%w: malformed completion response", errs.ErrProvider)}
			}
			return Result{Text: parsed.Choices[0].Message.Content}

		case status == http.StatusUnauthorized && target.reauth != nil:
			// Revoked process-wide credential: reacquire and retry on the
			// next attempt without consuming a backoff delay.
			log.Printf("gateway: %s credential rejected, reacquiring", target.provider)
			if err := target.reauth(ctx); err != nil {
				return Result{Err: err}
			}
			continue

		case status == http.StatusTooManyRequests:
			return Result{Err: fmt.Errorf("%w: %s", errs.ErrRateLimit, target.provider)}

		case status >= 500:
			log.Printf("gateway: %s server error %d: %s", target.provider, status, util.TruncateLog(string(respBody), 200))
			if attempt == retries {
				return Result{Text: msgServerError}
			}
			if err := sleepCtx(ctx, g.cfg.Delay); err != nil {
				return Result{Err: fmt.Errorf("%w: %v", errs.ErrTransient, err)}
			}
			continue

		default:
			log.Printf("gateway: %s error %d: %s", target.provider, status, util.TruncateLog(string(respBody), util.DefaultLogMaxLen))
			return Result{Text: fmt.Sprintf("Error: %d - %s", status, util.TruncateLog(string(respBody), 200))}
		}
	}
	return Result{Text: msgNoResponse}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
