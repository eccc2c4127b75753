// Package gymstat is the REST client for the gym-stat.ru fitness API.
package gymstat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gymstat/coach-bot/internal/errs"
	"github.com/gymstat/coach-bot/internal/util"
)

// Service is the logical service identifier used for token records.
const Service = "gymstat"

const defaultTimeout = 30 * time.Second

// ErrEmailTaken is returned by Register when the email is already in use.
var ErrEmailTaken = errors.New("email already registered")

// Client talks to the gym-stat API. All per-user calls take a plaintext
// access token obtained from the token lifecycle manager.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// TokenPair is the authentication response of login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Profile is the user profile as served by /api/users/me.
type Profile struct {
	Name   string  `json:"name"`
	Age    int     `json:"age"`
	Weight float64 `json:"weight"`
	Height float64 `json:"height"`
	Gender string  `json:"gender"`
	Login  string  `json:"login"`
	Email  string  `json:"email"`
}

// PromptBlock renders the profile as the block appended to the assistant's
// system prompt. Unset fields are skipped.
func (p *Profile) PromptBlock() string {
	var b strings.Builder
	b.WriteString("\nUser data:\n")
	if p.Name != "" {
		fmt.Fprintf(&b, "Name: %s\n", p.Name)
	}
	if p.Age > 0 {
		fmt.Fprintf(&b, "Age: %d\n", p.Age)
	}
	if p.Weight > 0 {
		fmt.Fprintf(&b, "Weight: %g\n", p.Weight)
	}
	if p.Height > 0 {
		fmt.Fprintf(&b, "Height: %g\n", p.Height)
	}
	if p.Gender != "" {
		fmt.Fprintf(&b, "Gender: %s\n", p.Gender)
	}
	return b.String()
}

// RegisterRequest carries the fields required by /api/users/register.
type RegisterRequest struct {
	Login     string `json:"login"`
	Email     string `json:"email"`
	Password  string `json:"password"`
	Phone     string `json:"phone,omitempty"`
	Name      string `json:"name,omitempty"`
	Gender    string `json:"gender,omitempty"`
	BirthDate string `json:"birthDate,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path, token string, payload interface{}, query url.Values) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		body = bytes.NewReader(data)
	}

	u := c.baseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", errs.ErrTransient, method, path, err)
	}
	if resp.StatusCode >= 400 {
		log.Printf("gymstat: %s %s -> %d", method, path, resp.StatusCode)
	}
	return resp, nil
}

// statusErr maps an unexpected response to an error kind; the body goes to
// the log, never to the caller's user.
func statusErr(resp *http.Response, body []byte) error {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%w: gymstat rejected the token", errs.ErrNotAuthorized)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: gymstat", errs.ErrRateLimit)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: gymstat returned %d: %s", errs.ErrTransient, resp.StatusCode, util.TruncateLog(string(body), 200))
	default:
		return fmt.Errorf("%w: gymstat returned %d: %s", errs.ErrProvider, resp.StatusCode, util.TruncateLog(string(body), 200))
	}
}

// Register creates a new gym-stat account.
func (c *Client) Register(ctx context.Context, reg RegisterRequest) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/users/register", "", reg, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	switch resp.StatusCode {
	case http.StatusCreated:
		return nil
	case http.StatusConflict:
		return ErrEmailTaken
	default:
		return statusErr(resp, body)
	}
}

// Login authenticates the user and returns a fresh token pair.
func (c *Client) Login(ctx context.Context, login, password string) (*TokenPair, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/auth/login", "", map[string]string{
		"login":    login,
		"password": password,
	}, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("%w: wrong credentials", errs.ErrAuth)
		}
		return nil, statusErr(resp, body)
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, fmt.Errorf("%w: parse login response: %v", errs.ErrProvider, err)
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("%w: login response carried no access token", errs.ErrProvider)
	}
	if pair.ExpiresIn <= 0 {
		pair.ExpiresIn = 3600
	}
	return &pair, nil
}

// Refresh exchanges a refresh token for a new pair. It satisfies the token
// manager's Refresher contract; any failure means the pair must be cleared.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (string, string, int, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/users/refresh", "", map[string]string{
		"refresh_token": refreshToken,
	}, nil)
	if err != nil {
		return "", "", 0, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", "", 0, statusErr(resp, body)
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return "", "", 0, fmt.Errorf("%w: parse refresh response: %v", errs.ErrProvider, err)
	}
	return pair.AccessToken, pair.RefreshToken, pair.ExpiresIn, nil
}

// GetProfile fetches the user profile.
func (c *Client) GetProfile(ctx context.Context, token string) (*Profile, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/users/me", token, nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp, body)
	}
	var p Profile
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("%w: parse profile: %v", errs.ErrProvider, err)
	}
	return &p, nil
}

// UpdateProfile patches profile fields.
func (c *Client) UpdateProfile(ctx context.Context, token string, fields map[string]interface{}) error {
	resp, err := c.do(ctx, http.MethodPatch, "/api/users/me", token, fields, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return statusErr(resp, body)
	}
	return nil
}

// Trainings returns the user's training list as served by the API.
func (c *Client) Trainings(ctx context.Context, token string, params url.Values) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/trainings", token, params)
}

// WeightData returns the user's weighing history.
func (c *Client) WeightData(ctx context.Context, token string, params url.Values) (json.RawMessage, error) {
	return c.getRaw(ctx, "/api/weight-data", token, params)
}

// CreateWeightEntry records a new weighing.
func (c *Client) CreateWeightEntry(ctx context.Context, token string, entry map[string]interface{}) error {
	resp, err := c.do(ctx, http.MethodPost, "/api/weight-data", token, entry, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return statusErr(resp, body)
	}
	return nil
}

func (c *Client) getRaw(ctx context.Context, path, token string, params url.Values) (json.RawMessage, error) {
	resp, err := c.do(ctx, http.MethodGet, path, token, nil, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, statusErr(resp, body)
	}
	return json.RawMessage(body), nil
}
