// Package config loads the service configuration from an optional YAML
// file with environment overrides. Every setting has a code default so an
// empty environment still yields a runnable config.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultHost           = "0.0.0.0"
	defaultPort           = "8080"
	defaultDBPath         = "coachbot.db"
	defaultGymStatURL     = "https://gym-stat.ru"
	defaultGymStatTimeout = 30 * time.Second
	defaultOAuthURL       = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
	defaultGigaChatURL    = "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"
	defaultScope          = "GIGACHAT_API_PERS"
	defaultOpenAIURL      = "https://api.openai.com/v1/chat/completions"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultRetries        = 3
	defaultRetryDelay     = 2 * time.Second
	defaultRequestTimeout = 60 * time.Second
	defaultIdleTimeout    = 15 * time.Minute
	defaultMessageLimit   = 4096

	defaultInstruction = "You are an experienced fitness coach. Answer training and " +
		"nutrition questions concisely and tailor advice to the user data provided."
)

// fileConfig mirrors the YAML layout. Durations are strings so the file can
// say "30s" or "15m".
type fileConfig struct {
	Host   string `yaml:"host"`
	Port   string `yaml:"port"`
	DBPath string `yaml:"db_path"`

	GymStat struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"gymstat"`

	GigaChat struct {
		OAuthURL     string `yaml:"oauth_url"`
		APIURL       string `yaml:"api_url"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		Scope        string `yaml:"scope"`
	} `yaml:"gigachat"`

	OpenAI struct {
		APIKey string `yaml:"api_key"`
		APIURL string `yaml:"api_url"`
		Model  string `yaml:"model"`
	} `yaml:"openai"`

	Chat struct {
		Retries        int    `yaml:"retries"`
		RetryDelay     string `yaml:"retry_delay"`
		RequestTimeout string `yaml:"request_timeout"`
		IdleTimeout    string `yaml:"idle_timeout"`
		MessageLimit   int    `yaml:"message_limit"`
		Instruction    string `yaml:"instruction"`
	} `yaml:"chat"`
}

// Config is the resolved runtime configuration.
type Config struct {
	Host       string
	Port       string
	DBPath     string
	EncryptKey string

	GymStat struct {
		BaseURL string
		Timeout time.Duration
	}

	GigaChat struct {
		OAuthURL     string
		APIURL       string
		ClientID     string
		ClientSecret string
		Scope        string
	}

	OpenAI struct {
		APIKey string
		APIURL string
		Model  string
	}

	Chat struct {
		Retries        int
		RetryDelay     time.Duration
		RequestTimeout time.Duration
		IdleTimeout    time.Duration
		MessageLimit   int
		Instruction    string
	}
}

func (c *Config) Addr() string {
	return c.Host + ":" + c.Port
}

// Load resolves the configuration: code defaults, then the YAML file if one
// is found, then environment variables. A missing file is not an error.
func Load() (*Config, error) {
	cfg := defaults()

	fc, err := loadFile()
	if err != nil {
		return nil, err
	}
	if fc != nil {
		applyFile(cfg, fc)
	}
	applyEnv(cfg)

	if cfg.Chat.MessageLimit < 1 {
		return nil, fmt.Errorf("message limit must be positive, got %d", cfg.Chat.MessageLimit)
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{
		Host:   defaultHost,
		Port:   defaultPort,
		DBPath: defaultDBPath,
	}
	cfg.GymStat.BaseURL = defaultGymStatURL
	cfg.GymStat.Timeout = defaultGymStatTimeout
	cfg.GigaChat.OAuthURL = defaultOAuthURL
	cfg.GigaChat.APIURL = defaultGigaChatURL
	cfg.GigaChat.Scope = defaultScope
	cfg.OpenAI.APIURL = defaultOpenAIURL
	cfg.OpenAI.Model = defaultOpenAIModel
	cfg.Chat.Retries = defaultRetries
	cfg.Chat.RetryDelay = defaultRetryDelay
	cfg.Chat.RequestTimeout = defaultRequestTimeout
	cfg.Chat.IdleTimeout = defaultIdleTimeout
	cfg.Chat.MessageLimit = defaultMessageLimit
	cfg.Chat.Instruction = defaultInstruction
	return cfg
}

func loadFile() (*fileConfig, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
	}
	return &fc, nil
}

func resolveConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("COACHBOT_CONFIG")); explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", err
		}
		return explicit, nil
	}

	candidates := []string{
		"config/coachbot.yaml",
		"/etc/coachbot/coachbot.yaml",
	}
	if homeDir, err := os.UserHomeDir(); err == nil && homeDir != "" {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "coachbot", "coachbot.yaml"))
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", nil
}

func applyFile(cfg *Config, fc *fileConfig) {
	setString(&cfg.Host, fc.Host)
	setString(&cfg.Port, fc.Port)
	setString(&cfg.DBPath, fc.DBPath)

	setString(&cfg.GymStat.BaseURL, fc.GymStat.BaseURL)
	setDuration(&cfg.GymStat.Timeout, fc.GymStat.Timeout)

	setString(&cfg.GigaChat.OAuthURL, fc.GigaChat.OAuthURL)
	setString(&cfg.GigaChat.APIURL, fc.GigaChat.APIURL)
	setString(&cfg.GigaChat.ClientID, fc.GigaChat.ClientID)
	setString(&cfg.GigaChat.ClientSecret, fc.GigaChat.ClientSecret)
	setString(&cfg.GigaChat.Scope, fc.GigaChat.Scope)

	setString(&cfg.OpenAI.APIKey, fc.OpenAI.APIKey)
	setString(&cfg.OpenAI.APIURL, fc.OpenAI.APIURL)
	setString(&cfg.OpenAI.Model, fc.OpenAI.Model)

	if fc.Chat.Retries > 0 {
		cfg.Chat.Retries = fc.Chat.Retries
	}
	setDuration(&cfg.Chat.RetryDelay, fc.Chat.RetryDelay)
	setDuration(&cfg.Chat.RequestTimeout, fc.Chat.RequestTimeout)
	setDuration(&cfg.Chat.IdleTimeout, fc.Chat.IdleTimeout)
	if fc.Chat.MessageLimit > 0 {
		cfg.Chat.MessageLimit = fc.Chat.MessageLimit
	}
	setString(&cfg.Chat.Instruction, fc.Chat.Instruction)
}

func applyEnv(cfg *Config) {
	setEnv(&cfg.Host, "HOST")
	setEnv(&cfg.Port, "PORT")
	setEnv(&cfg.DBPath, "DB_PATH")
	setEnv(&cfg.EncryptKey, "ENCRYPT_KEY")

	setEnv(&cfg.GymStat.BaseURL, "GYMSTAT_API_URL")
	setEnvDuration(&cfg.GymStat.Timeout, "GYMSTAT_TIMEOUT")

	setEnv(&cfg.GigaChat.OAuthURL, "OAUTH_URL")
	setEnv(&cfg.GigaChat.APIURL, "GIGACHAT_API_URL")
	setEnv(&cfg.GigaChat.ClientID, "CLIENT_ID")
	setEnv(&cfg.GigaChat.ClientSecret, "CLIENT_SECRET")
	setEnv(&cfg.GigaChat.Scope, "GIGACHAT_SCOPE")

	setEnv(&cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	setEnv(&cfg.OpenAI.APIURL, "OPENAI_API_URL")
	setEnv(&cfg.OpenAI.Model, "OPENAI_MODEL")

	if raw := strings.TrimSpace(os.Getenv("CHAT_RETRIES")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Chat.Retries = n
		}
	}
	setEnvDuration(&cfg.Chat.RetryDelay, "CHAT_RETRY_DELAY")
	setEnvDuration(&cfg.Chat.RequestTimeout, "CHAT_REQUEST_TIMEOUT")
	setEnvDuration(&cfg.Chat.IdleTimeout, "CHAT_IDLE_TIMEOUT")
	if raw := strings.TrimSpace(os.Getenv("CHAT_MESSAGE_LIMIT")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			cfg.Chat.MessageLimit = n
		}
	}
	setEnv(&cfg.Chat.Instruction, "CHAT_INSTRUCTION")
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, raw string) {
	if raw = strings.TrimSpace(raw); raw == "" {
		return
	}
	if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
		*dst = parsed
	}
}

func setEnv(dst *string, name string) {
	setString(dst, os.Getenv(name))
}

func setEnvDuration(dst *time.Duration, name string) {
	setDuration(dst, os.Getenv(name))
}
