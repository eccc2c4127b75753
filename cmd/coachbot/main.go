package main

import (
	"log"
	"net/http"

	"github.com/gymstat/coach-bot/internal/api"
	"github.com/gymstat/coach-bot/internal/config"
	"github.com/gymstat/coach-bot/internal/db"
	"github.com/gymstat/coach-bot/internal/gateway"
	"github.com/gymstat/coach-bot/internal/gymstat"
	"github.com/gymstat/coach-bot/internal/secret"
	"github.com/gymstat/coach-bot/internal/session"
	"github.com/gymstat/coach-bot/internal/store"
	"github.com/gymstat/coach-bot/internal/token"
	"github.com/gymstat/coach-bot/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.EncryptKey == "" {
		key, genErr := secret.GenerateKey()
		if genErr != nil {
			log.Fatalf("Failed to generate an encryption key: %v", genErr)
		}
		log.Fatalf("ENCRYPT_KEY is not set. Generate one and keep it stable across restarts, for example: %s", key)
	}
	cipher, err := secret.NewCipher(cfg.EncryptKey)
	if err != nil {
		log.Fatalf("Failed to initialize token encryption: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	tokenStore := store.New(database)

	// Fitness API client and the token lifecycle manager it refreshes through
	fitnessClient := gymstat.NewClient(cfg.GymStat.BaseURL, cfg.GymStat.Timeout)
	tokenManager := token.NewManager(tokenStore, cipher, fitnessClient)

	// Provider gateway
	credentials := gateway.NewCredentialCache(gateway.CredentialConfig{
		TokenURL:     cfg.GigaChat.OAuthURL,
		ClientID:     cfg.GigaChat.ClientID,
		ClientSecret: cfg.GigaChat.ClientSecret,
		Scope:        cfg.GigaChat.Scope,
	})
	llm := gateway.New(gateway.Config{
		GigaChatURL:  cfg.GigaChat.APIURL,
		Credentials:  credentials,
		ChatGPTURL:   cfg.OpenAI.APIURL,
		ChatGPTKey:   cfg.OpenAI.APIKey,
		ChatGPTModel: cfg.OpenAI.Model,
		Retries:      cfg.Chat.Retries,
		Delay:        cfg.Chat.RetryDelay,
		Timeout:      cfg.Chat.RequestTimeout,
	})

	// Conversation sessions
	profiles := &gymstat.SnapshotSource{Tokens: tokenManager, Client: fitnessClient}
	sessions := session.NewManager(session.Config{
		Instruction: cfg.Chat.Instruction,
		IdleTimeout: cfg.Chat.IdleTimeout,
	}, llm, profiles, func(ownerID int64) {
		log.Printf("session: owner %d consultation closed after inactivity", ownerID)
	})

	router := api.Router(api.Deps{
		Fitness:      fitnessClient,
		Tokens:       tokenManager,
		TokenWriter:  tokenStore,
		Cipher:       cipher,
		Sessions:     sessions,
		MessageLimit: cfg.Chat.MessageLimit,
	})

	log.Printf("coachbot %s listening on %s", version.Version, cfg.Addr())
	if err := http.ListenAndServe(cfg.Addr(), router); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
