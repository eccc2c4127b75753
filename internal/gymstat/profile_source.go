package gymstat

import (
	"context"
	"log"
)

// TokenSource yields a valid access token for (owner, service).
type TokenSource interface {
	GetValidToken(ctx context.Context, ownerID int64, service string) (string, error)
}

// SnapshotSource provides the profile block for conversation system prompts.
// Fetch failures degrade to an empty snapshot: the assistant still answers,
// just without personal data.
type SnapshotSource struct {
	Tokens TokenSource
	Client *Client
}

func (s *SnapshotSource) Snapshot(ctx context.Context, ownerID int64) string {
	tok, err := s.Tokens.GetValidToken(ctx, ownerID, Service)
	if err != nil {
		log.Printf("gymstat: no token for profile snapshot of owner %d: %v", ownerID, err)
		return ""
	}
	profile, err := s.Client.GetProfile(ctx, tok)
	if err != nil {
		log.Printf("gymstat: profile snapshot for owner %d failed: %v", ownerID, err)
		return ""
	}
	return profile.PromptBlock()
}
