// Package session owns the per-user conversation state. Each user has at
// most one session value, kept in a table keyed by owner id and passed
// through every operation; nothing about an active conversation lives in
// ambient request state.
package session

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gymstat/coach-bot/internal/errs"
	"github.com/gymstat/coach-bot/internal/gateway"
)

// State of one conversation.
type State int

const (
	StateIdle State = iota
	StateActive
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "idle"
}

// Replier produces one assistant reply for the full turn history.
type Replier interface {
	Generate(ctx context.Context, provider gateway.Provider, turns []gateway.Turn) gateway.Result
}

// ProfileSource fetches the user-data block appended to the system prompt.
// Called once per session start, never per turn.
type ProfileSource interface {
	Snapshot(ctx context.Context, ownerID int64) string
}

// Notifier is invoked after an idle timeout has reset a session, so the
// presentation layer can tell the user the consultation ended.
type Notifier func(ownerID int64)

const defaultIdleTimeout = 15 * time.Minute

// Config for the session manager.
type Config struct {
	Instruction string        // static system prompt
	IdleTimeout time.Duration // Active sessions reset after this much silence
}

// Manager holds all conversation sessions and enforces the Idle/Active
// state machine.
type Manager struct {
	cfg      Config
	replier  Replier
	profiles ProfileSource
	notify   Notifier

	mu       sync.Mutex
	sessions map[int64]*conversation
}

// conversation is the per-owner state. generation increments on every reset;
// a provider reply that comes back carrying a stale generation is discarded.
type conversation struct {
	state      State
	provider   gateway.Provider
	turns      []gateway.Turn
	generation uint64
	timer      *time.Timer
}

func NewManager(cfg Config, replier Replier, profiles ProfileSource, notify Notifier) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	return &Manager{
		cfg:      cfg,
		replier:  replier,
		profiles: profiles,
		notify:   notify,
		sessions: make(map[int64]*conversation),
	}
}

func (m *Manager) conversationLocked(ownerID int64) *conversation {
	c, ok := m.sessions[ownerID]
	if !ok {
		c = &conversation{}
		m.sessions[ownerID] = c
	}
	return c
}

// Start begins a conversation for ownerID: Idle -> Active. The system turn
// is seeded from the static instruction plus a profile snapshot fetched once
// here.
func (m *Manager) Start(ctx context.Context, ownerID int64, provider gateway.Provider) error {
	// Snapshot outside the lock; it may hit the network.
	snapshot := ""
	if m.profiles != nil {
		snapshot = m.profiles.Snapshot(ctx, ownerID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.conversationLocked(ownerID)
	if c.state != StateIdle {
		log.Printf("session: start rejected for owner %d, state %s", ownerID, c.state)
		return fmt.Errorf("%w: conversation already active", errs.ErrInvalidState)
	}

	c.state = StateActive
	c.provider = provider
	c.turns = []gateway.Turn{{Role: gateway.RoleSystem, Content: m.cfg.Instruction + snapshot}}
	m.armTimerLocked(ownerID, c)
	log.Printf("session: owner %d started %s consultation", ownerID, provider)
	return nil
}

// Message handles one user message: appends the user turn, asks the
// provider for a reply over the full history and appends the assistant
// turn. Valid only while Active.
func (m *Manager) Message(ctx context.Context, ownerID int64, text string) (string, error) {
	m.mu.Lock()
	c, ok := m.sessions[ownerID]
	if !ok || c.state != StateActive {
		m.mu.Unlock()
		log.Printf("session: message rejected for owner %d, no active conversation", ownerID)
		return "", fmt.Errorf("%w: no active conversation", errs.ErrInvalidState)
	}

	c.turns = append(c.turns, gateway.Turn{Role: gateway.RoleUser, Content: text})
	turns := make([]gateway.Turn, len(c.turns))
	copy(turns, c.turns)
	generation := c.generation
	provider := c.provider
	m.armTimerLocked(ownerID, c)
	m.mu.Unlock()

	// The provider call runs without the lock; a timeout may reset the
	// session meanwhile and this result is then discarded.
	res := m.replier.Generate(ctx, provider, turns)
	if res.Err != nil {
		m.resetOnFault(ownerID, generation, res.Err)
		return "", res.Err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c.state != StateActive || c.generation != generation {
		log.Printf("session: discarding stale reply for owner %d", ownerID)
		return "", fmt.Errorf("%w: conversation ended while waiting for the reply", errs.ErrInvalidState)
	}
	c.turns = append(c.turns, gateway.Turn{Role: gateway.RoleAssistant, Content: res.Text})
	m.armTimerLocked(ownerID, c)
	return res.Text, nil
}

// End closes the conversation: Active -> Idle, history and provider cleared.
func (m *Manager) End(ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[ownerID]
	if !ok || c.state != StateActive {
		log.Printf("session: end rejected for owner %d, no active conversation", ownerID)
		return fmt.Errorf("%w: no active conversation", errs.ErrInvalidState)
	}
	m.resetLocked(c)
	log.Printf("session: owner %d ended the consultation", ownerID)
	return nil
}

// Status reports the current state and provider selection.
func (m *Manager) Status(ownerID int64) (State, gateway.Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[ownerID]
	if !ok {
		return StateIdle, ""
	}
	return c.state, c.provider
}

// History returns a copy of the turns accumulated so far.
func (m *Manager) History(ownerID int64) []gateway.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[ownerID]
	if !ok {
		return nil
	}
	turns := make([]gateway.Turn, len(c.turns))
	copy(turns, c.turns)
	return turns
}

// resetOnFault resets the session once after a gateway fault, unless a
// timeout already did.
func (m *Manager) resetOnFault(ownerID int64, generation uint64, cause error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.sessions[ownerID]
	if !ok || c.state != StateActive || c.generation != generation {
		return
	}
	log.Printf("session: resetting owner %d after gateway fault: %v", ownerID, cause)
	m.resetLocked(c)
}

func (m *Manager) resetLocked(c *conversation) {
	c.state = StateIdle
	c.provider = ""
	c.turns = nil
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (m *Manager) armTimerLocked(ownerID int64, c *conversation) {
	if c.timer != nil {
		c.timer.Stop()
	}
	generation := c.generation
	c.timer = time.AfterFunc(m.cfg.IdleTimeout, func() {
		m.timeout(ownerID, generation)
	})
}

// timeout is the only transition not triggered by a caller: it forces
// Active -> Idle after prolonged silence and notifies the presentation
// layer. A stale generation means the session was reset or restarted since
// the timer was armed.
func (m *Manager) timeout(ownerID int64, generation uint64) {
	m.mu.Lock()
	c, ok := m.sessions[ownerID]
	if !ok || c.state != StateActive || c.generation != generation {
		m.mu.Unlock()
		return
	}
	log.Printf("session: owner %d timed out, resetting", ownerID)
	m.resetLocked(c)
	notify := m.notify
	m.mu.Unlock()

	if notify != nil {
		notify(ownerID)
	}
}
