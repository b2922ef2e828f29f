package store

import (
	"context"
	"sync"
	"time"
)

// Phase is where a call currently is in the listen/respond loop.
type Phase string

const (
	PhaseAnswered   Phase = "answered"
	PhaseGreeting   Phase = "greeting"
	PhaseListening  Phase = "listening"
	PhaseThinking   Phase = "thinking"
	PhaseResponding Phase = "responding"
)

// CallState tracks one live call between webhook deliveries
type CallState struct {
	CallControlID  string    `json:"call_control_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	CustomerPhone  string    `json:"customer_phone"`
	Phase          Phase     `json:"phase"`
	Answered       bool      `json:"answered"`
	GreetingSpoken bool      `json:"greeting_spoken"`
	Listening      bool      `json:"listening"`
	Turns          int       `json:"turns"`
	StartedAt      time.Time `json:"started_at"`
}

// CallStateStore persists call state keyed by call control id
type CallStateStore interface {
	Get(ctx context.Context, callControlID string) (*CallState, error)
	Save(ctx context.Context, state *CallState) error
	Delete(ctx context.Context, callControlID string) error
	// MarkAnswered returns true only for the first caller for a given id.
	MarkAnswered(ctx context.Context, callControlID string) (bool, error)
	// SeenEvent returns true when the webhook event id was already recorded.
	SeenEvent(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	// ForgetEvent releases an event id so a redelivery is processed again.
	ForgetEvent(ctx context.Context, eventID string) error
	// Active counts calls saved within the last CallTTL.
	Active(ctx context.Context) (int, error)
}

// CallTTL bounds how long state for a call that never hung up survives.
const CallTTL = 2 * time.Hour

// MemoryCallStateStore keeps call state in process memory
type MemoryCallStateStore struct {
	mu       sync.Mutex
	calls    map[string]CallState
	expires  map[string]time.Time
	answered map[string]bool
	events   map[string]time.Time
	now      func() time.Time
}

// NewMemoryCallStateStore creates an empty in-memory store
func NewMemoryCallStateStore() *MemoryCallStateStore {
	return &MemoryCallStateStore{
		calls:    make(map[string]CallState),
		expires:  make(map[string]time.Time),
		answered: make(map[string]bool),
		events:   make(map[string]time.Time),
		now:      time.Now,
	}
}

func (m *MemoryCallStateStore) Get(_ context.Context, callControlID string) (*CallState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.calls[callControlID]
	if !ok {
		return nil, ErrNotFound
	}
	return &state, nil
}

func (m *MemoryCallStateStore) Save(_ context.Context, state *CallState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[state.CallControlID] = *state
	m.expires[state.CallControlID] = m.now().Add(CallTTL)
	return nil
}

func (m *MemoryCallStateStore) Delete(_ context.Context, callControlID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteLocked(callControlID)
	return nil
}

func (m *MemoryCallStateStore) deleteLocked(callControlID string) {
	delete(m.calls, callControlID)
	delete(m.expires, callControlID)
	delete(m.answered, callControlID)
}

func (m *MemoryCallStateStore) MarkAnswered(_ context.Context, callControlID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.answered[callControlID] {
		return false, nil
	}
	m.answered[callControlID] = true
	return true, nil
}

func (m *MemoryCallStateStore) SeenEvent(_ context.Context, eventID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, expires := range m.events {
		if now.After(expires) {
			delete(m.events, id)
		}
	}
	if _, ok := m.events[eventID]; ok {
		return true, nil
	}
	m.events[eventID] = now.Add(ttl)
	return false, nil
}

func (m *MemoryCallStateStore) ForgetEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.events, eventID)
	return nil
}

// Active also evicts calls whose hangup never arrived.
func (m *MemoryCallStateStore) Active(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, expires := range m.expires {
		if now.After(expires) {
			m.deleteLocked(id)
		}
	}
	return len(m.calls), nil
}
