package session

import (
	"sync"
	"time"

	"github.com/stake-plus/tally-gov-bot/src/tallybot/components/fuzzy"
)

// State is a step in the subscribe conversation.
type State int

const (
	Idle State = iota
	AwaitingSlug
	AwaitingDisambiguation
)

const (
	defaultTimeout    = 5 * time.Minute
	defaultMaxEntries = 10000
)

// Session holds one user's in-flight conversation.
type Session struct {
	State     State
	Matches   []fuzzy.Match
	UpdatedAt time.Time
}

// Manager is a bounded in-memory session table keyed by user ID. Sessions
// expire back to Idle after the timeout.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	timeout    time.Duration
	maxEntries int
	now        func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		timeout:    defaultTimeout,
		maxEntries: defaultMaxEntries,
		now:        time.Now,
	}
}

// Get returns the user's current state, expiring it first when overdue.
func (m *Manager) Get(userID string) Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[userID]
	if !ok {
		return Session{State: Idle}
	}
	if m.now().Sub(s.UpdatedAt) > m.timeout {
		delete(m.sessions, userID)
		return Session{State: Idle}
	}
	return *s
}

// Set transitions the user into a new state. Setting Idle clears the entry.
func (m *Manager) Set(userID string, state State, matches []fuzzy.Match) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if state == Idle {
		delete(m.sessions, userID)
		return
	}

	if _, ok := m.sessions[userID]; !ok && len(m.sessions) >= m.maxEntries {
		m.evictOldestLocked()
	}
	m.sessions[userID] = &Session{
		State:     state,
		Matches:   matches,
		UpdatedAt: m.now(),
	}
}

// Clear resets the user to Idle.
func (m *Manager) Clear(userID string) {
	m.Set(userID, Idle, nil)
}

func (m *Manager) evictOldestLocked() {
	var oldestID string
	var oldestAt time.Time
	for userID, s := range m.sessions {
		if oldestID == "" || s.UpdatedAt.Before(oldestAt) {
			oldestID = userID
			oldestAt = s.UpdatedAt
		}
	}
	if oldestID != "" {
		delete(m.sessions, oldestID)
	}
}
