// Package identity keeps per-sender settings and bounded conversation history in memory.
//
// State is keyed by a channel-scoped Key and lives for the process lifetime. Each key owns
// its own lock, so work for different senders never contends beyond the map lookup.
package identity

import (
	"sort"
	"strings"
	"sync"
)

// DefaultLimit is the number of turns kept per identity.
const DefaultLimit = 30

// Role tags a history turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Key identifies a sender within a channel.
type Key struct {
	Channel string
	Subject string
}

// NewKey trims and lower-cases the channel part.
func NewKey(channel, subject string) Key {
	return Key{
		Channel: strings.ToLower(strings.TrimSpace(channel)),
		Subject: strings.TrimSpace(subject),
	}
}

func (k Key) String() string {
	return k.Channel + ":" + k.Subject
}

// Turn is one role-tagged history entry.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// State is a point-in-time copy of an identity's settings and history.
type State struct {
	GuardEnabled   bool   `json:"guard_enabled"`
	SessionEnabled bool   `json:"session_enabled"`
	History        []Turn `json:"history"`
}

// Defaults configures freshly created identities.
type Defaults struct {
	GuardEnabled   bool
	SessionEnabled bool
	Limit          int
}

type entry struct {
	// turn serializes whole-message processing for this identity.
	turn sync.Mutex

	mu             sync.Mutex
	guardEnabled   bool
	sessionEnabled bool
	history        []Turn
}

// Store owns every identity's state.
type Store struct {
	mu       sync.RWMutex
	entries  map[Key]*entry
	defaults Defaults
}

// NewStore creates a store where new identities have the guard on, session off and a
// history bound of DefaultLimit.
func NewStore() *Store {
	return NewStoreWithDefaults(Defaults{GuardEnabled: true, Limit: DefaultLimit})
}

// NewStoreWithDefaults creates a store with explicit defaults. A non-positive limit falls
// back to DefaultLimit.
func NewStoreWithDefaults(defaults Defaults) *Store {
	if defaults.Limit <= 0 {
		defaults.Limit = DefaultLimit
	}
	return &Store{
		entries:  map[Key]*entry{},
		defaults: defaults,
	}
}

// Limit returns the history bound.
func (s *Store) Limit() int {
	return s.defaults.Limit
}

func (s *Store) entry(key Key) *entry {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e
	}
	e = &entry{
		guardEnabled:   s.defaults.GuardEnabled,
		sessionEnabled: s.defaults.SessionEnabled,
	}
	s.entries[key] = e
	return e
}

// Acquire enters the identity's exclusive processing region. Callers must invoke the
// returned release exactly once. A second Acquire for the same key blocks until release.
func (s *Store) Acquire(key Key) (release func()) {
	e := s.entry(key)
	e.turn.Lock()
	var once sync.Once
	return func() { once.Do(e.turn.Unlock) }
}

// Get returns a snapshot, creating the identity with defaults on first contact.
func (s *Store) Get(key Key) State {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		GuardEnabled:   e.guardEnabled,
		SessionEnabled: e.sessionEnabled,
		History:        copyTurns(e.history),
	}
}

// SetGuard toggles the safety gate for the identity.
func (s *Store) SetGuard(key Key, enabled bool) {
	e := s.entry(key)
	e.mu.Lock()
	e.guardEnabled = enabled
	e.mu.Unlock()
}

// SetSession toggles history recording. Disabling drops any recorded history immediately.
func (s *Store) SetSession(key Key, enabled bool) {
	e := s.entry(key)
	e.mu.Lock()
	e.sessionEnabled = enabled
	if !enabled {
		e.history = nil
	}
	e.mu.Unlock()
}

// AppendTurn records a turn when the session is enabled, evicting the oldest turns
// beyond the limit.
func (s *Store) AppendTurn(key Key, role Role, text string) {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sessionEnabled {
		return
	}
	e.history = append(e.history, Turn{Role: role, Text: text})
	if over := len(e.history) - s.defaults.Limit; over > 0 {
		kept := make([]Turn, s.defaults.Limit)
		copy(kept, e.history[over:])
		e.history = kept
	}
}

// HistoryForGeneration returns nil when the session is disabled, meaning no history
// should be sent. Otherwise it returns the ordered history, oldest first, never nil.
func (s *Store) HistoryForGeneration(key Key) []Turn {
	e := s.entry(key)
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.sessionEnabled {
		return nil
	}
	out := copyTurns(e.history)
	if out == nil {
		out = []Turn{}
	}
	return out
}

// Clear empties the identity's history without changing its flags.
func (s *Store) Clear(key Key) {
	e := s.entry(key)
	e.mu.Lock()
	e.history = nil
	e.mu.Unlock()
}

// Keys lists known identities, sorted.
func (s *Store) Keys() []Key {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	s.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	return keys
}

func copyTurns(turns []Turn) []Turn {
	if len(turns) == 0 {
		return nil
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}
