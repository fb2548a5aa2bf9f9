package attend

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for dev mode and tests.
type MemStore struct {
	mu       sync.Mutex
	sessions []Session
	attempts []Attempt
	records  []Record
	profiles map[string]Profile

	// FailAttempts / FailRecords force write errors, for exercising the
	// log-then-record failure paths.
	FailAttempts error
	FailRecords  error
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{profiles: make(map[string]Profile)}
}

var _ Store = (*MemStore)(nil)

func (m *MemStore) SessionByCode(_ context.Context, code string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sessions) - 1; i >= 0; i-- {
		if m.sessions[i].Code == code {
			s := m.sessions[i]
			return &s, nil
		}
	}
	return nil, nil
}

func (m *MemStore) CodeExists(_ context.Context, code string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.Code == code && s.ExpiresAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) InsertSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	m.sessions = append(m.sessions, s)
	return s, nil
}

func (m *MemStore) InsertAttempt(_ context.Context, a Attempt) (Attempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailAttempts != nil {
		return Attempt{}, m.FailAttempts
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	m.attempts = append(m.attempts, a)
	return a, nil
}

func (m *MemStore) InsertRecord(_ context.Context, rec Record) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailRecords != nil {
		return false, m.FailRecords
	}
	for _, r := range m.records {
		if r.UserID == rec.UserID && r.SessionID == rec.SessionID {
			return false, nil
		}
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SignedInAt.IsZero() {
		rec.SignedInAt = time.Now().UTC()
	}
	m.records = append(m.records, rec)
	return true, nil
}

func (m *MemStore) HasRecord(_ context.Context, userID, sessionID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.records {
		if r.UserID == userID && r.SessionID == sessionID {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemStore) CheckedUserIDs(_ context.Context, sessionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[string]bool)
	var ids []string
	for _, r := range m.records {
		if r.SessionID == sessionID && !seen[r.UserID] {
			seen[r.UserID] = true
			ids = append(ids, r.UserID)
		}
	}
	return ids, nil
}

func (m *MemStore) ListProfiles(_ context.Context) ([]Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]Profile, 0, len(m.profiles))
	for _, p := range m.profiles {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].UserID < res[j].UserID })
	return res, nil
}

func (m *MemStore) ProfileByUser(_ context.Context, userID string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.profiles[userID]; ok {
		return &p, nil
	}
	return nil, nil
}

func (m *MemStore) UpsertProfile(_ context.Context, p Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.UserID] = p
	return nil
}

// Attempts returns a copy of the audit log, newest last.
func (m *MemStore) Attempts() []Attempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Attempt, len(m.attempts))
	copy(out, m.attempts)
	return out
}

// Records returns a copy of the attendance records.
func (m *MemStore) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
