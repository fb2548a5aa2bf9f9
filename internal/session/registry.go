package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"time"

	"iattend/internal/attend"
	"iattend/internal/store"
)

// State is the temporal classification of a session.
type State int

const (
	Pending State = iota
	Active
	Expired
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Active:
		return "active"
	case Expired:
		return "expired"
	}
	return "unknown"
}

var (
	// ErrInvalidCode means the code is malformed (not exactly 6 digits).
	ErrInvalidCode = errors.New("sign-in code must be 6 digits")
	// ErrCodeNotFound means no session holds the code.
	ErrCodeNotFound = errors.New("sign-in code not found")
)

const codeProbes = 10

// Registry issues and resolves time-boxed sign-in codes.
type Registry struct {
	store attend.Store
	redis *store.Redis
	now   func() time.Time
}

// NewRegistry creates a registry. redis may be nil; reservations are then
// skipped and only the store uniqueness check applies.
func NewRegistry(st attend.Store, redis *store.Redis) *Registry {
	return &Registry{store: st, redis: redis, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the registry clock, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// ValidCode reports whether a code is well-formed: exactly 6 ASCII digits.
// Checked locally before any network cost.
func ValidCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// GenerateCode produces a 6-digit code not currently held by a non-expired
// session. It probes uniqueness up to 10 times and then falls back to an
// unchecked random value; the residual collision risk is an accepted policy
// trade-off, kept from the system this replaces.
func (r *Registry) GenerateCode(ctx context.Context, ttl time.Duration) (string, error) {
	var code string
	for i := 0; i < codeProbes; i++ {
		code = fmt.Sprintf("%06d", rand.Intn(1000000))
		exists, err := r.store.CodeExists(ctx, code, r.now())
		if err != nil {
			return "", fmt.Errorf("code uniqueness probe: %w", err)
		}
		if exists {
			continue
		}
		if r.redis != nil {
			reserved, err := r.redis.ReserveCode(ctx, code, ttl)
			if err != nil {
				log.Printf("code reservation unavailable: %v", err)
				return code, nil
			}
			if !reserved {
				continue
			}
		}
		return code, nil
	}
	log.Printf("code generation exhausted %d probes, accepting unchecked code", codeProbes)
	return fmt.Sprintf("%06d", rand.Intn(1000000)), nil
}

// Resolve looks up the session for a code. Malformed codes fail before any
// backend round-trip.
func (r *Registry) Resolve(ctx context.Context, code string) (*attend.Session, error) {
	if !ValidCode(code) {
		return nil, ErrInvalidCode
	}
	s, err := r.store.SessionByCode(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("resolve code: %w", err)
	}
	if s == nil {
		return nil, ErrCodeNotFound
	}
	return s, nil
}

// Classify places a session on the timeline at the given instant. Expiry is
// monotonic: once now passes ExpiresAt the session never becomes active
// again.
func Classify(s *attend.Session, now time.Time) State {
	switch {
	case now.Before(s.CreatedAt):
		return Pending
	case now.After(s.ExpiresAt):
		return Expired
	default:
		return Active
	}
}

// CreateParams describes a new session.
type CreateParams struct {
	CourseLabel    string
	Duration       time.Duration
	CenterLat      float64
	CenterLon      float64
	RadiusMeters   float64
	ExpectedCount  int
	InvitedUserIDs []string
}

// Create generates a code and writes a new session owned by the caller.
// When an explicit invite list is given, its size wins over ExpectedCount.
func (r *Registry) Create(ctx context.Context, createdBy string, p CreateParams) (attend.Session, error) {
	if p.Duration <= 0 {
		p.Duration = time.Minute
	}
	code, err := r.GenerateCode(ctx, p.Duration)
	if err != nil {
		return attend.Session{}, err
	}
	expected := p.ExpectedCount
	if len(p.InvitedUserIDs) > 0 {
		expected = len(p.InvitedUserIDs)
	}
	now := r.now()
	s := attend.Session{
		Code:           code,
		CourseLabel:    p.CourseLabel,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		ExpiresAt:      now.Add(p.Duration),
		CenterLat:      p.CenterLat,
		CenterLon:      p.CenterLon,
		RadiusMeters:   p.RadiusMeters,
		ExpectedCount:  expected,
		InvitedUserIDs: p.InvitedUserIDs,
	}
	created, err := r.store.InsertSession(ctx, s)
	if err != nil {
		if r.redis != nil {
			_ = r.redis.ReleaseCode(ctx, code)
		}
		return attend.Session{}, fmt.Errorf("create session: %w", err)
	}
	return created, nil
}
