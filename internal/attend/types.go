package attend

import (
	"context"
	"time"
)

// Outcome is the terminal state of one verification attempt.
type Outcome string

const (
	OutcomeSuccess             Outcome = "success"
	OutcomeInvalidCode         Outcome = "invalid_code"
	OutcomeCodeNotFound        Outcome = "code_not_found"
	OutcomeNotYetOpen          Outcome = "not_yet_open"
	OutcomeCodeExpired         Outcome = "code_expired"
	OutcomeLocationUnavailable Outcome = "location_unavailable"
	OutcomeFailGeo             Outcome = "fail_geo"
	OutcomeFailFace            Outcome = "fail_face"
)

// Session is a time-boxed sign-in window anchored to a geofence. It is never
// mutated after creation; expiry is a function of ExpiresAt and the clock.
type Session struct {
	ID             string    `json:"session_id"`
	Code           string    `json:"sign_in_code"`
	CourseLabel    string    `json:"course_name"`
	CreatedBy      string    `json:"created_by"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	CenterLat      float64   `json:"center_lat"`
	CenterLon      float64   `json:"center_lon"`
	RadiusMeters   float64   `json:"radius_m"`
	ExpectedCount  int       `json:"expected_count"`
	InvitedUserIDs []string  `json:"invited_user_ids,omitempty"`
}

// Attempt is the append-only audit fact: one row per verification try, pass
// or fail, immutable once written.
type Attempt struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	// SessionID is empty when the attempt failed before code resolution;
	// Code always carries the raw submitted code.
	SessionID      string    `json:"session_id,omitempty"`
	Code           string    `json:"sign_in_code"`
	AttemptedAt    time.Time `json:"attempted_at"`
	Lat            float64   `json:"latitude"`
	Lon            float64   `json:"longitude"`
	DistanceMeters float64   `json:"distance_m"`
	Status         Outcome   `json:"status"`
	Similarity     *float64  `json:"similarity,omitempty"`
	LowConfidence  bool      `json:"low_confidence"`
}

// Record is the ground truth for "checked in": at most one per
// (user, session) pair, written only after a passing attempt.
type Record struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	SessionID  string    `json:"session_id"`
	SignedInAt time.Time `json:"signed_in_at"`
}

// Profile is an enrolled participant. The reference image (or its
// precomputed embedding) is the enrollment template; it is replaced
// wholesale on re-enrollment.
type Profile struct {
	UserID      string    `json:"user_id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	RefImageURL string    `json:"ref_image_url,omitempty"`
	Embedding   []float32 `json:"embedding,omitempty"`
}

// Store is the relational backend consumed by the engine. Writes carry the
// caller's identity (see WithIdentity) for row-level authorization.
type Store interface {
	SessionByCode(ctx context.Context, code string) (*Session, error)
	CodeExists(ctx context.Context, code string, now time.Time) (bool, error)
	InsertSession(ctx context.Context, s Session) (Session, error)

	InsertAttempt(ctx context.Context, a Attempt) (Attempt, error)
	// InsertRecord is idempotent per (user, session); it reports false when a
	// record already existed and no row was written.
	InsertRecord(ctx context.Context, rec Record) (bool, error)
	HasRecord(ctx context.Context, userID, sessionID string) (bool, error)
	CheckedUserIDs(ctx context.Context, sessionID string) ([]string, error)

	ListProfiles(ctx context.Context) ([]Profile, error)
	ProfileByUser(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, p Profile) error
}

// Identity carries the authenticated caller through a request. The token is
// only consulted by backends that enforce row-level authorization remotely.
type Identity struct {
	UserID string
	Token  string
}

type identityKey struct{}

// WithIdentity attaches the caller identity to ctx.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom extracts the caller identity, if any.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey{}).(Identity)
	return id, ok
}
