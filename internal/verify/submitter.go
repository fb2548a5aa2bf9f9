package verify

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"iattend/internal/attend"
	"iattend/internal/face"
	"iattend/internal/geofence"
	"iattend/internal/session"
)

var (
	// ErrNetworkFailure wraps any backend read/write error. The engine never
	// retries on its own; a retry is a new, explicit attempt.
	ErrNetworkFailure = errors.New("backend unavailable")
	// ErrRecordWrite means the audit log was written but the attendance
	// record was not. The attempt is audited; the caller may resubmit
	// without re-running the geofence and face gates.
	ErrRecordWrite = errors.New("attendance record write failed after audit log")
	// ErrAttemptPending means a verification is already in flight for this
	// client; the new trigger was ignored, nothing was written.
	ErrAttemptPending = errors.New("verification already in progress")
)

// RefSource supplies the enrolled reference image for a user.
type RefSource interface {
	Reference(ctx context.Context, userID string) (image.Image, error)
}

// Scorer evaluates face similarity. *face.Recognizer implements it.
type Scorer interface {
	Similarity(ctx context.Context, ref, probe image.Image) face.Result
	Match(similarity float64) bool
}

// Decision is the terminal state of one verification attempt.
type Decision struct {
	Outcome          attend.Outcome
	Session          *attend.Session
	Fix              geofence.Fix
	DistanceMeters   float64
	Similarity       float64
	LowConfidence    bool
	AlreadyCheckedIn bool
	AttemptedAt      time.Time
}

// Notifier observes committed decisions, e.g. to publish them to a queue or
// bump counters. It runs after the audit write and must not block.
type Notifier func(Decision)

// Submitter runs the verification pipeline:
// CodeLookup -> TemporalCheck -> GeofenceCheck -> FaceCheck -> Commit.
// Gates are ordered cheapest first and short-circuit on the first failure.
// Every terminal state commits exactly one audit attempt.
type Submitter struct {
	registry   *session.Registry
	store      attend.Store
	watcher    *geofence.Watcher
	recognizer Scorer
	refs       RefSource
	unbounded  bool
	notify     Notifier
	now        func() time.Time
}

// NewSubmitter wires the pipeline. allowUnbounded opts a zero session radius
// into "no restriction"; by default a zero radius rejects everything.
func NewSubmitter(reg *session.Registry, st attend.Store, w *geofence.Watcher, rec Scorer, refs RefSource, allowUnbounded bool) *Submitter {
	return &Submitter{
		registry:   reg,
		store:      st,
		watcher:    w,
		recognizer: rec,
		refs:       refs,
		unbounded:  allowUnbounded,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithNotifier registers a decision observer.
func (s *Submitter) WithNotifier(n Notifier) *Submitter {
	s.notify = n
	return s
}

// WithClock overrides the pipeline clock, for tests.
func (s *Submitter) WithClock(now func() time.Time) *Submitter {
	s.now = now
	return s
}

// Submit runs one verification attempt for the authenticated user. The
// returned Decision always reflects the committed audit row; err is non-nil
// only for write failures (ErrNetworkFailure, ErrRecordWrite) or an ignored
// duplicate trigger (ErrAttemptPending).
func (s *Submitter) Submit(ctx context.Context, userID, code string, probe image.Image) (Decision, error) {
	d := Decision{AttemptedAt: s.now()}

	// CodeLookup. Format and resolution failures are terminal but still
	// audited, with no session attached.
	sess, err := s.registry.Resolve(ctx, code)
	switch {
	case errors.Is(err, session.ErrInvalidCode):
		d.Outcome = attend.OutcomeInvalidCode
		return s.commit(ctx, userID, code, d)
	case errors.Is(err, session.ErrCodeNotFound):
		d.Outcome = attend.OutcomeCodeNotFound
		return s.commit(ctx, userID, code, d)
	case err != nil:
		return d, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	d.Session = sess

	// TemporalCheck. Pending and expired sessions short-circuit with
	// user-distinguishable reasons.
	switch session.Classify(sess, s.now()) {
	case session.Pending:
		d.Outcome = attend.OutcomeNotYetOpen
		return s.commit(ctx, userID, code, d)
	case session.Expired:
		d.Outcome = attend.OutcomeCodeExpired
		return s.commit(ctx, userID, code, d)
	}

	// GeofenceCheck, against a freshly obtained fix.
	fix, err := s.watcher.AwaitFix(ctx)
	if errors.Is(err, geofence.ErrArmPending) {
		return d, ErrAttemptPending
	}
	if err != nil {
		d.Outcome = attend.OutcomeLocationUnavailable
		return s.commit(ctx, userID, code, d)
	}
	d.Fix = fix
	fence := geofence.Fence{
		CenterLat:      sess.CenterLat,
		CenterLon:      sess.CenterLon,
		RadiusMeters:   sess.RadiusMeters,
		AllowUnbounded: s.unbounded,
	}
	distance, inside := fence.Contains(fix.Lat, fix.Lon)
	d.DistanceMeters = distance
	if !inside {
		d.Outcome = attend.OutcomeFailGeo
		return s.commit(ctx, userID, code, d)
	}

	// FaceCheck. A missing probe, a missing reference, or a dead model
	// scores 0: the gate fails closed, never open.
	if probe == nil {
		d.Outcome = attend.OutcomeFailFace
		d.LowConfidence = true
		return s.commit(ctx, userID, code, d)
	}
	ref, err := s.refs.Reference(ctx, userID)
	if err != nil || ref == nil {
		d.Outcome = attend.OutcomeFailFace
		d.LowConfidence = true
		return s.commit(ctx, userID, code, d)
	}
	result := s.recognizer.Similarity(ctx, ref, probe)
	d.Similarity = result.Similarity
	d.LowConfidence = result.LowConfidence
	if !s.recognizer.Match(result.Similarity) {
		d.Outcome = attend.OutcomeFailFace
		return s.commit(ctx, userID, code, d)
	}

	d.Outcome = attend.OutcomeSuccess
	return s.commit(ctx, userID, code, d)
}

// CheckedIn reports whether the user already holds an attendance record for
// the session code, so clients can skip the capture flow for a confirmed
// user.
func (s *Submitter) CheckedIn(ctx context.Context, userID, code string) (bool, error) {
	sess, err := s.registry.Resolve(ctx, code)
	if err != nil {
		return false, err
	}
	ok, err := s.store.HasRecord(ctx, userID, sess.ID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	return ok, nil
}

// commit writes the audit attempt and, on success, the attendance record.
// The log write always comes first; a record is never written for an
// unaudited attempt.
func (s *Submitter) commit(ctx context.Context, userID, code string, d Decision) (Decision, error) {
	attempt := attend.Attempt{
		UserID:         userID,
		Code:           code,
		AttemptedAt:    d.AttemptedAt,
		Lat:            d.Fix.Lat,
		Lon:            d.Fix.Lon,
		DistanceMeters: d.DistanceMeters,
		Status:         d.Outcome,
		LowConfidence:  d.LowConfidence,
	}
	if d.Session != nil {
		attempt.SessionID = d.Session.ID
	}
	if d.Outcome == attend.OutcomeSuccess || d.Outcome == attend.OutcomeFailFace {
		sim := d.Similarity
		attempt.Similarity = &sim
	}
	if _, err := s.store.InsertAttempt(ctx, attempt); err != nil {
		return d, fmt.Errorf("%w: audit log write: %v", ErrNetworkFailure, err)
	}

	if d.Outcome == attend.OutcomeSuccess {
		inserted, err := s.store.InsertRecord(ctx, attend.Record{
			UserID:     userID,
			SessionID:  d.Session.ID,
			SignedInAt: d.AttemptedAt,
		})
		if err != nil {
			return d, fmt.Errorf("%w: %v", ErrRecordWrite, err)
		}
		d.AlreadyCheckedIn = !inserted
	}

	if s.notify != nil {
		s.notify(d)
	}
	return d, nil
}
