package attend

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// Repository persists attendance data in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

// SessionByCode resolves a sign-in code. Returns nil when no session exists.
func (r *Repository) SessionByCode(ctx context.Context, code string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT session_id, sign_in_code, course_name, created_by, created_at, expires_at,
		       center_lat, center_lon, radius_m, expected_count
		FROM sessions
		WHERE sign_in_code = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, code)
	var s Session
	if err := row.Scan(&s.ID, &s.Code, &s.CourseLabel, &s.CreatedBy, &s.CreatedAt, &s.ExpiresAt,
		&s.CenterLat, &s.CenterLon, &s.RadiusMeters, &s.ExpectedCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	invited, err := r.invitedUserIDs(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.InvitedUserIDs = invited
	return &s, nil
}

// CodeExists reports whether a code is assigned to any session that has not
// expired by now. Expired sessions release their codes for reuse.
func (r *Repository) CodeExists(ctx context.Context, code string, now time.Time) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sessions WHERE sign_in_code = $1 AND expires_at > $2
		)
	`, code, now)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// InsertSession writes a new session and its invite list, if any.
func (r *Repository) InsertSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, sign_in_code, course_name, created_by, created_at, expires_at,
		                      center_lat, center_lon, radius_m, expected_count)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, s.ID, s.Code, s.CourseLabel, s.CreatedBy, s.CreatedAt, s.ExpiresAt,
		s.CenterLat, s.CenterLon, s.RadiusMeters, s.ExpectedCount)
	if err != nil {
		return Session{}, err
	}
	for _, userID := range s.InvitedUserIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO session_invites (session_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, s.ID, userID); err != nil {
			return Session{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	return s, nil
}

// InsertAttempt appends one audit row. Rows are never updated or deleted.
func (r *Repository) InsertAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sign_in_logs (id, user_id, session_id, sign_in_code, attempted_at, status, latitude, longitude, distance_m, similarity, low_confidence)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11)
	`, a.ID, a.UserID, a.SessionID, a.Code, a.AttemptedAt, string(a.Status), a.Lat, a.Lon, a.DistanceMeters, a.Similarity, a.LowConfidence)
	if err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// InsertRecord writes the attendance record unless one already exists for
// the (user, session) pair. The unique constraint is the arbiter, so two
// racing successes cannot both insert.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SignedInAt.IsZero() {
		rec.SignedInAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO sign_in_records (id, user_id, session_id, signed_in_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (user_id, session_id) DO NOTHING
	`, rec.ID, rec.UserID, rec.SessionID, rec.SignedInAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return false, nil
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// HasRecord reports whether the user already holds a record for the session.
func (r *Repository) HasRecord(ctx context.Context, userID, sessionID string) (bool, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM sign_in_records WHERE user_id = $1 AND session_id = $2
		)
	`, userID, sessionID)
	var exists bool
	if err := row.Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// CheckedUserIDs returns the distinct users holding a record for the session.
func (r *Repository) CheckedUserIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT user_id FROM sign_in_records WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListProfiles returns all enrolled profiles.
func (r *Repository) ListProfiles(ctx context.Context) ([]Profile, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, name, email, COALESCE(ref_image_url, '')
		FROM profiles
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.UserID, &p.Name, &p.Email, &p.RefImageURL); err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ProfileByUser returns one profile, or nil when the user is not enrolled.
func (r *Repository) ProfileByUser(ctx context.Context, userID string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, name, email, COALESCE(ref_image_url, '')
		FROM profiles WHERE user_id = $1
	`, userID)
	var p Profile
	if err := row.Scan(&p.UserID, &p.Name, &p.Email, &p.RefImageURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// UpsertProfile creates or replaces an enrollment profile wholesale.
func (r *Repository) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, name, email, ref_image_url)
		VALUES ($1,$2,$3,NULLIF($4,''))
		ON CONFLICT (user_id) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			ref_image_url = EXCLUDED.ref_image_url,
			updated_at = NOW()
	`, p.UserID, p.Name, p.Email, p.RefImageURL)
	return err
}

func (r *Repository) invitedUserIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id FROM session_invites WHERE session_id = $1
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
