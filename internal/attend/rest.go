package attend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// RestStore talks to a row-authorized HTTP data service (PostgREST wire
// format). Credentials are injected at construction and per call via the
// request context; there is no process-wide token state.
type RestStore struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

// NewRestStore creates a client for the given REST base URL.
func NewRestStore(baseURL, apiKey string) *RestStore {
	return &RestStore{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

var _ Store = (*RestStore)(nil)

// SessionByCode resolves a sign-in code. Session rows are readable without a
// caller token; only writes require one.
func (c *RestStore) SessionByCode(ctx context.Context, code string) (*Session, error) {
	var rows []Session
	q := url.Values{"sign_in_code": {"eq." + code}, "limit": {"1"}}
	if err := c.get(ctx, "/sessions", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	s := rows[0]
	var invites []struct {
		UserID string `json:"user_id"`
	}
	iq := url.Values{"session_id": {"eq." + s.ID}, "select": {"user_id"}}
	if err := c.get(ctx, "/session_invites", iq, &invites); err != nil {
		return nil, err
	}
	for _, inv := range invites {
		s.InvitedUserIDs = append(s.InvitedUserIDs, inv.UserID)
	}
	return &s, nil
}

// CodeExists reports whether a non-expired session holds the code.
func (c *RestStore) CodeExists(ctx context.Context, code string, now time.Time) (bool, error) {
	var rows []struct {
		Code string `json:"sign_in_code"`
	}
	q := url.Values{
		"sign_in_code": {"eq." + code},
		"expires_at":   {"gt." + now.UTC().Format(time.RFC3339)},
		"select":       {"sign_in_code"},
		"limit":        {"1"},
	}
	if err := c.get(ctx, "/sessions", q, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// InsertSession writes a new session and its invite list.
func (c *RestStore) InsertSession(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	var created []Session
	if err := c.post(ctx, "/sessions", "return=representation", s, &created); err != nil {
		return Session{}, err
	}
	if len(created) > 0 {
		invited := s.InvitedUserIDs
		s = created[0]
		s.InvitedUserIDs = invited
	}
	for _, userID := range s.InvitedUserIDs {
		invite := map[string]string{"session_id": s.ID, "user_id": userID}
		if err := c.post(ctx, "/session_invites", "return=minimal,resolution=ignore-duplicates", invite, nil); err != nil {
			return Session{}, err
		}
	}
	return s, nil
}

// InsertAttempt appends one audit row.
func (c *RestStore) InsertAttempt(ctx context.Context, a Attempt) (Attempt, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	if err := c.post(ctx, "/sign_in_logs", "return=minimal", a, nil); err != nil {
		return Attempt{}, err
	}
	return a, nil
}

// InsertRecord inserts idempotently; duplicates are ignored server-side and
// reported as false.
func (c *RestStore) InsertRecord(ctx context.Context, rec Record) (bool, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.SignedInAt.IsZero() {
		rec.SignedInAt = time.Now().UTC()
	}
	var created []Record
	err := c.post(ctx, "/sign_in_records?on_conflict=user_id,session_id",
		"resolution=ignore-duplicates,return=representation", rec, &created)
	if err != nil {
		return false, err
	}
	return len(created) > 0, nil
}

// HasRecord reports whether the user already holds a record for the session.
func (c *RestStore) HasRecord(ctx context.Context, userID, sessionID string) (bool, error) {
	var rows []struct {
		UserID string `json:"user_id"`
	}
	q := url.Values{
		"user_id":    {"eq." + userID},
		"session_id": {"eq." + sessionID},
		"select":     {"user_id"},
		"limit":      {"1"},
	}
	if err := c.get(ctx, "/sign_in_records", q, &rows); err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

// CheckedUserIDs returns the distinct users with a record for the session.
func (c *RestStore) CheckedUserIDs(ctx context.Context, sessionID string) ([]string, error) {
	var rows []struct {
		UserID string `json:"user_id"`
	}
	q := url.Values{"session_id": {"eq." + sessionID}, "select": {"user_id"}}
	if err := c.get(ctx, "/sign_in_records", q, &rows); err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(rows))
	var ids []string
	for _, r := range rows {
		if r.UserID != "" && !seen[r.UserID] {
			seen[r.UserID] = true
			ids = append(ids, r.UserID)
		}
	}
	return ids, nil
}

// ListProfiles returns all enrolled profiles.
func (c *RestStore) ListProfiles(ctx context.Context) ([]Profile, error) {
	var rows []Profile
	q := url.Values{"select": {"user_id,name,email,ref_image_url"}}
	if err := c.get(ctx, "/profiles", q, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// ProfileByUser returns one profile, or nil when the user is not enrolled.
func (c *RestStore) ProfileByUser(ctx context.Context, userID string) (*Profile, error) {
	var rows []Profile
	q := url.Values{"user_id": {"eq." + userID}, "limit": {"1"}}
	if err := c.get(ctx, "/profiles", q, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpsertProfile creates or replaces an enrollment profile.
func (c *RestStore) UpsertProfile(ctx context.Context, p Profile) error {
	return c.post(ctx, "/profiles?on_conflict=user_id",
		"resolution=merge-duplicates,return=minimal", p, nil)
}

func (c *RestStore) get(ctx context.Context, path string, q url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	c.setHeaders(ctx, req)
	return c.do(req, out)
}

func (c *RestStore) post(ctx context.Context, path, prefer string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	c.setHeaders(ctx, req)
	req.Header.Set("Content-Type", "application/json")
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	return c.do(req, out)
}

// setHeaders applies the API key and the caller's bearer token. When the
// request context carries no identity, the API key doubles as the bearer so
// anonymous reads still pass the gateway.
func (c *RestStore) setHeaders(ctx context.Context, req *http.Request) {
	req.Header.Set("apikey", c.APIKey)
	req.Header.Set("Accept", "application/json")
	if id, ok := IdentityFrom(ctx); ok && id.Token != "" {
		req.Header.Set("Authorization", "Bearer "+id.Token)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}

func (c *RestStore) do(req *http.Request, out any) error {
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("backend request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("backend error %s: %s", resp.Status, string(b))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}
