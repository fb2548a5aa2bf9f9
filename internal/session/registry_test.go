package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"iattend/internal/attend"
)

func TestValidCode(t *testing.T) {
	cases := []struct {
		code string
		want bool
	}{
		{"482913", true},
		{"000000", true},
		{"48291", false},
		{"4829134", false},
		{"48291a", false},
		{"", false},
		{"  4829", false},
	}
	for _, tc := range cases {
		if got := ValidCode(tc.code); got != tc.want {
			t.Errorf("ValidCode(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassify(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &attend.Session{CreatedAt: t0, ExpiresAt: t0.Add(5 * time.Minute)}

	cases := []struct {
		now  time.Time
		want State
	}{
		{t0.Add(-time.Second), Pending},
		{t0, Active},
		{t0.Add(10 * time.Second), Active},
		{t0.Add(5 * time.Minute), Active},
		{t0.Add(5*time.Minute + time.Second), Expired},
	}
	for _, tc := range cases {
		if got := Classify(s, tc.now); got != tc.want {
			t.Errorf("Classify at %v = %v, want %v", tc.now, got, tc.want)
		}
	}
}

func TestClassifyNoResurrection(t *testing.T) {
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &attend.Session{CreatedAt: t0, ExpiresAt: t0.Add(300 * time.Second)}
	first := t0.Add(301 * time.Second)
	if Classify(s, first) != Expired {
		t.Fatal("session not expired at T")
	}
	for _, later := range []time.Duration{time.Second, time.Hour, 24 * time.Hour} {
		if got := Classify(s, first.Add(later)); got != Expired {
			t.Errorf("session resurrected at T+%v: %v", later, got)
		}
	}
}

func TestGenerateCodeShape(t *testing.T) {
	reg := NewRegistry(attend.NewMemStore(), nil)
	for i := 0; i < 50; i++ {
		code, err := reg.GenerateCode(context.Background(), time.Minute)
		if err != nil {
			t.Fatalf("GenerateCode: %v", err)
		}
		if !ValidCode(code) {
			t.Fatalf("generated malformed code %q", code)
		}
	}
}

// saturatedStore reports every code as taken, forcing the unchecked
// fallback after the probe budget.
type saturatedStore struct {
	*attend.MemStore
	probes int
}

func (s *saturatedStore) CodeExists(context.Context, string, time.Time) (bool, error) {
	s.probes++
	return true, nil
}

func TestGenerateCodeFallsBackAfterProbes(t *testing.T) {
	st := &saturatedStore{MemStore: attend.NewMemStore()}
	reg := NewRegistry(st, nil)
	code, err := reg.GenerateCode(context.Background(), time.Minute)
	if err != nil {
		t.Fatalf("GenerateCode: %v", err)
	}
	if !ValidCode(code) {
		t.Fatalf("fallback code malformed: %q", code)
	}
	if st.probes != 10 {
		t.Errorf("probed %d times, want 10", st.probes)
	}
}

func TestResolve(t *testing.T) {
	st := attend.NewMemStore()
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	sess, err := st.InsertSession(context.Background(), attend.Session{
		Code:      "482913",
		CreatedAt: t0,
		ExpiresAt: t0.Add(5 * time.Minute),
	})
	if err != nil {
		t.Fatal(err)
	}
	reg := NewRegistry(st, nil)

	got, err := reg.Resolve(context.Background(), "482913")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.ID != sess.ID {
		t.Errorf("resolved wrong session: %s", got.ID)
	}

	if _, err := reg.Resolve(context.Background(), "12345"); !errors.Is(err, ErrInvalidCode) {
		t.Errorf("malformed code: got %v, want ErrInvalidCode", err)
	}
	if _, err := reg.Resolve(context.Background(), "999999"); !errors.Is(err, ErrCodeNotFound) {
		t.Errorf("unknown code: got %v, want ErrCodeNotFound", err)
	}
}

func TestCreateSession(t *testing.T) {
	st := attend.NewMemStore()
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(st, nil).WithClock(func() time.Time { return t0 })

	sess, err := reg.Create(context.Background(), "teacher-1", CreateParams{
		CourseLabel:   "Databases",
		Duration:      5 * time.Minute,
		CenterLat:     31.2304,
		CenterLon:     121.4737,
		RadiusMeters:  50,
		ExpectedCount: 30,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !ValidCode(sess.Code) {
		t.Errorf("session code malformed: %q", sess.Code)
	}
	if !sess.CreatedAt.Before(sess.ExpiresAt) {
		t.Error("createdAt not before expiresAt")
	}
	if sess.ExpectedCount != 30 {
		t.Errorf("expected count %d, want 30", sess.ExpectedCount)
	}
	if sess.CreatedBy != "teacher-1" {
		t.Errorf("created by %q", sess.CreatedBy)
	}
}

func TestCreateSessionInviteListWins(t *testing.T) {
	st := attend.NewMemStore()
	reg := NewRegistry(st, nil)
	sess, err := reg.Create(context.Background(), "teacher-1", CreateParams{
		CourseLabel:    "Networks",
		Duration:       time.Minute,
		ExpectedCount:  99,
		InvitedUserIDs: []string{"u1", "u2", "u3"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ExpectedCount != 3 {
		t.Errorf("expected count %d, want invite list size 3", sess.ExpectedCount)
	}
}
