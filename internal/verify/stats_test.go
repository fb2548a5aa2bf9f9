package verify

import (
	"context"
	"errors"
	"testing"
	"time"

	"iattend/internal/attend"
	"iattend/internal/session"
)

func statsFixture(t *testing.T, sess attend.Session) (*attend.MemStore, *Submitter, attend.Session) {
	t.Helper()
	st := attend.NewMemStore()
	for _, p := range []attend.Profile{
		{UserID: "u1", Name: "Ada"},
		{UserID: "u2", Name: "Ben"},
		{UserID: "u3", Name: "Cleo"},
	} {
		if err := st.UpsertProfile(context.Background(), p); err != nil {
			t.Fatal(err)
		}
	}
	created, err := st.InsertSession(context.Background(), sess)
	if err != nil {
		t.Fatal(err)
	}
	clock := func() time.Time { return testNow }
	reg := session.NewRegistry(st, nil).WithClock(clock)
	engine := NewSubmitter(reg, st, nil, nil, nil, false).WithClock(clock)
	return st, engine, created
}

func checkIn(t *testing.T, st *attend.MemStore, userID, sessionID string) {
	t.Helper()
	if _, err := st.InsertRecord(context.Background(), attend.Record{
		UserID:     userID,
		SessionID:  sessionID,
		SignedInAt: testNow,
	}); err != nil {
		t.Fatal(err)
	}
}

func TestStatsOpenRoster(t *testing.T) {
	st, engine, sess := statsFixture(t, attend.Session{
		Code:          testCode,
		CreatedAt:     testNow.Add(-time.Minute),
		ExpiresAt:     testNow.Add(5 * time.Minute),
		ExpectedCount: 3,
	})
	checkIn(t, st, "u1", sess.ID)

	stats, err := engine.Stats(context.Background(), testCode)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.CheckedCount != 1 {
		t.Errorf("checked count %d, want 1", stats.CheckedCount)
	}
	if stats.ExpectedCount != 3 {
		t.Errorf("expected count %d, want 3", stats.ExpectedCount)
	}
	if len(stats.Checked) != 1 || stats.Checked[0].UserID != "u1" {
		t.Errorf("checked roster %+v", stats.Checked)
	}
	if len(stats.Pending) != 2 {
		t.Fatalf("pending roster %+v, want u2 and u3", stats.Pending)
	}
}

func TestStatsInviteListRoster(t *testing.T) {
	st, engine, sess := statsFixture(t, attend.Session{
		Code:           testCode,
		CreatedAt:      testNow.Add(-time.Minute),
		ExpiresAt:      testNow.Add(5 * time.Minute),
		ExpectedCount:  99,
		InvitedUserIDs: []string{"u1", "u2"},
	})
	checkIn(t, st, "u2", sess.ID)

	stats, err := engine.Stats(context.Background(), testCode)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.ExpectedCount != 2 {
		t.Errorf("expected count %d, want invite list size 2", stats.ExpectedCount)
	}
	if stats.CheckedCount != 1 {
		t.Errorf("checked count %d, want 1", stats.CheckedCount)
	}
	if len(stats.Pending) != 1 || stats.Pending[0].UserID != "u1" {
		t.Errorf("pending roster %+v, want only u1", stats.Pending)
	}
}

func TestStatsCountsRecordsNotAttempts(t *testing.T) {
	st, engine, sess := statsFixture(t, attend.Session{
		Code:      testCode,
		CreatedAt: testNow.Add(-time.Minute),
		ExpiresAt: testNow.Add(5 * time.Minute),
	})
	// three audited attempts but only one record
	for i := 0; i < 3; i++ {
		if _, err := st.InsertAttempt(context.Background(), attend.Attempt{
			UserID:    "u1",
			SessionID: sess.ID,
			Code:      testCode,
			Status:    attend.OutcomeFailFace,
		}); err != nil {
			t.Fatal(err)
		}
	}
	checkIn(t, st, "u1", sess.ID)

	stats, err := engine.Stats(context.Background(), testCode)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.CheckedCount != 1 {
		t.Errorf("checked count %d, want 1 (records, not attempts)", stats.CheckedCount)
	}
}

func TestStatsUnknownCode(t *testing.T) {
	_, engine, _ := statsFixture(t, attend.Session{
		Code:      testCode,
		CreatedAt: testNow.Add(-time.Minute),
		ExpiresAt: testNow.Add(5 * time.Minute),
	})
	if _, err := engine.Stats(context.Background(), "999999"); !errors.Is(err, session.ErrCodeNotFound) {
		t.Errorf("unknown code: err = %v, want ErrCodeNotFound", err)
	}
}
