package verify

import (
	"context"
	"fmt"

	"iattend/internal/attend"
)

// SessionStats aggregates a session's roster state. CheckedCount counts
// distinct users holding an attendance record, never attempt rows.
type SessionStats struct {
	Code          string           `json:"sign_in_code"`
	CheckedCount  int              `json:"checked_count"`
	ExpectedCount int              `json:"expected_count"`
	Checked       []attend.Profile `json:"checked_users"`
	Pending       []attend.Profile `json:"pending_users"`
}

// Stats computes the roster for a session code. With an explicit invite
// list, pending = invited minus checked; otherwise pending = all enrolled
// profiles minus checked.
func (s *Submitter) Stats(ctx context.Context, code string) (SessionStats, error) {
	sess, err := s.registry.Resolve(ctx, code)
	if err != nil {
		return SessionStats{}, err
	}
	checkedIDs, err := s.store.CheckedUserIDs(ctx, sess.ID)
	if err != nil {
		return SessionStats{}, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	checkedSet := make(map[string]bool, len(checkedIDs))
	for _, id := range checkedIDs {
		checkedSet[id] = true
	}

	profiles, err := s.store.ListProfiles(ctx)
	if err != nil {
		return SessionStats{}, fmt.Errorf("%w: %v", ErrNetworkFailure, err)
	}
	byID := make(map[string]attend.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.UserID] = p
	}

	stats := SessionStats{
		Code:          sess.Code,
		CheckedCount:  len(checkedIDs),
		ExpectedCount: sess.ExpectedCount,
	}
	if len(sess.InvitedUserIDs) > 0 {
		stats.ExpectedCount = len(sess.InvitedUserIDs)
	}

	for _, id := range checkedIDs {
		if p, ok := byID[id]; ok {
			stats.Checked = append(stats.Checked, p)
		} else {
			stats.Checked = append(stats.Checked, attend.Profile{UserID: id})
		}
	}

	if len(sess.InvitedUserIDs) > 0 {
		for _, id := range sess.InvitedUserIDs {
			if checkedSet[id] {
				continue
			}
			if p, ok := byID[id]; ok {
				stats.Pending = append(stats.Pending, p)
			} else {
				stats.Pending = append(stats.Pending, attend.Profile{UserID: id})
			}
		}
	} else {
		for _, p := range profiles {
			if !checkedSet[p.UserID] {
				stats.Pending = append(stats.Pending, p)
			}
		}
	}
	return stats, nil
}
