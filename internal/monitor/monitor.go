package monitor

import (
	"context"
	"log"
	"time"

	"iattend/internal/attend"
	"iattend/internal/verify"
)

// StatsFunc fetches current roster stats for a session code.
type StatsFunc func(ctx context.Context, code string) (verify.SessionStats, error)

// Monitor follows one running session: it polls roster stats on a fixed
// interval and drives a countdown that flips the session to expired locally
// the moment the deadline passes, without waiting on a server round-trip.
type Monitor struct {
	session    attend.Session
	stats      StatsFunc
	pollEvery  time.Duration
	tickEvery  time.Duration
	statsClock func() time.Time

	// OnStats receives each refreshed roster snapshot.
	OnStats func(verify.SessionStats)
	// OnTick receives the remaining window, clamped at zero.
	OnTick func(remaining time.Duration)
	// OnExpired fires exactly once when the deadline passes.
	OnExpired func()
}

// New creates a monitor for a session. Zero intervals default to 5s polling
// and a 1s countdown tick.
func New(s attend.Session, stats StatsFunc, pollEvery, tickEvery time.Duration) *Monitor {
	if pollEvery <= 0 {
		pollEvery = 5 * time.Second
	}
	if tickEvery <= 0 {
		tickEvery = time.Second
	}
	return &Monitor{
		session:    s,
		stats:      stats,
		pollEvery:  pollEvery,
		tickEvery:  tickEvery,
		statsClock: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the monitor clock, for tests.
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.statsClock = now
	return m
}

// Run blocks until ctx is cancelled. Both timers stop deterministically on
// return; nothing keeps running after the caller tears down.
func (m *Monitor) Run(ctx context.Context) {
	poll := time.NewTicker(m.pollEvery)
	defer poll.Stop()
	tick := time.NewTicker(m.tickEvery)
	defer tick.Stop()

	m.refresh(ctx)
	expired := false
	m.countdown(&expired)

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			m.refresh(ctx)
		case <-tick.C:
			m.countdown(&expired)
		}
	}
}

func (m *Monitor) refresh(ctx context.Context) {
	if m.stats == nil {
		return
	}
	stats, err := m.stats(ctx, m.session.Code)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("stats refresh for %s failed: %v", m.session.Code, err)
		}
		return
	}
	if m.OnStats != nil {
		m.OnStats(stats)
	}
}

func (m *Monitor) countdown(expired *bool) {
	remaining := m.session.ExpiresAt.Sub(m.statsClock())
	if remaining < 0 {
		remaining = 0
	}
	if m.OnTick != nil {
		m.OnTick(remaining)
	}
	if remaining == 0 && !*expired {
		*expired = true
		if m.OnExpired != nil {
			m.OnExpired()
		}
	}
}
