package geofence

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Fix is one location reading from a provider.
type Fix struct {
	Lat       float64
	Lon       float64
	Accuracy  float64
	Timestamp time.Time
}

// ErrLocationUnavailable means no fix could be obtained. It is a distinct
// gate failure; the engine never treats a missing fix as in- or out-of-range.
var ErrLocationUnavailable = errors.New("location unavailable")

// ErrArmPending means a fix request is already in flight. A second trigger
// is ignored, not queued.
var ErrArmPending = errors.New("location request already armed")

// Provider is the capability interface over the platform location SDK.
// Implementations push fixes into the channel returned by Start until the
// context is cancelled. The engine only ever branches on this interface,
// never on SDK presence.
type Provider interface {
	Start(ctx context.Context) (<-chan Fix, error)
	Stop()
}

// NullProvider is the SDK-absent fallback: it starts cleanly and never
// delivers a fix, so every wait ends in ErrLocationUnavailable.
type NullProvider struct{}

func (NullProvider) Start(ctx context.Context) (<-chan Fix, error) {
	ch := make(chan Fix)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (NullProvider) Stop() {}

// ChanProvider adapts any push-style fix source to Provider. Feed fixes with
// Deliver; Start hands out the stream.
type ChanProvider struct {
	mu sync.Mutex
	ch chan Fix
}

// NewChanProvider creates a provider primed to buffer one fix.
func NewChanProvider() *ChanProvider {
	return &ChanProvider{ch: make(chan Fix, 1)}
}

// Deliver pushes a fix. When a fix is already buffered and unconsumed it is
// replaced, so consumers always see the latest reading.
func (p *ChanProvider) Deliver(f Fix) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return
	}
	select {
	case p.ch <- f:
	default:
		select {
		case <-p.ch:
		default:
		}
		p.ch <- f
	}
}

func (p *ChanProvider) Start(context.Context) (<-chan Fix, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch, nil
}

// Stop closes the stream; further Deliver calls are dropped.
func (p *ChanProvider) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		close(p.ch)
		p.ch = nil
	}
}

// Watcher waits for a single fix per verification attempt. At most one wait
// may be armed at a time; the flag is a guard, not a queue.
type Watcher struct {
	provider Provider
	timeout  time.Duration

	mu    sync.Mutex
	armed bool
}

// NewWatcher wraps a provider with a per-attempt wait timeout.
func NewWatcher(p Provider, timeout time.Duration) *Watcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Watcher{provider: p, timeout: timeout}
}

// AwaitFix arms the watcher and returns the first fix delivered, or the
// latest one if the provider was already primed. Returns ErrArmPending when
// a previous wait has not finished, and ErrLocationUnavailable on timeout,
// cancellation, or a closed stream.
func (w *Watcher) AwaitFix(ctx context.Context) (Fix, error) {
	w.mu.Lock()
	if w.armed {
		w.mu.Unlock()
		return Fix{}, ErrArmPending
	}
	w.armed = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.armed = false
		w.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	stream, err := w.provider.Start(ctx)
	if err != nil {
		return Fix{}, ErrLocationUnavailable
	}
	select {
	case fix, ok := <-stream:
		if !ok {
			return Fix{}, ErrLocationUnavailable
		}
		return fix, nil
	case <-ctx.Done():
		return Fix{}, ErrLocationUnavailable
	}
}
