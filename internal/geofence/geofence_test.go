package geofence

import (
	"context"
	"math"
	"testing"
	"time"
)

func TestDistanceIdentity(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{31.2304, 121.4737},
		{-33.8688, 151.2093},
		{89.9, -179.9},
	}
	for _, p := range points {
		if d := DistanceMeters(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("distance(%v, %v) to itself = %v, want 0", p[0], p[1], d)
		}
	}
}

func TestDistanceSymmetry(t *testing.T) {
	a := [2]float64{31.2304, 121.4737}
	b := [2]float64{39.9042, 116.4074}
	d1 := DistanceMeters(a[0], a[1], b[0], b[1])
	d2 := DistanceMeters(b[0], b[1], a[0], a[1])
	if math.Abs(d1-d2) > 1e-9 {
		t.Errorf("distance not symmetric: %v vs %v", d1, d2)
	}
}

func TestDistanceKnownValue(t *testing.T) {
	// One degree of latitude on the sphere is R * pi/180.
	d := DistanceMeters(0, 0, 1, 0)
	want := 6371000.0 * math.Pi / 180
	if math.Abs(d-want) > 1.0 {
		t.Errorf("one degree latitude = %v m, want ~%v m", d, want)
	}
}

func TestWithinFenceMonotonic(t *testing.T) {
	const distance = 75.0
	passed := false
	for radius := 0.0; radius <= 200; radius += 5 {
		in := WithinFence(distance, radius)
		if passed && !in {
			t.Fatalf("radius %v turned a pass back into a fail", radius)
		}
		if in {
			passed = true
		}
	}
	if !passed {
		t.Fatal("distance 75 never passed up to radius 200")
	}
}

func TestFenceZeroRadius(t *testing.T) {
	// Same point, so distance is 0; a zero radius still passes only because
	// 0 <= 0, while a distant point must fail unless unbounded is opted in.
	f := Fence{CenterLat: 31.0, CenterLon: 121.0, RadiusMeters: 0}
	if _, inside := f.Contains(31.01, 121.0); inside {
		t.Error("zero radius admitted a distant point without AllowUnbounded")
	}
	f.AllowUnbounded = true
	if _, inside := f.Contains(31.01, 121.0); !inside {
		t.Error("AllowUnbounded zero radius rejected a point")
	}
}

func TestFenceContains(t *testing.T) {
	f := Fence{CenterLat: 31.2304, CenterLon: 121.4737, RadiusMeters: 50}
	d, inside := f.Contains(31.2304, 121.4737)
	if !inside || d != 0 {
		t.Errorf("center not inside its own fence: d=%v inside=%v", d, inside)
	}
	// ~0.001 degrees latitude is ~111 m.
	d, inside = f.Contains(31.2314, 121.4737)
	if inside {
		t.Errorf("point %v m away admitted by a 50 m fence", d)
	}
}

func TestWatcherDeliversFix(t *testing.T) {
	prov := NewChanProvider()
	prov.Deliver(Fix{Lat: 31.0, Lon: 121.0, Accuracy: 5})
	w := NewWatcher(prov, time.Second)

	fix, err := w.AwaitFix(context.Background())
	if err != nil {
		t.Fatalf("AwaitFix: %v", err)
	}
	if fix.Lat != 31.0 || fix.Lon != 121.0 {
		t.Errorf("got fix %+v", fix)
	}
}

func TestWatcherLatestFixWins(t *testing.T) {
	prov := NewChanProvider()
	prov.Deliver(Fix{Lat: 1})
	prov.Deliver(Fix{Lat: 2})
	w := NewWatcher(prov, time.Second)
	fix, err := w.AwaitFix(context.Background())
	if err != nil {
		t.Fatalf("AwaitFix: %v", err)
	}
	if fix.Lat != 2 {
		t.Errorf("got stale fix %+v, want the latest", fix)
	}
}

func TestWatcherSecondArmIgnored(t *testing.T) {
	prov := NewChanProvider()
	w := NewWatcher(prov, 500*time.Millisecond)

	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		close(started)
		_, err := w.AwaitFix(context.Background())
		done <- err
	}()
	<-started
	time.Sleep(20 * time.Millisecond)

	if _, err := w.AwaitFix(context.Background()); err != ErrArmPending {
		t.Errorf("second arm: got %v, want ErrArmPending", err)
	}

	prov.Deliver(Fix{Lat: 9})
	if err := <-done; err != nil {
		t.Errorf("first arm failed: %v", err)
	}

	// The flag resets after the wait finishes.
	prov.Deliver(Fix{Lat: 10})
	if _, err := w.AwaitFix(context.Background()); err != nil {
		t.Errorf("re-arm after completion: %v", err)
	}
}

func TestNullProviderUnavailable(t *testing.T) {
	w := NewWatcher(NullProvider{}, 50*time.Millisecond)
	if _, err := w.AwaitFix(context.Background()); err != ErrLocationUnavailable {
		t.Errorf("got %v, want ErrLocationUnavailable", err)
	}
}

func TestWatcherStoppedProvider(t *testing.T) {
	prov := NewChanProvider()
	prov.Stop()
	w := NewWatcher(prov, 50*time.Millisecond)
	if _, err := w.AwaitFix(context.Background()); err != ErrLocationUnavailable {
		t.Errorf("got %v, want ErrLocationUnavailable on closed stream", err)
	}
}
