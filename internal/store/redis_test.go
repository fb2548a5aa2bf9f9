package store

import (
	"context"
	"testing"
	"time"
)

// Redis is optional at deploy time: a nil wrapper must degrade to no-ops so
// the API and worker run without it.
func TestRedisNilWrapperDegrades(t *testing.T) {
	ctx := context.Background()
	var r *Redis

	if r.Healthy(ctx) {
		t.Error("nil wrapper reported healthy")
	}

	ok, err := r.ReserveCode(ctx, "482913", time.Minute)
	if err != nil || !ok {
		t.Errorf("ReserveCode = (%v, %v), want (true, nil)", ok, err)
	}
	if err := r.ReleaseCode(ctx, "482913"); err != nil {
		t.Errorf("ReleaseCode: %v", err)
	}

	if err := r.CacheStats(ctx, "482913", []byte("{}"), time.Minute); err != nil {
		t.Errorf("CacheStats: %v", err)
	}
	cached, err := r.CachedStats(ctx, "482913")
	if err != nil {
		t.Errorf("CachedStats: %v", err)
	}
	if cached != nil {
		t.Errorf("nil wrapper returned a snapshot: %q", cached)
	}
}

func TestRedisEmptyClientDegrades(t *testing.T) {
	ctx := context.Background()
	r := &Redis{}

	cached, err := r.CachedStats(ctx, "482913")
	if err != nil || cached != nil {
		t.Errorf("CachedStats = (%q, %v), want (nil, nil)", cached, err)
	}
	if r.Healthy(ctx) {
		t.Error("clientless wrapper reported healthy")
	}
}
