package media

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"iattend/internal/attend"
)

// RefSource resolves a user's enrolled reference image: profile lookup for
// the template URL, then fetch and decode.
type RefSource struct {
	store attend.Store
	http  *http.Client
}

// NewRefSource creates a reference-image source over the given store.
func NewRefSource(st attend.Store) *RefSource {
	return &RefSource{
		store: st,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Reference returns the decoded reference image for a user. A user with no
// enrollment template gets an error; the face gate then fails closed.
func (r *RefSource) Reference(ctx context.Context, userID string) (image.Image, error) {
	p, err := r.store.ProfileByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	if p == nil || p.RefImageURL == "" {
		return nil, fmt.Errorf("user %s has no enrollment template", userID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.RefImageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reference image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch reference image: %s", resp.Status)
	}
	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode reference image: %w", err)
	}
	return img, nil
}
