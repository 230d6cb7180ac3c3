// Package cache keeps raw page bodies keyed by URL so repeated runs within the
// freshness window do not hit the network.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultFreshness is how long a fetched page is served from cache.
const DefaultFreshness = 24 * time.Hour

// Store is implemented by every cache backend.
//
// Lookup never reports errors: a missing, unreadable or stale entry is absent
// and the caller falls back to the network.
type Store interface {
	Lookup(ctx context.Context, url string) (string, bool)
	Store(ctx context.Context, url, body string) error
}

// Entry is the persisted form of a cached page.
type Entry struct {
	URL        string    `json:"url"`
	CapturedAt time.Time `json:"captured_at"`
	RawBody    string    `json:"raw_body"`
}

// Fresh reports whether the entry is younger than window at now.
func (e Entry) Fresh(now time.Time, window time.Duration) bool {
	return now.Sub(e.CapturedAt) < window
}

// Key is the content-addressed name of the entry for url.
func Key(url string) string {
	h := sha256.Sum256([]byte(url))
	return hex.EncodeToString(h[:])
}
