package domain

import "context"

// Provider serves the current pricing rules snapshot.
type Provider interface {
	// Get returns the cached rules, reloading from storage when the cache
	// is stale. Invalid persisted payloads are replaced by defaults, never
	// surfaced to callers.
	Get(ctx context.Context) Rules
	// Update validates, persists and returns the fresh snapshot. The cache
	// is invalidated before Update returns.
	Update(ctx context.Context, rules Rules) (Rules, error)
	// Invalidate drops the cached snapshot.
	Invalidate()
}
