// Package store defines the realtime tree store contract consumed by the sync
// core. The store offers per-path atomic writes and whole-subtree change
// notifications; it has no multi-key transactions, so every higher-level
// merge discipline is built on Write, Push and Remove alone.
package store

import "context"

// Handle identifies one attached subscription. Opaque to callers.
type Handle interface {
	// Path returns the subscribed path, for logging.
	Path() string
}

// Callback receives the full current value at the subscribed path. value is
// nil when the path is absent. Snapshots for one path arrive in monotonically
// increasing write order; no cross-path ordering is guaranteed.
type Callback func(value any)

// Client is the contract of the realtime store. Write and Remove replace or
// delete the value at a path atomically without touching siblings; Push
// inserts under a fresh unique child key, which is what makes collections
// with concurrent writers safe.
type Client interface {
	Write(ctx context.Context, path string, value any) error
	Push(ctx context.Context, path string, value any) (key string, err error)
	Subscribe(path string, cb Callback) (Handle, error)
	Unsubscribe(h Handle)
	Remove(ctx context.Context, path string) error
}
