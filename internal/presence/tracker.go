// Package presence maintains each friend's last-known status from store
// listener callbacks and publishes the caller's own status.
package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/observability"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
	"github.com/chrisackermannn/ascendr-sub001/internal/subscription"
)

// Tracker holds the last-known PresenceStatus per tracked friend. Presence is
// a single-writer field: only the owning user's device writes its own record,
// so whole-record overwrite is safe and no merge is needed.
type Tracker struct {
	client store.Client
	subs   *subscription.Manager
	logger *zap.Logger
	selfID string
	now    func() time.Time

	mu       sync.Mutex
	statuses map[string]domain.PresenceStatus
	onChange func(domain.PresenceStatus)
}

// NewTracker constructs a Tracker for the signed-in user.
func NewTracker(client store.Client, subs *subscription.Manager, selfID string, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		client:   client,
		subs:     subs,
		logger:   logger,
		selfID:   selfID,
		now:      time.Now,
		statuses: map[string]domain.PresenceStatus{},
	}
}

// OnChange registers the observer notified after each status update.
func (t *Tracker) OnChange(fn func(domain.PresenceStatus)) { t.onChange = fn }

// SetOwnStatus overwrites the caller's own presence record.
func (t *Tracker) SetOwnStatus(ctx context.Context, state domain.PresenceState) error {
	if err := store.ValidateSegment(t.selfID); err != nil {
		return err
	}
	status := domain.PresenceStatus{
		UserID:   t.selfID,
		State:    state,
		LastSeen: t.now().UTC(),
	}
	if err := t.client.Write(ctx, store.PresencePath(t.selfID), status); err != nil {
		observability.RecordStoreError("write")
		return fmt.Errorf("%w: publish presence: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Track subscribes to a friend's presence path. Tracking an already-tracked
// friend replaces the listener.
func (t *Tracker) Track(friendID string) error {
	if err := store.ValidateSegment(friendID); err != nil {
		return err
	}
	return t.subs.Subscribe("presence:"+friendID, store.PresencePath(friendID), func(value any) {
		t.handleSnapshot(friendID, value)
	})
}

// Untrack detaches the friend's presence listener and forgets their status.
// Called on friend removal; no further callback for the friend is processed.
func (t *Tracker) Untrack(friendID string) {
	t.subs.Unsubscribe("presence:" + friendID)
	t.mu.Lock()
	delete(t.statuses, friendID)
	t.mu.Unlock()
}

// Status returns the last-known status for a friend.
func (t *Tracker) Status(friendID string) (domain.PresenceStatus, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.statuses[friendID]
	return s, ok
}

// Snapshot returns a copy of every tracked status.
func (t *Tracker) Snapshot() map[string]domain.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]domain.PresenceStatus, len(t.statuses))
	for k, v := range t.statuses {
		out[k] = v
	}
	return out
}

func (t *Tracker) handleSnapshot(friendID string, value any) {
	status := domain.PresenceStatus{UserID: friendID, State: domain.PresenceOffline}
	if value != nil {
		if err := store.Decode(value, &status); err != nil {
			t.logger.Warn("skipping undecodable presence record",
				zap.String("userId", friendID), zap.Error(err))
			return
		}
		if status.UserID == "" {
			status.UserID = friendID
		}
	}

	t.mu.Lock()
	t.statuses[friendID] = status
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn(status)
	}
}
