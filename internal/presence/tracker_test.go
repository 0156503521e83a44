package presence

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/store/memory"
	"github.com/chrisackermannn/ascendr-sub001/internal/subscription"
)

func newTracker(t *testing.T, backing *memory.Store, selfID string) *Tracker {
	t.Helper()
	subs := subscription.NewManager(backing, zap.NewNop())
	t.Cleanup(subs.UnsubscribeAll)
	return NewTracker(backing, subs, selfID, zap.NewNop())
}

func TestSetOwnStatusWritesRecord(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	tr := newTracker(t, backing, "u1")

	require.NoError(t, tr.SetOwnStatus(context.Background(), domain.PresenceInWorkout))

	raw, ok := backing.Get("presence/u1").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "in-workout", raw["state"])
	assert.Equal(t, "u1", raw["userId"])
}

func TestTrackObservesFriendStatus(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	tr := newTracker(t, backing, "u1")

	var mu sync.Mutex
	var updates []domain.PresenceStatus
	tr.OnChange(func(s domain.PresenceStatus) {
		mu.Lock()
		updates = append(updates, s)
		mu.Unlock()
	})

	require.NoError(t, tr.Track("u2"))

	// Absent record reads as offline.
	require.Eventually(t, func() bool {
		s, ok := tr.Status("u2")
		return ok && s.State == domain.PresenceOffline
	}, 2*time.Second, 5*time.Millisecond)

	other := NewTracker(backing, subscription.NewManager(backing, zap.NewNop()), "u2", zap.NewNop())
	require.NoError(t, other.SetOwnStatus(context.Background(), domain.PresenceOnline))

	require.Eventually(t, func() bool {
		s, _ := tr.Status("u2")
		return s.State == domain.PresenceOnline
	}, 2*time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, updates)
	assert.Equal(t, "u2", updates[len(updates)-1].UserID)
}

func TestUntrackStopsUpdatesAndForgetsStatus(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	tr := newTracker(t, backing, "u1")

	require.NoError(t, tr.Track("u2"))
	require.Eventually(t, func() bool {
		_, ok := tr.Status("u2")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	tr.Untrack("u2")
	_, ok := tr.Status("u2")
	assert.False(t, ok)

	// A status write after removal must not be processed.
	require.NoError(t, backing.Write(context.Background(), "presence/u2", domain.PresenceStatus{
		UserID: "u2", State: domain.PresenceOnline, LastSeen: time.Now().UTC(),
	}))
	time.Sleep(50 * time.Millisecond)
	_, ok = tr.Status("u2")
	assert.False(t, ok)
	assert.Empty(t, tr.Snapshot())
}

func TestTrackRejectsReservedCharacters(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	tr := newTracker(t, backing, "u1")

	assert.ErrorIs(t, tr.Track("user#2"), domain.ErrInvalidIdentifier)
}
