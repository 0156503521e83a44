package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/store/memory"
)

func TestSubscribeDelivers(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	m := NewManager(backing, zap.NewNop())
	defer m.UnsubscribeAll()

	got := make(chan any, 8)
	require.NoError(t, m.Subscribe("presence:u2", "presence/u2", func(v any) { got <- v }))
	assert.True(t, m.Active("presence:u2"))

	require.NoError(t, backing.Write(context.Background(), "presence/u2", "online"))
	<-got // initial
	assert.Equal(t, "online", <-got)
}

func TestResubscribeReplacesListener(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	m := NewManager(backing, zap.NewNop())
	defer m.UnsubscribeAll()

	var mu sync.Mutex
	firstCalls, secondCalls := 0, 0
	require.NoError(t, m.Subscribe("s", "a", func(any) { mu.Lock(); firstCalls++; mu.Unlock() }))
	require.NoError(t, m.Subscribe("s", "a", func(any) { mu.Lock(); secondCalls++; mu.Unlock() }))
	assert.Equal(t, 1, m.Count())

	require.NoError(t, backing.Write(context.Background(), "a", "v"))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return secondCalls >= 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	// The replaced listener got at most its initial snapshot.
	assert.LessOrEqual(t, firstCalls, 1)
}

func TestUnsubscribeMissingSubjectIsNoop(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	m := NewManager(backing, zap.NewNop())

	m.Unsubscribe("never-subscribed")
	assert.Equal(t, 0, m.Count())
}

func TestCallbackRacingDetachIsDropped(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	m := NewManager(backing, zap.NewNop())

	var mu sync.Mutex
	delivered := 0
	require.NoError(t, m.Subscribe("s", "x", func(any) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == 1
	}, time.Second, 5*time.Millisecond)

	// Fire a write and detach immediately: the snapshot may already be in
	// flight, but it must never reach the callback once Unsubscribe returned.
	require.NoError(t, backing.Write(context.Background(), "x", "v"))
	m.Unsubscribe("s")
	after := func() int {
		mu.Lock()
		defer mu.Unlock()
		return delivered
	}()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, after, func() int {
		mu.Lock()
		defer mu.Unlock()
		return delivered
	}())
	assert.False(t, m.Active("s"))
}

func TestUnsubscribeAllClearsTable(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	m := NewManager(backing, zap.NewNop())

	require.NoError(t, m.Subscribe("a", "pa", func(any) {}))
	require.NoError(t, m.Subscribe("b", "pb", func(any) {}))
	require.NoError(t, m.Subscribe("c", "pc", func(any) {}))
	require.Equal(t, 3, m.Count())

	m.UnsubscribeAll()
	assert.Equal(t, 0, m.Count())
	assert.False(t, m.Active("a"))
}

func TestSubjectKind(t *testing.T) {
	assert.Equal(t, "presence", subjectKind("presence:u42"))
	assert.Equal(t, "messages", subjectKind("messages"))
}
