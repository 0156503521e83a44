package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/store/memory"
)

func newHubAndClient(t *testing.T) (*memory.Store, *Client) {
	t.Helper()
	backing := memory.New()
	t.Cleanup(backing.Close)

	hub := NewHub(backing, zap.NewNop())
	t.Cleanup(hub.Close)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync"
	client, err := Dial(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return backing, client
}

func TestWriteRoundTrip(t *testing.T) {
	backing, client := newHubAndClient(t)

	require.NoError(t, client.Write(context.Background(), "users/u1", map[string]any{"displayName": "Alice"}))

	got, ok := backing.Get("users/u1").(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Alice", got["displayName"])
}

func TestPushReturnsServerKey(t *testing.T) {
	backing, client := newHubAndClient(t)

	key, err := client.Push(context.Background(), "inbox/u1", map[string]any{"n": 1})
	require.NoError(t, err)
	require.NotEmpty(t, key)

	children, ok := backing.Get("inbox/u1").(map[string]any)
	require.True(t, ok)
	assert.Contains(t, children, key)
}

func TestRemoveRoundTrip(t *testing.T) {
	backing, client := newHubAndClient(t)

	require.NoError(t, client.Write(context.Background(), "inbox/u1/k", "v"))
	require.NoError(t, client.Remove(context.Background(), "inbox/u1/k"))
	assert.Nil(t, backing.Get("inbox/u1/k"))
}

func TestSubscribeStreamsRemoteWrites(t *testing.T) {
	backing, client := newHubAndClient(t)

	var mu sync.Mutex
	var snapshots []any
	h, err := client.Subscribe("presence/u2", func(value any) {
		mu.Lock()
		snapshots = append(snapshots, value)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer client.Unsubscribe(h)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A write from another party (directly against the backing store here)
	// reaches the websocket subscriber.
	require.NoError(t, backing.Write(context.Background(), "presence/u2", map[string]any{"state": "online"}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(snapshots) == 2
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	second, _ := snapshots[1].(map[string]any)
	assert.Equal(t, "online", second["state"])
}

func TestUnsubscribeStopsStream(t *testing.T) {
	backing, client := newHubAndClient(t)

	var mu sync.Mutex
	count := 0
	h, err := client.Subscribe("x", func(any) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 1
	}, 2*time.Second, 10*time.Millisecond)

	client.Unsubscribe(h)
	client.Unsubscribe(h) // second detach is a no-op

	require.NoError(t, backing.Write(context.Background(), "x", "v"))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, count)
}

func TestTwoClientsShareOneTree(t *testing.T) {
	backing := memory.New()
	t.Cleanup(backing.Close)
	hub := NewHub(backing, zap.NewNop())
	t.Cleanup(hub.Close)
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/sync"

	a, err := Dial(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Dial(context.Background(), url, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	got := make(chan any, 8)
	h, err := b.Subscribe("shared/doc", func(value any) { got <- value })
	require.NoError(t, err)
	defer b.Unsubscribe(h)
	<-got // initial nil

	require.NoError(t, a.Write(context.Background(), "shared/doc", map[string]any{"v": "from-a"}))

	select {
	case v := <-got:
		doc, _ := v.(map[string]any)
		assert.Equal(t, "from-a", doc["v"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cross-client snapshot")
	}
}

func TestOperationsAfterCloseFail(t *testing.T) {
	_, client := newHubAndClient(t)
	require.NoError(t, client.Close())

	err := client.Write(context.Background(), "x", "v")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = client.Subscribe("x", func(any) {})
	assert.ErrorIs(t, err, ErrClosed)
}
