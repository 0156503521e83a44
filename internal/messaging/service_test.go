package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
	"github.com/chrisackermannn/ascendr-sub001/internal/store/memory"
	"github.com/chrisackermannn/ascendr-sub001/internal/subscription"
)

// failingStore wraps a store client and fails writes on demand.
type failingStore struct {
	store.Client

	mu       sync.Mutex
	writeErr error
	writes   int
}

func (f *failingStore) Write(ctx context.Context, path string, value any) error {
	f.mu.Lock()
	f.writes++
	err := f.writeErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.Client.Write(ctx, path, value)
}

func (f *failingStore) setWriteErr(err error) {
	f.mu.Lock()
	f.writeErr = err
	f.mu.Unlock()
}

func (f *failingStore) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func newTestService(t *testing.T, backing store.Client, selfID string, opts ...Option) (*Service, *failingStore) {
	t.Helper()
	fs := &failingStore{Client: backing}
	subs := subscription.NewManager(fs, zap.NewNop())
	t.Cleanup(subs.UnsubscribeAll)
	return NewService(fs, subs, selfID, zap.NewNop(), opts...), fs
}

func TestSendMessageRejectsBlankText(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	svc, fs := newTestService(t, backing, "alice")

	for _, text := range []string{"", "   ", "\t\n"} {
		_, err := svc.SendMessage(context.Background(), "bob", text)
		assert.ErrorIs(t, err, ErrBlankMessage)
	}
	assert.Equal(t, 0, fs.writeCount())
}

func TestSendMessagePersistsAndAppearsInConversation(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	svc, _ := newTestService(t, backing, "alice")

	require.NoError(t, svc.LoadMessages("bob"))
	id, err := svc.SendMessage(context.Background(), "bob", "hello")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		msgs := svc.Messages()
		return len(msgs) == 1 && msgs[0].ID == id && msgs[0].Text == "hello"
	}, 2*time.Second, 5*time.Millisecond)

	stored, err := store.Children(backing.Get("messages/alice_bob"))
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestSendMessageRollsBackOnPersistenceFailure(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	svc, fs := newTestService(t, backing, "alice")

	require.NoError(t, svc.LoadMessages("bob"))
	fs.setWriteErr(errors.New("store down"))

	_, err := svc.SendMessage(context.Background(), "bob", "hello")
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, svc.Err(), domain.ErrPersistence)

	// The optimistic entry is removed by id: no message with that
	// text/sender/receiver remains after the call returns.
	for _, m := range svc.Messages() {
		assert.NotEqual(t, "hello", m.Text)
	}
	assert.Nil(t, backing.Get("messages/alice_bob"))
}

func TestLoadMessagesSortsByTimestampThenID(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	ctx := context.Background()

	ts := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	seed := []domain.Message{
		{ID: "m-b", SenderID: "bob", ReceiverID: "alice", Text: "second", Timestamp: ts.Add(time.Minute)},
		{ID: "m-c", SenderID: "alice", ReceiverID: "bob", Text: "tie-late", Timestamp: ts},
		{ID: "m-a", SenderID: "bob", ReceiverID: "alice", Text: "tie-early", Timestamp: ts},
	}
	for _, m := range seed {
		require.NoError(t, backing.Write(ctx, "messages/alice_bob/"+m.ID, m))
	}

	svc, _ := newTestService(t, backing, "alice")
	require.NoError(t, svc.LoadMessages("bob"))

	require.Eventually(t, func() bool {
		return len(svc.Messages()) == 3
	}, 2*time.Second, 5*time.Millisecond)

	msgs := svc.Messages()
	assert.Equal(t, []string{"m-a", "m-c", "m-b"}, []string{msgs[0].ID, msgs[1].ID, msgs[2].ID})
}

func TestUnreadCountsAreDerivedAndIdempotent(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	ctx := context.Background()

	ts := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	write := func(conv, id, sender, receiver string, read bool) {
		require.NoError(t, backing.Write(ctx, "messages/"+conv+"/"+id, domain.Message{
			ID: id, SenderID: sender, ReceiverID: receiver, Text: "x", Timestamp: ts, Read: read,
		}))
	}
	write("alice_bob", "m1", "bob", "alice", false)
	write("alice_bob", "m2", "bob", "alice", false)
	write("alice_carol", "m3", "carol", "alice", false)
	write("alice_carol", "m4", "alice", "carol", false) // outgoing, never unread for alice
	write("bob_carol", "m5", "bob", "carol", false)     // alice is not a participant

	svc, _ := newTestService(t, backing, "alice", WithDebounce(time.Millisecond))
	require.NoError(t, svc.Start())

	require.Eventually(t, func() bool {
		return svc.TotalUnread() == 3
	}, 2*time.Second, 5*time.Millisecond)

	// Recomputation from the same conversation set is idempotent.
	first := svc.TotalUnread()
	convs := svc.Conversations()
	assert.Equal(t, first, svc.TotalUnread())
	assert.Len(t, convs, 2)

	// Marking one conversation read drops its contribution to zero.
	require.NoError(t, svc.LoadMessages("bob"))
	require.Eventually(t, func() bool {
		return len(svc.Messages()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.MarkConversationRead(context.Background(), "bob"))

	require.Eventually(t, func() bool {
		return svc.TotalUnread() == 1
	}, 2*time.Second, 5*time.Millisecond)
	for _, c := range svc.Conversations() {
		if c.OtherUserID == "bob" {
			assert.Zero(t, c.UnreadCount)
		}
	}
}

func TestDebounceCollapsesBurstsButConverges(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	ctx := context.Background()

	svc, _ := newTestService(t, backing, "alice", WithDebounce(200*time.Millisecond))
	require.NoError(t, svc.Start())

	ts := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	const burst = 20
	for i := 0; i < burst; i++ {
		id := string(rune('a'+i%26)) + "-msg"
		require.NoError(t, backing.Write(ctx, "messages/alice_bob/m"+id+string(rune('0'+i/26)), domain.Message{
			ID: "m" + id, SenderID: "bob", ReceiverID: "alice", Text: "x",
			Timestamp: ts.Add(time.Duration(i) * time.Second),
		}))
	}

	// Regardless of how many refreshes were suppressed mid-burst, the
	// trailing refresh converges to the full message set.
	require.Eventually(t, func() bool {
		return svc.TotalUnread() == burst
	}, 3*time.Second, 10*time.Millisecond)
}

func TestOnlyReceiverUnreadIsCounted(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	ctx := context.Background()

	ts := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, backing.Write(ctx, "messages/alice_bob/m1", domain.Message{
		ID: "m1", SenderID: "alice", ReceiverID: "bob", Text: "hi", Timestamp: ts,
	}))

	svc, _ := newTestService(t, backing, "alice", WithDebounce(time.Millisecond))
	require.NoError(t, svc.Start())

	require.Eventually(t, func() bool {
		return len(svc.Conversations()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, svc.TotalUnread())
}

func TestOtherParticipantResolvesPeerUnambiguously(t *testing.T) {
	for _, tc := range []struct {
		convKey string
		selfID  string
		want    string
		ok      bool
	}{
		{"alice_bob", "alice", "bob", true},
		{"alice_bob", "bob", "alice", true},
		{"alice_bob", "carol", "", false},
		{"no-separator", "alice", "", false},
		// A malformed key with a second separator never resolves: ids cannot
		// contain the separator, so no valid pair can produce it.
		{"a_b_c", "a", "", false},
		{"a_b_c", "a_b", "", false},
	} {
		got, ok := otherParticipant(tc.convKey, tc.selfID)
		assert.Equal(t, tc.ok, ok, tc.convKey+"/"+tc.selfID)
		assert.Equal(t, tc.want, got, tc.convKey+"/"+tc.selfID)
	}
}

func TestSendMessageRejectsSeparatorInReceiverID(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	svc, fs := newTestService(t, backing, "alice")

	_, err := svc.SendMessage(context.Background(), "bob_carol", "hello")
	assert.ErrorIs(t, err, domain.ErrInvalidIdentifier)
	assert.Equal(t, 0, fs.writeCount())
}

func TestCloseConversationDetachesListener(t *testing.T) {
	backing := memory.New()
	defer backing.Close()
	svc, _ := newTestService(t, backing, "alice")

	require.NoError(t, svc.LoadMessages("bob"))
	svc.CloseConversation()
	assert.Empty(t, svc.Messages())

	// A later write must not repopulate the closed conversation view.
	require.NoError(t, backing.Write(context.Background(), "messages/alice_bob/m1", domain.Message{
		ID: "m1", SenderID: "bob", ReceiverID: "alice", Text: "late", Timestamp: time.Now().UTC(),
	}))
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, svc.Messages())
}
