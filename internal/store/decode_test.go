package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
)

func TestDecodeRoundTrip(t *testing.T) {
	in := domain.Message{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Text:       "hello",
		Timestamp:  time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
	}
	tree, err := Encode(in)
	require.NoError(t, err)

	var out domain.Message
	require.NoError(t, Decode(tree, &out))
	assert.Equal(t, in, out)
}

func TestDecodeRejectsWrongShape(t *testing.T) {
	var out domain.Message
	err := Decode("just a string", &out)
	assert.ErrorIs(t, err, domain.ErrDecoding)
}

func TestChildren(t *testing.T) {
	children, err := Children(nil)
	require.NoError(t, err)
	assert.Empty(t, children)

	children, err = Children(map[string]any{"k1": 1, "k2": 2})
	require.NoError(t, err)
	assert.Len(t, children, 2)

	_, err = Children([]any{1, 2})
	assert.ErrorIs(t, err, domain.ErrDecoding)
}
