// Package ws carries the realtime store contract over a websocket. The
// client side implements store.Client; the server side hosts a hub around an
// in-process store. Frames are JSON envelopes, one operation each.
package ws

import "encoding/json"

// Frame ops. Requests carry an ID echoed by the matching ack; snapshot frames
// reference the subscription they belong to.
const (
	OpWrite       = "write"
	OpPush        = "push"
	OpRemove      = "remove"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpAck         = "ack"
	OpSnapshot    = "snapshot"
)

// Frame is the wire envelope for every message in both directions.
type Frame struct {
	Op    string          `json:"op"`
	ID    int64           `json:"id,omitempty"`
	Path  string          `json:"path,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
	Key   string          `json:"key,omitempty"`
	Sub   int64           `json:"sub,omitempty"`
	Error string          `json:"error,omitempty"`
}
