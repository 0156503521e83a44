package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
)

// ErrClosed is returned for operations on a closed client.
var ErrClosed = errors.New("ws store client closed")

const writeWait = 10 * time.Second

// Client implements store.Client over a websocket connection to the hub.
// A single read loop dispatches acks to waiting callers and snapshots to the
// registered subscription callbacks.
type Client struct {
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Frame
	subs    map[int64]store.Callback
	closed  bool
}

type handle struct {
	id   int64
	path string
}

func (h *handle) Path() string { return h.path }

// Dial connects to the hub at url (e.g. "ws://localhost:8090/sync") and
// starts the read loop.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial hub: %v", domain.ErrPersistence, err)
	}
	c := &Client{
		conn:    conn,
		logger:  logger,
		pending: map[int64]chan Frame{},
		subs:    map[int64]store.Callback{},
	}
	go c.readLoop()
	return c, nil
}

// Close tears down the connection. In-flight requests fail with ErrClosed.
// A snapshot callback already dispatched by the read loop may still be
// running when Close returns; the subscription manager gates those.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	pending := c.pending
	c.pending = map[int64]chan Frame{}
	c.subs = map[int64]store.Callback{}
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	return c.conn.Close()
}

// Write replaces the value at path atomically on the hub.
func (c *Client) Write(ctx context.Context, path string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDecoding, err)
	}
	_, err = c.roundTrip(ctx, Frame{Op: OpWrite, Path: path, Value: raw})
	return err
}

// Push inserts value under a fresh child key of path; the hub returns the key.
func (c *Client) Push(ctx context.Context, path string, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecoding, err)
	}
	ack, err := c.roundTrip(ctx, Frame{Op: OpPush, Path: path, Value: raw})
	if err != nil {
		return "", err
	}
	return ack.Key, nil
}

// Remove deletes the subtree at path on the hub.
func (c *Client) Remove(ctx context.Context, path string) error {
	_, err := c.roundTrip(ctx, Frame{Op: OpRemove, Path: path})
	return err
}

// Subscribe attaches cb to path on the hub. The hub sends the full current
// value immediately and after every change under path.
func (c *Client) Subscribe(path string, cb store.Callback) (store.Handle, error) {
	ack, err := c.roundTrip(context.Background(), Frame{Op: OpSubscribe, Path: path})
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[ack.Sub] = cb
	c.mu.Unlock()
	return &handle{id: ack.Sub, path: path}, nil
}

// Unsubscribe detaches a handle. Already-detached handles are a no-op.
func (c *Client) Unsubscribe(h store.Handle) {
	wh, ok := h.(*handle)
	if !ok {
		return
	}
	c.mu.Lock()
	_, active := c.subs[wh.id]
	delete(c.subs, wh.id)
	c.mu.Unlock()
	if !active {
		return
	}
	if _, err := c.roundTrip(context.Background(), Frame{Op: OpUnsubscribe, Sub: wh.id}); err != nil {
		c.logger.Warn("unsubscribe failed", zap.String("path", wh.path), zap.Error(err))
	}
}

func (c *Client) roundTrip(ctx context.Context, f Frame) (Frame, error) {
	ch := make(chan Frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Frame{}, ErrClosed
	}
	c.nextID++
	f.ID = c.nextID
	c.pending[f.ID] = ch
	c.mu.Unlock()

	if err := c.send(f); err != nil {
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return Frame{}, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}

	select {
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, f.ID)
		c.mu.Unlock()
		return Frame{}, ctx.Err()
	case ack, ok := <-ch:
		if !ok {
			return Frame{}, ErrClosed
		}
		if ack.Error != "" {
			return Frame{}, fmt.Errorf("%w: %s", domain.ErrPersistence, ack.Error)
		}
		return ack, nil
	}
}

func (c *Client) send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(f)
}

func (c *Client) readLoop() {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			alreadyClosed := c.closed
			c.mu.Unlock()
			if !alreadyClosed {
				c.logger.Warn("hub connection lost", zap.Error(err))
				_ = c.Close()
			}
			return
		}

		switch f.Op {
		case OpAck:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case OpSnapshot:
			c.mu.Lock()
			cb, ok := c.subs[f.Sub]
			c.mu.Unlock()
			if !ok {
				continue
			}
			var value any
			if len(f.Value) > 0 {
				if err := json.Unmarshal(f.Value, &value); err != nil {
					c.logger.Warn("dropping undecodable snapshot", zap.Error(err))
					continue
				}
			}
			cb(value)
		default:
			c.logger.Warn("unexpected frame from hub", zap.String("op", f.Op))
		}
	}
}
