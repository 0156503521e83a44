package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/store"
	"github.com/chrisackermannn/ascendr-sub001/internal/store/memory"
)

// Hub serves the store contract to websocket clients over a shared
// memory.Store, so every connected client observes the same tree.
type Hub struct {
	store    *memory.Store
	logger   *zap.Logger
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*hubConn]struct{}
}

type hubConn struct {
	hub  *Hub
	conn *websocket.Conn
	send chan Frame
	done chan struct{}

	mu      sync.Mutex
	nextSub int64
	subs    map[int64]store.Handle
	closed  bool
}

// NewHub constructs a Hub around backing.
func NewHub(backing *memory.Store, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		store:  backing,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: map[*hubConn]struct{}{},
	}
}

// ServeHTTP upgrades the request and serves store operations until the
// connection drops. Each connection's subscriptions are detached on exit.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("upgrade failed", zap.Error(err))
		return
	}
	hc := &hubConn{
		hub:  h,
		conn: conn,
		send: make(chan Frame, 256),
		done: make(chan struct{}),
		subs: map[int64]store.Handle{},
	}
	h.mu.Lock()
	h.conns[hc] = struct{}{}
	h.mu.Unlock()

	go hc.writeLoop()
	hc.readLoop()

	h.mu.Lock()
	delete(h.conns, hc)
	h.mu.Unlock()
	hc.teardown()
}

// Close detaches every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*hubConn, 0, len(h.conns))
	for hc := range h.conns {
		conns = append(conns, hc)
	}
	h.conns = map[*hubConn]struct{}{}
	h.mu.Unlock()
	for _, hc := range conns {
		_ = hc.conn.Close()
		hc.teardown()
	}
}

func (hc *hubConn) readLoop() {
	defer func() { _ = hc.conn.Close() }()
	for {
		var f Frame
		if err := hc.conn.ReadJSON(&f); err != nil {
			return
		}
		hc.handle(f)
	}
}

func (hc *hubConn) writeLoop() {
	for {
		select {
		case <-hc.done:
			return
		case f := <-hc.send:
			_ = hc.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := hc.conn.WriteJSON(f); err != nil {
				return
			}
		}
	}
}

func (hc *hubConn) handle(f Frame) {
	switch f.Op {
	case OpWrite:
		var value any
		if len(f.Value) > 0 {
			if err := json.Unmarshal(f.Value, &value); err != nil {
				hc.reply(Frame{Op: OpAck, ID: f.ID, Error: err.Error()})
				return
			}
		}
		err := hc.hub.store.Write(context.Background(), f.Path, value)
		hc.reply(ack(f.ID, "", err))
	case OpPush:
		var value any
		if len(f.Value) > 0 {
			if err := json.Unmarshal(f.Value, &value); err != nil {
				hc.reply(Frame{Op: OpAck, ID: f.ID, Error: err.Error()})
				return
			}
		}
		key, err := hc.hub.store.Push(context.Background(), f.Path, value)
		hc.reply(ack(f.ID, key, err))
	case OpRemove:
		err := hc.hub.store.Remove(context.Background(), f.Path)
		hc.reply(ack(f.ID, "", err))
	case OpSubscribe:
		hc.subscribe(f)
	case OpUnsubscribe:
		hc.unsubscribe(f)
	default:
		hc.reply(Frame{Op: OpAck, ID: f.ID, Error: "unknown op " + f.Op})
	}
}

func (hc *hubConn) subscribe(f Frame) {
	hc.mu.Lock()
	hc.nextSub++
	subID := hc.nextSub
	hc.mu.Unlock()

	handle, err := hc.hub.store.Subscribe(f.Path, func(value any) {
		raw, marshalErr := json.Marshal(value)
		if marshalErr != nil {
			hc.hub.logger.Warn("failed to marshal snapshot", zap.String("path", f.Path), zap.Error(marshalErr))
			return
		}
		hc.reply(Frame{Op: OpSnapshot, Sub: subID, Value: raw})
	})
	if err != nil {
		hc.reply(Frame{Op: OpAck, ID: f.ID, Error: err.Error()})
		return
	}

	hc.mu.Lock()
	if hc.closed {
		hc.mu.Unlock()
		hc.hub.store.Unsubscribe(handle)
		return
	}
	hc.subs[subID] = handle
	hc.mu.Unlock()

	hc.reply(Frame{Op: OpAck, ID: f.ID, Sub: subID})
}

func (hc *hubConn) unsubscribe(f Frame) {
	hc.mu.Lock()
	handle, ok := hc.subs[f.Sub]
	delete(hc.subs, f.Sub)
	hc.mu.Unlock()
	if ok {
		hc.hub.store.Unsubscribe(handle)
	}
	hc.reply(Frame{Op: OpAck, ID: f.ID})
}

// teardown detaches every subscription held by the connection. A dropped
// client must not keep consuming store bandwidth.
func (hc *hubConn) teardown() {
	hc.mu.Lock()
	if hc.closed {
		hc.mu.Unlock()
		return
	}
	hc.closed = true
	subs := hc.subs
	hc.subs = map[int64]store.Handle{}
	hc.mu.Unlock()

	for _, handle := range subs {
		hc.hub.store.Unsubscribe(handle)
	}
	close(hc.done)
}

func (hc *hubConn) reply(f Frame) {
	select {
	case <-hc.done:
	case hc.send <- f:
	default:
		// Slow consumer; drop rather than block the store's delivery loop.
		hc.hub.logger.Warn("dropping frame for slow consumer", zap.String("op", f.Op))
	}
}

func ack(id int64, key string, err error) Frame {
	f := Frame{Op: OpAck, ID: id, Key: key}
	if err != nil {
		f.Error = err.Error()
	}
	return f
}
