// Package memory implements the realtime store contract against an in-process
// tree. It is the backing store of the hub server and the substitute store
// used throughout the test suites.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/chrisackermannn/ascendr-sub001/internal/store"
)

// Store holds a mutable tree of map[string]any nodes. All mutations are
// per-path atomic; every subscriber whose subtree overlaps a mutation is
// handed a fresh deep-copied snapshot, delivered in write order on a
// dedicated goroutine per subscriber.
type Store struct {
	mu     sync.Mutex
	root   map[string]any
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	owner *Store
	id    int
	path  string
	cb    store.Callback

	qmu    sync.Mutex
	queue  []any
	wake   chan struct{}
	done   chan struct{}
	closed sync.Once
}

func (s *subscriber) Path() string { return s.path }

// New constructs an empty Store.
func New() *Store {
	return &Store{
		root: map[string]any{},
		subs: map[int]*subscriber{},
	}
}

// Write replaces the value at path atomically. A nil value deletes the node.
func (s *Store) Write(_ context.Context, path string, value any) error {
	encoded, err := store.Encode(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(store.Split(path), encoded)
	s.notifyLocked(path)
	return nil
}

// Push inserts value under a fresh unique child key of path and returns the
// key. Concurrent pushers never collide, which is what makes multi-writer
// collections safe.
func (s *Store) Push(ctx context.Context, path string, value any) (string, error) {
	key := uuid.NewString()
	if err := s.Write(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Remove deletes the subtree at path. Removing an absent path is a no-op, so
// consume-once semantics stay idempotent.
func (s *Store) Remove(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(store.Split(path), nil)
	s.notifyLocked(path)
	return nil
}

// Subscribe attaches cb to path. The callback fires with the full current
// value on attach and after every change anywhere under path. Snapshots for
// one handle arrive in write order.
func (s *Store) Subscribe(path string, cb store.Callback) (store.Handle, error) {
	sub := &subscriber{
		owner: s,
		path:  path,
		cb:    cb,
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
	}

	s.mu.Lock()
	s.nextID++
	sub.id = s.nextID
	s.subs[sub.id] = sub
	initial := deepCopy(s.getLocked(store.Split(path)))
	s.mu.Unlock()

	go sub.deliverLoop()
	sub.enqueue(initial)
	return sub, nil
}

// Unsubscribe detaches a handle. Detaching twice, or detaching a handle from
// another store, is a no-op.
func (s *Store) Unsubscribe(h store.Handle) {
	sub, ok := h.(*subscriber)
	if !ok || sub.owner != s {
		return
	}
	s.mu.Lock()
	delete(s.subs, sub.id)
	s.mu.Unlock()
	sub.closed.Do(func() { close(sub.done) })
}

// Get returns a deep copy of the current value at path, nil when absent.
// Not part of the store contract; tests and the hub server use it.
func (s *Store) Get(path string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return deepCopy(s.getLocked(store.Split(path)))
}

// Close detaches every subscriber.
func (s *Store) Close() {
	s.mu.Lock()
	subs := make([]*subscriber, 0, len(s.subs))
	for _, sub := range s.subs {
		subs = append(subs, sub)
	}
	s.subs = map[int]*subscriber{}
	s.mu.Unlock()
	for _, sub := range subs {
		sub.closed.Do(func() { close(sub.done) })
	}
}

func (s *Store) setLocked(segments []string, value any) {
	if len(segments) == 0 {
		if m, ok := value.(map[string]any); ok {
			s.root = m
		} else {
			s.root = map[string]any{}
		}
		return
	}
	node := s.root
	for _, seg := range segments[:len(segments)-1] {
		child, ok := node[seg].(map[string]any)
		if !ok {
			if value == nil {
				return
			}
			child = map[string]any{}
			node[seg] = child
		}
		node = child
	}
	leaf := segments[len(segments)-1]
	if value == nil {
		delete(node, leaf)
		return
	}
	node[leaf] = value
}

func (s *Store) getLocked(segments []string) any {
	var node any = s.root
	for _, seg := range segments {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	if m, ok := node.(map[string]any); ok && len(m) == 0 {
		return nil
	}
	return node
}

// notifyLocked queues a fresh snapshot for every subscriber whose subtree
// overlaps the mutated path, in either direction: a write below the
// subscription changes its subtree, and a write above it may replace it.
func (s *Store) notifyLocked(mutated string) {
	for _, sub := range s.subs {
		if !overlaps(sub.path, mutated) {
			continue
		}
		sub.enqueue(deepCopy(s.getLocked(store.Split(sub.path))))
	}
}

func overlaps(a, b string) bool {
	as, bs := store.Split(a), store.Split(b)
	n := len(as)
	if len(bs) < n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func (s *subscriber) enqueue(snapshot any) {
	s.qmu.Lock()
	s.queue = append(s.queue, snapshot)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) deliverLoop() {
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.qmu.Lock()
			if len(s.queue) == 0 {
				s.qmu.Unlock()
				break
			}
			snapshot := s.queue[0]
			s.queue = s.queue[1:]
			s.qmu.Unlock()

			select {
			case <-s.done:
				return
			default:
			}
			s.cb(snapshot)
		}
	}
}

func deepCopy(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			out[k] = deepCopy(child)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			out[i] = deepCopy(child)
		}
		return out
	default:
		return v
	}
}
