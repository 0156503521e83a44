// Package subscription owns the mapping from logical subjects (friend ids,
// session ids, inbox paths) to live store listeners. It guarantees at most
// one listener per subject and deterministic teardown.
package subscription

import (
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/observability"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
)

// Manager tracks one store handle per subject. Every Subscribe is matched by
// exactly one detach: explicit Unsubscribe, replacement during
// re-subscription, or UnsubscribeAll.
//
// Detachment is a barrier: once Unsubscribe returns, no callback for the
// subject is running or will run. A snapshot the store fires concurrently
// with the detach is dropped, never processed. Because of the barrier,
// Unsubscribe must not be called from inside the same subject's callback;
// reentrant teardown goes through a goroutine.
type Manager struct {
	client store.Client
	logger *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	handle store.Handle
	// detached flips under the manager lock; the wrapper checks it before
	// invoking the component callback.
	detached bool
	// delivering is held for the duration of each callback invocation.
	// Detachers acquire it once to wait out an in-flight delivery.
	delivering sync.Mutex
}

// NewManager constructs a Manager over the given store client.
func NewManager(client store.Client, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client:  client,
		logger:  logger,
		entries: map[string]*entry{},
	}
}

// Subscribe attaches a listener at path under the given subject. An existing
// listener for the subject is detached first, so re-subscription is
// idempotent.
func (m *Manager) Subscribe(subject, path string, onUpdate store.Callback) error {
	e := &entry{}

	m.mu.Lock()
	old := m.entries[subject]
	var oldHandle store.Handle
	if old != nil {
		old.detached = true
		oldHandle = old.handle
	}
	m.entries[subject] = e
	m.mu.Unlock()

	if old != nil {
		m.detach(subject, old, oldHandle)
	}

	handle, err := m.client.Subscribe(path, func(value any) {
		e.delivering.Lock()
		defer e.delivering.Unlock()
		m.mu.Lock()
		dead := e.detached
		m.mu.Unlock()
		if dead {
			observability.RecordDroppedSnapshot()
			return
		}
		observability.RecordSnapshot(subjectKind(subject))
		onUpdate(value)
	})
	if err != nil {
		m.mu.Lock()
		if m.entries[subject] == e {
			delete(m.entries, subject)
		}
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	if m.entries[subject] != e {
		// Replaced or torn down while attaching; undo the attach.
		m.mu.Unlock()
		m.client.Unsubscribe(handle)
		return nil
	}
	e.handle = handle
	m.mu.Unlock()

	observability.ListenerAttached()
	m.logger.Debug("listener attached", zap.String("subject", subject), zap.String("path", path))
	return nil
}

// Unsubscribe detaches the subject's listener and waits for any in-flight
// delivery to finish. Missing subjects are a no-op, never an error.
func (m *Manager) Unsubscribe(subject string) {
	m.mu.Lock()
	e, ok := m.entries[subject]
	var handle store.Handle
	if ok {
		delete(m.entries, subject)
		e.detached = true
		handle = e.handle
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	m.detach(subject, e, handle)
}

// UnsubscribeAll detaches every tracked listener and clears the table.
// Invoked on sign-out and view teardown.
func (m *Manager) UnsubscribeAll() {
	m.mu.Lock()
	entries := m.entries
	m.entries = map[string]*entry{}
	handles := make(map[string]store.Handle, len(entries))
	for subject, e := range entries {
		e.detached = true
		handles[subject] = e.handle
	}
	m.mu.Unlock()

	for subject, e := range entries {
		m.detach(subject, e, handles[subject])
	}
}

// detach waits out an in-flight delivery, then releases the store handle.
func (m *Manager) detach(subject string, e *entry, handle store.Handle) {
	e.delivering.Lock()
	//lint:ignore SA2001 barrier: any in-flight callback has now returned
	e.delivering.Unlock()
	if handle != nil {
		m.client.Unsubscribe(handle)
		observability.ListenerDetached()
	}
	m.logger.Debug("listener detached", zap.String("subject", subject))
}

// Active reports whether a listener is tracked for subject.
func (m *Manager) Active(subject string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[subject]
	return ok
}

// Count returns the number of tracked listeners.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// subjectKind collapses a subject like "presence:u42" to its kind prefix for
// metric labels, keeping cardinality bounded.
func subjectKind(subject string) string {
	if i := strings.IndexByte(subject, ':'); i > 0 {
		return subject[:i]
	}
	return subject
}
