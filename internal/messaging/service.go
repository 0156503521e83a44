// Package messaging maintains per-conversation message streams, derives
// unread counts from the message set, and debounces refresh storms from the
// broad-scope messages listener.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/observability"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
	"github.com/chrisackermannn/ascendr-sub001/internal/subscription"
)

// ErrBlankMessage rejects whitespace-only message text before any network
// call is made.
var ErrBlankMessage = errors.New("message text is blank")

// DefaultDebounce caps conversation refreshes at roughly two per second
// under write storms.
const DefaultDebounce = 500 * time.Millisecond

// Service owns messaging state for the signed-in user. Conversations and
// unread counts are always recomputed from the message set, never mutated
// directly, so transient desynchronization heals on the next refresh.
type Service struct {
	client store.Client
	subs   *subscription.Manager
	logger *zap.Logger
	selfID string
	now    func() time.Time
	window time.Duration

	mu            sync.Mutex
	activeConv    string
	convMessages  []domain.Message
	conversations []domain.Conversation
	totalUnread   int
	lastRefresh   time.Time
	refreshTimer  *time.Timer
	latestRoot    any
	lastErr       error

	onMessages      func([]domain.Message)
	onConversations func([]domain.Conversation, int)
}

// Option configures optional Service behaviour.
type Option func(*Service)

// WithDebounce overrides the refresh debounce window.
func WithDebounce(window time.Duration) Option {
	return func(s *Service) { s.window = window }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService constructs a messaging Service.
func NewService(client store.Client, subs *subscription.Manager, selfID string, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		client: client,
		subs:   subs,
		logger: logger,
		selfID: selfID,
		now:    time.Now,
		window: DefaultDebounce,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnMessages registers the observer for the active conversation's list.
func (s *Service) OnMessages(fn func([]domain.Message)) { s.onMessages = fn }

// OnConversations registers the observer for conversation summaries and the
// total unread count.
func (s *Service) OnConversations(fn func([]domain.Conversation, int)) {
	s.onConversations = fn
}

// Start attaches the broad-scope listener over the whole messages namespace.
// The store has no per-conversation change feed, so every notification
// triggers a derived-state refresh, collapsed through the debounce gate.
func (s *Service) Start() error {
	if err := store.ValidateSegment(s.selfID); err != nil {
		return err
	}
	return s.subs.Subscribe("messages:"+s.selfID, store.MessagesRoot(), s.handleRootSnapshot)
}

// Err returns the last reported operation error.
func (s *Service) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// SendMessage applies the message optimistically, keyed by a locally
// generated id, then persists it. On persistence failure the optimistic
// entry is removed by id and the error is reported; the id is globally
// unique, so the removal cannot touch another writer's entry.
func (s *Service) SendMessage(ctx context.Context, receiverID, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", s.report(ErrBlankMessage)
	}
	if err := store.ValidateSegments(s.selfID, receiverID); err != nil {
		return "", s.report(err)
	}

	msg := domain.Message{
		ID:         uuid.NewString(),
		SenderID:   s.selfID,
		ReceiverID: receiverID,
		Text:       text,
		Timestamp:  s.now().UTC(),
	}
	convKey := store.ConversationKey(s.selfID, receiverID)

	s.mu.Lock()
	if s.activeConv == convKey {
		s.convMessages = append(s.convMessages, msg)
		domain.SortMessages(s.convMessages)
	}
	s.mu.Unlock()
	s.notifyMessages()

	path := store.ConversationPath(s.selfID, receiverID) + "/" + msg.ID
	if err := s.client.Write(ctx, path, msg); err != nil {
		observability.RecordStoreError("write")
		s.removeLocal(convKey, msg.ID)
		s.notifyMessages()
		return "", s.report(fmt.Errorf("%w: send message: %v", domain.ErrPersistence, err))
	}
	s.report(nil)
	return msg.ID, nil
}

// LoadMessages makes the conversation with otherUserID the active one: the
// attach snapshot delivers the existing message set, and every subsequent
// snapshot fully replaces and re-sorts the local list.
func (s *Service) LoadMessages(otherUserID string) error {
	if err := store.ValidateSegments(s.selfID, otherUserID); err != nil {
		return s.report(err)
	}
	convKey := store.ConversationKey(s.selfID, otherUserID)

	s.mu.Lock()
	s.activeConv = convKey
	s.convMessages = nil
	s.mu.Unlock()

	err := s.subs.Subscribe("conversation:"+convKey, store.ConversationPath(s.selfID, otherUserID), func(value any) {
		s.handleConversationSnapshot(convKey, value)
	})
	if err != nil {
		return s.report(fmt.Errorf("%w: load messages: %v", domain.ErrPersistence, err))
	}
	return nil
}

// CloseConversation detaches the active conversation's listener.
func (s *Service) CloseConversation() {
	s.mu.Lock()
	convKey := s.activeConv
	s.activeConv = ""
	s.convMessages = nil
	s.mu.Unlock()
	if convKey != "" {
		s.subs.Unsubscribe("conversation:" + convKey)
	}
}

// MarkConversationRead flips the read flag on every unread message addressed
// to the signed-in user in the conversation with otherUserID. Only the
// receiver may flip read.
func (s *Service) MarkConversationRead(ctx context.Context, otherUserID string) error {
	if err := store.ValidateSegments(s.selfID, otherUserID); err != nil {
		return s.report(err)
	}
	convKey := store.ConversationKey(s.selfID, otherUserID)

	s.mu.Lock()
	var unread []string
	if s.activeConv == convKey {
		for i := range s.convMessages {
			m := &s.convMessages[i]
			if m.ReceiverID == s.selfID && !m.Read {
				unread = append(unread, m.ID)
				m.Read = true
			}
		}
	}
	s.mu.Unlock()

	base := store.ConversationPath(s.selfID, otherUserID)
	var errs []error
	for _, id := range unread {
		if err := s.client.Write(ctx, base+"/"+id+"/read", true); err != nil {
			observability.RecordStoreError("write")
			errs = append(errs, fmt.Errorf("%w: mark read %s: %v", domain.ErrPersistence, id, err))
		}
	}
	s.notifyMessages()
	return s.report(errors.Join(errs...))
}

// Messages returns a copy of the active conversation's message list.
func (s *Service) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.convMessages))
	copy(out, s.convMessages)
	return out
}

// Conversations returns the latest derived conversation summaries.
func (s *Service) Conversations() []domain.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// TotalUnread returns the sum of every conversation's unread count. It is
// derived on refresh, never mutated directly.
func (s *Service) TotalUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalUnread
}

func (s *Service) handleConversationSnapshot(convKey string, value any) {
	msgs := decodeMessages(value, s.logger)
	domain.SortMessages(msgs)

	s.mu.Lock()
	if s.activeConv != convKey {
		s.mu.Unlock()
		return
	}
	s.convMessages = msgs
	s.mu.Unlock()
	s.notifyMessages()
}

// handleRootSnapshot is the timer-gated event filter over the broad messages
// listener: a refresh within the debounce window is suppressed, and a
// trailing refresh is scheduled so the derived state still converges to the
// latest snapshot once the burst ends.
func (s *Service) handleRootSnapshot(value any) {
	s.mu.Lock()
	s.latestRoot = value
	now := s.now()
	elapsed := now.Sub(s.lastRefresh)
	if elapsed < s.window {
		observability.RecordSuppressedRefresh()
		if s.refreshTimer == nil {
			s.refreshTimer = time.AfterFunc(s.window-elapsed, s.trailingRefresh)
		}
		s.mu.Unlock()
		return
	}
	s.lastRefresh = now
	root := s.latestRoot
	s.mu.Unlock()

	s.refreshConversations(root)
}

func (s *Service) trailingRefresh() {
	s.mu.Lock()
	s.refreshTimer = nil
	s.lastRefresh = s.now()
	root := s.latestRoot
	s.mu.Unlock()
	s.refreshConversations(root)
}

func (s *Service) refreshConversations(root any) {
	children, err := store.Children(root)
	if err != nil {
		s.logger.Warn("messages namespace has unexpected shape", zap.Error(err))
		return
	}

	var conversations []domain.Conversation
	total := 0
	for convKey, subtree := range children {
		other, ok := otherParticipant(convKey, s.selfID)
		if !ok {
			continue
		}
		msgs := decodeMessages(subtree, s.logger)
		if len(msgs) == 0 {
			continue
		}
		domain.SortMessages(msgs)

		unread := 0
		for _, m := range msgs {
			if m.ReceiverID == s.selfID && !m.Read {
				unread++
			}
		}
		last := msgs[len(msgs)-1]
		conversations = append(conversations, domain.Conversation{
			OtherUserID: other,
			LastMessage: &last,
			UnreadCount: unread,
			UpdatedAt:   last.Timestamp,
		})
		total += unread
	}
	sortConversations(conversations)

	s.mu.Lock()
	s.conversations = conversations
	s.totalUnread = total
	s.mu.Unlock()
	s.notifyConversations()
}

func (s *Service) removeLocal(convKey, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.activeConv != convKey {
		return
	}
	for i := range s.convMessages {
		if s.convMessages[i].ID == messageID {
			s.convMessages = append(s.convMessages[:i], s.convMessages[i+1:]...)
			return
		}
	}
}

func (s *Service) notifyMessages() {
	if s.onMessages == nil {
		return
	}
	s.onMessages(s.Messages())
}

func (s *Service) notifyConversations() {
	if s.onConversations == nil {
		return
	}
	s.mu.Lock()
	convs := make([]domain.Conversation, len(s.conversations))
	copy(convs, s.conversations)
	total := s.totalUnread
	s.mu.Unlock()
	s.onConversations(convs, total)
}

func (s *Service) report(err error) error {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	return err
}

func decodeMessages(value any, logger *zap.Logger) []domain.Message {
	children, err := store.Children(value)
	if err != nil {
		logger.Warn("conversation subtree has unexpected shape", zap.Error(err))
		return nil
	}
	out := make([]domain.Message, 0, len(children))
	for key, child := range children {
		var m domain.Message
		if err := store.Decode(child, &m); err != nil {
			logger.Warn("skipping undecodable message", zap.String("key", key), zap.Error(err))
			continue
		}
		if m.ID == "" {
			m.ID = key
		}
		out = append(out, m)
	}
	return out
}

// otherParticipant extracts the peer's id from a conversation key, reporting
// false when selfID is not a participant. The separator is a reserved
// character in user ids, so the split is unambiguous.
func otherParticipant(convKey, selfID string) (string, bool) {
	first, second, ok := strings.Cut(convKey, "_")
	if !ok || strings.Contains(second, "_") {
		return "", false
	}
	switch selfID {
	case first:
		return second, true
	case second:
		return first, true
	}
	return "", false
}

func sortConversations(convs []domain.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		if !convs[i].UpdatedAt.Equal(convs[j].UpdatedAt) {
			return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
		}
		return convs[i].OtherUserID < convs[j].OtherUserID
	})
}
