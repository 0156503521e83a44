// Package friends implements the friend request state machine and the friend
// graph that drives presence tracking.
package friends

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/observability"
	"github.com/chrisackermannn/ascendr-sub001/internal/presence"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
	"github.com/chrisackermannn/ascendr-sub001/internal/subscription"
)

// Service maintains the signed-in user's friend graph. Each friend request
// transition has a single writer: the sender creates the record, the
// recipient accepts or rejects it.
type Service struct {
	client  store.Client
	subs    *subscription.Manager
	tracker *presence.Tracker
	logger  *zap.Logger
	self    domain.User
	now     func() time.Time

	mu       sync.Mutex
	friends  map[string]struct{}
	requests map[string]domain.FriendRequest

	onRequest func(domain.FriendRequest)
	onFriends func([]string)
}

// NewService constructs a friends Service for the signed-in user.
func NewService(client store.Client, subs *subscription.Manager, tracker *presence.Tracker, self domain.User, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		client:   client,
		subs:     subs,
		tracker:  tracker,
		logger:   logger,
		self:     self,
		now:      time.Now,
		friends:  map[string]struct{}{},
		requests: map[string]domain.FriendRequest{},
	}
}

// OnRequest registers the observer notified for each incoming pending request.
func (s *Service) OnRequest(fn func(domain.FriendRequest)) { s.onRequest = fn }

// OnFriendsChange registers the observer notified with the friend id list
// after each change.
func (s *Service) OnFriendsChange(fn func([]string)) { s.onFriends = fn }

// Start attaches listeners on the request inbox and the friend link set.
// Presence tracking follows the friend set: new friends are tracked, removed
// friends untracked.
func (s *Service) Start() error {
	if err := store.ValidateSegment(s.self.ID); err != nil {
		return err
	}
	if err := s.subs.Subscribe("friendRequests:"+s.self.ID, store.FriendRequestInboxPath(s.self.ID), s.handleRequestSnapshot); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := s.subs.Subscribe("friends:"+s.self.ID, store.FriendsPath(s.self.ID), s.handleFriendsSnapshot); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// SendRequest writes a pending request into the recipient's inbox.
func (s *Service) SendRequest(ctx context.Context, toUserID string) error {
	if toUserID == "" || toUserID == s.self.ID {
		return domain.ErrInvalidTarget
	}
	if err := store.ValidateSegments(toUserID, s.self.ID); err != nil {
		return err
	}
	req := domain.FriendRequest{
		FromUserID:   s.self.ID,
		FromUserName: s.self.DisplayName,
		ToUserID:     toUserID,
		State:        domain.FriendRequestPending,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.client.Write(ctx, store.FriendRequestPath(toUserID, s.self.ID), req); err != nil {
		observability.RecordStoreError("write")
		return fmt.Errorf("%w: send friend request: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Accept transitions a pending request to accepted and links both users.
func (s *Service) Accept(ctx context.Context, fromUserID string) error {
	if err := store.ValidateSegments(fromUserID, s.self.ID); err != nil {
		return err
	}
	reqPath := store.FriendRequestPath(s.self.ID, fromUserID)
	if err := s.client.Write(ctx, reqPath+"/state", string(domain.FriendRequestAccepted)); err != nil {
		observability.RecordStoreError("write")
		return fmt.Errorf("%w: accept friend request: %v", domain.ErrPersistence, err)
	}
	if err := s.client.Write(ctx, store.FriendsPath(s.self.ID)+"/"+fromUserID, true); err != nil {
		observability.RecordStoreError("write")
		return fmt.Errorf("%w: link friend: %v", domain.ErrPersistence, err)
	}
	if err := s.client.Write(ctx, store.FriendsPath(fromUserID)+"/"+s.self.ID, true); err != nil {
		observability.RecordStoreError("write")
		return fmt.Errorf("%w: link friend: %v", domain.ErrPersistence, err)
	}
	// The request entry served its purpose; consume it.
	if err := s.client.Remove(ctx, reqPath); err != nil {
		s.logger.Warn("failed to consume friend request", zap.String("from", fromUserID), zap.Error(err))
	}
	return nil
}

// Reject transitions a pending request to rejected and consumes it.
func (s *Service) Reject(ctx context.Context, fromUserID string) error {
	if err := store.ValidateSegments(fromUserID, s.self.ID); err != nil {
		return err
	}
	reqPath := store.FriendRequestPath(s.self.ID, fromUserID)
	if err := s.client.Write(ctx, reqPath+"/state", string(domain.FriendRequestRejected)); err != nil {
		observability.RecordStoreError("write")
		return fmt.Errorf("%w: reject friend request: %v", domain.ErrPersistence, err)
	}
	if err := s.client.Remove(ctx, reqPath); err != nil {
		s.logger.Warn("failed to consume friend request", zap.String("from", fromUserID), zap.Error(err))
	}
	return nil
}

// RemoveFriend unlinks both users and untracks the friend's presence, so no
// further presence callback for them is processed.
func (s *Service) RemoveFriend(ctx context.Context, friendID string) error {
	if err := store.ValidateSegments(friendID, s.self.ID); err != nil {
		return err
	}
	var errs []error
	if err := s.client.Remove(ctx, store.FriendsPath(s.self.ID)+"/"+friendID); err != nil {
		observability.RecordStoreError("remove")
		errs = append(errs, err)
	}
	if err := s.client.Remove(ctx, store.FriendsPath(friendID)+"/"+s.self.ID); err != nil {
		observability.RecordStoreError("remove")
		errs = append(errs, err)
	}
	s.tracker.Untrack(friendID)
	if len(errs) > 0 {
		return fmt.Errorf("%w: remove friend: %v", domain.ErrPersistence, errs)
	}
	return nil
}

// Friends returns the current friend id set.
func (s *Service) Friends() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.friendListLocked()
}

func (s *Service) handleRequestSnapshot(value any) {
	children, err := store.Children(value)
	if err != nil {
		s.logger.Warn("friend request inbox has unexpected shape", zap.Error(err))
		return
	}
	var fresh []domain.FriendRequest

	s.mu.Lock()
	for key, child := range children {
		var req domain.FriendRequest
		if err := store.Decode(child, &req); err != nil {
			s.logger.Warn("skipping undecodable friend request", zap.String("key", key), zap.Error(err))
			continue
		}
		if req.State != domain.FriendRequestPending {
			continue
		}
		if _, seen := s.requests[key]; seen {
			continue
		}
		s.requests[key] = req
		fresh = append(fresh, req)
	}
	s.mu.Unlock()

	if s.onRequest == nil {
		return
	}
	for _, req := range fresh {
		s.onRequest(req)
	}
}

func (s *Service) handleFriendsSnapshot(value any) {
	children, err := store.Children(value)
	if err != nil {
		s.logger.Warn("friend links have unexpected shape", zap.Error(err))
		return
	}

	s.mu.Lock()
	var added, removed []string
	for id := range children {
		if _, ok := s.friends[id]; !ok {
			s.friends[id] = struct{}{}
			added = append(added, id)
		}
	}
	for id := range s.friends {
		if _, ok := children[id]; !ok {
			delete(s.friends, id)
			removed = append(removed, id)
		}
	}
	list := s.friendListLocked()
	s.mu.Unlock()

	for _, id := range added {
		if err := s.tracker.Track(id); err != nil {
			s.logger.Warn("failed to track presence", zap.String("userId", id), zap.Error(err))
		}
	}
	for _, id := range removed {
		s.tracker.Untrack(id)
	}
	if (len(added) > 0 || len(removed) > 0) && s.onFriends != nil {
		s.onFriends(list)
	}
}

func (s *Service) friendListLocked() []string {
	out := make([]string, 0, len(s.friends))
	for id := range s.friends {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
