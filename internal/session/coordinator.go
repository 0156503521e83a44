// Package session drives the invite/accept/active/end state machine for a
// two-party live workout and the append-only merge discipline for its
// exercises and sets.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/observability"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
	"github.com/chrisackermannn/ascendr-sub001/internal/subscription"
)

// View is the UI-facing snapshot of the live session. A nil Session means no
// session is active locally.
type View struct {
	Session     *domain.LiveWorkoutSession
	SelfID      string
	PartnerID   string
	PartnerName string
	Ended       bool
}

// Coordinator owns the local side of the two-party session state machine.
// All state mutates under one mutex; store callbacks re-enter through the
// subscription manager's gate.
type Coordinator struct {
	client store.Client
	subs   *subscription.Manager
	logger *zap.Logger
	self   domain.User
	now    func() time.Time

	mu        sync.Mutex
	current   *domain.LiveWorkoutSession
	observing string
	// statusRank is the highest status rank observed for the session being
	// watched. Snapshots ranking below it are stale and ignored, so no
	// subscriber ever sees pending<active<ended regress.
	statusRank int
	consumed   map[string]struct{}
	delivered  map[string]struct{}
	lastErr    error

	onChange func(View)
	onInvite func(key string, invite domain.LiveWorkoutInvite)
}

// Option configures optional Coordinator behaviour.
type Option func(*Coordinator)

// WithClock overrides the time source. Tests use it to pin durations.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator constructs a Coordinator for the signed-in user.
func NewCoordinator(client store.Client, subs *subscription.Manager, self domain.User, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		client:    client,
		subs:      subs,
		logger:    logger,
		self:      self,
		now:       time.Now,
		consumed:  map[string]struct{}{},
		delivered: map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OnSessionChange registers the observer notified after every local view
// update. Set before Start; the callback runs without the coordinator lock.
func (c *Coordinator) OnSessionChange(fn func(View)) { c.onChange = fn }

// OnInvite registers the observer notified once per incoming invite.
func (c *Coordinator) OnInvite(fn func(key string, invite domain.LiveWorkoutInvite)) {
	c.onInvite = fn
}

// Start attaches the two inbox listeners: incoming invites and accept
// notifications. The accept inbox is how the inviter's device, which has no
// subscription to the invitee's action, discovers the pending→active flip.
func (c *Coordinator) Start() error {
	if err := store.ValidateSegment(c.self.ID); err != nil {
		return err
	}
	if err := c.subs.Subscribe("invites:"+c.self.ID, store.InviteInboxPath(c.self.ID), c.handleInviteSnapshot); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	if err := c.subs.Subscribe("accepts:"+c.self.ID, store.AcceptInboxPath(c.self.ID), c.handleAcceptSnapshot); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

// Err returns the last reported operation error, nil when the most recent
// operation succeeded.
func (c *Coordinator) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Current returns the local view of the session.
func (c *Coordinator) Current() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// SendInvite creates a pending session and drops a LiveWorkoutInvite into the
// invitee's inbox. Returns the new session id.
func (c *Coordinator) SendInvite(ctx context.Context, toUserID string) (string, error) {
	if toUserID == "" {
		return "", c.report(domain.ErrInvalidTarget)
	}
	if err := store.ValidateSegments(toUserID, c.self.ID); err != nil {
		return "", c.report(err)
	}

	sessionID := uuid.NewString()
	record := map[string]any{
		"id":        sessionID,
		"userId1":   c.self.ID,
		"userName1": c.self.DisplayName,
		"status":    string(domain.SessionPending),
		"startedAt": c.now().UTC(),
	}
	if err := c.client.Write(ctx, store.SessionPath(sessionID), record); err != nil {
		observability.RecordStoreError("write")
		return "", c.report(fmt.Errorf("%w: create session: %v", domain.ErrPersistence, err))
	}

	invite := domain.LiveWorkoutInvite{
		SessionID:    sessionID,
		FromUserID:   c.self.ID,
		FromUserName: c.self.DisplayName,
		CreatedAt:    c.now().UTC(),
	}
	if _, err := c.client.Push(ctx, store.InviteInboxPath(toUserID), invite); err != nil {
		observability.RecordStoreError("push")
		return "", c.report(fmt.Errorf("%w: deliver invite: %v", domain.ErrPersistence, err))
	}

	c.logger.Info("live workout invite sent",
		zap.String("sessionId", sessionID), zap.String("to", toUserID))
	c.report(nil)
	return sessionID, nil
}

// AcceptInvite flips the session to active, writes the accept notification
// into the inviter's inbox, and consumes the invite entry. Consumption is
// destructive and idempotent: accepting a re-delivered invite is a no-op.
func (c *Coordinator) AcceptInvite(ctx context.Context, inviteKey string, invite domain.LiveWorkoutInvite) error {
	if err := store.ValidateSegments(invite.SessionID, invite.FromUserID, c.self.ID); err != nil {
		return c.report(err)
	}

	c.mu.Lock()
	if _, done := c.consumed[inviteKey]; done {
		c.mu.Unlock()
		return nil
	}
	c.consumed[inviteKey] = struct{}{}
	c.mu.Unlock()

	// Participant fields land before the status flip so no observer sees an
	// active session with a missing second participant.
	sessionPath := store.SessionPath(invite.SessionID)
	if err := c.client.Write(ctx, sessionPath+"/userId2", c.self.ID); err != nil {
		return c.failAccept(inviteKey, fmt.Errorf("%w: join session: %v", domain.ErrPersistence, err))
	}
	if err := c.client.Write(ctx, sessionPath+"/userName2", c.self.DisplayName); err != nil {
		return c.failAccept(inviteKey, fmt.Errorf("%w: join session: %v", domain.ErrPersistence, err))
	}
	if err := c.client.Write(ctx, store.SessionStatusPath(invite.SessionID), string(domain.SessionActive)); err != nil {
		return c.failAccept(inviteKey, fmt.Errorf("%w: activate session: %v", domain.ErrPersistence, err))
	}

	notification := domain.SessionAcceptNotification{SessionID: invite.SessionID}
	if _, err := c.client.Push(ctx, store.AcceptInboxPath(invite.FromUserID), notification); err != nil {
		return c.failAccept(inviteKey, fmt.Errorf("%w: notify inviter: %v", domain.ErrPersistence, err))
	}

	if err := c.client.Remove(ctx, store.InviteInboxPath(c.self.ID)+"/"+inviteKey); err != nil {
		// The session is live either way; a lingering inbox entry is caught
		// by the consumed-key check on re-delivery.
		c.logger.Warn("failed to consume invite entry", zap.String("key", inviteKey), zap.Error(err))
	}

	c.logger.Info("live workout invite accepted", zap.String("sessionId", invite.SessionID))
	c.report(nil)
	c.ObserveSession(invite.SessionID)
	return nil
}

// failAccept un-consumes an invite whose acceptance never reached the store,
// so the user can retry. Local state is otherwise unchanged.
func (c *Coordinator) failAccept(inviteKey string, err error) error {
	c.mu.Lock()
	delete(c.consumed, inviteKey)
	c.mu.Unlock()
	observability.RecordStoreError("write")
	return c.report(err)
}

// ObserveSession subscribes to the session subtree and rebuilds the local
// view from every snapshot. Re-observing the same session replaces the
// listener via the lifecycle manager.
func (c *Coordinator) ObserveSession(sessionID string) {
	if err := store.ValidateSegment(sessionID); err != nil {
		c.report(err)
		return
	}

	c.mu.Lock()
	c.observing = sessionID
	c.statusRank = 0
	c.mu.Unlock()

	err := c.subs.Subscribe("session:"+sessionID, store.SessionPath(sessionID), func(value any) {
		c.handleSessionSnapshot(sessionID, value)
	})
	if err != nil {
		c.report(fmt.Errorf("%w: observe session: %v", domain.ErrPersistence, err))
	}
}

// AddExercise appends a new exercise under the live session. The exercise id
// is generated client-side and namespaced by the adding user, so concurrent
// additions from both participants write disjoint keys and merge as a union.
func (c *Coordinator) AddExercise(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil || cur.Status != domain.SessionActive {
		return "", c.report(fmt.Errorf("%w: no active session", domain.ErrInvalidState))
	}
	if err := store.ValidateSegment(cur.ID); err != nil {
		return "", c.report(err)
	}

	exercise := domain.Exercise{
		ID:            c.self.ID + "-" + uuid.NewString(),
		Name:          name,
		AddedByUserID: c.self.ID,
		CreatedAt:     c.now().UTC(),
	}
	path := store.ExercisesPath(cur.ID) + "/" + exercise.ID
	if err := c.client.Write(ctx, path, encodeExercise(exercise)); err != nil {
		observability.RecordStoreError("write")
		return "", c.report(fmt.Errorf("%w: add exercise: %v", domain.ErrPersistence, err))
	}
	c.report(nil)
	return exercise.ID, nil
}

// AddSet appends a set under an existing exercise of the live session.
func (c *Coordinator) AddSet(ctx context.Context, exerciseID string, set domain.Set) (string, error) {
	c.mu.Lock()
	cur := c.current
	c.mu.Unlock()
	if cur == nil || cur.Status != domain.SessionActive {
		return "", c.report(fmt.Errorf("%w: no active session", domain.ErrInvalidState))
	}
	if err := store.ValidateSegments(cur.ID, exerciseID); err != nil {
		return "", c.report(err)
	}

	set.ID = c.self.ID + "-" + uuid.NewString()
	set.AddedByUserID = c.self.ID
	path := store.SetsPath(cur.ID, exerciseID) + "/" + set.ID
	if err := c.client.Write(ctx, path, encodeSet(set)); err != nil {
		observability.RecordStoreError("write")
		return "", c.report(fmt.Errorf("%w: add set: %v", domain.ErrPersistence, err))
	}
	c.report(nil)
	return set.ID, nil
}

// EndSession is the terminal transition. It persists one shared workout with
// every exercise under both participants, one personal workout per
// participant holding only that participant's contributions, then flips the
// session to ended and releases the session listener. Writes that completed
// before a failure are valid partial progress and are never rolled back; the
// session is torn down locally regardless so the caller is not left stuck.
func (c *Coordinator) EndSession(ctx context.Context) (*domain.Workout, error) {
	c.mu.Lock()
	cur := c.current
	sessionID := c.observing
	c.mu.Unlock()
	if cur == nil {
		return nil, c.report(fmt.Errorf("%w: no session to end", domain.ErrInvalidState))
	}

	completedAt := c.now().UTC()
	duration := int64(completedAt.Sub(cur.StartedAt).Seconds())
	if duration < 0 {
		duration = 0
	}

	shared := &domain.Workout{
		ID:              uuid.NewString(),
		SessionID:       cur.ID,
		Shared:          true,
		Exercises:       cur.Exercises,
		DurationSeconds: duration,
		CompletedAt:     completedAt,
	}

	var errs []error
	participants := []struct{ id, name string }{
		{cur.UserID1, cur.UserName1},
		{cur.UserID2, cur.UserName2},
	}
	for _, p := range participants {
		if p.id == "" {
			continue
		}
		partnerID, partnerName := cur.Partner(p.id)
		sharedCopy := *shared
		sharedCopy.OwnerUserID = p.id
		sharedCopy.PartnerUserID = partnerID
		sharedCopy.PartnerUserName = partnerName
		sharedPath := store.SharedWorkoutsPath(p.id) + "/" + shared.ID
		if err := c.client.Write(ctx, sharedPath, encodeWorkout(sharedCopy)); err != nil {
			observability.RecordStoreError("write")
			errs = append(errs, fmt.Errorf("%w: shared workout for %s: %v", domain.ErrPersistence, p.id, err))
		}

		personal := domain.Workout{
			ID:              uuid.NewString(),
			SessionID:       cur.ID,
			OwnerUserID:     p.id,
			PartnerUserID:   partnerID,
			PartnerUserName: partnerName,
			Exercises:       filterByAdder(cur.Exercises, p.id),
			DurationSeconds: duration,
			CompletedAt:     completedAt,
		}
		personalPath := store.PersonalWorkoutsPath(p.id) + "/" + personal.ID
		if err := c.client.Write(ctx, personalPath, encodeWorkout(personal)); err != nil {
			observability.RecordStoreError("write")
			errs = append(errs, fmt.Errorf("%w: personal workout for %s: %v", domain.ErrPersistence, p.id, err))
		}
	}

	if err := c.client.Write(ctx, store.SessionStatusPath(cur.ID), string(domain.SessionEnded)); err != nil {
		observability.RecordStoreError("write")
		errs = append(errs, fmt.Errorf("%w: end session: %v", domain.ErrPersistence, err))
	}

	if sessionID != "" {
		c.subs.Unsubscribe("session:" + sessionID)
	}
	c.mu.Lock()
	c.current = nil
	c.observing = ""
	c.statusRank = domain.SessionEnded.Rank()
	c.mu.Unlock()
	c.notifyChange()

	err := errors.Join(errs...)
	if err != nil {
		c.logger.Error("session end completed with partial persistence", zap.Error(err))
	} else {
		c.logger.Info("session ended",
			zap.String("sessionId", cur.ID), zap.Int64("durationSeconds", duration))
	}
	c.report(err)
	return shared, err
}

func (c *Coordinator) handleInviteSnapshot(value any) {
	children, err := store.Children(value)
	if err != nil {
		c.logger.Warn("invite inbox has unexpected shape", zap.Error(err))
		return
	}
	type pending struct {
		key    string
		invite domain.LiveWorkoutInvite
	}
	var fresh []pending

	c.mu.Lock()
	for key, child := range children {
		if _, seen := c.delivered[key]; seen {
			continue
		}
		if _, done := c.consumed[key]; done {
			continue
		}
		var invite domain.LiveWorkoutInvite
		if err := store.Decode(child, &invite); err != nil {
			c.logger.Warn("skipping undecodable invite", zap.String("key", key), zap.Error(err))
			continue
		}
		c.delivered[key] = struct{}{}
		fresh = append(fresh, pending{key: key, invite: invite})
	}
	c.mu.Unlock()

	if c.onInvite == nil {
		return
	}
	for _, p := range fresh {
		c.onInvite(p.key, p.invite)
	}
}

// handleAcceptSnapshot consumes accept notifications: each entry is removed
// and, once per session, observation of the activated session begins. The
// invite path and the accept path carry no cross-path ordering guarantee, so
// this inbox is handled independently and idempotently.
func (c *Coordinator) handleAcceptSnapshot(value any) {
	children, err := store.Children(value)
	if err != nil {
		c.logger.Warn("accept inbox has unexpected shape", zap.Error(err))
		return
	}
	for key, child := range children {
		c.mu.Lock()
		if _, done := c.consumed["accept:"+key]; done {
			c.mu.Unlock()
			continue
		}
		c.consumed["accept:"+key] = struct{}{}
		c.mu.Unlock()

		var n domain.SessionAcceptNotification
		decodeErr := store.Decode(child, &n)
		if decodeErr != nil {
			c.logger.Warn("skipping undecodable accept notification", zap.String("key", key), zap.Error(decodeErr))
		}
		// The entry is consumed even when undecodable; leaving it would
		// re-deliver the broken record to every fresh client instance.
		if err := c.client.Remove(context.Background(), store.AcceptInboxPath(c.self.ID)+"/"+key); err != nil {
			c.logger.Warn("failed to consume accept notification", zap.String("key", key), zap.Error(err))
		}
		if decodeErr != nil || n.SessionID == "" {
			continue
		}
		c.ObserveSession(n.SessionID)
	}
}

func (c *Coordinator) handleSessionSnapshot(sessionID string, value any) {
	var decoded *domain.LiveWorkoutSession
	if value != nil {
		var s domain.LiveWorkoutSession
		if err := store.Decode(value, &s); err != nil {
			c.logger.Warn("skipping undecodable session snapshot",
				zap.String("sessionId", sessionID), zap.Error(err))
			return
		}
		if s.ID == "" {
			s.ID = sessionID
		}
		s.Exercises = decodeExercises(childField(value, "exercises"), c.logger)
		decoded = &s
	}

	c.mu.Lock()
	if c.observing != sessionID {
		c.mu.Unlock()
		return
	}
	if decoded != nil {
		rank := decoded.Status.Rank()
		if rank < c.statusRank {
			// Stale snapshot from before the last observed transition.
			c.mu.Unlock()
			return
		}
		c.statusRank = rank
	}

	if decoded == nil || decoded.Status != domain.SessionActive {
		ended := decoded != nil && decoded.Status == domain.SessionEnded
		c.current = nil
		if ended {
			c.observing = ""
		}
		c.mu.Unlock()
		if ended {
			// Running inside the session's own callback; the manager's detach
			// barrier means the release has to happen off this goroutine.
			go c.subs.Unsubscribe("session:" + sessionID)
		}
		c.notifyChange()
		return
	}

	c.current = decoded
	c.mu.Unlock()
	c.notifyChange()
}

func (c *Coordinator) viewLocked() View {
	v := View{SelfID: c.self.ID, Ended: c.statusRank == domain.SessionEnded.Rank()}
	if c.current != nil {
		v.Session = c.current
		v.PartnerID, v.PartnerName = c.current.Partner(c.self.ID)
	}
	return v
}

func (c *Coordinator) notifyChange() {
	if c.onChange == nil {
		return
	}
	c.mu.Lock()
	v := c.viewLocked()
	c.mu.Unlock()
	c.onChange(v)
}

// report records err as the observable error field and passes it through.
func (c *Coordinator) report(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}

func filterByAdder(exercises []domain.Exercise, userID string) []domain.Exercise {
	out := make([]domain.Exercise, 0, len(exercises))
	for _, e := range exercises {
		if e.AddedByUserID == userID {
			out = append(out, e)
		}
	}
	return out
}

func encodeWorkout(w domain.Workout) map[string]any {
	return map[string]any{
		"id":              w.ID,
		"sessionId":       w.SessionID,
		"ownerUserId":     w.OwnerUserID,
		"partnerUserId":   w.PartnerUserID,
		"partnerUserName": w.PartnerUserName,
		"shared":          w.Shared,
		"exercises":       encodeExercises(w.Exercises),
		"durationSeconds": w.DurationSeconds,
		"completedAt":     w.CompletedAt,
	}
}
