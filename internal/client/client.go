// Package client wires the sync core together. Everything is constructed
// once with explicit dependencies, no package-level singletons, so tests
// can substitute any store implementation.
package client

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chrisackermannn/ascendr-sub001/internal/domain"
	"github.com/chrisackermannn/ascendr-sub001/internal/friends"
	"github.com/chrisackermannn/ascendr-sub001/internal/identity"
	"github.com/chrisackermannn/ascendr-sub001/internal/messaging"
	"github.com/chrisackermannn/ascendr-sub001/internal/presence"
	"github.com/chrisackermannn/ascendr-sub001/internal/session"
	"github.com/chrisackermannn/ascendr-sub001/internal/store"
	"github.com/chrisackermannn/ascendr-sub001/internal/subscription"
)

// Client is the composed sync core for one signed-in user.
type Client struct {
	Self          domain.User
	Subscriptions *subscription.Manager
	Sessions      *session.Coordinator
	Presence      *presence.Tracker
	Messaging     *messaging.Service
	Friends       *friends.Service
}

// Options tunes optional behaviour.
type Options struct {
	// MessageDebounce overrides the conversation refresh window.
	MessageDebounce time.Duration
}

// New builds a Client for the identity in claims over the given store.
func New(backing store.Client, claims *identity.Claims, logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	self := domain.User{ID: claims.UserID, DisplayName: claims.DisplayName}

	subs := subscription.NewManager(backing, logger.Named("subscriptions"))
	tracker := presence.NewTracker(backing, subs, self.ID, logger.Named("presence"))

	var msgOpts []messaging.Option
	if opts.MessageDebounce > 0 {
		msgOpts = append(msgOpts, messaging.WithDebounce(opts.MessageDebounce))
	}

	return &Client{
		Self:          self,
		Subscriptions: subs,
		Sessions:      session.NewCoordinator(backing, subs, self, logger.Named("session")),
		Presence:      tracker,
		Messaging:     messaging.NewService(backing, subs, self.ID, logger.Named("messaging"), msgOpts...),
		Friends:       friends.NewService(backing, subs, tracker, self, logger.Named("friends")),
	}
}

// Start attaches every standing listener: invite and accept inboxes, the
// friend graph, and the broad messages namespace. Presence listeners follow
// the friend set.
func (c *Client) Start(ctx context.Context) error {
	if err := c.Sessions.Start(); err != nil {
		return err
	}
	if err := c.Friends.Start(); err != nil {
		return err
	}
	if err := c.Messaging.Start(); err != nil {
		return err
	}
	return c.Presence.SetOwnStatus(ctx, domain.PresenceOnline)
}

// Close publishes offline status and detaches every listener. Safe to call
// on sign-out or teardown; in-flight store writes complete on their own.
func (c *Client) Close(ctx context.Context) error {
	err := c.Presence.SetOwnStatus(ctx, domain.PresenceOffline)
	c.Subscriptions.UnsubscribeAll()
	return err
}
