package domain

import "time"

// User is the immutable identity record created at sign-up. Profile fields are
// mutated only by profile-edit flows, never by the sync core.
type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	PhotoURL    string `json:"photoUrl,omitempty"`
	Bio         string `json:"bio,omitempty"`
}

// PresenceState enumerates the self-reported activity states.
type PresenceState string

const (
	PresenceOnline    PresenceState = "online"
	PresenceOffline   PresenceState = "offline"
	PresenceInWorkout PresenceState = "in-workout"
)

// PresenceStatus is a single-writer record: only the owning user's device ever
// writes its own status, so whole-record last-writer-wins is safe.
type PresenceStatus struct {
	UserID   string        `json:"userId"`
	State    PresenceState `json:"state"`
	LastSeen time.Time     `json:"lastSeen"`
}

// FriendRequestState enumerates friend request outcomes.
type FriendRequestState string

const (
	FriendRequestPending  FriendRequestState = "pending"
	FriendRequestAccepted FriendRequestState = "accepted"
	FriendRequestRejected FriendRequestState = "rejected"
)

// FriendRequest has a single writer per transition: the sender creates it, the
// recipient accepts or rejects.
type FriendRequest struct {
	FromUserID   string             `json:"fromUserId"`
	FromUserName string             `json:"fromUserName"`
	ToUserID     string             `json:"toUserId"`
	State        FriendRequestState `json:"state"`
	CreatedAt    time.Time          `json:"createdAt"`
}
