// Package domain defines the entities shared by the realtime sync core.
package domain

import (
	"sort"
	"time"
)

// SessionStatus orders the live session lifecycle. Transitions only move
// forward: pending < active < ended.
type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// Rank maps a status onto the pending < active < ended order. Unknown statuses
// rank below pending so a malformed record can never mask a real transition.
func (s SessionStatus) Rank() int {
	switch s {
	case SessionPending:
		return 1
	case SessionActive:
		return 2
	case SessionEnded:
		return 3
	default:
		return 0
	}
}

// LiveWorkoutInvite is written once by the inviter into the invitee's inbox
// and deleted upon consumption.
type LiveWorkoutInvite struct {
	SessionID    string    `json:"sessionId"`
	FromUserID   string    `json:"fromUserId"`
	FromUserName string    `json:"fromUserName"`
	CreatedAt    time.Time `json:"createdAt"`
}

// SessionAcceptNotification is the reverse channel of the invite handshake:
// written once by the acceptor into the inviter's notification inbox, deleted
// after read. Required because accept happens on a different device than
// invite, asynchronously.
type SessionAcceptNotification struct {
	SessionID string `json:"sessionId"`
}

// Set is an append-only leaf of an exercise. ReferenceReps/ReferenceWeight
// carry prior values for template comparisons when present.
type Set struct {
	ID              string  `json:"id"`
	Reps            int     `json:"reps"`
	Weight          float64 `json:"weight"`
	AddedByUserID   string  `json:"addedByUserId"`
	ReferenceReps   int     `json:"referenceReps,omitempty"`
	ReferenceWeight float64 `json:"referenceWeight,omitempty"`
}

// Exercise is append-only once created: later edits only ever add sets while
// the session is live.
type Exercise struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	AddedByUserID string    `json:"addedByUserId"`
	CreatedAt     time.Time `json:"createdAt"`
	Sets          []Set     `json:"-"`
}

// LiveWorkoutSession is jointly owned by both participants while live and
// immutable once Status is ended. Exercises are stored as a keyed collection
// under the session path, never as an array.
type LiveWorkoutSession struct {
	ID        string        `json:"id"`
	UserID1   string        `json:"userId1"`
	UserName1 string        `json:"userName1"`
	UserID2   string        `json:"userId2,omitempty"`
	UserName2 string        `json:"userName2,omitempty"`
	Status    SessionStatus `json:"status"`
	StartedAt time.Time     `json:"startedAt"`
	Exercises []Exercise    `json:"-"`
}

// Partner returns the display identity of the participant that is not selfID.
func (s *LiveWorkoutSession) Partner(selfID string) (userID, userName string) {
	if s.UserID1 == selfID {
		return s.UserID2, s.UserName2
	}
	return s.UserID1, s.UserName1
}

// HasParticipant reports whether userID is one of the two session members.
func (s *LiveWorkoutSession) HasParticipant(userID string) bool {
	return userID != "" && (s.UserID1 == userID || s.UserID2 == userID)
}

// Workout is the immutable post-session artifact: one shared copy with all
// exercises plus one personal copy per participant.
type Workout struct {
	ID              string     `json:"id"`
	SessionID       string     `json:"sessionId"`
	OwnerUserID     string     `json:"ownerUserId"`
	PartnerUserID   string     `json:"partnerUserId,omitempty"`
	PartnerUserName string     `json:"partnerUserName,omitempty"`
	Shared          bool       `json:"shared"`
	Exercises       []Exercise `json:"-"`
	DurationSeconds int64      `json:"durationSeconds"`
	CompletedAt     time.Time  `json:"completedAt"`
}

// SortExercises orders exercises by creation time, ties broken by id, so every
// client renders the merged union in the same order.
func SortExercises(exercises []Exercise) {
	sort.SliceStable(exercises, func(i, j int) bool {
		if !exercises[i].CreatedAt.Equal(exercises[j].CreatedAt) {
			return exercises[i].CreatedAt.Before(exercises[j].CreatedAt)
		}
		return exercises[i].ID < exercises[j].ID
	})
}
