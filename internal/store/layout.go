package store

import (
	"sort"
	"strings"
)

// Canonical tree locations. Components build paths through these helpers so
// the layout lives in exactly one place.
const (
	rootUsers          = "users"
	rootPresence       = "presence"
	rootInvites        = "liveInvites"
	rootAccepts        = "liveAccepts"
	rootSessions       = "liveSessions"
	rootMessages       = "messages"
	rootWorkouts       = "workouts"
	rootSharedWorkouts = "sharedWorkouts"
	rootFriends        = "friends"
	rootFriendRequests = "friendRequests"
)

func UserPath(userID string) string      { return Join(rootUsers, userID) }
func PresencePath(userID string) string  { return Join(rootPresence, userID) }
func InviteInboxPath(userID string) string {
	return Join(rootInvites, userID)
}
func AcceptInboxPath(userID string) string {
	return Join(rootAccepts, userID)
}
func SessionPath(sessionID string) string {
	return Join(rootSessions, sessionID)
}
func SessionStatusPath(sessionID string) string {
	return Join(rootSessions, sessionID, "status")
}
func ExercisesPath(sessionID string) string {
	return Join(rootSessions, sessionID, "exercises")
}
func SetsPath(sessionID, exerciseID string) string {
	return Join(rootSessions, sessionID, "exercises", exerciseID, "sets")
}
func MessagesRoot() string { return rootMessages }
func ConversationPath(userID1, userID2 string) string {
	return Join(rootMessages, ConversationKey(userID1, userID2))
}
func PersonalWorkoutsPath(userID string) string {
	return Join(rootWorkouts, userID)
}
func SharedWorkoutsPath(userID string) string {
	return Join(rootSharedWorkouts, userID)
}
func FriendsPath(userID string) string { return Join(rootFriends, userID) }
func FriendRequestPath(toUserID, fromUserID string) string {
	return Join(rootFriendRequests, toUserID, fromUserID)
}
func FriendRequestInboxPath(toUserID string) string {
	return Join(rootFriendRequests, toUserID)
}

// ConversationKey derives the shared key for a user pair. The pair is
// unordered, so both participants address the same subtree. The separator
// cannot appear in a valid user id, so each key maps back to exactly one
// pair.
func ConversationKey(userID1, userID2 string) string {
	ids := []string{userID1, userID2}
	sort.Strings(ids)
	return strings.Join(ids, "_")
}
