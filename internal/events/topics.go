package events

import "fmt"

// Game round phases, also used as the last topic segment.
const (
	PhaseStart   = "start"
	PhaseVote    = "vote"
	PhaseEnd     = "end"
	PhaseRestart = "restart"
)

// Membership event kinds.
const (
	KindJoin  = "join"
	KindLeave = "leave"
)

func GameTopic(roomID uint, phase string) string {
	return fmt.Sprintf("room:%d:game:%s", roomID, phase)
}

// GameTopics returns all four round topics for a room, in phase order.
func GameTopics(roomID uint) []string {
	return []string{
		GameTopic(roomID, PhaseStart),
		GameTopic(roomID, PhaseVote),
		GameTopic(roomID, PhaseEnd),
		GameTopic(roomID, PhaseRestart),
	}
}

func UserTopic(roomID uint, kind string) string {
	return fmt.Sprintf("room:%d:user:%s", roomID, kind)
}

func NotificationTopic(userID string) string {
	return fmt.Sprintf("user:%s:notifications", userID)
}
