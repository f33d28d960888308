// README: Broker topic naming shared by publisher (sim server) and subscriber.
package push

import (
	"fmt"

	"tripsync/internal/types"
)

const (
	// TopicNewTrips is the broadcast channel for trip offers; drivers only.
	TopicNewTrips     = "push:drivers:new_trips"
	notifyTopicPrefix = "push:notify:%s"
	tripTopicPrefix   = "push:trip:%s"
)

// NotifyTopic is the personal notification channel for one user.
func NotifyTopic(userID types.ID) string {
	return fmt.Sprintf(notifyTopicPrefix, string(userID))
}

// TripTopic is the personal trip-update channel for one user. Trip lifecycle
// events are fanned out per party rather than per trip so a reconnecting
// client only ever subscribes to its own streams.
func TripTopic(userID types.ID) string {
	return fmt.Sprintf(tripTopicPrefix, string(userID))
}

// TopicsFor returns the role-appropriate subscription set.
func TopicsFor(role types.Role, userID types.ID) []string {
	topics := []string{NotifyTopic(userID), TripTopic(userID)}
	if role == types.RoleDriver {
		topics = append(topics, TopicNewTrips)
	}
	return topics
}
