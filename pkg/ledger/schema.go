package ledger

import "fmt"

// Redis key pattern helpers
//
// All keys and channels are namespaced by instance name so several bots can share one
// Redis server.

// ReviewKey returns the Redis key for a review.
// Pattern: warden:{instance_name}:review:{user_id}
func ReviewKey(instanceName, userID string) string {
	return fmt.Sprintf("warden:%s:review:%s", instanceName, userID)
}

// ReviewIndexKey returns the Redis key for the set of user ids with a review.
// Pattern: warden:{instance_name}:reviews
func ReviewIndexKey(instanceName string) string {
	return fmt.Sprintf("warden:%s:reviews", instanceName)
}

// NameKey returns the Redis key for a cached in-game name.
// Pattern: warden:{instance_name}:name:{user_id}
func NameKey(instanceName, userID string) string {
	return fmt.Sprintf("warden:%s:name:%s", instanceName, userID)
}

// ReviewEventsChannel returns the Pub/Sub channel name for review events.
// Pattern: warden:{instance_name}:review_events
func ReviewEventsChannel(instanceName string) string {
	return fmt.Sprintf("warden:%s:review_events", instanceName)
}
