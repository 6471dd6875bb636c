package rediskey

import "fmt"

// Key prefixes shared by every process writing to the same redis.
const (
	NotificationPrefix         = "notification"
	NotificationDispatchPrefix = "notification:dispatch"
)

func NamespaceKey(namespace, key string) string {
	return fmt.Sprintf("%s:%s", namespace, key)
}

// BuildNotificationDispatchKey returns "notification:dispatch:{runID}". It is
// used as the asynq task id so a run is queued for dispatch at most once.
func BuildNotificationDispatchKey(runID int64) string {
	return NamespaceKey(NotificationDispatchPrefix, fmt.Sprint(runID))
}
