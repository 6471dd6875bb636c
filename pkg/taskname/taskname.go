package taskname

const (
	// Notification tasks
	NotificationDispatch = "notification:dispatch"
)
