package notify

// Notification is a message queued for delivery to a Telegram chat.
type Notification struct {
	ChatID int64
	Text   string
}
