package library

import "github.com/google/uuid"

// notify appends a notification. Notification writes are a side effect of
// business operations and must never fail them; errors are only logged.
func (m *Manager) notify(userID, message string) {
	n := &Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Timestamp: m.now(),
	}
	if err := m.db.AddNotification(n); err != nil {
		m.log.WithError(err).WithField("user_id", userID).Warn("append notification")
	}
}

// SendNotification creates a notification explicitly (admin action).
func (m *Manager) SendNotification(userID, message string) error {
	if _, err := m.db.GetUser(userID); err != nil {
		return err
	}
	return m.db.AddNotification(&Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Timestamp: m.now(),
	})
}

func (m *Manager) GetNotificationsByUser(userID string) ([]*Notification, error) {
	return m.db.GetNotificationsByUser(userID)
}

func (m *Manager) GetAllNotifications() ([]*Notification, error) {
	return m.db.GetAllNotifications()
}

func (m *Manager) UnreadNotificationCount(userID string) (int, error) {
	return m.db.UnreadNotificationCount(userID)
}

func (m *Manager) MarkNotificationRead(id string) error {
	return m.db.MarkNotificationRead(id)
}

func (m *Manager) MarkAllNotificationsRead(userID string) error {
	return m.db.MarkAllNotificationsRead(userID)
}
