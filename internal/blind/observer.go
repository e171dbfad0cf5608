package blind

import "github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"

// Observer receives session events for instrumentation
type Observer interface {
	ConnectAttempt(id string)
	ConnectionStateChanged(id string, state ConnectionState)
	CommandSent(id string, command motion.CommandType)
	NotificationReceived(id string, kind motion.NotificationType)
	NotificationDropped(id string)
}

type noopObserver struct{}

func (noopObserver) ConnectAttempt(string)                                {}
func (noopObserver) ConnectionStateChanged(string, ConnectionState)       {}
func (noopObserver) CommandSent(string, motion.CommandType)               {}
func (noopObserver) NotificationReceived(string, motion.NotificationType) {}
func (noopObserver) NotificationDropped(string)                           {}
