package state

import "time"

// EventNotifier pushes application state changes to subscribed centrals.
// It lets the state package notify without depending on the peripheral.
type EventNotifier interface {
	// NotifyCaseChanged notifies that the case was opened or closed
	NotifyCaseChanged(open bool) error

	// NotifyBlisterDetected notifies that a blister pack was placed or removed
	NotifyBlisterDetected(detected bool) error

	// NotifyTimeChanged notifies subscribers of the current time
	NotifyTimeChanged(t time.Time) error
}

// NoOpEventNotifier is a no-op implementation of EventNotifier
type NoOpEventNotifier struct{}

// NotifyCaseChanged is a no-op implementation
func (n *NoOpEventNotifier) NotifyCaseChanged(open bool) error {
	return nil
}

// NotifyBlisterDetected is a no-op implementation
func (n *NoOpEventNotifier) NotifyBlisterDetected(detected bool) error {
	return nil
}

// NotifyTimeChanged is a no-op implementation
func (n *NoOpEventNotifier) NotifyTimeChanged(t time.Time) error {
	return nil
}
