package testutil

import (
	"context"
	"sync"
)

// Notification is one message captured by Notifier.
type Notification struct {
	Toggle  string
	Message string
}

// Notifier records every notification instead of sending it. Toggles are
// not consulted.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification
}

// Notify records the message.
func (n *Notifier) Notify(_ context.Context, toggle, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{Toggle: toggle, Message: message})
}

// Sent returns a copy of the recorded notifications.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notification(nil), n.sent...)
}
