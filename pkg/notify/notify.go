// Package notify dispatches alert notifications over the configured
// channels. Channels implement the Notifier capability so the
// monitoring loop never depends on a concrete transport.
package notify

import "context"

// Message is a channel-agnostic notification payload.
type Message struct {
	Subject string
	Body    string
}

// Notifier delivers a message over one channel.
type Notifier interface {
	// Channel names the transport, recorded on the alert.
	Channel() string
	Send(ctx context.Context, msg Message) error
}
