// Package channel implements message delivery to channel transports.
//
// Each channel type registers a Sender under its type name; the
// dispatch worker looks senders up by the channel's type and never
// switches on it directly, so new transports are pure extensions.
package channel

import (
	"context"
	"fmt"

	"dealpipe/internal/model"
)

// Sender delivers an offer through one transport. config carries the
// channel's transport credentials.
type Sender interface {
	Send(ctx context.Context, offer *model.Offer, config map[string]string) error
}

// Registry maps channel types to their senders. It is populated at
// startup and read-only afterwards.
type Registry struct {
	senders map[string]Sender
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[string]Sender)}
}

// Register installs the sender for a channel type.
func (r *Registry) Register(channelType string, s Sender) error {
	if _, ok := r.senders[channelType]; ok {
		return fmt.Errorf("register %s: sender already registered", channelType)
	}
	r.senders[channelType] = s
	return nil
}

// Lookup returns the sender for a channel type.
func (r *Registry) Lookup(channelType string) (Sender, bool) {
	s, ok := r.senders[channelType]
	return s, ok
}
