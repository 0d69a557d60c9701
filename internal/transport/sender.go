package transport

import (
	"context"
	"fmt"

	"github.com/habitloop/notifier/internal/models"
)

// Payload is the channel-agnostic content of a notification.
type Payload struct {
	Title    string            `json:"title"`
	Message  string            `json:"message"`
	Type     string            `json:"type,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Sender delivers a payload to a single recipient over one channel.
type Sender interface {
	Supports(channel string) bool
	Deliver(ctx context.Context, rec *models.Recipient, payload *Payload) error
}

// Manager fans a delivery out to the sender that supports the channel.
type Manager struct {
	senders []Sender
}

func NewManager(senders ...Sender) *Manager {
	return &Manager{senders: senders}
}

// Deliver routes to the first sender supporting the channel.
func (m *Manager) Deliver(ctx context.Context, channel string, rec *models.Recipient, payload *Payload) error {
	for _, s := range m.senders {
		if s.Supports(channel) {
			return s.Deliver(ctx, rec, payload)
		}
	}
	return fmt.Errorf("no sender available for channel %q", channel)
}
