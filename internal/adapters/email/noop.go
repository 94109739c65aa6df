package email

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// LogSender logs messages instead of delivering them and keeps them for inspection.
// Used when no Resend key is configured.
type LogSender struct {
	mu   sync.Mutex
	sent []Message
}

// NewLogSender creates a LogSender.
func NewLogSender() *LogSender {
	return &LogSender{}
}

// Send records msg.
func (s *LogSender) Send(_ context.Context, msg Message) (Receipt, error) {
	if len(msg.To) == 0 {
		return Receipt{}, ErrNoRecipients
	}
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	n := len(s.sent)
	s.mu.Unlock()

	slog.Info("email_event", "event", "logged", "to", msg.To, "subject", msg.Subject)
	return Receipt{MessageID: fmt.Sprintf("log-%d", n), SentAt: time.Now()}, nil
}

// Sent returns a copy of every recorded message.
func (s *LogSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
