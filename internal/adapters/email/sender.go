package email

import (
	"context"
	"time"
)

// Message is an outgoing email.
type Message struct {
	To      []string
	From    string // empty means the sender's default
	Subject string
	HTML    string
	ReplyTo string
}

// Receipt is the provider's acknowledgement of a send.
type Receipt struct {
	MessageID string
	SentAt    time.Time
}

// Sender delivers email through an external provider.
type Sender interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}

type replyToSender struct {
	next    Sender
	replyTo string
}

// WithReplyTo returns a Sender that fills in replyTo on messages without one.
func WithReplyTo(next Sender, replyTo string) Sender {
	if replyTo == "" {
		return next
	}
	return replyToSender{next: next, replyTo: replyTo}
}

func (s replyToSender) Send(ctx context.Context, msg Message) (Receipt, error) {
	if msg.ReplyTo == "" {
		msg.ReplyTo = s.replyTo
	}
	return s.next.Send(ctx, msg)
}
