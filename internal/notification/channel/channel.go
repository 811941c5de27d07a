// Package channel delivers rendered notifications over email (SES) and SMS
// (SNS).
package channel

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"

	"donor-matching/internal/common/logger"
	"donor-matching/internal/models"

	"github.com/google/uuid"
)

// ErrUnreachable means no enabled channel has an address for the recipient.
var ErrUnreachable = stderrors.New("recipient unreachable on any enabled channel")

// Receipt identifies a delivered message.
type Receipt struct {
	Channel   string
	MessageID string
}

// Channel sends one message. Implementations make exactly one attempt.
type Channel interface {
	Send(ctx context.Context, msg models.Message) (Receipt, error)
}

// Router picks channels per message: email when the recipient has an address
// and email is on, SMS when the recipient has a phone, SMS is on and the
// urgency reaches the threshold. At least one attempted channel must succeed.
type Router struct {
	Email        Channel
	SMS          Channel
	SMSThreshold models.Urgency
}

func (r *Router) Send(ctx context.Context, msg models.Message) (Receipt, error) {
	var (
		names []string
		ids   []string
		errs  []error
	)

	attempt := func(name string, ch Channel) {
		rec, err := ch.Send(ctx, msg)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		names = append(names, name)
		ids = append(ids, rec.MessageID)
	}

	tried := 0
	if r.Email != nil && msg.Recipient.Email != "" {
		tried++
		attempt("email", r.Email)
	}
	if r.SMS != nil && msg.Recipient.Phone != "" && r.smsAllowed(msg.Urgency) {
		tried++
		attempt("sms", r.SMS)
	}

	if tried == 0 {
		return Receipt{}, ErrUnreachable
	}
	if len(names) == 0 {
		return Receipt{}, stderrors.Join(errs...)
	}
	return Receipt{Channel: strings.Join(names, "+"), MessageID: strings.Join(ids, ",")}, nil
}

func (r *Router) smsAllowed(u models.Urgency) bool {
	if r.SMSThreshold == "" {
		return true
	}
	return u.AtLeast(r.SMSThreshold)
}

// LogChannel writes messages to the log instead of sending them.
type LogChannel struct {
	Logger logger.Logger
}

func (c *LogChannel) Send(_ context.Context, msg models.Message) (Receipt, error) {
	id := uuid.NewString()
	if c.Logger != nil {
		c.Logger.Info("notification", map[string]interface{}{
			"messageId": id,
			"kind":      msg.Kind,
			"recipient": msg.Recipient.ID,
			"subject":   msg.Subject,
		})
	}
	return Receipt{Channel: "log", MessageID: id}, nil
}
