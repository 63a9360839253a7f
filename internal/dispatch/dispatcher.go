// Package dispatch sends one outbound email per call, with the From address
// set to the recipient's encoded reply address so that replies route back to
// the right account.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/ignite/personifeed/internal/pkg/logger"
	"github.com/ignite/personifeed/internal/replyaddr"
	"github.com/ignite/personifeed/internal/store"
)

// Kind selects the message being sent
type Kind string

const (
	KindNewsletter   Kind = "newsletter"
	KindConfirmation Kind = "confirmation"
)

// Classified delivery failures
var (
	ErrRejected = errors.New("mail transport rejected the message")
	ErrTimeout  = errors.New("mail transport timed out")
)

// Detail returns the stable failure label for a classified delivery error.
func Detail(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return "TransportTimeout"
	case errors.Is(err, ErrRejected):
		return "TransportRejected"
	default:
		return "DeliveryFailure"
	}
}

// Transport delivers one already-composed message
type Transport interface {
	Send(ctx context.Context, to, from, subject, body string) (messageID string, err error)
}

const confirmationBody = `Got it — your note has been added to your newsletter preferences
and will shape tomorrow's edition.

Reply any time to adjust it further.`

// Dispatcher composes and sends newsletters and reply confirmations.
// One call is one outbound message; retry policy belongs to the caller.
type Dispatcher struct {
	transport Transport
	codec     *replyaddr.Codec
	fromName  string
	subject   string
}

// New creates a dispatcher
func New(transport Transport, codec *replyaddr.Codec, fromName, subject string) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		codec:     codec,
		fromName:  fromName,
		subject:   subject,
	}
}

// Send delivers one message of the given kind to the user. Errors are
// classified as ErrTimeout or ErrRejected; there is no internal retry, so a
// returned error means exactly zero messages went out for this call.
func (d *Dispatcher) Send(ctx context.Context, user *store.User, body string, kind Kind) error {
	from := fmt.Sprintf("%s <%s>", d.fromName, d.codec.Encode(user.ID))

	subject := d.subject
	if kind == KindConfirmation {
		subject = "Re: " + d.subject
		body = confirmationBody
	}

	messageID, err := d.transport.Send(ctx, user.Email, from, subject, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrRejected, err)
	}

	logger.Info("message sent",
		"kind", string(kind), "email", user.Email, "message_id", messageID)
	return nil
}
