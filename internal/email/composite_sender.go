package email

import (
	"context"
	"errors"
	"fmt"
)

// CompositeEmailSender fans a message out to every configured Sender.
// Delivery is attempted on all of them even when one fails.
type CompositeEmailSender struct {
	senders []Sender
}

// NewCompositeEmailSender creates a composite over the given senders.
// Nil entries are skipped.
func NewCompositeEmailSender(senders ...Sender) *CompositeEmailSender {
	cs := &CompositeEmailSender{}
	for _, s := range senders {
		if s != nil {
			cs.senders = append(cs.senders, s)
		}
	}
	return cs
}

// Send delivers through every sender and joins any failures into one
// error.
func (cs *CompositeEmailSender) Send(ctx context.Context, to []string, subject string, rawMessage []byte) error {
	if len(cs.senders) == 0 {
		return fmt.Errorf("no email senders configured")
	}

	var errs []error
	for _, sender := range cs.senders {
		if err := sender.Send(ctx, to, subject, rawMessage); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
