// Package messaging sends text messages through the SMS carrier and
// authenticates its delivery status callbacks.
package messaging

import (
	"context"
	"errors"
	"fmt"
)

var ErrCarrier = errors.New("carrier error")

type CarrierError struct {
	Status int
	Code   int
	Msg    string
	Err    error
}

func (e *CarrierError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("carrier: %v", e.Err)
	}
	return fmt.Sprintf("carrier: status %d code %d: %s", e.Status, e.Code, e.Msg)
}

func (e *CarrierError) Unwrap() error { return e.Err }

func (e *CarrierError) Is(target error) bool { return target == ErrCarrier }

type Outbound struct {
	To             string
	Body           string
	StatusCallback string
}

// Receipt is the carrier's acknowledgement of an accepted message.
type Receipt struct {
	MessageID string
	Status    string
	From      string
	Raw       []byte
}

type Gateway interface {
	// Send submits one message. It is never retried here.
	Send(ctx context.Context, msg Outbound) (*Receipt, error)
}
