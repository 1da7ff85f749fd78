package relay

import (
	"errors"
	"strconv"

	"go-smsrelay/messaging"
	"go-smsrelay/payment/blockchain"
)

// State is what a poll reports back to the client. The integer values are
// part of the wire format.
type State int

const (
	NotBroadcast State = iota
	BroadcastUnconfirmed
	Confirming
	PaidSending
	Sent
	Error
)

var stateNames = [...]string{"not_broadcast", "broadcast_unconfirmed", "confirming", "paid_sending", "sent", "error"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "state(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}

// Terminal states need no further polling.
func (s State) Terminal() bool { return s == Sent }

var (
	ErrMalformedRequest    = errors.New("malformed request")
	ErrUnknownSession      = errors.New("unknown or terminal session")
	ErrPaymentNotConfirmed = errors.New("payment not confirmed")
	ErrNotStuck            = errors.New("message is not awaiting dispatch")

	ErrProviderUnavailable = blockchain.ErrProviderUnavailable
	ErrCarrier             = messaging.ErrCarrier
)
