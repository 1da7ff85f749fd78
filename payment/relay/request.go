package relay

import (
	"fmt"
	"regexp"

	"go-smsrelay/payment/currency"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

const maxBodyLength = 1600

var phoneRegexp = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// PollRequest is the sender's message plus the payment it claims to make.
type PollRequest struct {
	Body           string
	RecipientPhone string
	Address        string
	Amount         decimal.Decimal
}

// Validate checks the request against the relay's currency. Amount must be
// exactly the message price.
func (r PollRequest) Validate(cur currency.Descriptor) error {
	err := validation.ValidateStruct(&r,
		validation.Field(&r.Body, validation.Required, validation.Length(1, maxBodyLength)),
		validation.Field(&r.RecipientPhone, validation.Required, validation.Match(phoneRegexp)),
		validation.Field(&r.Address, validation.Required, validation.By(func(value interface{}) error {
			return cur.ValidateAddress(value.(string))
		})),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	if !r.Amount.Equal(cur.Price()) {
		return fmt.Errorf("%w: amount %s does not match price %s", ErrMalformedRequest,
			currency.Format(r.Amount), currency.Format(cur.Price()))
	}
	return nil
}

// CarrierStatus is a delivery status report from the carrier.
type CarrierStatus struct {
	Status    string
	MessageID string
}

func (s CarrierStatus) Validate() error {
	err := validation.ValidateStruct(&s,
		validation.Field(&s.Status, validation.Required),
		validation.Field(&s.MessageID, validation.Required),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return nil
}
