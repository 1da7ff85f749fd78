package db

import (
	"time"

	"github.com/shopspring/decimal"
)

type MessageStatus string

const (
	MessageUnsent  MessageStatus = "UNSENT"
	MessagePending MessageStatus = "PENDING"
	MessageSent    MessageStatus = "SENT"
)

func (s MessageStatus) rank() int {
	switch s {
	case MessagePending:
		return 1
	case MessageSent:
		return 2
	default:
		return 0
	}
}

// Advance returns the later of s and next, so the status never moves back.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

type PaymentStatus string

const (
	PaymentUnpaid  PaymentStatus = "UNPAID"
	PaymentPending PaymentStatus = "PENDING"
	PaymentPaid    PaymentStatus = "PAID"
)

func (s PaymentStatus) rank() int {
	switch s {
	case PaymentPending:
		return 1
	case PaymentPaid:
		return 2
	default:
		return 0
	}
}

func (s PaymentStatus) Advance(next PaymentStatus) PaymentStatus {
	if next.rank() > s.rank() {
		return next
	}
	return s
}

// PaymentMessage is one paid message request, keyed by its fingerprint and
// bound to a single payment address.
type PaymentMessage struct {
	ID               string          `gorm:"primaryKey;size:64" json:"id"`                 // fingerprint
	Body             string          `gorm:"type:text;not null" json:"-"`                  // never exposed
	RecipientPhone   string          `gorm:"size:32;not null" json:"recipient_phone"`      // E.164
	SenderPhone      string          `gorm:"size:32" json:"sender_phone"`                  // carrier from number
	Address          string          `gorm:"size:128;uniqueIndex;not null" json:"address"` // canonical payment address
	Amount           decimal.Decimal `gorm:"type:decimal(36,18);not null" json:"amount"`   // price pinned at creation
	Currency         string          `gorm:"size:16;not null" json:"currency"`             // descriptor name
	MessageStatus    MessageStatus   `gorm:"size:16;index;not null" json:"message_status"` // UNSENT, PENDING, SENT
	PaymentStatus    PaymentStatus   `gorm:"size:16;index;not null" json:"payment_status"` // UNPAID, PENDING, PAID
	CarrierMessageID string          `gorm:"size:64" json:"carrier_message_id"`            // as issued, case sensitive
	CarrierStatus    string          `gorm:"size:32" json:"carrier_status"`                // last raw status, uppercased
	WebhookID        string          `gorm:"size:64" json:"webhook_id"`                    // provider hook
	Confirmations    int             `json:"confirmations"`                                // last seen while polling
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (m *PaymentMessage) HasPaid() bool { return m.PaymentStatus == PaymentPaid }

func (m *PaymentMessage) IsSent() bool { return m.MessageStatus == MessageSent }

// IsStuck reports a paid record whose dispatch never reached the carrier.
func (m *PaymentMessage) IsStuck() bool {
	return m.HasPaid() && m.MessageStatus == MessageUnsent && m.CarrierMessageID == ""
}
