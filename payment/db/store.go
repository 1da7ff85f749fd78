package db

import (
	"context"
	"errors"
)

var (
	ErrNotFound  = errors.New("payment message not found")
	ErrDuplicate = errors.New("payment message already exists")
)

// Store persists PaymentMessage records. Records are never deleted.
type Store interface {
	// Create fails with ErrDuplicate when the id or the address is taken.
	Create(ctx context.Context, m *PaymentMessage) error
	ByID(ctx context.Context, id string) (*PaymentMessage, error)
	ByAddress(ctx context.Context, address string) (*PaymentMessage, error)
	// Update applies fn to the current record and persists the result
	// atomically. Nothing is written when fn returns an error.
	Update(ctx context.Context, id string, fn func(m *PaymentMessage) error) (*PaymentMessage, error)
	// ListStuck returns paid records that never reached the carrier, oldest
	// first.
	ListStuck(ctx context.Context, limit int) ([]PaymentMessage, error)
}
