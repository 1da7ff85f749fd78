// Package blockchain talks to the blockchain data provider: address
// generation, balances, unconfirmed pool scans and confirmation webhooks.
package blockchain

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrProviderUnavailable covers every failure to reach the provider or to get
// a usable answer from it.
var ErrProviderUnavailable = errors.New("blockchain provider unavailable")

const EventTxConfirmation = "tx-confirmation"

type ProviderError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *ProviderError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("blockchain %s: %v", e.Op, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("blockchain %s: status %d: %s", e.Op, e.Status, e.Body)
	default:
		return fmt.Sprintf("blockchain %s failed", e.Op)
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool { return target == ErrProviderUnavailable }

// Subscription asks the provider to call URL once a transaction paying
// Address reaches Confirmations.
type Subscription struct {
	Address       string
	Confirmations int
	URL           string
}

type Gateway interface {
	NewAddress(ctx context.Context) (string, error)
	// Balance is the final (confirmed plus unconfirmed) balance in coins.
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	// IsBroadcasted scans the most recent unconfirmed transactions. A miss is
	// not conclusive, callers poll again.
	IsBroadcasted(ctx context.Context, address string) (bool, error)
	// Confirmations of the most recent transaction touching address, 0 when
	// there is none.
	Confirmations(ctx context.Context, address string) (int, error)
	SubscribeWebhook(ctx context.Context, sub Subscription) (string, error)
	Unsubscribe(ctx context.Context, hookID string) error
}
