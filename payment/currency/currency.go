// Package currency describes the assets a message can be paid with.
package currency

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Precision is the number of fractional digits amounts and balances are
// normalised to.
const Precision = 8

type Code string

const (
	BitcoinCode  Code = "bitcoin"
	EthereumCode Code = "ethereum"
)

var ErrUnknownCurrency = errors.New("unknown currency")

// UnknownCurrencyError is returned by Parse for names outside the known set.
type UnknownCurrencyError struct {
	Name string
}

func (e *UnknownCurrencyError) Error() string {
	return fmt.Sprintf("unknown currency %q (known: %s, %s)", e.Name, BitcoinCode, EthereumCode)
}

func (e *UnknownCurrencyError) Unwrap() error { return ErrUnknownCurrency }

// Descriptor is an immutable description of a payment asset. Implementations
// must be interchangeable.
type Descriptor interface {
	Code() Code
	Name() string
	// Network is the provider network identifier, e.g. test3.
	Network() string
	// Symbol is the provider coin symbol, e.g. btc.
	Symbol() string
	ISO4217() string
	// Price is the fixed price of a single message.
	Price() decimal.Decimal
	// Decimals is the number of base units per coin as a power of ten.
	Decimals() int32
	URIScheme(address string, amount decimal.Decimal) string
	ValidateAddress(address string) error
	// Normalize returns the canonical spelling of a valid address. Records,
	// locks and fingerprints are keyed on it.
	Normalize(address string) string
	SameAddress(a, b string) bool
}

// Parse maps a configured currency name to its descriptor.
func Parse(name string) (Descriptor, error) {
	switch Code(strings.ToLower(strings.TrimSpace(name))) {
	case BitcoinCode:
		return Bitcoin{}, nil
	case EthereumCode:
		return Ethereum{}, nil
	default:
		return nil, &UnknownCurrencyError{Name: name}
	}
}

// Format renders an amount with the fixed precision used for prices,
// balances and fingerprints.
func Format(amount decimal.Decimal) string {
	return amount.StringFixed(Precision)
}

// FromBaseUnits converts an integer amount of base units (satoshi, wei) into
// coins, truncated to Precision digits so a balance is never rounded up.
func FromBaseUnits(units decimal.Decimal, decimals int32) decimal.Decimal {
	return units.Shift(-decimals).Truncate(Precision)
}
