package currency

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// 10 µETH
var etherPrice = decimal.RequireFromString("0.00001")

// Ethereum is an account coin on the provider's test chain. The provider
// reports addresses as lowercase hex without the 0x prefix.
type Ethereum struct{}

func (Ethereum) Code() Code             { return EthereumCode }
func (Ethereum) Name() string           { return "ethereum" }
func (Ethereum) Network() string        { return "test" }
func (Ethereum) Symbol() string         { return "beth" }
func (Ethereum) ISO4217() string        { return "ETH" }
func (Ethereum) Price() decimal.Decimal { return etherPrice }
func (Ethereum) Decimals() int32        { return 18 }

func (Ethereum) URIScheme(address string, amount decimal.Decimal) string {
	return fmt.Sprintf("ethereum:%s?amount=%s", address, Format(amount))
}

func (e Ethereum) ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return fmt.Errorf("invalid %s address %q", e.Name(), address)
	}
	return nil
}

// Normalize renders the provider's form: lowercase hex without 0x.
func (Ethereum) Normalize(address string) string {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return address
	}
	return hex.EncodeToString(common.HexToAddress(address).Bytes())
}

func (Ethereum) SameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return a != "" && strings.EqualFold(a, b)
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
