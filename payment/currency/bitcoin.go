package currency

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/shopspring/decimal"
)

// 750 satoshi
var bitcoinPrice = decimal.RequireFromString("0.00000750")

// Bitcoin is a UTXO coin on the testnet3 network.
type Bitcoin struct{}

func (Bitcoin) Code() Code             { return BitcoinCode }
func (Bitcoin) Name() string           { return "bitcoin" }
func (Bitcoin) Network() string        { return "test3" }
func (Bitcoin) Symbol() string         { return "btc" }
func (Bitcoin) ISO4217() string        { return "XBT" }
func (Bitcoin) Price() decimal.Decimal { return bitcoinPrice }
func (Bitcoin) Decimals() int32        { return 8 }

// Normalize only trims: base58 and bech32 spellings are not interchangeable.
func (Bitcoin) Normalize(address string) string { return strings.TrimSpace(address) }

func (Bitcoin) SameAddress(a, b string) bool { return a != "" && a == b }

// URIScheme follows BIP21.
func (Bitcoin) URIScheme(address string, amount decimal.Decimal) string {
	return fmt.Sprintf("bitcoin:%s?amount=%s", address, Format(amount))
}

func (b Bitcoin) ValidateAddress(address string) error {
	params := b.params()
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("invalid %s address: %w", b.Name(), err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("address %s is not a %s address", address, params.Name)
	}
	return nil
}

func (b Bitcoin) params() *chaincfg.Params {
	if b.Network() == "main" {
		return &chaincfg.MainNetParams
	}
	return &chaincfg.TestNet3Params
}
