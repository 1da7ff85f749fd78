package blockchain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TX is a transaction as reported by the provider, both in listings and in
// tx-confirmation webhook payloads.
type TX struct {
	BlockHash     string          `json:"block_hash"`
	BlockHeight   int64           `json:"block_height"`
	Hash          string          `json:"hash"`
	Addresses     []string        `json:"addresses"`
	Total         decimal.Decimal `json:"total"`
	Fees          decimal.Decimal `json:"fees"`
	Received      time.Time       `json:"received"`
	Confirmed     time.Time       `json:"confirmed"`
	Confirmations int             `json:"confirmations"`
	DoubleSpend   bool            `json:"double_spend"`
	Inputs        []TXInput       `json:"inputs"`
	Outputs       []TXOutput      `json:"outputs"`
}

type TXInput struct {
	PrevHash    string          `json:"prev_hash"`
	OutputIndex int             `json:"output_index"`
	OutputValue decimal.Decimal `json:"output_value"`
	Addresses   []string        `json:"addresses"`
}

type TXOutput struct {
	Value      decimal.Decimal `json:"value"`
	Script     string          `json:"script"`
	Addresses  []string        `json:"addresses"`
	ScriptType string          `json:"script_type"`
}

// HasOutputTo reports whether any output of the transaction pays address.
func (tx *TX) HasOutputTo(address string, same func(a, b string) bool) bool {
	for _, out := range tx.Outputs {
		for _, a := range out.Addresses {
			if same(a, address) {
				return true
			}
		}
	}
	return false
}

// AddressKeychain is the response of address generation. Only Address is
// used; keys are never persisted or logged.
type AddressKeychain struct {
	Address string `json:"address"`
	Public  string `json:"public"`
	Private string `json:"private"`
	Wif     string `json:"wif"`
}

type AddressBalance struct {
	Address            string          `json:"address"`
	TotalReceived      decimal.Decimal `json:"total_received"`
	TotalSent          decimal.Decimal `json:"total_sent"`
	Balance            decimal.Decimal `json:"balance"`
	UnconfirmedBalance decimal.Decimal `json:"unconfirmed_balance"`
	FinalBalance       decimal.Decimal `json:"final_balance"`
	NTx                int             `json:"n_tx"`
	UnconfirmedNTx     int             `json:"unconfirmed_n_tx"`
	FinalNTx           int             `json:"final_n_tx"`
}

type AddressInfo struct {
	AddressBalance
	TXRefs            []TXRef `json:"txrefs"`
	UnconfirmedTXRefs []TXRef `json:"unconfirmed_txrefs"`
	HasMore           bool    `json:"hasMore"`
}

type TXRef struct {
	TxHash        string          `json:"tx_hash"`
	BlockHeight   int64           `json:"block_height"`
	TxInputN      int             `json:"tx_input_n"`
	TxOutputN     int             `json:"tx_output_n"`
	Value         decimal.Decimal `json:"value"`
	Confirmations int             `json:"confirmations"`
	Confirmed     time.Time       `json:"confirmed"`
	DoubleSpend   bool            `json:"double_spend"`
}

// Hook is a webhook subscription.
type Hook struct {
	ID            string `json:"id,omitempty"`
	Event         string `json:"event"`
	Address       string `json:"address,omitempty"`
	Confirmations int    `json:"confirmations,omitempty"`
	URL           string `json:"url"`
	Token         string `json:"token,omitempty"`
	CallbackErrs  int    `json:"callback_errors,omitempty"`
}

type apiError struct {
	Error  string `json:"error"`
	Errors []struct {
		Error string `json:"error"`
	} `json:"errors"`
}
