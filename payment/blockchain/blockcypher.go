package blockchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go-smsrelay/payment/currency"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.blockcypher.com/v1"

	// unconfirmed pool window scanned by IsBroadcasted
	unconfirmedLimit = 150

	defaultTimeout = 10 * time.Second
	// free tier allows 3 requests per second
	defaultRPS = 3
	maxBodyLog = 512
)

type Config struct {
	BaseURL string
	Token   string
	RPS     float64
	Timeout time.Duration
}

type BlockCypher struct {
	cur     currency.Descriptor
	baseURL string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	log     *logrus.Entry
}

func NewBlockCypher(cur currency.Descriptor, cfg Config, log *logrus.Logger) *BlockCypher {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RPS <= 0 {
		cfg.RPS = defaultRPS
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &BlockCypher{
		cur:     cur,
		baseURL: fmt.Sprintf("%s/%s/%s", strings.TrimRight(cfg.BaseURL, "/"), cur.Symbol(), cur.Network()),
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), 1),
		log:     log.WithField("component", "blockcypher"),
	}
}

func (b *BlockCypher) NewAddress(ctx context.Context) (string, error) {
	var keychain AddressKeychain
	if err := b.do(ctx, "new address", http.MethodPost, "/addrs", nil, nil, &keychain); err != nil {
		return "", err
	}
	if keychain.Address == "" {
		return "", &ProviderError{Op: "new address", Body: "empty address"}
	}
	return keychain.Address, nil
}

func (b *BlockCypher) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	var bal AddressBalance
	path := "/addrs/" + url.PathEscape(address) + "/balance"
	if err := b.do(ctx, "balance", http.MethodGet, path, nil, nil, &bal); err != nil {
		return decimal.Zero, err
	}
	return currency.FromBaseUnits(bal.FinalBalance, b.cur.Decimals()), nil
}

func (b *BlockCypher) IsBroadcasted(ctx context.Context, address string) (bool, error) {
	q := url.Values{}
	q.Set("instart", "0")
	q.Set("limit", fmt.Sprint(unconfirmedLimit))

	var txs []TX
	if err := b.do(ctx, "unconfirmed txs", http.MethodGet, "/txs", q, nil, &txs); err != nil {
		return false, err
	}
	for i := range txs {
		if txs[i].HasOutputTo(address, b.cur.SameAddress) {
			return true, nil
		}
	}
	return false, nil
}

func (b *BlockCypher) Confirmations(ctx context.Context, address string) (int, error) {
	q := url.Values{}
	q.Set("limit", "1")

	var info AddressInfo
	if err := b.do(ctx, "address", http.MethodGet, "/addrs/"+url.PathEscape(address), q, nil, &info); err != nil {
		return 0, err
	}
	if len(info.TXRefs) == 0 {
		return 0, nil
	}
	return info.TXRefs[0].Confirmations, nil
}

func (b *BlockCypher) SubscribeWebhook(ctx context.Context, sub Subscription) (string, error) {
	hook := Hook{
		Event:         EventTxConfirmation,
		Address:       sub.Address,
		Confirmations: sub.Confirmations,
		URL:           sub.URL,
		Token:         b.token,
	}
	var created Hook
	if err := b.do(ctx, "subscribe", http.MethodPost, "/hooks", nil, hook, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", &ProviderError{Op: "subscribe", Body: "empty hook id"}
	}
	b.log.WithFields(logrus.Fields{"address": sub.Address, "hook_id": created.ID}).Info("webhook subscribed")
	return created.ID, nil
}

func (b *BlockCypher) Unsubscribe(ctx context.Context, hookID string) error {
	return b.do(ctx, "unsubscribe", http.MethodDelete, "/hooks/"+url.PathEscape(hookID), nil, nil, nil)
}

func (b *BlockCypher) do(ctx context.Context, op, method, path string, q url.Values, in, out any) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return &ProviderError{Op: op, Err: err}
	}

	if q == nil {
		q = url.Values{}
	}
	if b.token != "" {
		q.Set("token", b.token)
	}
	endpoint := b.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return &ProviderError{Op: op, Err: err}
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return &ProviderError{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		b.log.WithError(err).WithField("op", op).Warn("provider request failed")
		return &ProviderError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := providerMessage(raw)
		b.log.WithFields(logrus.Fields{"op": op, "status": resp.StatusCode}).Warn(msg)
		return &ProviderError{Op: op, Status: resp.StatusCode, Body: msg}
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func providerMessage(raw []byte) string {
	var e apiError
	if json.Unmarshal(raw, &e) == nil {
		if e.Error != "" {
			return e.Error
		}
		if len(e.Errors) > 0 {
			return e.Errors[0].Error
		}
	}
	if len(raw) > maxBodyLog {
		raw = raw[:maxBodyLog]
	}
	return string(raw)
}
