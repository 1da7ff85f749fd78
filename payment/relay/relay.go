// Package relay drives a paid message from payment broadcast to carrier
// delivery. Every operation on a session runs under the lock of its payment
// address.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go-smsrelay/messaging"
	"go-smsrelay/payment/blockchain"
	"go-smsrelay/payment/currency"
	"go-smsrelay/payment/db"
	"go-smsrelay/payment/lock"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	DefaultMinConfirmations = 6
	defaultGatewayTimeout   = 15 * time.Second

	BlockchainWebhookPath = "/webhook/blockchain/"
	CarrierWebhookPath    = "/webhook/carrier/"
)

type Options struct {
	Currency         currency.Descriptor
	Chain            blockchain.Gateway
	Carrier          messaging.Gateway
	Store            db.Store
	Locker           lock.Locker
	MinConfirmations int
	// CallbackBase is the public base URL the provider and the carrier call
	// back on, without a trailing slash.
	CallbackBase   string
	GatewayTimeout time.Duration
	Logger         *logrus.Logger
}

type Relay struct {
	cur      currency.Descriptor
	chain    blockchain.Gateway
	carrier  messaging.Gateway
	store    db.Store
	locker   lock.Locker
	minConfs int
	base     string
	timeout  time.Duration
	log      *logrus.Entry
}

func New(opts Options) (*Relay, error) {
	switch {
	case opts.Currency == nil:
		return nil, errors.New("relay: currency is required")
	case opts.Chain == nil:
		return nil, errors.New("relay: blockchain gateway is required")
	case opts.Carrier == nil:
		return nil, errors.New("relay: messaging gateway is required")
	case opts.Store == nil:
		return nil, errors.New("relay: store is required")
	case opts.CallbackBase == "":
		return nil, errors.New("relay: callback base url is required")
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewKeyedMutex()
	}
	if opts.MinConfirmations <= 0 {
		opts.MinConfirmations = DefaultMinConfirmations
	}
	if opts.GatewayTimeout <= 0 {
		opts.GatewayTimeout = defaultGatewayTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	return &Relay{
		cur:      opts.Currency,
		chain:    opts.Chain,
		carrier:  opts.Carrier,
		store:    opts.Store,
		locker:   opts.Locker,
		minConfs: opts.MinConfirmations,
		base:     strings.TrimRight(opts.CallbackBase, "/"),
		timeout:  opts.GatewayTimeout,
		log:      opts.Logger.WithField("currency", opts.Currency.Name()),
	}, nil
}

func (r *Relay) Currency() currency.Descriptor { return r.cur }

func (r *Relay) MinConfirmations() int { return r.minConfs }

// Invoice is what a sender needs to pay for one message.
type Invoice struct {
	Address          string          `json:"address"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	ISO4217          string          `json:"iso4217"`
	URI              string          `json:"uri"`
	MinConfirmations int             `json:"min_confirmations"`
}

// NewInvoice requests a fresh payment address from the provider.
func (r *Relay) NewInvoice(ctx context.Context) (*Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	address, err := r.chain.NewAddress(ctx)
	if err != nil {
		r.log.WithError(err).Warn("address generation failed")
		return nil, err
	}
	address = r.cur.Normalize(address)
	price := r.cur.Price()
	return &Invoice{
		Address:          address,
		Amount:           price,
		Currency:         r.cur.Name(),
		ISO4217:          r.cur.ISO4217(),
		URI:              r.cur.URIScheme(address, price),
		MinConfirmations: r.minConfs,
	}, nil
}

// Poll advances the session bound to req.Address and reports its state. A
// gateway or storage failure yields Error together with the cause and leaves
// the record untouched.
func (r *Relay) Poll(ctx context.Context, req PollRequest) (State, error) {
	if err := req.Validate(r.cur); err != nil {
		return Error, err
	}
	req.Address = r.cur.Normalize(req.Address)

	unlock, err := r.locker.Lock(ctx, req.Address)
	if err != nil {
		return Error, err
	}
	defer unlock()

	log := r.log.WithField("address", req.Address)

	rec, err := r.store.ByAddress(ctx, req.Address)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return Error, err
	}
	if rec != nil {
		if rec.IsSent() {
			return Sent, nil
		}
		if rec.HasPaid() {
			return PaidSending, nil
		}
	}

	broadcast, err := r.isBroadcasted(ctx, req.Address)
	if err != nil {
		log.WithError(err).Warn("broadcast lookup failed")
		return Error, err
	}

	switch {
	case broadcast && rec == nil:
		return r.open(ctx, req, log)
	case broadcast:
		return BroadcastUnconfirmed, nil
	case rec == nil:
		return NotBroadcast, nil
	}

	confs, err := r.confirmations(ctx, req.Address)
	if err != nil {
		log.WithError(err).Warn("confirmation lookup failed")
		return Error, err
	}
	if confs <= 0 {
		return NotBroadcast, nil
	}

	_, err = r.store.Update(ctx, rec.ID, func(m *db.PaymentMessage) error {
		m.PaymentStatus = m.PaymentStatus.Advance(db.PaymentPending)
		if confs > m.Confirmations {
			m.Confirmations = confs
		}
		return nil
	})
	if err != nil {
		return Error, err
	}
	log.WithField("confirmations", confs).Debug("payment confirming")
	return Confirming, nil
}

// open subscribes the confirmation webhook and creates the record. The
// record is created only once the subscription exists.
func (r *Relay) open(ctx context.Context, req PollRequest, log *logrus.Entry) (State, error) {
	amount := r.cur.Price()
	id := db.Fingerprint(req.RecipientPhone, req.Body, req.Address, currency.Format(amount))
	log = log.WithField("session_id", id)

	hookID, err := r.subscribe(ctx, blockchain.Subscription{
		Address:       req.Address,
		Confirmations: r.minConfs,
		URL:           r.base + BlockchainWebhookPath + id,
	})
	if err != nil {
		log.WithError(err).Warn("webhook subscription failed")
		return Error, err
	}

	rec := &db.PaymentMessage{
		ID:             id,
		Body:           req.Body,
		RecipientPhone: req.RecipientPhone,
		Address:        req.Address,
		Amount:         amount,
		Currency:       r.cur.Name(),
		MessageStatus:  db.MessageUnsent,
		PaymentStatus:  db.PaymentUnpaid,
		WebhookID:      hookID,
	}
	if err := r.store.Create(ctx, rec); err != nil {
		r.unsubscribe(ctx, hookID, log)
		if errors.Is(err, db.ErrDuplicate) {
			// another poll created the record first
			return BroadcastUnconfirmed, nil
		}
		return Error, err
	}

	log.Info("payment broadcast, session opened")
	return BroadcastUnconfirmed, nil
}

// WebhookResult is the outcome of an accepted blockchain webhook.
type WebhookResult struct {
	// Duplicate is set when the payment had already been accepted and
	// nothing was sent.
	Duplicate bool
	// CarrierResponse is the carrier's raw answer to the send.
	CarrierResponse []byte
	Record          *db.PaymentMessage
}

// HandleBlockchainWebhook accepts a tx-confirmation callback for sessionID.
// The message is sent once the transaction pays the session address with
// enough confirmations and the address balance covers the pinned amount.
func (r *Relay) HandleBlockchainWebhook(ctx context.Context, sessionID string, payload []byte) (*WebhookResult, error) {
	rec, unlock, err := r.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	log := r.log.WithFields(logrus.Fields{"session_id": sessionID, "address": rec.Address})

	if rec.IsSent() {
		return nil, ErrUnknownSession
	}
	if rec.HasPaid() {
		log.Info("payment already accepted")
		return &WebhookResult{Duplicate: true, Record: rec}, nil
	}

	tx, err := decodeTX(payload)
	if err != nil {
		return nil, err
	}
	if !tx.HasOutputTo(rec.Address, r.cur.SameAddress) {
		return nil, fmt.Errorf("%w: transaction %s does not pay %s", ErrPaymentNotConfirmed, tx.Hash, rec.Address)
	}
	if tx.Confirmations < r.minConfs {
		return nil, fmt.Errorf("%w: %d of %d confirmations", ErrPaymentNotConfirmed, tx.Confirmations, r.minConfs)
	}

	balance, err := r.balance(ctx, rec.Address)
	if err != nil {
		log.WithError(err).Warn("balance lookup failed")
		return nil, fmt.Errorf("%w: balance lookup: %w", ErrPaymentNotConfirmed, err)
	}
	if balance.LessThan(rec.Amount) {
		return nil, fmt.Errorf("%w: balance %s below %s", ErrPaymentNotConfirmed,
			currency.Format(balance), currency.Format(rec.Amount))
	}

	paid, err := r.store.Update(ctx, rec.ID, func(m *db.PaymentMessage) error {
		if m.HasPaid() {
			return errAlreadyPaid
		}
		m.PaymentStatus = db.PaymentPaid
		m.Confirmations = tx.Confirmations
		return nil
	})
	if errors.Is(err, errAlreadyPaid) {
		return &WebhookResult{Duplicate: true, Record: rec}, nil
	}
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{"tx": tx.Hash, "confirmations": tx.Confirmations}).Info("payment accepted")

	return r.dispatch(ctx, paid, log)
}

var errAlreadyPaid = errors.New("already paid")

// HandleCarrierCallback records a delivery status report. The message status
// only moves forward; the raw status and carrier id are always kept.
func (r *Relay) HandleCarrierCallback(ctx context.Context, sessionID string, st CarrierStatus) (*db.PaymentMessage, error) {
	if err := st.Validate(); err != nil {
		return nil, err
	}

	rec, unlock, err := r.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if rec.IsSent() {
		return nil, ErrUnknownSession
	}

	updated, err := r.store.Update(ctx, rec.ID, func(m *db.PaymentMessage) error {
		if m.IsSent() {
			return ErrUnknownSession
		}
		m.CarrierStatus = strings.ToUpper(st.Status)
		m.CarrierMessageID = st.MessageID
		m.MessageStatus = m.MessageStatus.Advance(carrierMessageStatus(st.Status))
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.log.WithFields(logrus.Fields{
		"session_id":     sessionID,
		"carrier_id":     updated.CarrierMessageID,
		"carrier_status": updated.CarrierStatus,
		"message_status": updated.MessageStatus,
	}).Info("carrier status")
	return updated, nil
}

// Redispatch sends a paid message whose earlier send failed. Only records
// with no carrier id are eligible, so a message is never sent twice through
// this path.
func (r *Relay) Redispatch(ctx context.Context, sessionID string) (*WebhookResult, error) {
	rec, unlock, err := r.lockSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if !rec.IsStuck() {
		return nil, ErrNotStuck
	}
	log := r.log.WithFields(logrus.Fields{"session_id": sessionID, "address": rec.Address})
	log.Info("redispatching message")
	return r.dispatch(ctx, rec, log)
}

// Stuck lists paid messages that never reached the carrier.
func (r *Relay) Stuck(ctx context.Context, limit int) ([]db.PaymentMessage, error) {
	return r.store.ListStuck(ctx, limit)
}

// dispatch hands a paid message to the carrier. Acceptance is not delivery,
// so the message status is left to the carrier's callbacks.
func (r *Relay) dispatch(ctx context.Context, rec *db.PaymentMessage, log *logrus.Entry) (*WebhookResult, error) {
	rcpt, err := r.send(ctx, messaging.Outbound{
		To:             rec.RecipientPhone,
		Body:           rec.Body,
		StatusCallback: r.base + CarrierWebhookPath + rec.ID,
	})
	if err != nil {
		log.WithError(err).Error("send failed, message is paid but unsent")
		return nil, err
	}

	updated, err := r.store.Update(ctx, rec.ID, func(m *db.PaymentMessage) error {
		m.CarrierMessageID = rcpt.MessageID
		m.SenderPhone = rcpt.From
		if rcpt.Status != "" {
			m.CarrierStatus = strings.ToUpper(rcpt.Status)
		}
		return nil
	})
	if err != nil {
		// the carrier has the message; only the bookkeeping is missing
		log.WithError(err).WithField("carrier_id", rcpt.MessageID).Error("failed to store carrier id")
		updated = rec
	}

	log.WithField("carrier_id", rcpt.MessageID).Info("message handed to carrier")
	return &WebhookResult{CarrierResponse: rcpt.Raw, Record: updated}, nil
}

// lockSession finds the record, takes its address lock and reads it again
// under the lock.
func (r *Relay) lockSession(ctx context.Context, sessionID string) (*db.PaymentMessage, func(), error) {
	if sessionID == "" {
		return nil, nil, ErrMalformedRequest
	}
	rec, err := r.store.ByID(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, nil, ErrUnknownSession
	}
	if err != nil {
		return nil, nil, err
	}

	unlock, err := r.locker.Lock(ctx, rec.Address)
	if err != nil {
		return nil, nil, err
	}
	rec, err = r.store.ByID(ctx, sessionID)
	if err != nil {
		unlock()
		return nil, nil, err
	}
	return rec, unlock, nil
}

func decodeTX(payload []byte) (*blockchain.TX, error) {
	var tx blockchain.TX
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}
	return &tx, nil
}

func carrierMessageStatus(status string) db.MessageStatus {
	switch strings.ToLower(status) {
	case "queued", "accepted", "scheduled", "sending":
		return db.MessagePending
	case "sent", "delivered":
		return db.MessageSent
	default:
		return db.MessageUnsent
	}
}

func (r *Relay) isBroadcasted(ctx context.Context, address string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.chain.IsBroadcasted(ctx, address)
}

func (r *Relay) confirmations(ctx context.Context, address string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.chain.Confirmations(ctx, address)
}

func (r *Relay) balance(ctx context.Context, address string) (decimal.Decimal, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.chain.Balance(ctx, address)
}

func (r *Relay) subscribe(ctx context.Context, sub blockchain.Subscription) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.chain.SubscribeWebhook(ctx, sub)
}

func (r *Relay) unsubscribe(ctx context.Context, hookID string, log *logrus.Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.chain.Unsubscribe(ctx, hookID); err != nil {
		log.WithError(err).WithField("hook_id", hookID).Warn("failed to remove orphan webhook")
	}
}

func (r *Relay) send(ctx context.Context, msg messaging.Outbound) (*messaging.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.carrier.Send(ctx, msg)
}
