package relay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"

	"go-smsrelay/messaging"
	"go-smsrelay/payment/blockchain"
	"go-smsrelay/payment/currency"
	"go-smsrelay/payment/db"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testAddr  = "mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn"
	testPhone = "+15005550006"
	testBody  = "the eagle has landed"
	testBase  = "https://relay.test"
)

type mockChain struct {
	mock.Mock
}

func (m *mockChain) NewAddress(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *mockChain) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	args := m.Called(ctx, address)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockChain) IsBroadcasted(ctx context.Context, address string) (bool, error) {
	args := m.Called(ctx, address)
	return args.Bool(0), args.Error(1)
}

func (m *mockChain) Confirmations(ctx context.Context, address string) (int, error) {
	args := m.Called(ctx, address)
	return args.Int(0), args.Error(1)
}

func (m *mockChain) SubscribeWebhook(ctx context.Context, sub blockchain.Subscription) (string, error) {
	args := m.Called(ctx, sub)
	return args.String(0), args.Error(1)
}

func (m *mockChain) Unsubscribe(ctx context.Context, hookID string) error {
	args := m.Called(ctx, hookID)
	return args.Error(0)
}

type mockCarrier struct {
	mock.Mock
}

func (m *mockCarrier) Send(ctx context.Context, msg messaging.Outbound) (*messaging.Receipt, error) {
	args := m.Called(ctx, msg)
	rcpt, _ := args.Get(0).(*messaging.Receipt)
	return rcpt, args.Error(1)
}

type fixture struct {
	relay   *Relay
	chain   *mockChain
	carrier *mockCarrier
	store   *db.MemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureFor(t, currency.Bitcoin{})
}

func newFixtureFor(t *testing.T, cur currency.Descriptor) *fixture {
	t.Helper()
	f := &fixture{
		chain:   &mockChain{},
		carrier: &mockCarrier{},
		store:   db.NewMemoryStore(),
	}
	r, err := New(Options{
		Currency:     cur,
		Chain:        f.chain,
		Carrier:      f.carrier,
		Store:        f.store,
		CallbackBase: testBase + "/",
	})
	require.NoError(t, err)
	f.relay = r
	return f
}

func pollRequest() PollRequest {
	return PollRequest{
		Body:           testBody,
		RecipientPhone: testPhone,
		Address:        testAddr,
		Amount:         currency.Bitcoin{}.Price(),
	}
}

func sessionID() string {
	return db.Fingerprint(testPhone, testBody, testAddr, "0.00000750")
}

// seed stores a record for testAddr in the given statuses.
func (f *fixture) seed(t *testing.T, pay db.PaymentStatus, msg db.MessageStatus) *db.PaymentMessage {
	t.Helper()
	m := &db.PaymentMessage{
		ID:             sessionID(),
		Body:           testBody,
		RecipientPhone: testPhone,
		Address:        testAddr,
		Amount:         currency.Bitcoin{}.Price(),
		Currency:       "bitcoin",
		PaymentStatus:  pay,
		MessageStatus:  msg,
		WebhookID:      "hook-1",
	}
	require.NoError(t, f.store.Create(context.Background(), m))
	return m
}

func (f *fixture) record(t *testing.T) *db.PaymentMessage {
	t.Helper()
	m, err := f.store.ByID(context.Background(), sessionID())
	require.NoError(t, err)
	return m
}

func confirmedTX(confs int) []byte {
	return []byte(`{"hash":"f854aebae95150b379cc1187d848d58225f3c4157fe992bcd166f58bd5063449","confirmations":` +
		strconv.Itoa(confs) +
		`,"outputs":[{"value":750,"addresses":["` + testAddr + `"]},{"value":100,"addresses":["n4VQ5YdHf7hLQ2gWQYYrcxoE5B7nWuDFNF"]}]}`)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Currency: currency.Bitcoin{}, Chain: &mockChain{}, Carrier: &mockCarrier{}, Store: db.NewMemoryStore()})
	assert.Error(t, err, "callback base is required")
}

func TestNewInvoice(t *testing.T) {
	f := newFixture(t)
	f.chain.On("NewAddress", mock.Anything).Return(testAddr, nil).Once()

	inv, err := f.relay.NewInvoice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testAddr, inv.Address)
	assert.Equal(t, "XBT", inv.ISO4217)
	assert.Equal(t, "bitcoin:"+testAddr+"?amount=0.00000750", inv.URI)
	assert.Equal(t, DefaultMinConfirmations, inv.MinConfirmations)
}

func TestNewInvoiceUnavailable(t *testing.T) {
	f := newFixture(t)
	f.chain.On("NewAddress", mock.Anything).
		Return("", &blockchain.ProviderError{Op: "new address", Status: 429}).Once()

	inv, err := f.relay.NewInvoice(context.Background())
	assert.Nil(t, inv)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
}

func TestPollRejectsMalformed(t *testing.T) {
	f := newFixture(t)

	tests := map[string]func(r *PollRequest){
		"empty body":      func(r *PollRequest) { r.Body = "" },
		"bad phone":       func(r *PollRequest) { r.RecipientPhone = "call me" },
		"mainnet address": func(r *PollRequest) { r.Address = "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa" },
		"wrong amount":    func(r *PollRequest) { r.Amount = decimal.RequireFromString("0.0000001") },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := pollRequest()
			mutate(&req)
			state, err := f.relay.Poll(context.Background(), req)
			assert.Equal(t, Error, state)
			assert.ErrorIs(t, err, ErrMalformedRequest)
		})
	}
	f.chain.AssertNotCalled(t, "IsBroadcasted", mock.Anything, mock.Anything)
}

// Scenario A
func TestPollNotBroadcast(t *testing.T) {
	f := newFixture(t)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(false, nil)

	for i := 0; i < 2; i++ {
		state, err := f.relay.Poll(context.Background(), pollRequest())
		require.NoError(t, err)
		assert.Equal(t, NotBroadcast, state)
	}

	_, err := f.store.ByAddress(context.Background(), testAddr)
	assert.ErrorIs(t, err, db.ErrNotFound)
	f.chain.AssertNotCalled(t, "SubscribeWebhook", mock.Anything, mock.Anything)
}

// Scenario B
func TestPollBroadcastCreatesOneRecord(t *testing.T) {
	f := newFixture(t)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(true, nil)
	f.chain.On("SubscribeWebhook", mock.Anything, blockchain.Subscription{
		Address:       testAddr,
		Confirmations: 6,
		URL:           testBase + "/webhook/blockchain/" + sessionID(),
	}).Return("hook-1", nil).Once()

	state, err := f.relay.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	assert.Equal(t, BroadcastUnconfirmed, state)

	rec := f.record(t)
	assert.Equal(t, db.PaymentUnpaid, rec.PaymentStatus)
	assert.Equal(t, db.MessageUnsent, rec.MessageStatus)
	assert.Equal(t, "hook-1", rec.WebhookID)
	assert.Equal(t, "0.00000750", currency.Format(rec.Amount))

	state, err = f.relay.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	assert.Equal(t, BroadcastUnconfirmed, state)

	f.chain.AssertNumberOfCalls(t, "SubscribeWebhook", 1)
}

func TestPollConcurrentBroadcastSubscribesOnce(t *testing.T) {
	f := newFixture(t)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(true, nil)
	f.chain.On("SubscribeWebhook", mock.Anything, mock.Anything).Return("hook-1", nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := f.relay.Poll(context.Background(), pollRequest())
			assert.NoError(t, err)
			assert.Equal(t, BroadcastUnconfirmed, state)
		}()
	}
	wg.Wait()

	f.chain.AssertNumberOfCalls(t, "SubscribeWebhook", 1)
	assert.Equal(t, db.PaymentUnpaid, f.record(t).PaymentStatus)
}

func TestPollDuplicateCreateUnsubscribes(t *testing.T) {
	f := newFixture(t)
	// a different relay instance created the record between our lookup and
	// create; simulated with a store that reports the duplicate
	f.relay.store = &racingStore{MemoryStore: f.store}
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(true, nil)
	f.chain.On("SubscribeWebhook", mock.Anything, mock.Anything).Return("hook-2", nil).Once()
	f.chain.On("Unsubscribe", mock.Anything, "hook-2").Return(nil).Once()

	state, err := f.relay.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	assert.Equal(t, BroadcastUnconfirmed, state)
	f.chain.AssertExpectations(t)
}

type racingStore struct {
	*db.MemoryStore
}

func (s *racingStore) Create(context.Context, *db.PaymentMessage) error { return db.ErrDuplicate }

// Scenario F
func TestPollProviderErrorWritesNothing(t *testing.T) {
	f := newFixture(t)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).
		Return(false, &blockchain.ProviderError{Op: "unconfirmed txs", Status: 429}).Once()

	state, err := f.relay.Poll(context.Background(), pollRequest())
	assert.Equal(t, Error, state)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = f.store.ByAddress(context.Background(), testAddr)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestPollSubscribeFailureCreatesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(true, nil)
	f.chain.On("SubscribeWebhook", mock.Anything, mock.Anything).
		Return("", &blockchain.ProviderError{Op: "subscribe", Status: 500}).Once()

	state, err := f.relay.Poll(context.Background(), pollRequest())
	assert.Equal(t, Error, state)
	assert.ErrorIs(t, err, ErrProviderUnavailable)

	_, err = f.store.ByAddress(context.Background(), testAddr)
	assert.ErrorIs(t, err, db.ErrNotFound)
}

func TestPollConfirming(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentUnpaid, db.MessageUnsent)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(false, nil)
	f.chain.On("Confirmations", mock.Anything, testAddr).Return(2, nil).Once()

	state, err := f.relay.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	assert.Equal(t, Confirming, state)

	rec := f.record(t)
	assert.Equal(t, db.PaymentPending, rec.PaymentStatus)
	assert.Equal(t, 2, rec.Confirmations)
}

func TestPollRecordWithoutConfirmations(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentUnpaid, db.MessageUnsent)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(false, nil)
	f.chain.On("Confirmations", mock.Anything, testAddr).Return(0, nil).Once()

	state, err := f.relay.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	assert.Equal(t, NotBroadcast, state)
	assert.Equal(t, db.PaymentUnpaid, f.record(t).PaymentStatus)
}

func TestPollConfirmationLookupFails(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentUnpaid, db.MessageUnsent)
	f.chain.On("IsBroadcasted", mock.Anything, testAddr).Return(false, nil)
	f.chain.On("Confirmations", mock.Anything, testAddr).
		Return(0, &blockchain.ProviderError{Op: "address", Status: 503}).Once()

	state, err := f.relay.Poll(context.Background(), pollRequest())
	assert.Equal(t, Error, state)
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, db.PaymentUnpaid, f.record(t).PaymentStatus)
}

func TestPollPaidAndSent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPaid, db.MessageUnsent)

	state, err := f.relay.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	assert.Equal(t, PaidSending, state)

	_, err = f.store.Update(context.Background(), sessionID(), func(m *db.PaymentMessage) error {
		m.MessageStatus = db.MessageSent
		return nil
	})
	require.NoError(t, err)

	state, err = f.relay.Poll(context.Background(), pollRequest())
	require.NoError(t, err)
	assert.Equal(t, Sent, state)
	assert.True(t, state.Terminal())

	f.chain.AssertNotCalled(t, "IsBroadcasted", mock.Anything, mock.Anything)
}

// Scenario C
func TestWebhookConfirmedPaymentDispatchesOnce(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPending, db.MessageUnsent)
	f.chain.On("Balance", mock.Anything, testAddr).Return(decimal.RequireFromString("0.0000075"), nil)
	f.carrier.On("Send", mock.Anything, messaging.Outbound{
		To:             testPhone,
		Body:           testBody,
		StatusCallback: testBase + "/webhook/carrier/" + sessionID(),
	}).Return(&messaging.Receipt{MessageID: "sm42", Status: "queued", Raw: []byte(`{"sid":"sm42"}`)}, nil).Once()

	res, err := f.relay.HandleBlockchainWebhook(context.Background(), sessionID(), confirmedTX(6))
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, `{"sid":"sm42"}`, string(res.CarrierResponse))

	rec := f.record(t)
	assert.Equal(t, db.PaymentPaid, rec.PaymentStatus)
	assert.Equal(t, "sm42", rec.CarrierMessageID)
	assert.Equal(t, "QUEUED", rec.CarrierStatus)
	assert.Equal(t, db.MessageUnsent, rec.MessageStatus, "acceptance by the carrier is not delivery")
	assert.False(t, rec.IsStuck())

	// a second delivery of the same webhook is acknowledged without sending
	res, err = f.relay.HandleBlockchainWebhook(context.Background(), sessionID(), confirmedTX(7))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	f.carrier.AssertNumberOfCalls(t, "Send", 1)
}

// Scenario D
func TestWebhookInsufficientConfirmations(t *testing.T) {
	f := newFixture(t)
	before := f.seed(t, db.PaymentPending, db.MessageUnsent)

	_, err := f.relay.HandleBlockchainWebhook(context.Background(), sessionID(), confirmedTX(3))
	assert.ErrorIs(t, err, ErrPaymentNotConfirmed)

	rec := f.record(t)
	assert.Equal(t, before.PaymentStatus, rec.PaymentStatus)
	assert.Equal(t, before.MessageStatus, rec.MessageStatus)
	f.carrier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	f.chain.AssertNotCalled(t, "Balance", mock.Anything, mock.Anything)
}

func TestWebhookRejections(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		balance decimal.Decimal
		balErr  error
		want    error
	}{
		{
			name:    "address not in outputs",
			payload: []byte(`{"hash":"x","confirmations":6,"outputs":[{"value":750,"addresses":["n4VQ5YdHf7hLQ2gWQYYrcxoE5B7nWuDFNF"]}]}`),
			want:    ErrPaymentNotConfirmed,
		},
		{
			name:    "balance below pinned amount",
			payload: confirmedTX(6),
			balance: decimal.RequireFromString("0.0000074"),
			want:    ErrPaymentNotConfirmed,
		},
		{
			name:    "balance lookup fails",
			payload: confirmedTX(6),
			balErr:  &blockchain.ProviderError{Op: "balance", Status: 503},
			want:    ErrPaymentNotConfirmed,
		},
		{
			name:    "not json",
			payload: []byte("<html>"),
			want:    ErrMalformedRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, db.PaymentPending, db.MessageUnsent)
			f.chain.On("Balance", mock.Anything, testAddr).Return(tt.balance, tt.balErr).Maybe()

			_, err := f.relay.HandleBlockchainWebhook(context.Background(), sessionID(), tt.payload)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, db.PaymentPending, f.record(t).PaymentStatus)
			f.carrier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		})
	}
}

func TestWebhookUnknownOrSent(t *testing.T) {
	f := newFixture(t)
	_, err := f.relay.HandleBlockchainWebhook(context.Background(), "nope", confirmedTX(6))
	assert.ErrorIs(t, err, ErrUnknownSession)

	f.seed(t, db.PaymentPaid, db.MessageSent)
	_, err = f.relay.HandleBlockchainWebhook(context.Background(), sessionID(), confirmedTX(6))
	assert.ErrorIs(t, err, ErrUnknownSession)
	f.carrier.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestWebhookCarrierFailureLeavesPaidUnsent(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPending, db.MessageUnsent)
	f.chain.On("Balance", mock.Anything, testAddr).Return(decimal.RequireFromString("0.001"), nil)
	f.carrier.On("Send", mock.Anything, mock.Anything).
		Return(nil, &messaging.CarrierError{Status: 401, Code: 20003, Msg: "Authenticate"}).Once()

	_, err := f.relay.HandleBlockchainWebhook(context.Background(), sessionID(), confirmedTX(6))
	assert.ErrorIs(t, err, ErrCarrier)

	rec := f.record(t)
	assert.Equal(t, db.PaymentPaid, rec.PaymentStatus)
	assert.Equal(t, db.MessageUnsent, rec.MessageStatus)
	assert.True(t, rec.IsStuck())

	stuck, err := f.relay.Stuck(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, sessionID(), stuck[0].ID)

	// redelivery of the webhook does not send again
	res, err := f.relay.HandleBlockchainWebhook(context.Background(), sessionID(), confirmedTX(7))
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	f.carrier.AssertNumberOfCalls(t, "Send", 1)
}

func TestRedispatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPaid, db.MessageUnsent)
	f.carrier.On("Send", mock.Anything, mock.Anything).
		Return(&messaging.Receipt{MessageID: "SM7", Status: "accepted", Raw: []byte(`{}`)}, nil).Once()

	res, err := f.relay.Redispatch(context.Background(), sessionID())
	require.NoError(t, err)
	assert.Equal(t, "SM7", res.Record.CarrierMessageID)

	_, err = f.relay.Redispatch(context.Background(), sessionID())
	assert.ErrorIs(t, err, ErrNotStuck)
	f.carrier.AssertNumberOfCalls(t, "Send", 1)

	_, err = f.relay.Redispatch(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRedispatchRequiresPayment(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPending, db.MessageUnsent)

	_, err := f.relay.Redispatch(context.Background(), sessionID())
	assert.ErrorIs(t, err, ErrNotStuck)
}

func TestCarrierCallbackSequence(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPaid, db.MessageUnsent)
	ctx := context.Background()

	rec, err := f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "queued", MessageID: "sm42"})
	require.NoError(t, err)
	assert.Equal(t, db.MessagePending, rec.MessageStatus)
	assert.Equal(t, "QUEUED", rec.CarrierStatus)
	assert.Equal(t, "sm42", rec.CarrierMessageID, "carrier ids are case sensitive")

	// unknown statuses are recorded raw without moving the message status
	rec, err = f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "undelivered", MessageID: "sm42"})
	require.NoError(t, err)
	assert.Equal(t, db.MessagePending, rec.MessageStatus)
	assert.Equal(t, "UNDELIVERED", rec.CarrierStatus)

	rec, err = f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "sent", MessageID: "sm42"})
	require.NoError(t, err)
	assert.Equal(t, db.MessageSent, rec.MessageStatus)
}

// Scenario E
func TestCarrierCallbackAfterSent(t *testing.T) {
	f := newFixture(t)
	seeded := f.seed(t, db.PaymentPaid, db.MessageSent)

	_, err := f.relay.HandleCarrierCallback(context.Background(), sessionID(), CarrierStatus{Status: "delivered", MessageID: "SM42"})
	assert.ErrorIs(t, err, ErrUnknownSession)

	rec := f.record(t)
	assert.Equal(t, seeded.CarrierStatus, rec.CarrierStatus)
	assert.Equal(t, seeded.CarrierMessageID, rec.CarrierMessageID)
	assert.Equal(t, db.MessageSent, rec.MessageStatus)
}

func TestCarrierCallbackMalformed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPaid, db.MessageUnsent)

	_, err := f.relay.HandleCarrierCallback(context.Background(), sessionID(), CarrierStatus{Status: "sent"})
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, err = f.relay.HandleCarrierCallback(context.Background(), "", CarrierStatus{Status: "sent", MessageID: "SM1"})
	assert.ErrorIs(t, err, ErrMalformedRequest)

	_, err = f.relay.HandleCarrierCallback(context.Background(), "missing", CarrierStatus{Status: "sent", MessageID: "SM1"})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestSendReceiptLeavesMessageStatus(t *testing.T) {
	for _, status := range []string{"queued", "sent"} {
		t.Run(status, func(t *testing.T) {
			f := newFixture(t)
			f.seed(t, db.PaymentPending, db.MessageUnsent)
			ctx := context.Background()
			f.chain.On("Balance", mock.Anything, testAddr).Return(decimal.RequireFromString("1"), nil)
			f.carrier.On("Send", mock.Anything, mock.Anything).
				Return(&messaging.Receipt{MessageID: "SM1", Status: status, Raw: []byte(`{}`)}, nil).Once()

			_, err := f.relay.HandleBlockchainWebhook(ctx, sessionID(), confirmedTX(6))
			require.NoError(t, err)
			assert.Equal(t, db.MessageUnsent, f.record(t).MessageStatus)

			state, err := f.relay.Poll(ctx, pollRequest())
			require.NoError(t, err)
			assert.Equal(t, PaidSending, state)

			// the carrier's own reports still land
			rec, err := f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "sent", MessageID: "SM1"})
			require.NoError(t, err)
			assert.Equal(t, db.MessageSent, rec.MessageStatus)
			assert.Equal(t, "SENT", rec.CarrierStatus)
		})
	}
}

func TestStatusesNeverMoveBackward(t *testing.T) {
	f := newFixture(t)
	f.seed(t, db.PaymentPaid, db.MessageUnsent)
	ctx := context.Background()

	rec, err := f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "sending", MessageID: "SM1"})
	require.NoError(t, err)
	assert.Equal(t, db.MessagePending, rec.MessageStatus)

	rec, err = f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "queued", MessageID: "SM1"})
	require.NoError(t, err)
	assert.Equal(t, db.MessagePending, rec.MessageStatus)
	assert.Equal(t, "QUEUED", rec.CarrierStatus)

	_, err = f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "delivered", MessageID: "SM1"})
	require.NoError(t, err)

	// reports after delivery are rejected
	_, err = f.relay.HandleCarrierCallback(ctx, sessionID(), CarrierStatus{Status: "queued", MessageID: "SM1"})
	assert.ErrorIs(t, err, ErrUnknownSession)

	state, err := f.relay.Poll(ctx, pollRequest())
	require.NoError(t, err)
	assert.Equal(t, Sent, state)

	rec = f.record(t)
	assert.Equal(t, db.PaymentPaid, rec.PaymentStatus)
	assert.Equal(t, db.MessageSent, rec.MessageStatus)
	assert.Equal(t, "DELIVERED", rec.CarrierStatus)
}

// One Ethereum address may be spelled with or without 0x and in any case.
// Every spelling must land on the same session and pay for one message.
func TestEthereumAddressSpellingsShareOneSession(t *testing.T) {
	const canonical = "52908400098527886e0f7030069857d2e4169ee7"
	f := newFixtureFor(t, currency.Ethereum{})
	ctx := context.Background()
	price := currency.Ethereum{}.Price()
	id := db.Fingerprint(testPhone, testBody, canonical, currency.Format(price))

	f.chain.On("IsBroadcasted", mock.Anything, canonical).Return(true, nil)
	f.chain.On("SubscribeWebhook", mock.Anything, blockchain.Subscription{
		Address:       canonical,
		Confirmations: 6,
		URL:           testBase + "/webhook/blockchain/" + id,
	}).Return("hook-1", nil).Once()
	f.chain.On("Balance", mock.Anything, canonical).Return(price, nil)
	f.carrier.On("Send", mock.Anything, mock.Anything).
		Return(&messaging.Receipt{MessageID: "SM1", Status: "queued", Raw: []byte(`{}`)}, nil).Once()

	spellings := []string{canonical, "0x" + canonical, "0x52908400098527886E0F7030069857D2E4169EE7"}
	for _, address := range spellings {
		state, err := f.relay.Poll(ctx, PollRequest{
			Body:           testBody,
			RecipientPhone: testPhone,
			Address:        address,
			Amount:         price,
		})
		require.NoError(t, err, address)
		assert.Equal(t, BroadcastUnconfirmed, state, address)
	}

	rec, err := f.store.ByAddress(ctx, canonical)
	require.NoError(t, err)
	assert.Equal(t, id, rec.ID)
	f.chain.AssertNumberOfCalls(t, "SubscribeWebhook", 1)

	tx := []byte(`{"hash":"0xabc","confirmations":6,"outputs":[{"value":10000000000000,"addresses":["0x52908400098527886E0F7030069857D2E4169EE7"]}]}`)
	res, err := f.relay.HandleBlockchainWebhook(ctx, id, tx)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)

	res, err = f.relay.HandleBlockchainWebhook(ctx, id, tx)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	f.carrier.AssertNumberOfCalls(t, "Send", 1)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "confirming", Confirming.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "state(9)", State(9).String())
	assert.Equal(t, 5, int(Error))
}

func TestGatewayErrorsAreReexported(t *testing.T) {
	assert.True(t, errors.Is(&blockchain.ProviderError{Op: "x"}, ErrProviderUnavailable))
	assert.True(t, errors.Is(&messaging.CarrierError{Msg: "x"}, ErrCarrier))
}
