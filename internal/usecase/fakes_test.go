package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"mchango-payments/internal/domain"
	"mchango-payments/internal/events"
	"mchango-payments/internal/provider/mpesa"
	"mchango-payments/internal/provider/mpesa/mpesatest"
)

const (
	testBaseURL  = "https://pay.example.org"
	tillSettings = `{"consumer_key":"ck","consumer_secret":"cs","passkey":"pk","till_number":"5512345","sandbox":true}`
	b2cSettings  = `{"consumer_key":"bk","consumer_secret":"bs","initiator_name":"apiop","security_credential":"c2VjcmV0","shortcode":"600000","sandbox":true}`

	stkAccepted = `{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_123","ResponseCode":"0","ResponseDescription":"Success. Request accepted for processing","CustomerMessage":"Success. Request accepted for processing"}`
	b2cAccepted = `{"ConversationID":"AG_20191219_00005797af5d7d75f652","OriginatorConversationID":"orig-1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`
)

// fakeConfigs serves payment_channel_configs rows from memory.
type fakeConfigs struct {
	rows map[domain.Provider][]domain.ChannelConfigRecord
	err  error
}

func newFakeConfigs() *fakeConfigs {
	return &fakeConfigs{rows: make(map[domain.Provider][]domain.ChannelConfigRecord)}
}

func (f *fakeConfigs) add(provider domain.Provider, settings string) *fakeConfigs {
	f.rows[provider] = append(f.rows[provider], domain.ChannelConfigRecord{
		ID:       domain.NewID("cfg"),
		Provider: provider,
		Enabled:  true,
		Settings: []byte(settings),
	})
	return f
}

func (f *fakeConfigs) ListEnabled(_ context.Context, provider domain.Provider) ([]domain.ChannelConfigRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[provider], nil
}

type campaign struct {
	raised decimal.Decimal
	donors int
}

// memStore is an in-memory ledger with the same conditional transitions as
// the PostgreSQL repositories.
type memStore struct {
	mu          sync.Mutex
	pending     map[string]*domain.PendingPayment
	receipts    map[string]bool
	donations   map[string]*domain.Donation
	orders      map[string]domain.PaymentStatus
	campaigns   map[string]*campaign
	withdrawals map[string]*domain.Withdrawal

	createErr error
	submitErr error
}

func newMemStore() *memStore {
	return &memStore{
		pending:     make(map[string]*domain.PendingPayment),
		receipts:    make(map[string]bool),
		donations:   make(map[string]*domain.Donation),
		orders:      make(map[string]domain.PaymentStatus),
		campaigns:   make(map[string]*campaign),
		withdrawals: make(map[string]*domain.Withdrawal),
	}
}

func (s *memStore) addCampaign(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.campaigns[id] = &campaign{raised: decimal.Zero}
}

func (s *memStore) campaignTotals(id string) campaign {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.campaigns[id]
}

func (s *memStore) addWithdrawal(id, campaignID string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.withdrawals[id] = &domain.Withdrawal{
		ID:         id,
		CampaignID: campaignID,
		Amount:     decimal.NewFromInt(amount),
		MpesaPhone: "254712345678",
		Status:     domain.WithdrawalPending,
	}
}

func (s *memStore) withdrawal(id string) domain.Withdrawal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.withdrawals[id]
}

func (s *memStore) donation(id string) domain.Donation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.donations[id]
}

// PendingPaymentRepository

func (s *memStore) Create(_ context.Context, p *domain.PendingPayment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	if _, exists := s.pending[p.CheckoutRequestID]; exists {
		return errors.New("duplicate checkout_request_id")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	cp := *p
	s.pending[p.CheckoutRequestID] = &cp
	return nil
}

func (s *memStore) GetByCheckoutRequestID(_ context.Context, id string) (*domain.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) ExpireStale(_ context.Context, cutoff time.Time, limit int) ([]domain.PendingPayment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PendingPayment
	for _, p := range s.pending {
		if len(out) == limit {
			break
		}
		if p.Status == domain.PendingInFlight && p.CreatedAt.Before(cutoff) {
			p.Status = domain.PendingExpired
			out = append(out, *p)
		}
	}
	return out, nil
}

// LedgerRepository

func (s *memStore) CreateDonation(_ context.Context, d *domain.Donation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *d
	s.donations[d.ID] = &cp
	return nil
}

func (s *memStore) CompletePayment(_ context.Context, ps domain.PaymentSuccess) (*domain.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[ps.CheckoutRequestID]
	if !ok {
		return &domain.Reconciliation{Outcome: domain.OutcomeMiss}, nil
	}
	if p.Status != domain.PendingInFlight && p.Status != domain.PendingExpired {
		return &domain.Reconciliation{Outcome: domain.OutcomeDuplicate}, nil
	}
	if s.receipts[ps.ReceiptNumber] {
		return &domain.Reconciliation{Outcome: domain.OutcomeDuplicate}, nil
	}

	receipt := ps.ReceiptNumber
	p.Status = domain.PendingCompleted
	p.ReceiptNumber = &receipt
	s.receipts[receipt] = true

	cp := *p
	rec := &domain.Reconciliation{Pending: &cp, Outcome: domain.OutcomeApplied}

	switch p.TargetKind {
	case domain.TargetDonation:
		d, ok := s.donations[p.TargetID]
		if !ok || d.PaymentStatus != domain.PaymentStatusPending {
			rec.Outcome = domain.OutcomeTargetSettled
			return rec, nil
		}
		d.PaymentStatus = domain.PaymentStatusCompleted
		d.PaymentReference = &receipt
		if c, ok := s.campaigns[d.CampaignID]; ok {
			c.raised = c.raised.Add(d.NetAmount)
			c.donors++
		}
		rec.CampaignID = d.CampaignID
		rec.Credited = d.NetAmount
	case domain.TargetOrder:
		if s.orders[p.TargetID] != domain.PaymentStatusPending {
			rec.Outcome = domain.OutcomeTargetSettled
			return rec, nil
		}
		s.orders[p.TargetID] = domain.PaymentStatusCompleted
	}
	return rec, nil
}

func (s *memStore) FailPayment(_ context.Context, f domain.PaymentFailure) (*domain.Reconciliation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.pending[f.CheckoutRequestID]
	if !ok {
		return &domain.Reconciliation{Outcome: domain.OutcomeMiss}, nil
	}
	if p.Status != domain.PendingInFlight && p.Status != domain.PendingExpired {
		return &domain.Reconciliation{Outcome: domain.OutcomeDuplicate}, nil
	}
	code, desc := f.ResultCode, f.ResultDesc
	p.Status = domain.PendingFailed
	p.ResultCode = &code
	p.ResultDesc = &desc

	switch p.TargetKind {
	case domain.TargetDonation:
		if d, ok := s.donations[p.TargetID]; ok && d.PaymentStatus == domain.PaymentStatusPending {
			d.PaymentStatus = domain.PaymentStatusFailed
		}
	case domain.TargetOrder:
		if s.orders[p.TargetID] == domain.PaymentStatusPending {
			s.orders[p.TargetID] = domain.PaymentStatusFailed
		}
	}
	cp := *p
	return &domain.Reconciliation{Pending: &cp, Outcome: domain.OutcomeApplied}, nil
}

// WithdrawalRepository

func (s *memStore) GetByID(_ context.Context, id string) (*domain.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok {
		return nil, domain.ErrWithdrawalNotFound
	}
	cp := *w
	return &cp, nil
}

func (s *memStore) MarkApproved(_ context.Context, id, reference string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return false, nil
	}
	w.Status = domain.WithdrawalApproved
	w.TransactionReference = &reference
	return true, nil
}

func (s *memStore) Claim(_ context.Context, id, originatorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.withdrawals[id]
	if !ok || w.Status != domain.WithdrawalPending {
		return false, nil
	}
	w.Status = domain.WithdrawalProcessing
	w.OriginatorConversationID = &originatorID
	return true, nil
}

func (s *memStore) Release(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.withdrawals[id]; ok && w.Status == domain.WithdrawalProcessing && w.ConversationID == nil {
		w.Status = domain.WithdrawalPending
		w.OriginatorConversationID = nil
	}
	return nil
}

func (s *memStore) MarkSubmitted(_ context.Context, id, conversationID, originatorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return s.submitErr
	}
	w, ok := s.withdrawals[id]
	if !ok || w.OriginatorConversationID == nil || *w.OriginatorConversationID != originatorID {
		return domain.ErrWithdrawalNotPending
	}
	switch w.Status {
	case domain.WithdrawalProcessing, domain.WithdrawalCompleted, domain.WithdrawalFailed:
	default:
		return domain.ErrWithdrawalNotPending
	}
	w.ConversationID = &conversationID
	if w.TransactionReference == nil {
		w.TransactionReference = &conversationID
	}
	return nil
}

func (s *memStore) Resolve(_ context.Context, o domain.DisbursementOutcome, to domain.WithdrawalStatus, reason string) (*domain.Withdrawal, domain.ReconcileOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var w *domain.Withdrawal
	for _, candidate := range s.withdrawals {
		if (candidate.ConversationID != nil && *candidate.ConversationID == o.ConversationID) ||
			(candidate.OriginatorConversationID != nil && *candidate.OriginatorConversationID == o.OriginatorConversationID) {
			w = candidate
			break
		}
	}
	if w == nil {
		return nil, domain.OutcomeMiss, nil
	}

	timedOut := w.Status == domain.WithdrawalFailed && w.FailureReason != nil && *w.FailureReason == domain.FailureQueueTimeout
	switch {
	case to == domain.WithdrawalCompleted && (w.Status == domain.WithdrawalProcessing || timedOut):
		w.Status = domain.WithdrawalCompleted
		w.FailureReason = nil
		if o.TransactionID != "" {
			tx := o.TransactionID
			w.TransactionReference = &tx
		}
	case to == domain.WithdrawalFailed && w.Status == domain.WithdrawalProcessing:
		w.Status = domain.WithdrawalFailed
		w.FailureReason = &reason
	default:
		cp := *w
		return &cp, domain.OutcomeDuplicate, nil
	}
	cp := *w
	return &cp, domain.OutcomeApplied, nil
}

// recordingPublisher keeps every published event.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ string, evt events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// harness wires the usecases over in-memory state and a scripted Daraja.
type harness struct {
	configs   *fakeConfigs
	store     *memStore
	doer      *mpesatest.Doer
	publisher *recordingPublisher

	payments      *PaymentUsecase
	callbacks     *CallbackUsecase
	disbursements *DisbursementUsecase
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		configs:   newFakeConfigs(),
		store:     newMemStore(),
		doer:      mpesatest.NewDoer(),
		publisher: &recordingPublisher{},
	}
	logger := zap.NewNop()
	client := mpesa.NewClient(logger, mpesa.WithHTTPClient(h.doer))
	resolver := NewConfigResolver(h.configs, nil, testBaseURL, logger)

	h.payments = NewPaymentUsecase(resolver, client, h.store, h.store, logger)
	h.callbacks = NewCallbackUsecase(h.store, h.store, h.publisher, logger)
	h.disbursements = NewDisbursementUsecase(resolver, client, h.store, logger)
	h.disbursements.newID = func() string { return "orig-1" }
	return h
}

func stkCallback(checkoutID, receipt string, amount int) []byte {
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"` + checkoutID +
		`","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[` +
		`{"Name":"Amount","Value":` + itoa(amount) + `},{"Name":"MpesaReceiptNumber","Value":"` + receipt + `"},` +
		`{"Name":"TransactionDate","Value":20191219102115},{"Name":"PhoneNumber","Value":254712345678}]}}}}`)
}

func stkFailure(checkoutID string) []byte {
	return []byte(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"` + checkoutID +
		`","ResultCode":1032,"ResultDesc":"Request cancelled by user"}}}`)
}

func itoa(n int) string {
	return decimal.NewFromInt(int64(n)).String()
}

func okResp(body string) mpesatest.Response {
	return mpesatest.Response{Status: http.StatusOK, Body: body}
}
