package processor

import (
	"context"
	"fmt"
	"sync"
)

// MockClient is an in-process processor for development and tests. Charges
// succeed immediately unless a failure is injected.
type MockClient struct {
	mu       sync.Mutex
	seq      int
	intents  map[string]Intent
	byKey    map[string]string
	accounts map[string]AccountStatus
	charges  []ChargeRequest

	// ChargeErr, when set, is returned by CreateCharge.
	ChargeErr error
	// IntentStatus overrides the status of newly created intents.
	IntentStatus string
	// AttachErr, when set, is returned by AttachPaymentMethod.
	AttachErr error
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates an empty mock processor.
func NewMockClient() *MockClient {
	return &MockClient{
		intents:  make(map[string]Intent),
		byKey:    make(map[string]string),
		accounts: make(map[string]AccountStatus),
	}
}

func (m *MockClient) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s_mock_%d", prefix, m.seq)
}

func (m *MockClient) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID("acct")
	m.accounts[id] = AccountStatus{ID: id}
	return id, nil
}

func (m *MockClient) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "https://connect.example.test/onboard/" + accountID, nil
}

func (m *MockClient) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	if err := ctx.Err(); err != nil {
		return AccountStatus{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	status, ok := m.accounts[accountID]
	if !ok {
		return AccountStatus{}, fmt.Errorf("mock: account %s not found", accountID)
	}
	return status, nil
}

// CompleteOnboarding marks a mock connected account fully enabled.
func (m *MockClient) CompleteOnboarding(accountID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[accountID] = AccountStatus{ID: accountID, ChargesEnabled: true, PayoutsEnabled: true, DetailsSubmitted: true}
}

func (m *MockClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nextID("cus"), nil
}

func (m *MockClient) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.AttachErr
}

// CreateCharge honours idempotency keys the way the real processor does:
// a repeated key returns the original intent.
func (m *MockClient) CreateCharge(ctx context.Context, req ChargeRequest) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ChargeErr != nil {
		return Intent{}, m.ChargeErr
	}
	if id, ok := m.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return m.intents[id], nil
	}

	status := m.IntentStatus
	if status == "" {
		status = IntentSucceeded
	}
	id := m.nextID("pi")
	intent := Intent{ID: id, ClientSecret: id + "_secret", Status: status}
	if status == IntentSucceeded {
		intent.ChargeID = m.nextID("ch")
	}
	m.intents[id] = intent
	if req.IdempotencyKey != "" {
		m.byKey[req.IdempotencyKey] = id
	}
	m.charges = append(m.charges, req)
	return intent, nil
}

func (m *MockClient) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	if err := ctx.Err(); err != nil {
		return Intent{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[intentID]
	if !ok {
		return Intent{}, fmt.Errorf("mock: payment intent %s not found", intentID)
	}
	return intent, nil
}

// SetIntent stores or replaces an intent, for driving sweeper scenarios.
func (m *MockClient) SetIntent(intent Intent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intent.ID] = intent
}

// Charges returns the charge requests received so far.
func (m *MockClient) Charges() []ChargeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ChargeRequest, len(m.charges))
	copy(out, m.charges)
	return out
}
