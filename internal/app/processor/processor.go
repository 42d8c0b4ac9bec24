// Package processor is the boundary to the external card processor. Tip
// charges use the destination-charge pattern: the platform charges the
// sender's saved payment method, keeps an application fee and transfers the
// rest to the receiver's connected account.
package processor

import (
	"context"
	"errors"
	"net"
)

// ErrTimeout marks a call whose outcome is unknown because the processor did
// not answer in time.
var ErrTimeout = errors.New("processor call timed out")

// Intent statuses reported by the processor.
const (
	IntentSucceeded             = "succeeded"
	IntentProcessing            = "processing"
	IntentCanceled              = "canceled"
	IntentRequiresPaymentMethod = "requires_payment_method"
	IntentRequiresAction        = "requires_action"
)

// ChargeRequest describes one destination charge, amounts in minor units.
type ChargeRequest struct {
	Amount               int64
	Currency             string
	CustomerID           string
	PaymentMethodID      string
	ApplicationFee       int64
	DestinationAccountID string
	IdempotencyKey       string
	Metadata             map[string]string
}

// Intent is the processor's view of a charge attempt.
type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	ChargeID     string
	FailureMsg   string
}

// AccountStatus summarises a connected account's capabilities.
type AccountStatus struct {
	ID               string
	ChargesEnabled   bool
	PayoutsEnabled   bool
	DetailsSubmitted bool
}

// Onboarded reports whether the account can receive tips.
func (s AccountStatus) Onboarded() bool {
	return s.ChargesEnabled && s.PayoutsEnabled
}

// Client is the set of processor operations the tip pipeline uses.
type Client interface {
	CreateConnectedAccount(ctx context.Context, email string) (string, error)
	CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error)
	CreateCustomer(ctx context.Context, email, name string) (string, error)
	// AttachPaymentMethod attaches pm to the customer and makes it the default.
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	CreateCharge(ctx context.Context, req ChargeRequest) (Intent, error)
	GetIntent(ctx context.Context, intentID string) (Intent, error)
}

// IsTimeout reports whether err means the processor outcome is unknown.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
