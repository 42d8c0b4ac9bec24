package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/R3E-Network/tip_settlement/internal/app/metrics"
	"github.com/R3E-Network/tip_settlement/internal/config"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// StripeClient implements Client against the Stripe API.
type StripeClient struct {
	api      *client.API
	currency string
	log      *logging.Logger
}

var _ Client = (*StripeClient)(nil)

// NewStripeClient builds a client with a bounded HTTP timeout so a hung
// charge surfaces as ErrTimeout instead of blocking the request.
func NewStripeClient(cfg config.StripeConfig, log *logging.Logger) *StripeClient {
	if log == nil {
		log = logging.NewDefault("stripe")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(cfg.MaxRetries),
		LeveledLogger:     log.WithField("component", "stripe"),
	})
	currency := cfg.Currency
	if currency == "" {
		currency = "usd"
	}
	return &StripeClient{api: client.New(cfg.SecretKey, backends), currency: currency, log: log}
}

func (c *StripeClient) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type:  stripe.String(string(stripe.AccountTypeExpress)),
		Email: stripe.String(email),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}
	params.Context = ctx

	var acct *stripe.Account
	err := c.observe("create_account", func() (err error) {
		acct, err = c.api.Accounts.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return acct.ID, nil
}

func (c *StripeClient) CreateAccountLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	var link *stripe.AccountLink
	err := c.observe("create_account_link", func() (err error) {
		link, err = c.api.AccountLinks.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return link.URL, nil
}

func (c *StripeClient) GetAccountStatus(ctx context.Context, accountID string) (AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	var acct *stripe.Account
	err := c.observe("get_account", func() (err error) {
		acct, err = c.api.Accounts.GetByID(accountID, params)
		return err
	})
	if err != nil {
		return AccountStatus{}, err
	}
	return AccountStatus{
		ID:               acct.ID,
		ChargesEnabled:   acct.ChargesEnabled,
		PayoutsEnabled:   acct.PayoutsEnabled,
		DetailsSubmitted: acct.DetailsSubmitted,
	}, nil
}

func (c *StripeClient) CreateCustomer(ctx context.Context, email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	params.Context = ctx

	var cust *stripe.Customer
	err := c.observe("create_customer", func() (err error) {
		cust, err = c.api.Customers.New(params)
		return err
	})
	if err != nil {
		return "", err
	}
	return cust.ID, nil
}

func (c *StripeClient) AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	attach := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	attach.Context = ctx
	err := c.observe("attach_payment_method", func() error {
		_, err := c.api.PaymentMethods.Attach(paymentMethodID, attach)
		return err
	})
	if err != nil {
		return err
	}

	update := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	update.Context = ctx
	return c.observe("update_customer", func() error {
		_, err := c.api.Customers.Update(customerID, update)
		return err
	})
}

func (c *StripeClient) CreateCharge(ctx context.Context, req ChargeRequest) (Intent, error) {
	currency := req.Currency
	if currency == "" {
		currency = c.currency
	}
	params := &stripe.PaymentIntentParams{
		Amount:               stripe.Int64(req.Amount),
		Currency:             stripe.String(currency),
		Customer:             stripe.String(req.CustomerID),
		PaymentMethod:        stripe.String(req.PaymentMethodID),
		Confirm:              stripe.Bool(true),
		OffSession:           stripe.Bool(true),
		ApplicationFeeAmount: stripe.Int64(req.ApplicationFee),
		TransferData: &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccountID),
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	var pi *stripe.PaymentIntent
	err := c.observe("create_charge", func() (err error) {
		pi, err = c.api.PaymentIntents.New(params)
		return err
	})
	if err != nil {
		return Intent{}, err
	}
	return intentFromStripe(pi), nil
}

func (c *StripeClient) GetIntent(ctx context.Context, intentID string) (Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	var pi *stripe.PaymentIntent
	err := c.observe("get_intent", func() (err error) {
		pi, err = c.api.PaymentIntents.Get(intentID, params)
		return err
	})
	if err != nil {
		return Intent{}, err
	}
	return intentFromStripe(pi), nil
}

func intentFromStripe(pi *stripe.PaymentIntent) Intent {
	out := Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}
	if pi.LatestCharge != nil {
		out.ChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureMsg = pi.LastPaymentError.Msg
	}
	return out
}

// observe times op, records its outcome and normalises timeouts.
func (c *StripeClient) observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	outcome := "ok"
	switch {
	case err == nil:
	case IsTimeout(err):
		outcome = "timeout"
		err = fmt.Errorf("%w: %s: %v", ErrTimeout, op, err)
	default:
		outcome = "error"
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			err = fmt.Errorf("stripe %s: %s: %w", op, stripeErr.Msg, err)
		} else {
			err = fmt.Errorf("stripe %s: %w", op, err)
		}
	}
	metrics.RecordProcessorCall(op, outcome, time.Since(start))
	return err
}
