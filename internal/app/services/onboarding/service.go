// Package onboarding links users to the payment processor: receivers get a
// connected account, senders get a customer with a default payment method.
package onboarding

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

const (
	refreshPath  = "/processor/onboarding/refresh"
	completePath = "/processor/onboarding/complete"
)

// Options configures the service.
type Options struct {
	// PublicURL is the base of the refresh and return links handed to the
	// processor's hosted onboarding flow.
	PublicURL string
}

// Link is a hosted onboarding URL for a connected account.
type Link struct {
	AccountID string `json:"accountId"`
	URL       string `json:"url"`
}

// Status is the receiver side onboarding state.
type Status struct {
	AccountID      string `json:"accountId,omitempty"`
	Onboarded      bool   `json:"onboarded"`
	ChargesEnabled bool   `json:"chargesEnabled"`
	PayoutsEnabled bool   `json:"payoutsEnabled"`
}

// Service performs processor onboarding for users.
type Service struct {
	users storage.UserStore
	proc  processor.Client
	opts  Options
	log   *logging.Logger

	// mu serialises the read-create-store sequences so a user never ends up
	// with two processor accounts or customers.
	mu sync.Mutex
}

// New creates an onboarding service.
func New(users storage.UserStore, proc processor.Client, opts Options, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("onboarding")
	}
	opts.PublicURL = strings.TrimRight(opts.PublicURL, "/")
	return &Service{users: users, proc: proc, opts: opts, log: log}
}

// StartReceiver ensures the user has a connected account and returns a fresh
// onboarding link for it. Calling it again reuses the stored account.
func (s *Service) StartReceiver(ctx context.Context, userID string) (Link, error) {
	s.mu.Lock()
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return Link{}, err
	}
	if user.ProcessorAccountID == "" {
		accountID, err := s.proc.CreateConnectedAccount(ctx, user.Email)
		if err != nil {
			s.mu.Unlock()
			return Link{}, svcerrors.Internal("Failed to create processor account", err)
		}
		user.ProcessorAccountID = accountID
		user.Onboarded = false
		if user, err = s.users.UpdateProcessorLinks(ctx, user); err != nil {
			s.mu.Unlock()
			return Link{}, svcerrors.Internal("Failed to store processor account", err)
		}
		s.log.WithContext(ctx).WithField("user_id", userID).WithField("account_id", accountID).Info("connected account created")
	}
	s.mu.Unlock()

	url, err := s.proc.CreateAccountLink(ctx, user.ProcessorAccountID, s.opts.PublicURL+refreshPath, s.opts.PublicURL+completePath)
	if err != nil {
		return Link{}, svcerrors.Internal("Failed to create onboarding link", err)
	}
	return Link{AccountID: user.ProcessorAccountID, URL: url}, nil
}

// ReceiverStatus asks the processor whether the user's account can take
// charges and pay out, and stores the answer.
func (s *Service) ReceiverStatus(ctx context.Context, userID string) (Status, error) {
	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return Status{}, err
	}
	if user.ProcessorAccountID == "" {
		return Status{}, nil
	}

	remote, err := s.proc.GetAccountStatus(ctx, user.ProcessorAccountID)
	if err != nil {
		return Status{}, svcerrors.Internal("Failed to fetch processor account", err)
	}
	status := Status{
		AccountID:      user.ProcessorAccountID,
		Onboarded:      remote.Onboarded(),
		ChargesEnabled: remote.ChargesEnabled,
		PayoutsEnabled: remote.PayoutsEnabled,
	}
	if status.Onboarded != user.Onboarded {
		user.Onboarded = status.Onboarded
		if _, err := s.users.UpdateProcessorLinks(ctx, user); err != nil {
			return Status{}, svcerrors.Internal("Failed to store onboarding status", err)
		}
		s.log.WithContext(ctx).WithField("user_id", userID).WithField("onboarded", status.Onboarded).Info("onboarding status changed")
	}
	return status, nil
}

// SetPaymentMethod attaches a payment method collected by the client to the
// user's customer, creating the customer on first use, and makes it the
// method tips are charged to.
func (s *Service) SetPaymentMethod(ctx context.Context, userID, paymentMethodID string) (account.User, error) {
	paymentMethodID = strings.TrimSpace(paymentMethodID)
	if paymentMethodID == "" {
		return account.User{}, svcerrors.BadRequest("paymentMethodId is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	user, err := s.loadUser(ctx, userID)
	if err != nil {
		return account.User{}, err
	}
	if user.ProcessorCustomerID == "" {
		customerID, err := s.proc.CreateCustomer(ctx, user.Email, user.Name())
		if err != nil {
			return account.User{}, svcerrors.Internal("Failed to create processor customer", err)
		}
		user.ProcessorCustomerID = customerID
		if user, err = s.users.UpdateProcessorLinks(ctx, user); err != nil {
			return account.User{}, svcerrors.Internal("Failed to store processor customer", err)
		}
	}

	if err := s.proc.AttachPaymentMethod(ctx, user.ProcessorCustomerID, paymentMethodID); err != nil {
		return account.User{}, svcerrors.BadRequest("Payment method could not be attached")
	}
	user.DefaultPaymentMethodID = paymentMethodID
	if user, err = s.users.UpdateProcessorLinks(ctx, user); err != nil {
		return account.User{}, svcerrors.Internal("Failed to store payment method", err)
	}
	s.log.WithContext(ctx).WithField("user_id", userID).WithField("customer_id", user.ProcessorCustomerID).Info("default payment method set")
	return user, nil
}

func (s *Service) loadUser(ctx context.Context, userID string) (account.User, error) {
	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.User{}, svcerrors.NotFound("User")
		}
		return account.User{}, svcerrors.Internal("Failed to load user", err)
	}
	return user, nil
}
