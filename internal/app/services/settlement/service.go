// Package settlement turns admitted tip requests into persisted tips and
// processor charges.
package settlement

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/events"
	"github.com/R3E-Network/tip_settlement/internal/app/metrics"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/services/admission"
	"github.com/R3E-Network/tip_settlement/internal/app/services/fees"
	"github.com/R3E-Network/tip_settlement/internal/app/services/notify"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// Result is the caller-visible outcome of a tip creation.
type Result string

const (
	// ResultConfirmed means the charge was created.
	ResultConfirmed Result = "CONFIRMED"
	// ResultDuplicate means the (sender, nonce) pair was already processed.
	ResultDuplicate Result = "DUPLICATE"
	// ResultPending means the processor outcome is unknown; webhooks or the
	// sweeper will settle the tip.
	ResultPending Result = "PENDING"
)

// Outcome pairs a result with the tip it concerns, when one was written.
type Outcome struct {
	Status Result
	Tip    tip.Tip
}

// Metadata keys attached to processor charges. Webhook handlers read them
// back to correlate events with tips.
const (
	MetaTipID     = "tip_id"
	MetaTipNonce  = "tip_nonce"
	MetaSenderID  = "sender_id"
	MetaReceiver  = "receiver_id"
	MetaGross     = "gross_cents"
	MetaAppFee    = "app_fee_cents"
	MetaNetAmount = "receiver_net_cents"
)

const recordAttempts = 3

// Options configure the orchestrator.
type Options struct {
	Currency        string
	DefaultTimezone string
	Now             func() time.Time
}

// Service orchestrates tip settlement.
type Service struct {
	tips      storage.TipStore
	users     storage.UserStore
	processor processor.Client
	schedule  fees.Schedule
	notifier  *notify.Dispatcher
	events    events.Publisher
	opts      Options
	log       *logging.Logger
}

// New creates a settlement service. A nil publisher discards events.
func New(tips storage.TipStore, users storage.UserStore, proc processor.Client, schedule fees.Schedule,
	notifier *notify.Dispatcher, publisher events.Publisher, opts Options, log *logging.Logger) *Service {
	if log == nil {
		log = logging.NewDefault("settlement")
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Currency == "" {
		opts.Currency = "usd"
	}
	return &Service{
		tips:      tips,
		users:     users,
		processor: proc,
		schedule:  schedule,
		notifier:  notifier,
		events:    publisher,
		opts:      opts,
		log:       log,
	}
}

// CreateTip persists an admitted request as a PENDING tip and charges the
// sender. Storage uniqueness on (sender, nonce) decides duplicates, so
// concurrent identical requests produce exactly one charge.
func (s *Service) CreateTip(ctx context.Context, in admission.Input, timezone string) (Outcome, error) {
	loc, err := s.location(timezone)
	if err != nil {
		return Outcome{}, err
	}

	sender, receiver, err := s.parties(ctx, in)
	if err != nil {
		return Outcome{}, err
	}

	breakdown, err := s.schedule.ComputeAmount(in.Amount)
	if err != nil {
		return Outcome{}, svcerrors.Validation(err.Error(), err)
	}

	now := s.opts.Now()
	// The stored amount is the rounded gross that is charged and split.
	gross := fees.FromMinorUnits(breakdown.Gross)
	net := fees.FromMinorUnits(breakdown.Net)
	total := fees.FromMinorUnits(breakdown.TotalFee)
	platform := fees.FromMinorUnits(breakdown.PlatformFee)
	pending := tip.Tip{
		ID:                 uuid.NewString(),
		SenderID:           in.SenderID,
		ReceiverID:         in.ReceiverID,
		Amount:             gross,
		NetAmount:          &net,
		TotalFees:          &total,
		PlatformFee:        &platform,
		Nonce:              in.Nonce,
		RequestTimestamp:   in.Timestamp,
		CreatedAt:          now.UTC(),
		CreatedAtLocalDate: now.In(loc).Format(tip.LocalDateLayout),
		Timezone:           loc.String(),
		Status:             tip.StatusPending,
	}

	created, err := s.tips.CreateTip(ctx, pending)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicateTip) {
			metrics.RecordTipCreated(string(ResultDuplicate))
			existing, lookupErr := s.tips.GetTipBySenderNonce(ctx, in.SenderID, in.Nonce)
			if lookupErr != nil {
				existing = tip.Tip{}
			}
			return Outcome{Status: ResultDuplicate, Tip: existing}, nil
		}
		return Outcome{}, svcerrors.Internal("Failed to record tip", err)
	}
	s.publish(ctx, events.Created(created))

	entry := s.log.WithContext(ctx).WithField("tip_id", created.ID)
	intent, err := s.processor.CreateCharge(ctx, processor.ChargeRequest{
		Amount:               breakdown.Gross,
		Currency:             s.opts.Currency,
		CustomerID:           sender.ProcessorCustomerID,
		PaymentMethodID:      sender.DefaultPaymentMethodID,
		ApplicationFee:       breakdown.TotalFee,
		DestinationAccountID: receiver.ProcessorAccountID,
		IdempotencyKey:       "tip-" + created.ID,
		Metadata: map[string]string{
			MetaTipID:     created.ID,
			MetaTipNonce:  created.Nonce,
			MetaSenderID:  created.SenderID,
			MetaReceiver:  created.ReceiverID,
			MetaGross:     strconv.FormatInt(breakdown.Gross, 10),
			MetaAppFee:    strconv.FormatInt(breakdown.TotalFee, 10),
			MetaNetAmount: strconv.FormatInt(breakdown.Net, 10),
		},
	})
	if err != nil {
		if processor.IsTimeout(err) {
			entry.WithError(err).Warn("processor timed out; tip left pending")
			metrics.RecordTipCreated(string(ResultPending))
			return Outcome{Status: ResultPending, Tip: created}, nil
		}
		entry.WithError(err).Error("charge creation failed")
		metrics.RecordTipCreated("FAILED")
		return Outcome{}, svcerrors.PaymentFailed(err)
	}

	recorded, err := s.recordIntent(ctx, created, intent)
	if err != nil {
		// The charge exists; the webhook fallback on metadata tip_id links it.
		entry.WithError(err).WithField("payment_intent", intent.ID).Error("failed to record payment intent")
		recorded = created
		recorded.PaymentIntentID = intent.ID
	}

	s.notifier.Dispatch(notify.TipReceived{
		TipID:          created.ID,
		ReceiverID:     created.ReceiverID,
		SenderID:       created.SenderID,
		SenderName:     sender.Name(),
		NetAmountMinor: breakdown.Net,
		SentAt:         created.CreatedAt,
	})

	metrics.RecordTipCreated(string(ResultConfirmed))
	entry.WithField("payment_intent", intent.ID).WithField("gross", breakdown.Gross).
		WithField("net", breakdown.Net).Info("tip charge created")
	return Outcome{Status: ResultConfirmed, Tip: recorded}, nil
}

// parties loads both users and checks they can take part in a charge.
func (s *Service) parties(ctx context.Context, in admission.Input) (account.User, account.User, error) {
	sender, err := s.users.GetUser(ctx, in.SenderID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.User{}, account.User{}, svcerrors.Forbidden("Sender account not found")
		}
		return account.User{}, account.User{}, svcerrors.Internal("Failed to load sender", err)
	}
	if sender.Suspended {
		return account.User{}, account.User{}, svcerrors.Forbidden("Account suspended")
	}
	if !sender.CanSend() {
		return account.User{}, account.User{}, svcerrors.BadRequest("No payment method on file")
	}

	receiver, err := s.users.GetUser(ctx, in.ReceiverID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return account.User{}, account.User{}, svcerrors.BadRequest("Receiver not found")
		}
		return account.User{}, account.User{}, svcerrors.Internal("Failed to load receiver", err)
	}
	if !receiver.CanReceive() {
		return account.User{}, account.User{}, svcerrors.BadRequest("Receiver cannot accept tips yet")
	}
	return sender, receiver, nil
}

// recordIntent stores the processor ids on the tip. A webhook may already
// have moved the tip on, so the write follows whatever status is current.
func (s *Service) recordIntent(ctx context.Context, t tip.Tip, intent processor.Intent) (tip.Tip, error) {
	current := t
	for attempt := 0; attempt < recordAttempts; attempt++ {
		if current.PaymentIntentID != "" && current.PaymentIntentID != intent.ID {
			return current, nil
		}
		next := current
		next.PaymentIntentID = intent.ID
		if next.ChargeID == "" {
			next.ChargeID = intent.ChargeID
		}
		updated, err := s.tips.UpdateTip(ctx, next, current.Status)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, storage.ErrConflict) {
			return tip.Tip{}, err
		}
		if current, err = s.tips.GetTip(ctx, t.ID); err != nil {
			return tip.Tip{}, err
		}
	}
	return tip.Tip{}, storage.ErrConflict
}

func (s *Service) publish(ctx context.Context, ev events.Lifecycle) {
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithContext(ctx).WithError(err).WithField("tip_id", ev.TipID).Warn("lifecycle event not published")
	}
}

// location resolves an IANA zone; empty falls back to the configured default
// and then UTC.
func (s *Service) location(name string) (*time.Location, error) {
	if name == "" {
		name = s.opts.DefaultTimezone
	}
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, svcerrors.BadRequest("Invalid timezone")
	}
	return loc, nil
}
