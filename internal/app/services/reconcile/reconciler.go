// Package reconcile applies processor webhook events to tips. Events arrive
// at least once and out of order, so every write is a compare-and-set on the
// tip's prior status and version, and re-applying a state is a no-op.
package reconcile

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/events"
	"github.com/R3E-Network/tip_settlement/internal/app/metrics"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// Event types handled by the reconciler.
const (
	EventChargeSucceeded   = "charge.succeeded"
	EventChargeRefunded    = "charge.refunded"
	EventPaymentFailed     = "payment_intent.payment_failed"
	EventPaymentCanceled   = "payment_intent.canceled"
	EventDisputeCreated    = "charge.dispute.created"
	EventDisputeUpdated    = "charge.dispute.updated"
	EventDisputeClosed     = "charge.dispute.closed"
	EventEarlyFraudWarning = "radar.early_fraud_warning.created"
	EventReviewOpened      = "review.opened"
)

const (
	canceledReason        = "Payment canceled"
	defaultFailureReason  = "Payment failed"
	reviewFraudTypePrefix = "stripe_review_"
	disputeWon            = "won"
	maxWriteAttempts      = 3

	// Charge metadata keys written by the settlement service.
	metadataTipID    = "tip_id"
	metadataTipNonce = "tip_nonce"
	metadataSenderID = "sender_id"
)

// Outcome describes how an event was handled.
type Outcome string

const (
	// OutcomeApplied means a tip was changed.
	OutcomeApplied Outcome = "applied"
	// OutcomeNoop means the event was already reflected.
	OutcomeNoop Outcome = "noop"
	// OutcomeSkipped means the event could not be correlated or was malformed.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeIgnored means the event type is not handled.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeLogged means the event is recorded for manual review only.
	OutcomeLogged Outcome = "logged"
	// OutcomeError means storage failed; processor redelivery will retry.
	OutcomeError Outcome = "error"
)

var errInvalidTransition = errors.New("invalid status transition")

// Statuses each kind of signal may move a tip out of. They narrow the domain
// transition table: a disputed tip only leaves DISPUTED on dispute closure,
// never on a late charge success or refund.
var (
	fromCharge       = []tip.Status{tip.StatusPending}
	fromRefund       = []tip.Status{tip.StatusSucceeded}
	fromDispute      = []tip.Status{tip.StatusPending, tip.StatusSucceeded}
	fromDisputeClose = []tip.Status{tip.StatusDisputed}
)

// Options tune the fraud heuristic.
type Options struct {
	MaxDisputes     int
	MaxDisputeRatio decimal.Decimal
	Now             func() time.Time
}

// DefaultOptions suspends at 3 disputes or a dispute rate above 20%.
func DefaultOptions() Options {
	return Options{
		MaxDisputes:     3,
		MaxDisputeRatio: decimal.RequireFromString("0.2"),
		Now:             time.Now,
	}
}

// Reconciler applies webhook events.
type Reconciler struct {
	tips   storage.TipStore
	users  storage.UserStore
	events events.Publisher
	opts   Options
	log    *logging.Logger
}

// New creates a reconciler. Zero option fields take their defaults.
func New(tips storage.TipStore, users storage.UserStore, publisher events.Publisher, opts Options, log *logging.Logger) *Reconciler {
	defaults := DefaultOptions()
	if opts.MaxDisputes <= 0 {
		opts.MaxDisputes = defaults.MaxDisputes
	}
	if !opts.MaxDisputeRatio.IsPositive() {
		opts.MaxDisputeRatio = defaults.MaxDisputeRatio
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	if log == nil {
		log = logging.NewDefault("reconcile")
	}
	return &Reconciler{tips: tips, users: users, events: publisher, opts: opts, log: log}
}

// Handle applies ev. It never fails: problems are logged and reported in the
// outcome so the webhook endpoint can always acknowledge a verified event.
func (r *Reconciler) Handle(ctx context.Context, ev processor.Event) Outcome {
	entry := r.log.WithContext(ctx).WithField("event_id", ev.ID).WithField("event_type", ev.Type)

	var outcome Outcome
	switch ev.Type {
	case EventChargeSucceeded:
		outcome = r.chargeSucceeded(ctx, ev.Object, entry)
	case EventChargeRefunded:
		outcome = r.chargeRefunded(ctx, ev.Object, entry)
	case EventPaymentFailed:
		reason := ev.Object.Get("last_payment_error.message").String()
		if reason == "" {
			reason = defaultFailureReason
		}
		outcome = r.paymentFailed(ctx, ev.Object, reason, entry)
	case EventPaymentCanceled:
		outcome = r.paymentFailed(ctx, ev.Object, canceledReason, entry)
	case EventDisputeCreated:
		outcome = r.disputeCreated(ctx, ev.Object, entry)
	case EventDisputeUpdated:
		outcome = r.disputeUpdated(ctx, ev.Object, entry)
	case EventDisputeClosed:
		outcome = r.disputeClosed(ctx, ev.Object, entry)
	case EventEarlyFraudWarning:
		entry.WithField("charge", idOf(ev.Object.Get("charge"))).
			WithField("fraud_type", ev.Object.Get("fraud_type").String()).
			Warn("early fraud warning received; manual review required")
		outcome = OutcomeLogged
	case EventReviewOpened:
		outcome = r.reviewOpened(ctx, ev.Object, entry)
	default:
		entry.Debug("unhandled webhook event type")
		outcome = OutcomeIgnored
	}

	metrics.RecordWebhookEvent(ev.Type, string(outcome))
	return outcome
}

func (r *Reconciler) chargeSucceeded(ctx context.Context, obj gjson.Result, entry *logrus.Entry) Outcome {
	chargeID := obj.Get("id").String()
	intentID := idOf(obj.Get("payment_intent"))
	t, err := r.findByIntentOrCharge(ctx, intentID, chargeID)
	if errors.Is(err, storage.ErrNotFound) {
		if tipID := obj.Get("metadata." + metadataTipID).String(); tipID != "" {
			t, err = r.tips.GetTip(ctx, tipID)
		}
	}
	if outcome, ok := r.lookupOutcome(err, entry); !ok {
		return outcome
	}

	_, outcome := r.transition(ctx, t, fromCharge, tip.StatusSucceeded, "", func(next *tip.Tip) {
		if chargeID != "" {
			next.ChargeID = chargeID
		}
		if next.PaymentIntentID == "" {
			next.PaymentIntentID = intentID
		}
	}, entry)
	return outcome
}

func (r *Reconciler) chargeRefunded(ctx context.Context, obj gjson.Result, entry *logrus.Entry) Outcome {
	t, err := r.findByIntentOrCharge(ctx, idOf(obj.Get("payment_intent")), obj.Get("id").String())
	if outcome, ok := r.lookupOutcome(err, entry); !ok {
		return outcome
	}
	_, outcome := r.transition(ctx, t, fromRefund, tip.StatusRefunded, "", nil, entry)
	return outcome
}

// paymentFailed correlates by the business nonce in metadata, then by tip id
// and finally by the intent id.
func (r *Reconciler) paymentFailed(ctx context.Context, obj gjson.Result, reason string, entry *logrus.Entry) Outcome {
	meta := obj.Get("metadata")
	nonce := meta.Get(metadataTipNonce).String()
	senderID := meta.Get(metadataSenderID).String()
	tipID := meta.Get(metadataTipID).String()
	intentID := obj.Get("id").String()

	if nonce == "" && tipID == "" && intentID == "" {
		entry.Warn("payment event carries no correlation ids; skipping")
		return OutcomeSkipped
	}

	err := storage.ErrNotFound
	var t tip.Tip
	if nonce != "" && senderID != "" {
		t, err = r.tips.GetTipBySenderNonce(ctx, senderID, nonce)
	}
	if errors.Is(err, storage.ErrNotFound) && tipID != "" {
		t, err = r.tips.GetTip(ctx, tipID)
	}
	if errors.Is(err, storage.ErrNotFound) && intentID != "" {
		t, err = r.tips.GetTipByPaymentIntent(ctx, intentID)
	}
	if outcome, ok := r.lookupOutcome(err, entry); !ok {
		return outcome
	}

	_, outcome := r.transition(ctx, t, fromCharge, tip.StatusFailed, reason, func(next *tip.Tip) {
		next.FailureReason = reason
		if next.PaymentIntentID == "" {
			next.PaymentIntentID = intentID
		}
	}, entry)
	return outcome
}

func (r *Reconciler) disputeCreated(ctx context.Context, obj gjson.Result, entry *logrus.Entry) Outcome {
	disputeID := obj.Get("id").String()
	reason := obj.Get("reason").String()
	t, err := r.findByIntentOrCharge(ctx, idOf(obj.Get("payment_intent")), idOf(obj.Get("charge")))
	if outcome, ok := r.lookupOutcome(err, entry); !ok {
		return outcome
	}
	if disputeID != "" && t.DisputeID == disputeID {
		entry.WithField("tip_id", t.ID).Debug("dispute already recorded")
		return OutcomeNoop
	}

	updated, outcome := r.transition(ctx, t, fromDispute, tip.StatusDisputed, reason, func(next *tip.Tip) {
		next.DisputeID = disputeID
		next.DisputeReason = reason
	}, entry)
	if outcome == OutcomeApplied {
		entry.WithField("tip_id", updated.ID).WithField("dispute_id", disputeID).
			WithField("reason", reason).Warn("tip disputed")
		if _, err := r.CheckSender(ctx, updated.SenderID); err != nil {
			entry.WithError(err).WithField("sender_id", updated.SenderID).Error("fraud check failed")
		}
	}
	return outcome
}

func (r *Reconciler) disputeUpdated(ctx context.Context, obj gjson.Result, entry *logrus.Entry) Outcome {
	reason := obj.Get("reason").String()
	t, err := r.findByIntentOrCharge(ctx, idOf(obj.Get("payment_intent")), idOf(obj.Get("charge")))
	if outcome, ok := r.lookupOutcome(err, entry); !ok {
		return outcome
	}
	return r.amend(ctx, t, func(next *tip.Tip) bool {
		if next.DisputeReason == reason {
			return false
		}
		next.DisputeReason = reason
		return true
	}, entry)
}

func (r *Reconciler) disputeClosed(ctx context.Context, obj gjson.Result, entry *logrus.Entry) Outcome {
	status := obj.Get("status").String()
	t, err := r.findByIntentOrCharge(ctx, idOf(obj.Get("payment_intent")), idOf(obj.Get("charge")))
	if outcome, ok := r.lookupOutcome(err, entry); !ok {
		return outcome
	}
	to := tip.StatusRefunded
	if status == disputeWon {
		to = tip.StatusSucceeded
	}
	_, outcome := r.transition(ctx, t, fromDisputeClose, to, "dispute "+status, nil, entry)
	return outcome
}

func (r *Reconciler) reviewOpened(ctx context.Context, obj gjson.Result, entry *logrus.Entry) Outcome {
	fraudType := reviewFraudTypePrefix + obj.Get("reason").String()
	t, err := r.findByIntentOrCharge(ctx, "", idOf(obj.Get("charge")))
	if errors.Is(err, storage.ErrNotFound) {
		if intentID := idOf(obj.Get("payment_intent")); intentID != "" {
			t, err = r.tips.GetTipByPaymentIntent(ctx, intentID)
		}
	}
	if outcome, ok := r.lookupOutcome(err, entry); !ok {
		return outcome
	}
	return r.amend(ctx, t, func(next *tip.Tip) bool {
		if next.FraudWarning && next.FraudType == fraudType {
			return false
		}
		next.FraudWarning = true
		next.FraudType = fraudType
		return true
	}, entry)
}

// ApplyStatus settles a PENDING tip from a status learned outside a webhook,
// such as by polling the processor. It follows the same rules as charge
// events.
func (r *Reconciler) ApplyStatus(ctx context.Context, t tip.Tip, to tip.Status, chargeID, reason string) Outcome {
	entry := r.log.WithContext(ctx).WithField("source", "poll")
	_, outcome := r.transition(ctx, t, fromCharge, to, reason, func(next *tip.Tip) {
		if chargeID != "" {
			next.ChargeID = chargeID
		}
		if to == tip.StatusFailed {
			next.FailureReason = reason
		}
	}, entry)
	return outcome
}

// findByIntentOrCharge looks a tip up by intent id, falling back to charge id.
func (r *Reconciler) findByIntentOrCharge(ctx context.Context, intentID, chargeID string) (tip.Tip, error) {
	if intentID != "" {
		t, err := r.tips.GetTipByPaymentIntent(ctx, intentID)
		if !errors.Is(err, storage.ErrNotFound) {
			return t, err
		}
	}
	if chargeID != "" {
		return r.tips.GetTipByCharge(ctx, chargeID)
	}
	return tip.Tip{}, storage.ErrNotFound
}

// lookupOutcome turns a lookup error into a handler outcome; ok means the
// tip was found.
func (r *Reconciler) lookupOutcome(err error, entry *logrus.Entry) (Outcome, bool) {
	switch {
	case err == nil:
		return "", true
	case errors.Is(err, storage.ErrNotFound):
		entry.Warn("no tip matches webhook event; skipping")
		return OutcomeSkipped, false
	default:
		entry.WithError(err).Error("tip lookup failed")
		return OutcomeError, false
	}
}

// transition moves t to status `to` when its current status is one of from,
// applying mutate to the new record. Conflicting concurrent writes are retried
// against the fresh record.
func (r *Reconciler) transition(ctx context.Context, t tip.Tip, from []tip.Status, to tip.Status, reason string, mutate func(*tip.Tip), entry *logrus.Entry) (tip.Tip, Outcome) {
	current := t
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		if current.Status == to {
			return current, OutcomeNoop
		}
		if !slices.Contains(from, current.Status) || !current.Status.CanTransition(to) {
			entry.WithField("tip_id", current.ID).WithField("from", current.Status).WithField("to", to).
				WithError(errInvalidTransition).Warn("dropping event")
			return current, OutcomeSkipped
		}

		next := current
		next.Status = to
		if mutate != nil {
			mutate(&next)
		}
		updated, err := r.tips.UpdateTip(ctx, next, current.Status)
		if err == nil {
			metrics.RecordStatusTransition(string(current.Status), string(to))
			if pubErr := r.events.Publish(ctx, events.StatusChanged(updated, current.Status, reason)); pubErr != nil {
				entry.WithError(pubErr).Warn("lifecycle event not published")
			}
			entry.WithField("tip_id", updated.ID).WithField("from", current.Status).WithField("to", to).Info("tip status updated")
			return updated, OutcomeApplied
		}
		if !errors.Is(err, storage.ErrConflict) {
			entry.WithError(err).WithField("tip_id", current.ID).Error("tip update failed")
			return current, OutcomeError
		}
		if current, err = r.tips.GetTip(ctx, t.ID); err != nil {
			entry.WithError(err).WithField("tip_id", t.ID).Error("tip reload failed")
			return current, OutcomeError
		}
	}
	entry.WithField("tip_id", t.ID).Error("tip kept changing concurrently; giving up")
	return current, OutcomeError
}

// amend changes fields without touching status. mutate reports whether it
// changed anything.
func (r *Reconciler) amend(ctx context.Context, t tip.Tip, mutate func(*tip.Tip) bool, entry *logrus.Entry) Outcome {
	current := t
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		next := current
		if !mutate(&next) {
			return OutcomeNoop
		}
		_, err := r.tips.UpdateTip(ctx, next, current.Status)
		if err == nil {
			entry.WithField("tip_id", current.ID).Info("tip amended")
			return OutcomeApplied
		}
		if !errors.Is(err, storage.ErrConflict) {
			entry.WithError(err).WithField("tip_id", current.ID).Error("tip update failed")
			return OutcomeError
		}
		if current, err = r.tips.GetTip(ctx, t.ID); err != nil {
			entry.WithError(err).WithField("tip_id", t.ID).Error("tip reload failed")
			return OutcomeError
		}
	}
	return OutcomeError
}

// idOf reads an id that may be a plain string or an expanded object.
func idOf(v gjson.Result) string {
	if v.IsObject() {
		return v.Get("id").String()
	}
	if v.Type == gjson.String {
		return v.String()
	}
	return ""
}
