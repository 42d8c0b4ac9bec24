// Package admission decides whether an inbound tip request may proceed to
// settlement.
package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/storage"
	"github.com/R3E-Network/tip_settlement/internal/app/services/signature"
	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// Request is a signed tip request as submitted by a client.
type Request struct {
	SenderID   string
	ReceiverID string
	Amount     decimal.Decimal
	Nonce      string
	Timestamp  int64 // epoch millis, client clock
	Signature  string
}

// Input is a request that passed every admission check.
type Input struct {
	SenderID   string
	ReceiverID string
	Amount     decimal.Decimal
	Nonce      string
	Timestamp  int64
}

// Outcome tags an admission result.
type Outcome int

const (
	// Accepted means the request is new and authentic.
	Accepted Outcome = iota
	// Duplicate means a tip already exists for the sender and nonce.
	Duplicate
)

func (o Outcome) String() string {
	if o == Duplicate {
		return "duplicate"
	}
	return "accepted"
}

// Result is the outcome of a successful admission. Rejections are errors.
type Result struct {
	Outcome Outcome
	Input   Input
}

// Options tune the admission checks.
type Options struct {
	MaxAmount         decimal.Decimal
	ClockSkew         time.Duration
	ActiveDevicesOnly bool
	Now               func() time.Time
}

// DefaultOptions allows up to 500 with a 120s symmetric skew window.
func DefaultOptions() Options {
	return Options{
		MaxAmount: decimal.NewFromInt(500),
		ClockSkew: 120 * time.Second,
		Now:       time.Now,
	}
}

// Verifier runs the ordered admission checks.
type Verifier struct {
	users   storage.UserStore
	devices storage.DeviceStore
	tips    storage.TipStore
	opts    Options
	log     *logging.Logger
}

// New creates a verifier. Zero option fields take their defaults.
func New(users storage.UserStore, devices storage.DeviceStore, tips storage.TipStore, opts Options, log *logging.Logger) *Verifier {
	defaults := DefaultOptions()
	if !opts.MaxAmount.IsPositive() {
		opts.MaxAmount = defaults.MaxAmount
	}
	if opts.ClockSkew <= 0 {
		opts.ClockSkew = defaults.ClockSkew
	}
	if opts.Now == nil {
		opts.Now = defaults.Now
	}
	if log == nil {
		log = logging.NewDefault("admission")
	}
	return &Verifier{users: users, devices: devices, tips: tips, opts: opts, log: log}
}

// Verify checks req on behalf of authUserID. Checks run cheapest first and
// the first failure wins: identity, receiver, amount, freshness, replay,
// signature.
func (v *Verifier) Verify(ctx context.Context, req Request, authUserID string) (Result, error) {
	if req.SenderID == "" || req.SenderID != authUserID {
		v.log.WithContext(ctx).WithField("sender_id", req.SenderID).Warn("tip sender does not match authenticated user")
		return Result{}, svcerrors.Forbidden("Sender does not match authenticated user")
	}

	if err := v.checkReceiver(ctx, req); err != nil {
		return Result{}, err
	}

	if !req.Amount.IsPositive() || req.Amount.GreaterThan(v.opts.MaxAmount) {
		return Result{}, svcerrors.BadRequest(fmt.Sprintf("Amount must be greater than 0 and at most %s", v.opts.MaxAmount.String()))
	}

	if !v.fresh(req.Timestamp) {
		return Result{}, svcerrors.BadRequest("Request timestamp outside allowed window")
	}

	input := Input{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Nonce:      req.Nonce,
		Timestamp:  req.Timestamp,
	}

	exists, err := v.tips.ExistsBySenderNonce(ctx, req.SenderID, req.Nonce)
	if err != nil {
		return Result{}, svcerrors.Internal("Failed to check tip nonce", err)
	}
	if exists {
		return Result{Outcome: Duplicate, Input: input}, nil
	}

	if err := v.checkSignature(ctx, req); err != nil {
		return Result{}, err
	}
	return Result{Outcome: Accepted, Input: input}, nil
}

func (v *Verifier) checkReceiver(ctx context.Context, req Request) error {
	if req.ReceiverID == "" {
		return svcerrors.BadRequest("Receiver not found")
	}
	if req.ReceiverID == req.SenderID {
		return svcerrors.BadRequest("Cannot tip yourself")
	}
	if _, err := v.users.GetUser(ctx, req.ReceiverID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return svcerrors.BadRequest("Receiver not found")
		}
		return svcerrors.Internal("Failed to load receiver", err)
	}
	return nil
}

// fresh reports whether ts is within the skew window of now, inclusive.
func (v *Verifier) fresh(ts int64) bool {
	diff := v.opts.Now().UnixMilli() - ts
	if diff < 0 {
		diff = -diff
	}
	return diff <= v.opts.ClockSkew.Milliseconds()
}

func (v *Verifier) checkSignature(ctx context.Context, req Request) error {
	devices, err := v.devices.ListDevices(ctx, req.SenderID)
	if err != nil {
		return svcerrors.Internal("Failed to load devices", err)
	}
	if len(devices) == 0 {
		return svcerrors.BadRequest("No device registered")
	}

	msg := signature.CanonicalMessage(req.SenderID, req.ReceiverID, req.Amount, req.Nonce, req.Timestamp)
	for _, d := range devices {
		if v.opts.ActiveDevicesOnly && !d.IsActive {
			continue
		}
		if signature.Verify(d.PublicKey, msg, req.Signature) {
			return nil
		}
	}

	v.log.WithContext(ctx).WithField("sender_id", req.SenderID).WithField("devices", len(devices)).
		Warn("tip signature did not match any device")
	return svcerrors.Unauthorized("Invalid signature")
}
