package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicateTip is returned when (sender, nonce) already exists.
	ErrDuplicateTip = errors.New("tip already exists for sender and nonce")
	// ErrConflict is returned when a tip changed status between read and write.
	ErrConflict = errors.New("tip status changed concurrently")
)

// DisputeStats are all-time tip counts for one sender.
type DisputeStats struct {
	Total    int
	Disputed int
}

// PendingCursor marks the last pending tip returned by ListPendingTips. The
// zero value starts from the oldest tip.
type PendingCursor struct {
	CreatedAt time.Time
	ID        string
}

// IsZero reports whether c is the starting position.
func (c PendingCursor) IsZero() bool {
	return c.CreatedAt.IsZero() && c.ID == ""
}

// TipStore persists tips. CreateTip must enforce (sender, nonce) uniqueness
// atomically.
type TipStore interface {
	CreateTip(ctx context.Context, t tip.Tip) (tip.Tip, error)
	// UpdateTip writes t only if the stored status still equals expected and
	// the stored UpdatedAt still equals t.UpdatedAt. Every successful write
	// advances UpdatedAt, so a record read before another write is rejected
	// with ErrConflict even when the status did not change.
	UpdateTip(ctx context.Context, t tip.Tip, expected tip.Status) (tip.Tip, error)
	GetTip(ctx context.Context, id string) (tip.Tip, error)

	ExistsBySenderNonce(ctx context.Context, senderID, nonce string) (bool, error)
	GetTipBySenderNonce(ctx context.Context, senderID, nonce string) (tip.Tip, error)
	GetTipByPaymentIntent(ctx context.Context, paymentIntentID string) (tip.Tip, error)
	GetTipByCharge(ctx context.Context, chargeID string) (tip.Tip, error)

	// Local dates use tip.LocalDateLayout; the range is inclusive.
	ListTipsReceivedOn(ctx context.Context, receiverID, localDate string) ([]tip.Tip, error)
	ListTipsSentBetween(ctx context.Context, senderID, startDate, endDate string) ([]tip.Tip, error)
	// ListPendingTips pages through PENDING tips that carry a payment intent,
	// ordered by (CreatedAt, ID) and starting strictly after the cursor.
	ListPendingTips(ctx context.Context, createdBefore time.Time, after PendingCursor, limit int) ([]tip.Tip, error)
	// CountOrphanedTips counts PENDING tips without a payment intent.
	CountOrphanedTips(ctx context.Context, createdBefore time.Time) (int, error)

	SenderDisputeStats(ctx context.Context, senderID string) (DisputeStats, error)
}

// UserStore persists the tip-relevant subset of user records.
type UserStore interface {
	CreateUser(ctx context.Context, u account.User) (account.User, error)
	GetUser(ctx context.Context, id string) (account.User, error)
	GetUserByProcessorAccount(ctx context.Context, accountID string) (account.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	// UpdateProcessorLinks writes the processor account, customer, payment
	// method and onboarded fields of u.
	UpdateProcessorLinks(ctx context.Context, u account.User) (account.User, error)
	// SuspendUser marks the user suspended unless already suspended; it
	// reports whether a change was made.
	SuspendUser(ctx context.Context, userID, reason string, at time.Time) (bool, error)
}

// DeviceStore persists device signing keys.
type DeviceStore interface {
	ListDevices(ctx context.Context, userID string) ([]account.Device, error)
	// UpsertDevice inserts the device or refreshes an existing (user, key)
	// pair; created reports which happened.
	UpsertDevice(ctx context.Context, d account.Device) (account.Device, bool, error)
	// DeactivateDevicesByPrefix marks the user's devices whose name starts
	// with prefix inactive, except the one holding keepKey.
	DeactivateDevicesByPrefix(ctx context.Context, userID, prefix string, keepKey []byte) (int, error)
}
