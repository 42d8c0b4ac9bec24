package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
)

func newTip(sender, nonce string) tip.Tip {
	return tip.Tip{
		SenderID:           sender,
		ReceiverID:         "receiver",
		Amount:             decimal.RequireFromString("5.00"),
		Nonce:              nonce,
		Status:             tip.StatusPending,
		CreatedAtLocalDate: "2026-10-15",
	}
}

func TestCreateTipEnforcesSenderNonceUniqueness(t *testing.T) {
	store := New()
	ctx := context.Background()

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		created   int
		duplicate int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CreateTip(ctx, newTip("alice", "n-1"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, storage.ErrDuplicateTip):
				duplicate++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 || duplicate != workers-1 {
		t.Fatalf("expected 1 created and %d duplicates, got %d/%d", workers-1, created, duplicate)
	}

	// Same nonce from a different sender is allowed.
	if _, err := store.CreateTip(ctx, newTip("bob", "n-1")); err != nil {
		t.Fatalf("other sender same nonce: %v", err)
	}
}

func TestUpdateTipComparesStatus(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateTip(ctx, newTip("alice", "n-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	created.Status = tip.StatusSucceeded
	created.ChargeID = "ch_1"
	created.Amount = decimal.RequireFromString("99")
	updated, err := store.UpdateTip(ctx, created, tip.StatusPending)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Amount.Equal(decimal.RequireFromString("5")) {
		t.Fatalf("amount must be immutable, got %s", updated.Amount)
	}

	if _, err := store.UpdateTip(ctx, created, tip.StatusPending); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("write must advance UpdatedAt: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}

	byCharge, err := store.GetTipByCharge(ctx, "ch_1")
	if err != nil || byCharge.ID != created.ID {
		t.Fatalf("lookup by charge: %v %v", byCharge, err)
	}
	if _, err := store.GetTipByPaymentIntent(ctx, ""); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("empty id must not match, got %v", err)
	}
}

func TestDateQueriesAndPending(t *testing.T) {
	store := New()
	ctx := context.Background()

	dates := []string{"2026-10-01", "2026-10-15", "2026-10-31"}
	for i, d := range dates {
		tp := newTip("alice", d)
		tp.CreatedAtLocalDate = d
		tp.CreatedAt = time.Now().Add(-time.Duration(len(dates)-i) * time.Hour)
		tp.PaymentIntentID = "pi_" + d
		if _, err := store.CreateTip(ctx, tp); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	orphan := newTip("alice", "orphan")
	orphan.CreatedAt = time.Now().Add(-5 * time.Hour)
	if _, err := store.CreateTip(ctx, orphan); err != nil {
		t.Fatalf("create orphan: %v", err)
	}

	received, _ := store.ListTipsReceivedOn(ctx, "receiver", "2026-10-15")
	if len(received) != 1 {
		t.Fatalf("expected 1 received tip, got %d", len(received))
	}
	sent, _ := store.ListTipsSentBetween(ctx, "alice", "2026-10-01", "2026-10-15")
	if len(sent) != 2 {
		t.Fatalf("expected 2 sent tips, got %d", len(sent))
	}
	pending, _ := store.ListPendingTips(ctx, time.Now(), storage.PendingCursor{}, 2)
	if len(pending) != 2 || pending[0].CreatedAtLocalDate != "2026-10-01" {
		t.Fatalf("expected oldest two pending tips with an intent, got %+v", pending)
	}
	last := pending[1]
	rest, _ := store.ListPendingTips(ctx, time.Now(), storage.PendingCursor{CreatedAt: last.CreatedAt, ID: last.ID}, 2)
	if len(rest) != 1 || rest[0].CreatedAtLocalDate != "2026-10-31" {
		t.Fatalf("expected the page after the cursor, got %+v", rest)
	}
	orphans, _ := store.CountOrphanedTips(ctx, time.Now())
	if orphans != 1 {
		t.Fatalf("expected 1 orphaned tip, got %d", orphans)
	}
}

func TestUpdateTipRejectsStaleSnapshot(t *testing.T) {
	store := New()
	ctx := context.Background()

	created, err := store.CreateTip(ctx, newTip("alice", "n-1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	stale := created

	flagged := created
	flagged.FraudWarning = true
	if _, err := store.UpdateTip(ctx, flagged, tip.StatusPending); err != nil {
		t.Fatalf("first write: %v", err)
	}

	// Same status, older read: must not overwrite the fraud flag.
	stale.FailureReason = "late"
	if _, err := store.UpdateTip(ctx, stale, tip.StatusPending); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for stale snapshot, got %v", err)
	}
	got, _ := store.GetTip(ctx, created.ID)
	if !got.FraudWarning || got.FailureReason != "" {
		t.Fatalf("stale write leaked through: %+v", got)
	}
}

func TestSuspendUserIsIdempotent(t *testing.T) {
	store := New()
	ctx := context.Background()

	u, _ := store.CreateUser(ctx, account.User{Email: "a@example.com"})
	first := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	changed, err := store.SuspendUser(ctx, u.ID, "High dispute count: 3 disputes", first)
	if err != nil || !changed {
		t.Fatalf("first suspend: changed=%v err=%v", changed, err)
	}
	changed, err = store.SuspendUser(ctx, u.ID, "again", first.Add(time.Hour))
	if err != nil || changed {
		t.Fatalf("second suspend should be a no-op: changed=%v err=%v", changed, err)
	}
	got, _ := store.GetUser(ctx, u.ID)
	if !got.SuspendedAt.Equal(first) || got.SuspensionReason != "High dispute count: 3 disputes" {
		t.Fatalf("suspension overwritten: %+v", got)
	}
}

func TestUpsertAndDeactivateDevices(t *testing.T) {
	store := New()
	ctx := context.Background()

	key1 := []byte("key-one-32-bytes-long-0000000000")
	key2 := []byte("key-two-32-bytes-long-0000000000")

	d, created, err := store.UpsertDevice(ctx, account.Device{UserID: "u1", Name: "Phone-a1", PublicKey: key1})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	again, created, err := store.UpsertDevice(ctx, account.Device{UserID: "u1", Name: "Phone-renamed", PublicKey: key1})
	if err != nil || created || again.ID != d.ID || again.Name != "Phone-renamed" {
		t.Fatalf("second upsert should update: %+v created=%v err=%v", again, created, err)
	}
	if _, _, err := store.UpsertDevice(ctx, account.Device{UserID: "u1", Name: "Phone-b2", PublicKey: key2}); err != nil {
		t.Fatalf("third upsert: %v", err)
	}

	n, err := store.DeactivateDevicesByPrefix(ctx, "u1", "Phone", key2)
	if err != nil || n != 1 {
		t.Fatalf("expected one deactivation, got %d err=%v", n, err)
	}
	devices, _ := store.ListDevices(ctx, "u1")
	if len(devices) != 2 {
		t.Fatalf("devices are never removed, got %d", len(devices))
	}
	for _, dev := range devices {
		if string(dev.PublicKey) == string(key1) && dev.IsActive {
			t.Fatalf("old device should be inactive")
		}
	}
}
