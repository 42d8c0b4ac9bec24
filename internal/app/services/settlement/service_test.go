package settlement

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/services/admission"
	"github.com/R3E-Network/tip_settlement/internal/app/services/fees"
	"github.com/R3E-Network/tip_settlement/internal/app/services/notify"
	"github.com/R3E-Network/tip_settlement/internal/app/storage/memory"
	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// 2025-01-01 03:00 UTC is still 2024-12-31 in Los Angeles.
var fixedNow = time.Date(2025, 1, 1, 3, 0, 0, 0, time.UTC)

type harness struct {
	store      *memory.Store
	proc       *processor.MockClient
	broker     *notify.MemoryBroker
	dispatcher *notify.Dispatcher
	svc        *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	store := memory.New()
	users := []account.User{
		{ID: "alice", Email: "alice@example.com", DisplayName: "Alice", ProcessorCustomerID: "cus_1", DefaultPaymentMethodID: "pm_1"},
		{ID: "bob", Email: "bob@example.com", ProcessorAccountID: "acct_1", Onboarded: true},
		{ID: "carol", Email: "carol@example.com"},
		{ID: "dave", Email: "dave@example.com", ProcessorCustomerID: "cus_2", DefaultPaymentMethodID: "pm_2"},
	}
	for _, u := range users {
		if _, err := store.CreateUser(ctx, u); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	h := &harness{store: store, proc: processor.NewMockClient(), broker: notify.NewMemoryBroker()}
	h.dispatcher = notify.NewDispatcher(h.broker, time.Second, logging.NewDiscard())
	h.svc = New(store, store, h.proc, fees.DefaultSchedule(), h.dispatcher, nil,
		Options{Now: func() time.Time { return fixedNow }}, logging.NewDiscard())
	return h
}

func input(sender, receiver, amount, nonce string) admission.Input {
	return admission.Input{
		SenderID:   sender,
		ReceiverID: receiver,
		Amount:     decimal.RequireFromString(amount),
		Nonce:      nonce,
		Timestamp:  fixedNow.UnixMilli(),
	}
}

func TestCreateTipConfirmed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	notifications, cancel, _ := h.broker.Subscribe(ctx, "bob")
	defer cancel()

	out, err := h.svc.CreateTip(ctx, input("alice", "bob", "9.11", "n-1"), "America/Los_Angeles")
	if err != nil {
		t.Fatalf("create tip: %v", err)
	}
	if out.Status != ResultConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", out.Status)
	}

	stored, err := h.store.GetTip(ctx, out.Tip.ID)
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}
	if stored.Status != tip.StatusPending || stored.PaymentIntentID == "" {
		t.Fatalf("expected pending tip with intent, got %+v", stored)
	}
	if stored.CreatedAtLocalDate != "2024-12-31" || stored.Timezone != "America/Los_Angeles" {
		t.Fatalf("unexpected local date %s (%s)", stored.CreatedAtLocalDate, stored.Timezone)
	}
	if stored.NetAmount.String() != "8.54" || stored.TotalFees.String() != "0.57" {
		t.Fatalf("unexpected fee fields net=%s fees=%s", stored.NetAmount, stored.TotalFees)
	}

	charges := h.proc.Charges()
	if len(charges) != 1 {
		t.Fatalf("expected one charge, got %d", len(charges))
	}
	c := charges[0]
	if c.Amount != 911 || c.ApplicationFee != 57 || c.DestinationAccountID != "acct_1" || c.CustomerID != "cus_1" {
		t.Fatalf("unexpected charge %+v", c)
	}
	if c.IdempotencyKey != "tip-"+stored.ID || c.Metadata[MetaTipID] != stored.ID || c.Metadata[MetaNetAmount] != "854" {
		t.Fatalf("unexpected charge correlation %+v", c)
	}

	select {
	case n := <-notifications:
		if n.NetAmountMinor != 854 || n.SenderName != "Alice" || n.TipID != stored.ID {
			t.Fatalf("unexpected notification %+v", n)
		}
	case <-time.After(time.Second):
		t.Fatalf("receiver not notified")
	}
}

func TestCreateTipStoresRoundedGross(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.svc.CreateTip(ctx, input("alice", "bob", "5.005", "n-round"), "UTC")
	if err != nil {
		t.Fatalf("create tip: %v", err)
	}
	stored, err := h.store.GetTip(ctx, out.Tip.ID)
	if err != nil {
		t.Fatalf("get tip: %v", err)
	}
	if stored.Amount.String() != "5.01" {
		t.Fatalf("expected rounded amount 5.01, got %s", stored.Amount)
	}
	if !stored.Amount.Equal(stored.NetAmount.Add(*stored.TotalFees)) {
		t.Fatalf("amount %s != net %s + fees %s", stored.Amount, stored.NetAmount, stored.TotalFees)
	}
	if charges := h.proc.Charges(); len(charges) != 1 || charges[0].Amount != 501 {
		t.Fatalf("unexpected charges %+v", charges)
	}
}

func TestCreateTipConcurrentDuplicates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	const n = 20
	results := make(chan Result, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := h.svc.CreateTip(ctx, input("alice", "bob", "5", "same-nonce"), "")
			if err != nil {
				t.Errorf("create tip: %v", err)
				return
			}
			results <- out.Status
		}()
	}
	wg.Wait()
	close(results)

	counts := map[Result]int{}
	for r := range results {
		counts[r]++
	}
	if counts[ResultConfirmed] != 1 || counts[ResultDuplicate] != n-1 {
		t.Fatalf("unexpected results %v", counts)
	}
	if len(h.proc.Charges()) != 1 {
		t.Fatalf("expected exactly one charge, got %d", len(h.proc.Charges()))
	}
}

func TestCreateTipProcessorTimeoutLeavesPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.proc.ChargeErr = fmt.Errorf("%w: create_charge", processor.ErrTimeout)

	notifications, cancel, _ := h.broker.Subscribe(ctx, "bob")
	defer cancel()

	out, err := h.svc.CreateTip(ctx, input("alice", "bob", "5", "n-timeout"), "")
	if err != nil {
		t.Fatalf("create tip: %v", err)
	}
	if out.Status != ResultPending {
		t.Fatalf("expected PENDING, got %s", out.Status)
	}
	stored, _ := h.store.GetTipBySenderNonce(ctx, "alice", "n-timeout")
	if stored.Status != tip.StatusPending || stored.PaymentIntentID != "" {
		t.Fatalf("unexpected tip %+v", stored)
	}
	h.dispatcher.Wait()
	select {
	case n := <-notifications:
		t.Fatalf("unexpected notification %+v", n)
	default:
	}
}

func TestCreateTipProcessorErrorIsPaymentFailed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.proc.ChargeErr = errors.New("card_declined")

	_, err := h.svc.CreateTip(ctx, input("alice", "bob", "5", "n-declined"), "")
	if !svcerrors.HasCode(err, svcerrors.CodePaymentFailed) {
		t.Fatalf("expected payment failed, got %v", err)
	}
	if svcerrors.GetServiceError(err).Message != "Payment failed" {
		t.Fatalf("processor detail leaked: %v", err)
	}
	stored, err := h.store.GetTipBySenderNonce(ctx, "alice", "n-declined")
	if err != nil || stored.Status != tip.StatusPending {
		t.Fatalf("expected tip left pending, got %+v %v", stored, err)
	}
}

func TestCreateTipEligibility(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.store.SuspendUser(ctx, "alice", "test", fixedNow); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	cases := []struct {
		name string
		in   admission.Input
		code svcerrors.ErrorCode
	}{
		{"suspended sender", input("alice", "bob", "5", "e-1"), svcerrors.CodeForbidden},
		{"no payment method", input("carol", "bob", "5", "e-2"), svcerrors.CodeBadRequest},
		{"receiver not onboarded", input("dave", "carol", "5", "e-3"), svcerrors.CodeBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.CreateTip(ctx, tc.in, "")
			if !svcerrors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			if exists, _ := h.store.ExistsBySenderNonce(ctx, tc.in.SenderID, tc.in.Nonce); exists {
				t.Fatalf("tip persisted despite rejection")
			}
		})
	}
	if len(h.proc.Charges()) != 0 {
		t.Fatalf("processor called for rejected tips")
	}
}

func TestCreateTipFeeValidationBeforeCharge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.CreateTip(ctx, input("alice", "bob", "0.40", "small"), "")
	if !svcerrors.HasCode(err, svcerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if exists, _ := h.store.ExistsBySenderNonce(ctx, "alice", "small"); exists {
		t.Fatalf("tip persisted despite validation failure")
	}
	if len(h.proc.Charges()) != 0 {
		t.Fatalf("processor called before validation")
	}

	_, err = h.svc.CreateTip(ctx, input("alice", "bob", "5", "tz"), "Mars/Olympus")
	if !svcerrors.HasCode(err, svcerrors.CodeBadRequest) {
		t.Fatalf("expected bad timezone rejection, got %v", err)
	}
}

type failingNotifier struct{}

func (failingNotifier) NotifyTipReceived(context.Context, notify.TipReceived) error {
	return errors.New("push gateway down")
}

func TestCreateTipNotificationFailureIsIgnored(t *testing.T) {
	h := newHarness(t)
	d := notify.NewDispatcher(failingNotifier{}, time.Second, logging.NewDiscard())
	svc := New(h.store, h.store, h.proc, fees.DefaultSchedule(), d, nil, Options{Now: func() time.Time { return fixedNow }}, logging.NewDiscard())

	out, err := svc.CreateTip(context.Background(), input("alice", "bob", "5", "n-notify"), "")
	d.Wait()
	if err != nil || out.Status != ResultConfirmed {
		t.Fatalf("expected CONFIRMED despite notifier failure, got %s %v", out.Status, err)
	}
}

func TestQueries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i, tz := range []string{"America/Los_Angeles", "UTC"} {
		if _, err := h.svc.CreateTip(ctx, input("alice", "bob", "5", fmt.Sprintf("q-%d", i)), tz); err != nil {
			t.Fatalf("create tip: %v", err)
		}
	}

	received, err := h.svc.ReceivedOn(ctx, "bob", "2024-12-31", "")
	if err != nil || len(received) != 1 {
		t.Fatalf("received on 2024-12-31: %d %v", len(received), err)
	}
	received, err = h.svc.ReceivedOn(ctx, "bob", "", "UTC")
	if err != nil || len(received) != 1 || received[0].CreatedAtLocalDate != "2025-01-01" {
		t.Fatalf("received today: %+v %v", received, err)
	}

	// Default range in UTC is 2025-01-01..2025-01-01.
	sent, err := h.svc.SentBetween(ctx, "alice", "", "", "UTC")
	if err != nil || len(sent) != 1 {
		t.Fatalf("sent this month: %d %v", len(sent), err)
	}
	sent, err = h.svc.SentBetween(ctx, "alice", "2024-12-01", "2025-01-31", "")
	if err != nil || len(sent) != 2 {
		t.Fatalf("sent in range: %d %v", len(sent), err)
	}

	if _, err := h.svc.SentBetween(ctx, "alice", "2025-02-01", "2025-01-01", ""); !svcerrors.HasCode(err, svcerrors.CodeBadRequest) {
		t.Fatalf("expected reversed range rejection, got %v", err)
	}
	if _, err := h.svc.ReceivedOn(ctx, "bob", "31/12/2024", ""); !svcerrors.HasCode(err, svcerrors.CodeBadRequest) {
		t.Fatalf("expected bad date rejection, got %v", err)
	}
}
