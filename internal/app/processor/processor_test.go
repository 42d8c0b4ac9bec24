package processor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/R3E-Network/tip_settlement/pkg/testutil"
)

const secret = "whsec_test"

func TestVerifySignature(t *testing.T) {
	payload := testutil.StripeEvent("evt_1", "charge.succeeded", `{"id":"ch_1"}`)
	header := testutil.StripeSignatureHeader(payload, secret, time.Now())

	if err := VerifySignature(payload, header, secret); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}

	cases := map[string]struct {
		payload []byte
		header  string
		secret  string
	}{
		"wrong secret": {payload, header, "whsec_other"},
		"altered body": {append(append([]byte(nil), payload...), ' '), header, secret},
		"empty header": {payload, "", secret},
		"garbage":      {payload, "not-a-signature", secret},
		"stale":        {payload, testutil.StripeSignatureHeader(payload, secret, time.Now().Add(-time.Hour)), secret},
		"secret unset": {payload, header, ""},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			err := VerifySignature(tc.payload, tc.header, tc.secret)
			if !errors.Is(err, ErrInvalidSignature) {
				t.Fatalf("expected invalid signature, got %v", err)
			}
		})
	}
}

func TestParseEvent(t *testing.T) {
	ev, err := ParseEvent(testutil.StripeEvent("evt_2", "charge.refunded", `{"id":"ch_9","payment_intent":"pi_9"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.ID != "evt_2" || ev.Type != "charge.refunded" || ev.Object.Get("payment_intent").String() != "pi_9" {
		t.Fatalf("unexpected event %+v", ev)
	}

	for _, raw := range []string{`not json`, `{"id":"evt"}`, `{"type":"x","data":{"object":"str"}}`} {
		if _, err := ParseEvent([]byte(raw)); !errors.Is(err, ErrMalformedEvent) {
			t.Fatalf("%s: expected malformed, got %v", raw, err)
		}
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTimeout(t *testing.T) {
	for _, err := range []error{
		ErrTimeout,
		context.DeadlineExceeded,
		fmt.Errorf("post: %w", timeoutErr{}),
		fmt.Errorf("%w: create_charge", ErrTimeout),
	} {
		if !IsTimeout(err) {
			t.Fatalf("expected timeout for %v", err)
		}
	}
	for _, err := range []error{nil, errors.New("card declined"), context.Canceled} {
		if IsTimeout(err) {
			t.Fatalf("unexpected timeout for %v", err)
		}
	}
}

func TestMockChargeIdempotency(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	req := ChargeRequest{Amount: 911, ApplicationFee: 57, IdempotencyKey: "tip-1"}

	first, err := m.CreateCharge(ctx, req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	second, err := m.CreateCharge(ctx, req)
	if err != nil {
		t.Fatalf("charge: %v", err)
	}
	if first.ID != second.ID || first.Status != IntentSucceeded || first.ChargeID == "" {
		t.Fatalf("unexpected intents %+v %+v", first, second)
	}
	if len(m.Charges()) != 1 {
		t.Fatalf("expected one recorded charge, got %d", len(m.Charges()))
	}

	got, err := m.GetIntent(ctx, first.ID)
	if err != nil || got.ID != first.ID {
		t.Fatalf("get intent: %+v %v", got, err)
	}
}

func TestMockAccountOnboarding(t *testing.T) {
	m := NewMockClient()
	ctx := context.Background()
	id, err := m.CreateConnectedAccount(ctx, "bob@example.com")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	status, _ := m.GetAccountStatus(ctx, id)
	if status.Onboarded() {
		t.Fatalf("new account should not be onboarded")
	}
	m.CompleteOnboarding(id)
	status, _ = m.GetAccountStatus(ctx, id)
	if !status.Onboarded() {
		t.Fatalf("expected onboarded after completion")
	}
}
