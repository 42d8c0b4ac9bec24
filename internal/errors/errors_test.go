package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestGetServiceErrorThroughWrap(t *testing.T) {
	wrapped := fmt.Errorf("admission: %w", Forbidden("sender mismatch"))
	se := GetServiceError(wrapped)
	if se == nil {
		t.Fatalf("expected service error")
	}
	if se.HTTPStatus != http.StatusForbidden || se.Code != CodeForbidden {
		t.Fatalf("unexpected error: %+v", se)
	}
	if !HasCode(wrapped, CodeForbidden) || HasCode(wrapped, CodeBadRequest) {
		t.Fatalf("HasCode mismatch")
	}
	if GetServiceError(errors.New("plain")) != nil {
		t.Fatalf("plain errors carry no service error")
	}
}

func TestIsMatchesByCode(t *testing.T) {
	if !errors.Is(BadRequest("a"), BadRequest("b")) {
		t.Fatalf("same code should match")
	}
	if errors.Is(BadRequest("a"), Unauthorized("a")) {
		t.Fatalf("different codes should not match")
	}
}

func TestWithDetailsCopies(t *testing.T) {
	base := BadRequest("x")
	withDetail := base.WithDetails("field", "amount")
	if base.Details != nil {
		t.Fatalf("original mutated: %v", base.Details)
	}
	if withDetail.Details["field"] != "amount" {
		t.Fatalf("detail missing")
	}
}

func TestPaymentFailedKeepsCause(t *testing.T) {
	cause := errors.New("card_declined")
	err := PaymentFailed(cause)
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be reachable")
	}
	if err.Message != "Payment failed" {
		t.Fatalf("message should not leak processor detail: %s", err.Message)
	}
}
