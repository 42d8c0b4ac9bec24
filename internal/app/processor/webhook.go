package processor

import (
	"errors"
	"fmt"

	"github.com/stripe/stripe-go/v76/webhook"
	"github.com/tidwall/gjson"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMalformedEvent is returned for a verified payload that is not an event.
var ErrMalformedEvent = errors.New("malformed webhook event")

// Event is a verified webhook event. Object is data.object.
type Event struct {
	ID     string
	Type   string
	Object gjson.Result
}

// VerifySignature checks the Stripe-Signature header against payload. It
// does not look at the event body.
func VerifySignature(payload []byte, header, secret string) error {
	if secret == "" || header == "" {
		return ErrInvalidSignature
	}
	if err := webhook.ValidatePayload(payload, header, secret); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}

// ParseEvent extracts the envelope fields of a verified payload.
func ParseEvent(payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	root := gjson.ParseBytes(payload)
	ev := Event{
		ID:     root.Get("id").String(),
		Type:   root.Get("type").String(),
		Object: root.Get("data.object"),
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	if !ev.Object.IsObject() {
		return Event{}, fmt.Errorf("%w: missing data.object", ErrMalformedEvent)
	}
	return ev, nil
}
