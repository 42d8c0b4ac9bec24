package httpapi

import (
	"io"
	"net/http"

	"github.com/R3E-Network/tip_settlement/internal/app/metrics"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	internalhttputil "github.com/R3E-Network/tip_settlement/internal/httputil"
)

// maxWebhookBytes matches the processor's documented payload ceiling.
const maxWebhookBytes = 64 << 10

// stripeWebhook acknowledges every correctly signed delivery with 200.
// Only a signature failure is rejected, so processor retries are reserved for
// deliveries that never reached us intact.
func (h *handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	entry := h.log.WithContext(r.Context())

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		internalhttputil.BadRequest(w, r, "Unreadable payload")
		return
	}

	if err := processor.VerifySignature(payload, r.Header.Get("Stripe-Signature"), h.webhookSecret); err != nil {
		h.log.LogSecurityEvent(r.Context(), "webhook_signature_rejected", map[string]interface{}{
			"remote_addr": r.RemoteAddr,
			"error":       err.Error(),
		})
		metrics.RecordWebhookEvent("", "rejected")
		internalhttputil.BadRequest(w, r, "Invalid signature")
		return
	}

	ev, err := processor.ParseEvent(payload)
	if err != nil {
		entry.WithError(err).Warn("verified webhook payload is not an event; skipping")
		metrics.RecordWebhookEvent("", "malformed")
		internalhttputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	outcome := h.app.Reconciler.Handle(r.Context(), ev)
	entry.WithField("event_id", ev.ID).WithField("event_type", ev.Type).WithField("outcome", outcome).Debug("webhook handled")
	internalhttputil.WriteJSON(w, http.StatusOK, map[string]bool{"received": true})
}
