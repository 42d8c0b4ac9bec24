package httpapi

import (
	"net/http"

	internalhttputil "github.com/R3E-Network/tip_settlement/internal/httputil"
)

const onboardingCompleteHTML = `<!doctype html>
<html><head><title>Setup complete</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 48px;">
<h1>Setup complete</h1><p>You can close this window and return to the app.</p>
</body></html>`

const onboardingRefreshHTML = `<!doctype html>
<html><head><title>Link expired</title></head>
<body style="font-family: sans-serif; text-align: center; padding: 48px;">
<h1>Link expired</h1><p>Return to the app to request a new setup link.</p>
</body></html>`

type paymentMethodRequest struct {
	PaymentMethodID string `json:"paymentMethodId"`
}

type paymentMethodResponse struct {
	CustomerID             string `json:"customerId"`
	DefaultPaymentMethodID string `json:"defaultPaymentMethodId"`
}

func (h *handler) startOnboarding(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	link, err := h.app.Onboarding.StartReceiver(r.Context(), caller)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, link)
}

func (h *handler) onboardingStatus(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	status, err := h.app.Onboarding.ReceiverStatus(r.Context(), caller)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, status)
}

func (h *handler) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	var req paymentMethodRequest
	if err := internalhttputil.DecodeJSON(r.Body, &req); err != nil {
		internalhttputil.BadRequest(w, r, err.Error())
		return
	}
	user, err := h.app.Onboarding.SetPaymentMethod(r.Context(), caller, req.PaymentMethodID)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, paymentMethodResponse{
		CustomerID:             user.ProcessorCustomerID,
		DefaultPaymentMethodID: user.DefaultPaymentMethodID,
	})
}

// onboardingPage serves the static pages the processor redirects to after
// hosted onboarding.
func (h *handler) onboardingPage(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.log.WithContext(r.Context()).WithField("path", r.URL.Path).WithField("account", r.URL.Query().Get("account")).Info("onboarding redirect")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}
