package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/services/admission"
	"github.com/R3E-Network/tip_settlement/internal/app/services/settlement"
	internalhttputil "github.com/R3E-Network/tip_settlement/internal/httputil"
)

// timezoneHeader carries the caller's IANA zone when the body or query omits it.
const timezoneHeader = "X-Timezone"

type createTipRequest struct {
	SenderID   string          `json:"senderId"`
	ReceiverID string          `json:"receiverId"`
	Amount     decimal.Decimal `json:"amount"`
	Nonce      string          `json:"nonce"`
	Timestamp  int64           `json:"timestamp"`
	Signature  string          `json:"signature"`
	Timezone   string          `json:"timezone"`
	// DeviceID is sent by older clients; signatures are matched against all
	// of the sender's keys regardless.
	DeviceID string `json:"deviceId,omitempty"`
}

type createTipResponse struct {
	Status settlement.Result `json:"status"`
	TipID  string            `json:"tipId,omitempty"`
}

func (h *handler) createTip(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	var req createTipRequest
	if err := internalhttputil.DecodeJSON(r.Body, &req); err != nil {
		internalhttputil.BadRequest(w, r, err.Error())
		return
	}

	admitted, err := h.app.Admission.Verify(r.Context(), admission.Request{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Amount:     req.Amount,
		Nonce:      req.Nonce,
		Timestamp:  req.Timestamp,
		Signature:  req.Signature,
	}, caller)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	if admitted.Outcome == admission.Duplicate {
		internalhttputil.WriteJSON(w, http.StatusOK, createTipResponse{Status: settlement.ResultDuplicate})
		return
	}

	timezone := req.Timezone
	if timezone == "" {
		timezone = r.Header.Get(timezoneHeader)
	}
	outcome, err := h.app.Settlement.CreateTip(r.Context(), admitted.Input, timezone)
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}
	internalhttputil.WriteJSON(w, http.StatusOK, createTipResponse{Status: outcome.Status, TipID: outcome.Tip.ID})
}

type receivedTipDTO struct {
	ID             string           `json:"id"`
	SenderID       string           `json:"senderId"`
	SenderName     string           `json:"senderName"`
	Amount         decimal.Decimal  `json:"amount"`
	NetAmount      *decimal.Decimal `json:"netAmount"`
	TotalFees      *decimal.Decimal `json:"totalFees"`
	PlatformFee    *decimal.Decimal `json:"platformFee"`
	Status         tip.Status       `json:"status"`
	CreatedAt      time.Time        `json:"createdAt"`
	CreatedAtLocal string           `json:"createdAtLocal"`
	Timezone       string           `json:"timezone"`
}

type sentTipDTO struct {
	ID             string          `json:"id"`
	RecipientID    string          `json:"recipientId"`
	RecipientName  string          `json:"recipientName"`
	Amount         decimal.Decimal `json:"amount"`
	Status         tip.Status      `json:"status"`
	CreatedAt      time.Time       `json:"createdAt"`
	CreatedAtLocal string          `json:"createdAtLocal"`
	Timezone       string          `json:"timezone"`
}

func (h *handler) receivedTips(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	tips, err := h.app.Settlement.ReceivedOn(r.Context(), caller, q.Get("date"), requestTimezone(r))
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}

	names := h.nameResolver(r.Context())
	out := make([]receivedTipDTO, 0, len(tips))
	for _, t := range tips {
		out = append(out, receivedTipDTO{
			ID:             t.ID,
			SenderID:       t.SenderID,
			SenderName:     names(t.SenderID),
			Amount:         t.Amount,
			NetAmount:      t.NetAmount,
			TotalFees:      t.TotalFees,
			PlatformFee:    t.PlatformFee,
			Status:         t.Status,
			CreatedAt:      t.CreatedAt,
			CreatedAtLocal: t.CreatedAtLocalDate,
			Timezone:       t.Timezone,
		})
	}
	internalhttputil.WriteJSON(w, http.StatusOK, out)
}

func (h *handler) sentTips(w http.ResponseWriter, r *http.Request) {
	caller, ok := userID(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	start := firstNonEmpty(q.Get("startDate"), q.Get("start"))
	end := firstNonEmpty(q.Get("endDate"), q.Get("end"))
	tips, err := h.app.Settlement.SentBetween(r.Context(), caller, start, end, requestTimezone(r))
	if err != nil {
		internalhttputil.WriteError(w, r, err)
		return
	}

	names := h.nameResolver(r.Context())
	out := make([]sentTipDTO, 0, len(tips))
	for _, t := range tips {
		out = append(out, sentTipDTO{
			ID:             t.ID,
			RecipientID:    t.ReceiverID,
			RecipientName:  names(t.ReceiverID),
			Amount:         t.Amount,
			Status:         t.Status,
			CreatedAt:      t.CreatedAt,
			CreatedAtLocal: t.CreatedAtLocalDate,
			Timezone:       t.Timezone,
		})
	}
	internalhttputil.WriteJSON(w, http.StatusOK, out)
}

// nameResolver returns a memoising lookup of user display names for one
// response.
func (h *handler) nameResolver(ctx context.Context) func(string) string {
	cache := make(map[string]string)
	return func(id string) string {
		if name, ok := cache[id]; ok {
			return name
		}
		name := "Unknown"
		u, err := h.app.Stores.Users.GetUser(ctx, id)
		if err == nil && u.Name() != "" {
			name = u.Name()
		}
		cache[id] = name
		return name
	}
}

func requestTimezone(r *http.Request) string {
	return firstNonEmpty(r.URL.Query().Get("timezone"), r.Header.Get(timezoneHeader))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
