package tip

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the settlement lifecycle state of a tip.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSucceeded Status = "SUCCEEDED"
	StatusFailed    Status = "FAILED"
	StatusDisputed  Status = "DISPUTED"
	StatusRefunded  Status = "REFUNDED"
)

// Disputes are opened on settled charges, so SUCCEEDED may still move to
// DISPUTED.
var transitions = map[Status][]Status{
	StatusPending:   {StatusSucceeded, StatusFailed, StatusDisputed},
	StatusDisputed:  {StatusSucceeded, StatusRefunded},
	StatusSucceeded: {StatusRefunded, StatusDisputed},
}

// CanTransition reports whether a tip may move from s to next. Staying in the
// same state is not a transition.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSucceeded, StatusFailed, StatusDisputed, StatusRefunded:
		return true
	}
	return false
}

// LocalDateLayout formats CreatedAtLocalDate.
const LocalDateLayout = "2006-01-02"

// Tip is the settlement record for one sender-to-receiver payment. Fee fields
// are nil until computed.
type Tip struct {
	ID         string `json:"id"`
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`

	Amount      decimal.Decimal  `json:"amount"`
	NetAmount   *decimal.Decimal `json:"netAmount,omitempty"`
	TotalFees   *decimal.Decimal `json:"totalFees,omitempty"`
	PlatformFee *decimal.Decimal `json:"platformFee,omitempty"`

	Nonce            string `json:"nonce"`
	RequestTimestamp int64  `json:"timestamp"`

	CreatedAt          time.Time `json:"createdAt"`
	CreatedAtLocalDate string    `json:"createdAtLocalDate"`
	Timezone           string    `json:"timezone"`

	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	ChargeID        string `json:"chargeId,omitempty"`
	DisputeID       string `json:"disputeId,omitempty"`
	DisputeReason   string `json:"disputeReason,omitempty"`

	Status        Status `json:"status"`
	FailureReason string `json:"failureReason,omitempty"`
	FraudWarning  bool   `json:"fraudWarning"`
	FraudType     string `json:"fraudType,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// Same reports whether t and other denote the same tip.
func (t Tip) Same(other Tip) bool {
	return t.ID != "" && t.ID == other.ID
}

// Summary is the caller-facing view used by the date queries.
type Summary struct {
	ID         string           `json:"id"`
	SenderID   string           `json:"senderId"`
	ReceiverID string           `json:"receiverId"`
	Amount     decimal.Decimal  `json:"amount"`
	NetAmount  *decimal.Decimal `json:"netAmount,omitempty"`
	Status     Status           `json:"status"`
	LocalDate  string           `json:"localDate"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// Summarize projects t onto its summary view.
func (t Tip) Summarize() Summary {
	return Summary{
		ID:         t.ID,
		SenderID:   t.SenderID,
		ReceiverID: t.ReceiverID,
		Amount:     t.Amount,
		NetAmount:  t.NetAmount,
		Status:     t.Status,
		LocalDate:  t.CreatedAtLocalDate,
		CreatedAt:  t.CreatedAt,
	}
}
