// Package account holds the user and device records the tip pipeline reads.
package account

import "time"

// User is a tipping participant. Suspension fields are written only by the
// fraud heuristic.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`

	// Receiving side: the processor connected account tips are routed to.
	ProcessorAccountID string `json:"processorAccountId,omitempty"`
	Onboarded          bool   `json:"onboarded"`

	// Sending side: the processor customer and saved payment method charged.
	ProcessorCustomerID    string `json:"processorCustomerId,omitempty"`
	DefaultPaymentMethodID string `json:"defaultPaymentMethodId,omitempty"`

	Suspended        bool       `json:"suspended"`
	SuspensionReason string     `json:"suspensionReason,omitempty"`
	SuspendedAt      *time.Time `json:"suspendedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Same reports whether u and other denote the same user.
func (u User) Same(other User) bool {
	return u.ID != "" && u.ID == other.ID
}

// CanReceive reports whether tips can be routed to u.
func (u User) CanReceive() bool {
	return u.ProcessorAccountID != ""
}

// CanSend reports whether u has a saved method to charge.
func (u User) CanSend() bool {
	return u.ProcessorCustomerID != "" && u.DefaultPaymentMethodID != ""
}

// Name returns the display name, falling back to the email.
func (u User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Email
}

// Device is a signing key registered by a user.
type Device struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	PublicKey []byte    `json:"publicKey"`
	IsActive  bool      `json:"isActive"`
	LastSeen  time.Time `json:"lastSeen"`
	CreatedAt time.Time `json:"createdAt"`
}

// Same reports whether d and other denote the same device.
func (d Device) Same(other Device) bool {
	return d.ID != "" && d.ID == other.ID
}
