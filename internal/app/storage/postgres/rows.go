package postgres

import (
	"database/sql"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/account"
	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
)

type tipRow struct {
	ID                 string              `db:"id"`
	SenderID           string              `db:"sender_id"`
	ReceiverID         string              `db:"receiver_id"`
	Amount             decimal.Decimal     `db:"amount"`
	NetAmount          decimal.NullDecimal `db:"net_amount"`
	TotalFees          decimal.NullDecimal `db:"total_fees"`
	PlatformFee        decimal.NullDecimal `db:"platform_fee"`
	Nonce              string              `db:"nonce"`
	RequestTimestamp   int64               `db:"request_timestamp"`
	CreatedAt          time.Time           `db:"created_at"`
	CreatedAtLocalDate time.Time           `db:"created_at_local_date"`
	Timezone           string              `db:"timezone"`
	PaymentIntentID    sql.NullString      `db:"payment_intent_id"`
	ChargeID           sql.NullString      `db:"charge_id"`
	DisputeID          sql.NullString      `db:"dispute_id"`
	DisputeReason      sql.NullString      `db:"dispute_reason"`
	Status             string              `db:"status"`
	FailureReason      sql.NullString      `db:"failure_reason"`
	FraudWarning       bool                `db:"fraud_warning"`
	FraudType          sql.NullString      `db:"fraud_type"`
	UpdatedAt          time.Time           `db:"updated_at"`
}

func toTipRow(t tip.Tip) tipRow {
	return tipRow{
		ID:               t.ID,
		SenderID:         t.SenderID,
		ReceiverID:       t.ReceiverID,
		Amount:           t.Amount,
		NetAmount:        nullDecimal(t.NetAmount),
		TotalFees:        nullDecimal(t.TotalFees),
		PlatformFee:      nullDecimal(t.PlatformFee),
		Nonce:            t.Nonce,
		RequestTimestamp: t.RequestTimestamp,
		CreatedAt:        t.CreatedAt,
		Timezone:         t.Timezone,
		PaymentIntentID:  nullString(t.PaymentIntentID),
		ChargeID:         nullString(t.ChargeID),
		DisputeID:        nullString(t.DisputeID),
		DisputeReason:    nullString(t.DisputeReason),
		Status:           string(t.Status),
		FailureReason:    nullString(t.FailureReason),
		FraudWarning:     t.FraudWarning,
		FraudType:        nullString(t.FraudType),
		UpdatedAt:        t.UpdatedAt,
	}
}

func (r tipRow) toTip() tip.Tip {
	return tip.Tip{
		ID:                 r.ID,
		SenderID:           r.SenderID,
		ReceiverID:         r.ReceiverID,
		Amount:             r.Amount,
		NetAmount:          decimalPtr(r.NetAmount),
		TotalFees:          decimalPtr(r.TotalFees),
		PlatformFee:        decimalPtr(r.PlatformFee),
		Nonce:              r.Nonce,
		RequestTimestamp:   r.RequestTimestamp,
		CreatedAt:          r.CreatedAt.UTC(),
		CreatedAtLocalDate: r.CreatedAtLocalDate.Format(tip.LocalDateLayout),
		Timezone:           r.Timezone,
		PaymentIntentID:    r.PaymentIntentID.String,
		ChargeID:           r.ChargeID.String,
		DisputeID:          r.DisputeID.String,
		DisputeReason:      r.DisputeReason.String,
		Status:             tip.Status(r.Status),
		FailureReason:      r.FailureReason.String,
		FraudWarning:       r.FraudWarning,
		FraudType:          r.FraudType.String,
		UpdatedAt:          r.UpdatedAt.UTC(),
	}
}

type userRow struct {
	ID                     string         `db:"id"`
	Email                  string         `db:"email"`
	DisplayName            string         `db:"display_name"`
	ProcessorAccountID     sql.NullString `db:"processor_account_id"`
	Onboarded              bool           `db:"onboarded"`
	ProcessorCustomerID    sql.NullString `db:"processor_customer_id"`
	DefaultPaymentMethodID sql.NullString `db:"default_payment_method_id"`
	Suspended              bool           `db:"suspended"`
	SuspensionReason       sql.NullString `db:"suspension_reason"`
	SuspendedAt            sql.NullTime   `db:"suspended_at"`
	CreatedAt              time.Time      `db:"created_at"`
	UpdatedAt              time.Time      `db:"updated_at"`
}

func toUserRow(u account.User) userRow {
	r := userRow{
		ID:                     u.ID,
		Email:                  u.Email,
		DisplayName:            u.DisplayName,
		ProcessorAccountID:     nullString(u.ProcessorAccountID),
		Onboarded:              u.Onboarded,
		ProcessorCustomerID:    nullString(u.ProcessorCustomerID),
		DefaultPaymentMethodID: nullString(u.DefaultPaymentMethodID),
		Suspended:              u.Suspended,
		SuspensionReason:       nullString(u.SuspensionReason),
		CreatedAt:              u.CreatedAt,
		UpdatedAt:              u.UpdatedAt,
	}
	if u.SuspendedAt != nil {
		r.SuspendedAt = sql.NullTime{Time: *u.SuspendedAt, Valid: true}
	}
	return r
}

func (r userRow) toUser() account.User {
	u := account.User{
		ID:                     r.ID,
		Email:                  r.Email,
		DisplayName:            r.DisplayName,
		ProcessorAccountID:     r.ProcessorAccountID.String,
		Onboarded:              r.Onboarded,
		ProcessorCustomerID:    r.ProcessorCustomerID.String,
		DefaultPaymentMethodID: r.DefaultPaymentMethodID.String,
		Suspended:              r.Suspended,
		SuspensionReason:       r.SuspensionReason.String,
		CreatedAt:              r.CreatedAt.UTC(),
		UpdatedAt:              r.UpdatedAt.UTC(),
	}
	if r.SuspendedAt.Valid {
		at := r.SuspendedAt.Time.UTC()
		u.SuspendedAt = &at
	}
	return u
}

type deviceRow struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Name      string    `db:"name"`
	PublicKey []byte    `db:"public_key"`
	IsActive  bool      `db:"is_active"`
	LastSeen  time.Time `db:"last_seen"`
	CreatedAt time.Time `db:"created_at"`
}

func (r deviceRow) toDevice() account.Device {
	return account.Device{
		ID:        r.ID,
		UserID:    r.UserID,
		Name:      r.Name,
		PublicKey: r.PublicKey,
		IsActive:  r.IsActive,
		LastSeen:  r.LastSeen.UTC(),
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullDecimal(v *decimal.Decimal) decimal.NullDecimal {
	if v == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *v, Valid: true}
}

func decimalPtr(v decimal.NullDecimal) *decimal.Decimal {
	if !v.Valid {
		return nil
	}
	d := v.Decimal
	return &d
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
