// Package fees converts tip amounts to minor currency units and splits them
// into processor fee, platform margin and receiver payout.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/config"
)

var (
	// ErrInexactAmount is returned when an amount cannot be represented in
	// whole minor units.
	ErrInexactAmount = errors.New("amount is not representable in minor units")
	// ErrBelowMinimumCharge is returned for charges under the processor floor.
	ErrBelowMinimumCharge = errors.New("amount is below the minimum charge")
	// ErrFeeExceedsAmount is returned when fees would consume the whole charge.
	ErrFeeExceedsAmount = errors.New("fees must be less than the amount")
)

var hundred = decimal.NewFromInt(100)

// Schedule is the fee configuration. Fixed fees and the minimum charge are in
// minor units; percentages are plain percent values (2.9 means 2.9%).
type Schedule struct {
	ProcessorPercent decimal.Decimal
	ProcessorFixed   int64
	PlatformPercent  decimal.Decimal
	PlatformFixed    int64
	MinimumCharge    int64
}

// DefaultSchedule is 2.9% + 30 processor fee, no platform margin, 50 minimum.
func DefaultSchedule() Schedule {
	return Schedule{
		ProcessorPercent: decimal.RequireFromString("2.9"),
		ProcessorFixed:   30,
		PlatformPercent:  decimal.Zero,
		PlatformFixed:    0,
		MinimumCharge:    50,
	}
}

// ScheduleFromConfig parses the configured fee schedule.
func ScheduleFromConfig(cfg config.FeesConfig) (Schedule, error) {
	processorPct, err := decimal.NewFromString(cfg.ProcessorPercent)
	if err != nil {
		return Schedule{}, fmt.Errorf("processor percent: %w", err)
	}
	platformPct, err := decimal.NewFromString(cfg.PlatformPercent)
	if err != nil {
		return Schedule{}, fmt.Errorf("platform percent: %w", err)
	}
	return Schedule{
		ProcessorPercent: processorPct,
		ProcessorFixed:   cfg.ProcessorFixed,
		PlatformPercent:  platformPct,
		PlatformFixed:    cfg.PlatformFixed,
		MinimumCharge:    cfg.MinimumCharge,
	}, nil
}

// Breakdown is a computed fee split, all in minor units.
type Breakdown struct {
	Gross        int64 `json:"gross"`
	ProcessorFee int64 `json:"processorFee"`
	PlatformFee  int64 `json:"platformFee"`
	TotalFee     int64 `json:"totalFee"`
	Net          int64 `json:"net"`
}

// ToMinorUnits rounds amount half-up to two places and shifts it to an exact
// integer count of minor units.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	shifted := amount.Round(2).Shift(2)
	if !shifted.IsInteger() {
		return 0, ErrInexactAmount
	}
	minor := shifted.IntPart()
	if !decimal.NewFromInt(minor).Equal(shifted) {
		return 0, ErrInexactAmount
	}
	return minor, nil
}

// FromMinorUnits converts minor units back to a two-place decimal.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// percentOf returns ceil(gross * pct / 100).
func percentOf(gross int64, pct decimal.Decimal) int64 {
	if pct.IsZero() {
		return 0
	}
	return decimal.NewFromInt(gross).Mul(pct).Div(hundred).Ceil().IntPart()
}

// ProcessorFee is the processor's own cost for a charge of gross minor units,
// rounded up so the platform never under-collects.
func (s Schedule) ProcessorFee(gross int64) int64 {
	return percentOf(gross, s.ProcessorPercent) + s.ProcessorFixed
}

// PlatformMargin is the platform's share on top of the processor fee.
func (s Schedule) PlatformMargin(gross int64) int64 {
	return percentOf(gross, s.PlatformPercent) + s.PlatformFixed
}

// ApplicationFee is the total fee retained from a charge of gross minor units.
func (s Schedule) ApplicationFee(gross int64) int64 {
	return s.ProcessorFee(gross) + s.PlatformMargin(gross)
}

// Compute splits gross and validates it can be charged. It fails before any
// external call would be made.
func (s Schedule) Compute(gross int64) (Breakdown, error) {
	if gross < s.MinimumCharge {
		return Breakdown{}, fmt.Errorf("%w: %d < %d", ErrBelowMinimumCharge, gross, s.MinimumCharge)
	}
	b := Breakdown{
		Gross:        gross,
		ProcessorFee: s.ProcessorFee(gross),
		PlatformFee:  s.PlatformMargin(gross),
	}
	b.TotalFee = b.ProcessorFee + b.PlatformFee
	if b.TotalFee >= gross {
		return Breakdown{}, fmt.Errorf("%w: fee %d, amount %d", ErrFeeExceedsAmount, b.TotalFee, gross)
	}
	b.Net = gross - b.TotalFee
	return b, nil
}

// ComputeAmount converts amount to minor units and computes its breakdown.
func (s Schedule) ComputeAmount(amount decimal.Decimal) (Breakdown, error) {
	gross, err := ToMinorUnits(amount)
	if err != nil {
		return Breakdown{}, err
	}
	return s.Compute(gross)
}
