package fees

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/tip_settlement/internal/config"
)

func TestToMinorUnits(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"9.11", 911},
		{"5", 500},
		{"5.00", 500},
		{"0.10", 10},
		{"1.005", 101},
		{"1.004", 100},
		{"2.675", 268},
		{"500", 50000},
		{"0.001", 0},
	}
	for _, tc := range cases {
		got, err := ToMinorUnits(decimal.RequireFromString(tc.in))
		require.NoError(t, err, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}

func TestMinorUnitsRoundTrip(t *testing.T) {
	for _, in := range []string{"0.01", "0.5", "9.11", "12.345", "499.999", "500", "7.125"} {
		amount := decimal.RequireFromString(in)
		minor, err := ToMinorUnits(amount)
		require.NoError(t, err)
		require.True(t, FromMinorUnits(minor).Equal(amount.Round(2)), "%s round-trips to %s", in, FromMinorUnits(minor))
	}
}

func TestComputeReferenceScenario(t *testing.T) {
	b, err := DefaultSchedule().ComputeAmount(decimal.RequireFromString("9.11"))
	require.NoError(t, err)
	require.Equal(t, Breakdown{Gross: 911, ProcessorFee: 57, PlatformFee: 0, TotalFee: 57, Net: 854}, b)
	require.Equal(t, "8.54", FromMinorUnits(b.Net).StringFixed(2))
}

func TestComputeRejectsBelowMinimum(t *testing.T) {
	_, err := DefaultSchedule().ComputeAmount(decimal.RequireFromString("0.10"))
	require.True(t, errors.Is(err, ErrBelowMinimumCharge), "got %v", err)
}

func TestComputeRejectsFeeAtOrAboveAmount(t *testing.T) {
	s := DefaultSchedule()
	s.MinimumCharge = 1
	// ceil(30 * 2.9%) + 30 = 31 >= 30
	_, err := s.Compute(30)
	require.True(t, errors.Is(err, ErrFeeExceedsAmount), "got %v", err)

	// ceil(31 * 2.9%) + 30 = 31, equal is still rejected
	_, err = s.Compute(31)
	require.True(t, errors.Is(err, ErrFeeExceedsAmount), "got %v", err)

	b, err := s.Compute(32)
	require.NoError(t, err)
	require.Equal(t, int64(1), b.Net)
}

func TestFeeInvariantHoldsForAllAccepted(t *testing.T) {
	s := DefaultSchedule()
	s.PlatformPercent = decimal.RequireFromString("1.5")
	s.PlatformFixed = 10
	for gross := int64(1); gross <= 50000; gross += 7 {
		b, err := s.Compute(gross)
		if err != nil {
			continue
		}
		require.Less(t, b.PlatformFee+b.ProcessorFee, gross)
		require.Equal(t, gross, b.Net+b.TotalFee)
		require.GreaterOrEqual(t, b.ProcessorFee*100, gross*29/10+3000, "processor fee must not under-collect at %d", gross)
	}
}

func TestPlatformMarginCeil(t *testing.T) {
	s := DefaultSchedule()
	s.PlatformPercent = decimal.RequireFromString("1")
	s.PlatformFixed = 5
	// ceil(1001 * 1%) = 11, + 5
	require.Equal(t, int64(16), s.PlatformMargin(1001))
	require.Equal(t, s.ProcessorFee(1001)+16, s.ApplicationFee(1001))
}

func TestScheduleFromConfig(t *testing.T) {
	s, err := ScheduleFromConfig(config.Default().Fees)
	require.NoError(t, err)
	require.True(t, s.ProcessorPercent.Equal(DefaultSchedule().ProcessorPercent))
	require.Equal(t, int64(50), s.MinimumCharge)

	_, err = ScheduleFromConfig(config.FeesConfig{ProcessorPercent: "x", PlatformPercent: "0"})
	require.Error(t, err)
}
