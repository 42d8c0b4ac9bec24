package reconcile

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/tip_settlement/internal/app/metrics"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
)

// SuspensionReason returns why stats warrant suspension, or "" when they do
// not. Counts are all-time; ties on the ratio do not suspend.
func (r *Reconciler) SuspensionReason(stats storage.DisputeStats) string {
	if stats.Disputed >= r.opts.MaxDisputes {
		return fmt.Sprintf("High dispute count: %d disputes", stats.Disputed)
	}
	if stats.Total > 0 {
		ratio := decimal.NewFromInt(int64(stats.Disputed)).Div(decimal.NewFromInt(int64(stats.Total)))
		if ratio.GreaterThan(r.opts.MaxDisputeRatio) {
			return fmt.Sprintf("High dispute rate: %d/%d", stats.Disputed, stats.Total)
		}
	}
	return ""
}

// CheckSender suspends senderID when their dispute history crosses a
// threshold. Suspension is one-way and idempotent: an already suspended user
// keeps the original reason and timestamp.
func (r *Reconciler) CheckSender(ctx context.Context, senderID string) (bool, error) {
	stats, err := r.tips.SenderDisputeStats(ctx, senderID)
	if err != nil {
		return false, fmt.Errorf("dispute stats for %s: %w", senderID, err)
	}
	reason := r.SuspensionReason(stats)
	if reason == "" {
		return false, nil
	}

	changed, err := r.users.SuspendUser(ctx, senderID, reason, r.opts.Now())
	if err != nil {
		return false, fmt.Errorf("suspend %s: %w", senderID, err)
	}
	if changed {
		metrics.RecordSuspension()
		r.log.LogSecurityEvent(ctx, "user_suspended", map[string]interface{}{
			"user_id":  senderID,
			"reason":   reason,
			"disputes": stats.Disputed,
			"tips":     stats.Total,
		})
	}
	return changed, nil
}
