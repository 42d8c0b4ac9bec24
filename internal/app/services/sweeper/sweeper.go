// Package sweeper settles tips left PENDING when the processor outcome was
// unknown at creation time or a webhook never arrived.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	"github.com/R3E-Network/tip_settlement/internal/app/metrics"
	"github.com/R3E-Network/tip_settlement/internal/app/processor"
	"github.com/R3E-Network/tip_settlement/internal/app/services/reconcile"
	"github.com/R3E-Network/tip_settlement/internal/app/storage"
	"github.com/R3E-Network/tip_settlement/internal/app/system"
	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// StatusApplier applies a polled status with the reconciler's rules.
type StatusApplier interface {
	ApplyStatus(ctx context.Context, t tip.Tip, to tip.Status, chargeID, reason string) reconcile.Outcome
}

// Options configure the sweep cadence.
type Options struct {
	Schedule string        // cron spec, e.g. "@every 5m"
	MinAge   time.Duration // only tips older than this are examined
	Batch    int
	Now      func() time.Time
}

// Report summarises one sweep.
type Report struct {
	Examined int
	Settled  int
	Failed   int
	Waiting  int
	Orphaned int
	Errors   int
}

// Sweeper polls the processor for stale pending tips on a cron schedule.
type Sweeper struct {
	tips    storage.TipStore
	proc    processor.Client
	applier StatusApplier
	opts    Options
	log     *logging.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	running bool

	// pageMu serialises sweeps; cursor is where the next one resumes.
	pageMu sync.Mutex
	cursor storage.PendingCursor
}

var _ system.Service = (*Sweeper)(nil)

// New validates the schedule and creates a sweeper.
func New(tips storage.TipStore, proc processor.Client, applier StatusApplier, opts Options, log *logging.Logger) (*Sweeper, error) {
	if opts.Schedule == "" {
		opts.Schedule = "@every 5m"
	}
	if _, err := cron.ParseStandard(opts.Schedule); err != nil {
		return nil, fmt.Errorf("sweeper schedule %q: %w", opts.Schedule, err)
	}
	if opts.MinAge <= 0 {
		opts.MinAge = 15 * time.Minute
	}
	if opts.Batch <= 0 {
		opts.Batch = 100
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = logging.NewDefault("sweeper")
	}
	return &Sweeper{tips: tips, proc: proc, applier: applier, opts: opts, log: log}, nil
}

func (s *Sweeper) Name() string { return "tip-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(s.log)), cron.SkipIfStillRunning(cron.PrintfLogger(s.log))))
	if _, err := c.AddFunc(s.opts.Schedule, func() {
		if _, err := s.Sweep(runCtx); err != nil {
			s.log.WithError(err).Warn("pending tip sweep failed")
		}
	}); err != nil {
		cancel()
		return fmt.Errorf("schedule sweeper: %w", err)
	}
	c.Start()

	s.cron = c
	s.cancel = cancel
	s.running = true
	s.log.WithField("schedule", s.opts.Schedule).Info("pending tip sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.running = false
	s.cron, s.cancel = nil, nil
	s.mu.Unlock()

	cancel()
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep examines one batch of stale pending tips that carry a payment intent.
// Each sweep resumes after the last tip the previous one examined and wraps
// to the oldest after a short batch. Tips without an intent are only counted.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	s.pageMu.Lock()
	defer s.pageMu.Unlock()

	cutoff := s.opts.Now().Add(-s.opts.MinAge)
	var report Report
	orphaned, err := s.tips.CountOrphanedTips(ctx, cutoff)
	if err != nil {
		return Report{}, fmt.Errorf("count orphaned tips: %w", err)
	}
	report.Orphaned = orphaned
	metrics.SetOrphanedTips(orphaned)
	if orphaned > 0 {
		s.log.WithContext(ctx).WithField("orphaned", orphaned).
			Warn("pending tips have no payment intent; manual reconciliation required")
	}

	pending, err := s.tips.ListPendingTips(ctx, cutoff, s.cursor, s.opts.Batch)
	if err != nil {
		return Report{}, fmt.Errorf("list pending tips: %w", err)
	}
	if len(pending) < s.opts.Batch {
		s.cursor = storage.PendingCursor{}
	} else {
		last := pending[len(pending)-1]
		s.cursor = storage.PendingCursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}

	for _, t := range pending {
		if ctx.Err() != nil {
			break
		}
		report.Examined++
		outcome := s.sweepOne(ctx, t)
		switch outcome {
		case "settled":
			report.Settled++
		case "failed":
			report.Failed++
		case "error":
			report.Errors++
		default:
			report.Waiting++
		}
		metrics.RecordSweep(outcome)
	}

	if report.Examined > 0 {
		s.log.WithField("examined", report.Examined).WithField("settled", report.Settled).
			WithField("failed", report.Failed).WithField("orphaned", report.Orphaned).
			WithField("errors", report.Errors).Info("pending tip sweep finished")
	}
	return report, nil
}

func (s *Sweeper) sweepOne(ctx context.Context, t tip.Tip) string {
	entry := s.log.WithContext(ctx).WithField("tip_id", t.ID)
	intent, err := s.proc.GetIntent(ctx, t.PaymentIntentID)
	if err != nil {
		entry.WithError(err).Warn("payment intent lookup failed")
		return "error"
	}

	var outcome reconcile.Outcome
	var result string
	switch intent.Status {
	case processor.IntentSucceeded:
		outcome = s.applier.ApplyStatus(ctx, t, tip.StatusSucceeded, intent.ChargeID, "")
		result = "settled"
	case processor.IntentCanceled:
		outcome = s.applier.ApplyStatus(ctx, t, tip.StatusFailed, "", "Payment canceled")
		result = "failed"
	case processor.IntentRequiresPaymentMethod:
		reason := intent.FailureMsg
		if reason == "" {
			reason = "Payment failed"
		}
		outcome = s.applier.ApplyStatus(ctx, t, tip.StatusFailed, "", reason)
		result = "failed"
	default:
		return "waiting"
	}

	switch outcome {
	case reconcile.OutcomeApplied, reconcile.OutcomeNoop:
		return result
	case reconcile.OutcomeError:
		return "error"
	}
	// A webhook moved the tip somewhere this status cannot follow.
	return "waiting"
}
