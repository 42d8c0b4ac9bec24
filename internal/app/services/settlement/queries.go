package settlement

import (
	"context"
	"time"

	"github.com/R3E-Network/tip_settlement/internal/app/domain/tip"
	svcerrors "github.com/R3E-Network/tip_settlement/internal/errors"
)

// ReceivedOn lists tips received by receiverID on a local calendar date.
// An empty date means today in timezone.
func (s *Service) ReceivedOn(ctx context.Context, receiverID, date, timezone string) ([]tip.Tip, error) {
	loc, err := s.location(timezone)
	if err != nil {
		return nil, err
	}
	if date == "" {
		date = s.opts.Now().In(loc).Format(tip.LocalDateLayout)
	} else if _, err := time.Parse(tip.LocalDateLayout, date); err != nil {
		return nil, svcerrors.BadRequest("Invalid date, expected YYYY-MM-DD")
	}

	tips, err := s.tips.ListTipsReceivedOn(ctx, receiverID, date)
	if err != nil {
		return nil, svcerrors.Internal("Failed to list received tips", err)
	}
	return tips, nil
}

// SentBetween lists tips sent by senderID with local dates in [start, end].
// Missing bounds default to the first of the current month and today.
func (s *Service) SentBetween(ctx context.Context, senderID, start, end, timezone string) ([]tip.Tip, error) {
	loc, err := s.location(timezone)
	if err != nil {
		return nil, err
	}
	today := s.opts.Now().In(loc)
	if start == "" {
		start = time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc).Format(tip.LocalDateLayout)
	}
	if end == "" {
		end = today.Format(tip.LocalDateLayout)
	}

	from, err := time.Parse(tip.LocalDateLayout, start)
	if err != nil {
		return nil, svcerrors.BadRequest("Invalid start date, expected YYYY-MM-DD")
	}
	to, err := time.Parse(tip.LocalDateLayout, end)
	if err != nil {
		return nil, svcerrors.BadRequest("Invalid end date, expected YYYY-MM-DD")
	}
	if from.After(to) {
		return nil, svcerrors.BadRequest("Start date must not be after end date")
	}

	tips, err := s.tips.ListTipsSentBetween(ctx, senderID, start, end)
	if err != nil {
		return nil, svcerrors.Internal("Failed to list sent tips", err)
	}
	return tips, nil
}
