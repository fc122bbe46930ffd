package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"wellcheck/internal/jobs"
)

// Notifier delivers a due check-in prompt to its user.
type Notifier interface {
	Notify(ctx context.Context, c *CheckIn) error
}

type notifyPayload struct {
	CheckInID string `json:"checkin_id"`
}

type aggregatePayload struct {
	Date string `json:"date"`
}

// JobHandlers returns the worker handlers for check-in jobs.
func (s *Service) JobHandlers(n Notifier) map[string]jobs.Handler {
	return map[string]jobs.Handler{
		jobs.TypeCheckInNotify: func(ctx context.Context, job *jobs.Job) error {
			var p notifyPayload
			if err := json.Unmarshal(job.Payload, &p); err != nil || p.CheckInID == "" {
				return fmt.Errorf("%w: bad payload", jobs.ErrPermanent)
			}
			c, err := s.Get(ctx, job.UserID, p.CheckInID)
			if errors.Is(err, ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if c.Status != StatusScheduled {
				// opened or dismissed before delivery
				s.log().Debug("notification dropped", zap.String("checkin_id", c.ID), zap.String("status", string(c.Status)))
				return nil
			}
			return n.Notify(ctx, c)
		},
		jobs.TypeDayAggregate: func(ctx context.Context, job *jobs.Job) error {
			var p aggregatePayload
			if err := json.Unmarshal(job.Payload, &p); err != nil {
				return fmt.Errorf("%w: bad payload", jobs.ErrPermanent)
			}
			if _, err := ParseDate(p.Date); err != nil {
				return fmt.Errorf("%w: %v", jobs.ErrPermanent, err)
			}
			_, err := s.AggregateDay(ctx, job.UserID, p.Date)
			return err
		},
	}
}
