package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"wellcheck/internal/config"
	"wellcheck/internal/jobs"
)

// dueWindow bounds how far back ScheduleDue reports due check-ins.
const dueWindow = 24 * time.Hour

type clock struct{ hour, minute int }

func parseClock(s string) (clock, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return clock{}, err
	}
	return clock{t.Hour(), t.Minute()}, nil
}

// NewSchedule builds a user's schedule from configured defaults.
func NewSchedule(userID uint64, d config.ScheduleDefaults) Schedule {
	return Schedule{
		UserID:                userID,
		Timezone:              d.Timezone,
		NotificationsEnabled:  d.NotificationsEnabled,
		MorningWeekdayEnabled: d.Morning.Weekday.Enabled,
		MorningWeekdayTime:    d.Morning.Weekday.Time,
		MorningWeekendEnabled: d.Morning.Weekend.Enabled,
		MorningWeekendTime:    d.Morning.Weekend.Time,
		EveningWeekdayEnabled: d.Evening.Weekday.Enabled,
		EveningWeekdayTime:    d.Evening.Weekday.Time,
		EveningWeekendEnabled: d.Evening.Weekend.Enabled,
		EveningWeekendTime:    d.Evening.Weekend.Time,
	}
}

// Location is the schedule's timezone, UTC when unset or unknown.
func (sc Schedule) Location() *time.Location {
	if sc.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (sc Schedule) Validate() error {
	if _, err := time.LoadLocation(sc.Timezone); err != nil || sc.Timezone == "" {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidPayload, sc.Timezone)
	}
	for _, v := range []string{sc.MorningWeekdayTime, sc.MorningWeekendTime, sc.EveningWeekdayTime, sc.EveningWeekendTime} {
		if _, err := parseClock(v); err != nil {
			return fmt.Errorf("%w: time %q must be HH:MM", ErrInvalidPayload, v)
		}
	}
	return nil
}

func (sc Schedule) slot(t Type, weekend bool) (bool, string) {
	switch {
	case t == TypeMorning && weekend:
		return sc.MorningWeekendEnabled, sc.MorningWeekendTime
	case t == TypeMorning:
		return sc.MorningWeekdayEnabled, sc.MorningWeekdayTime
	case t == TypeEvening && weekend:
		return sc.EveningWeekendEnabled, sc.EveningWeekendTime
	case t == TypeEvening:
		return sc.EveningWeekdayEnabled, sc.EveningWeekdayTime
	}
	return false, ""
}

func isWeekend(local time.Time) bool {
	wd := local.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func atClock(local time.Time, c clock) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), c.hour, c.minute, 0, 0, local.Location())
}

// Slot is one scheduler-owned check-in instance.
type Slot struct {
	Type Type
	Date string
	At   time.Time
}

// DueSlots returns the morning and evening slots of now's local day whose
// trigger instant has been reached. It does not touch storage.
func DueSlots(sc Schedule, now time.Time) []Slot {
	loc := sc.Location()
	local := now.In(loc)
	weekend := isWeekend(local)

	var out []Slot
	for _, t := range []Type{TypeMorning, TypeEvening} {
		enabled, hhmm := sc.slot(t, weekend)
		if !enabled {
			continue
		}
		c, err := parseClock(hhmm)
		if err != nil {
			continue
		}
		at := atClock(local, c)
		if at.After(now) {
			continue
		}
		out = append(out, Slot{Type: t, Date: local.Format(dateLayout), At: at.UTC()})
	}
	return out
}

// eveningCutoff is the evening slot instant on local's day, whether or not
// the slot is enabled.
func eveningCutoff(sc Schedule, local time.Time) time.Time {
	_, hhmm := sc.slot(TypeEvening, isWeekend(local))
	c, err := parseClock(hhmm)
	if err != nil {
		c = clock{hour: 21}
	}
	return atClock(local, c)
}

func slotKey(userID uint64, t Type, date string) string {
	return fmt.Sprintf("%d:%s:%s", userID, t, date)
}

// loadSchedule returns the user's schedule, or the built-in defaults when
// none is stored.
func loadSchedule(tx *gorm.DB, userID uint64) (Schedule, *time.Location, error) {
	var sc Schedule
	err := tx.Where("user_id = ?", userID).First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		sc = NewSchedule(userID, config.BuiltinDefaults())
		return sc, sc.Location(), nil
	}
	if err != nil {
		return Schedule{}, nil, fmt.Errorf("load schedule: %w", err)
	}
	return sc, sc.Location(), nil
}

// ScheduleDue materializes the user's due morning/evening check-ins for the
// current local day and returns every check-in that is due: scheduled, not
// started, and scheduled_time in (now-24h, now]. Safe to call repeatedly.
func (s *Service) ScheduleDue(ctx context.Context, userID uint64, now time.Time) ([]CheckIn, error) {
	now = now.UTC()
	var out []CheckIn
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sc Schedule
		err := tx.Where("user_id = ?", userID).First(&sc).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load schedule: %w", err)
		}

		for _, slot := range DueSlots(sc, now) {
			key := slotKey(userID, slot.Type, slot.Date)
			at := slot.At
			c, created, err := insertCheckIn(tx, newCheckIn{
				UserID:        userID,
				Date:          slot.Date,
				Type:          slot.Type,
				ScheduledTime: &at,
				SlotKey:       &key,
				Trigger: TriggerContext{
					Reason:    "scheduled " + string(slot.Type) + " check-in",
					CreatedBy: CreatedByScheduler,
					Source:    "schedule",
				},
			})
			if err != nil {
				return err
			}
			if created {
				s.log().Debug("check-in scheduled",
					zap.Uint64("user_id", userID),
					zap.String("checkin_id", c.ID),
					zap.String("type", string(slot.Type)),
					zap.String("date", slot.Date))
			}
		}

		return tx.Where("user_id = ? AND status = ? AND scheduled_time IS NOT NULL AND scheduled_time <= ? AND scheduled_time > ?",
			userID, StatusScheduled, now, now.Add(-dueWindow)).
			Order("scheduled_time asc, id asc").
			Find(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkNotified claims delivery of a due check-in and enqueues its
// notification job. It reports false when the check-in was already notified
// or is no longer scheduled.
func (s *Service) MarkNotified(ctx context.Context, c *CheckIn) (bool, error) {
	var claimed bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		res := tx.Model(&CheckIn{}).
			Where("id = ? AND status = ? AND notified_at IS NULL", c.ID, StatusScheduled).
			Updates(map[string]any{"notified_at": now, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("mark notified: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if _, err := jobs.Enqueue(tx, c.UserID, jobs.TypeCheckInNotify, "notify:"+c.ID, notifyPayload{CheckInID: c.ID}, now); err != nil {
			return err
		}
		claimed = true
		return nil
	})
	return claimed, err
}

// GetSchedule returns the stored schedule or the built-in defaults.
func (s *Service) GetSchedule(ctx context.Context, userID uint64) (Schedule, error) {
	sc, _, err := loadSchedule(s.DB.WithContext(ctx), userID)
	return sc, err
}

// PutSchedule validates and stores a user's schedule.
func (s *Service) PutSchedule(ctx context.Context, sc Schedule) (Schedule, error) {
	if err := sc.Validate(); err != nil {
		return Schedule{}, err
	}
	sc.UpdatedAt = s.now()
	if err := s.DB.WithContext(ctx).Save(&sc).Error; err != nil {
		return Schedule{}, fmt.Errorf("save schedule: %w", err)
	}
	return sc, nil
}

// EnsureSchedule creates a schedule from defaults if the user has none.
func EnsureSchedule(tx *gorm.DB, userID uint64, d config.ScheduleDefaults) error {
	var n int64
	if err := tx.Model(&Schedule{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	sc := NewSchedule(userID, d)
	return tx.Create(&sc).Error
}

// Scheduler runs the recurring tick over every user with a schedule.
type Scheduler struct {
	Service *Service
	// Concurrency caps users ticked in parallel; zero means 8.
	Concurrency int
	Log         *zap.Logger
}

type TickStats struct {
	Users    int
	Due      int64
	Notified int64
	Rollover int64
	Failed   int64
}

func (sch *Scheduler) log() *zap.Logger {
	if sch.Log == nil {
		return zap.NewNop()
	}
	return sch.Log
}

// Tick runs one scheduling pass at now. A failing user is logged and does
// not stop the others.
func (sch *Scheduler) Tick(ctx context.Context, now time.Time) (TickStats, error) {
	var schedules []Schedule
	if err := sch.Service.DB.WithContext(ctx).Order("user_id asc").Find(&schedules).Error; err != nil {
		return TickStats{}, fmt.Errorf("list schedules: %w", err)
	}

	limit := sch.Concurrency
	if limit <= 0 {
		limit = 8
	}
	var due, notified, rollover, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, sc := range schedules {
		g.Go(func() error {
			st, err := sch.tickUser(gctx, sc, now)
			due.Add(st.Due)
			notified.Add(st.Notified)
			rollover.Add(st.Rollover)
			if err != nil {
				failed.Add(1)
				sch.log().Error("scheduler tick failed for user", zap.Uint64("user_id", sc.UserID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	st := TickStats{
		Users:    len(schedules),
		Due:      due.Load(),
		Notified: notified.Load(),
		Rollover: rollover.Load(),
		Failed:   failed.Load(),
	}
	sch.log().Info("scheduler tick",
		zap.Int("users", st.Users),
		zap.Int64("due", st.Due),
		zap.Int64("notified", st.Notified),
		zap.Int64("rollover", st.Rollover),
		zap.Int64("failed", st.Failed))
	return st, ctx.Err()
}

// Run ticks every interval until ctx is done.
func (sch *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := sch.Tick(ctx, sch.Service.now()); err != nil && ctx.Err() == nil {
				sch.log().Error("scheduler tick error", zap.Error(err))
			}
		}
	}
}

func (sch *Scheduler) tickUser(ctx context.Context, sc Schedule, now time.Time) (TickStats, error) {
	var st TickStats
	due, err := sch.Service.ScheduleDue(ctx, sc.UserID, now)
	if err != nil {
		return st, err
	}
	st.Due = int64(len(due))

	if sc.NotificationsEnabled {
		for i := range due {
			ok, err := sch.Service.MarkNotified(ctx, &due[i])
			if err != nil {
				return st, err
			}
			if ok {
				st.Notified++
			}
		}
	}

	ok, err := sch.Service.enqueueRollover(ctx, sc, now)
	if err != nil {
		return st, err
	}
	if ok {
		st.Rollover++
	}
	return st, nil
}

// enqueueRollover queues aggregation of the user's previous local day once,
// if that day has a log that is not completed yet.
func (s *Service) enqueueRollover(ctx context.Context, sc Schedule, now time.Time) (bool, error) {
	local := now.In(sc.Location())
	prev := time.Date(local.Year(), local.Month(), local.Day()-1, 12, 0, 0, 0, local.Location()).Format(dateLayout)

	var enqueued bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var l DailyLog
		err := tx.Where("user_id = ? AND date = ?", sc.UserID, prev).First(&l).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if l.IsCompleted {
			return nil
		}
		key := fmt.Sprintf("aggregate:%d:%s", sc.UserID, prev)
		enqueued, err = jobs.Enqueue(tx, sc.UserID, jobs.TypeDayAggregate, key, aggregatePayload{Date: prev}, now)
		return err
	})
	return enqueued, err
}
