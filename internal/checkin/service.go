package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"wellcheck/internal/jobs"
)

const dateLayout = "2006-01-02"

// Service owns check-in and daily log state. All methods are safe for
// concurrent use; per-check-in serialization happens in the database.
type Service struct {
	DB  *gorm.DB
	Log *zap.Logger
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

// ParseDate validates a YYYY-MM-DD calendar date.
func ParseDate(date string) (string, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(date))
	if err != nil {
		return "", fmt.Errorf("%w: date must be YYYY-MM-DD", ErrInvalidPayload)
	}
	return t.Format(dateLayout), nil
}

// DayOf is the calendar date of t in loc.
func DayOf(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(dateLayout)
}

// userLocation resolves the user's timezone, falling back to UTC.
func userLocation(tx *gorm.DB, userID uint64) (*time.Location, error) {
	var sc Schedule
	err := tx.Select("user_id", "timezone").Where("user_id = ?", userID).First(&sc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.UTC, nil
	}
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(sc.Timezone)
	if err != nil {
		return time.UTC, nil
	}
	return loc, nil
}

// getOrCreateLog is idempotent under concurrency: the insert is a no-op on
// the (user_id, date) unique index and the row is read back.
func getOrCreateLog(tx *gorm.DB, userID uint64, date string) (*DailyLog, error) {
	l := DailyLog{UserID: userID, Date: date}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "date"}},
		DoNothing: true,
	}).Create(&l).Error; err != nil {
		return nil, fmt.Errorf("create daily log: %w", err)
	}
	var out DailyLog
	if err := tx.Where("user_id = ? AND date = ?", userID, date).First(&out).Error; err != nil {
		return nil, fmt.Errorf("reload daily log: %w", err)
	}
	return &out, nil
}

// GetOrCreateDailyLog returns the user's log for date (YYYY-MM-DD).
func (s *Service) GetOrCreateDailyLog(ctx context.Context, userID uint64, date string) (*DailyLog, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	l, err := getOrCreateLog(s.DB.WithContext(ctx), userID, date)
	if err != nil {
		return nil, err
	}
	return s.loadLog(ctx, l.ID)
}

// Today returns the user's log for the current day in their timezone.
func (s *Service) Today(ctx context.Context, userID uint64) (*DailyLog, error) {
	loc, err := userLocation(s.DB.WithContext(ctx), userID)
	if err != nil {
		return nil, err
	}
	return s.GetOrCreateDailyLog(ctx, userID, DayOf(s.now(), loc))
}

// GetDailyLog returns an existing log with its check-ins and emotions.
func (s *Service) GetDailyLog(ctx context.Context, userID uint64, date string) (*DailyLog, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	var l DailyLog
	if err := s.DB.WithContext(ctx).Where("user_id = ? AND date = ?", userID, date).First(&l).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return s.loadLog(ctx, l.ID)
}

func (s *Service) loadLog(ctx context.Context, id uint64) (*DailyLog, error) {
	var l DailyLog
	err := s.DB.WithContext(ctx).
		Preload("CheckIns", func(db *gorm.DB) *gorm.DB { return db.Order("created_at asc, id asc") }).
		Preload("Emotions", func(db *gorm.DB) *gorm.DB { return db.Order("intensity desc, emotion asc") }).
		First(&l, id).Error
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Get loads one check-in owned by userID.
func (s *Service) Get(ctx context.Context, userID uint64, id string) (*CheckIn, error) {
	return findOwned(s.DB.WithContext(ctx), userID, id)
}

func findOwned(tx *gorm.DB, userID uint64, id string) (*CheckIn, error) {
	var c CheckIn
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func findByID(tx *gorm.DB, id string) (*CheckIn, error) {
	var c CheckIn
	if err := tx.Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListDay returns the user's check-ins for date in creation order.
func (s *Service) ListDay(ctx context.Context, userID uint64, date string) ([]CheckIn, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	db := s.DB.WithContext(ctx)
	logIDs := db.Model(&DailyLog{}).Select("id").Where("user_id = ? AND date = ?", userID, date)
	var out []CheckIn
	err = db.Where("user_id = ? AND daily_log_id IN (?)", userID, logIDs).
		Order("created_at asc, id asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list check-ins: %w", err)
	}
	return out, nil
}

type newCheckIn struct {
	UserID        uint64
	Date          string
	Type          Type
	ScheduledTime *time.Time
	SlotKey       *string
	Trigger       TriggerContext
}

// insertCheckIn creates a scheduled check-in in the log for in.Date. With a
// SlotKey the insert is skipped when the slot already exists and created
// reports false.
func insertCheckIn(tx *gorm.DB, in newCheckIn) (c *CheckIn, created bool, err error) {
	l, err := getOrCreateLog(tx, in.UserID, in.Date)
	if err != nil {
		return nil, false, err
	}
	row := CheckIn{
		ID:             uuid.NewString(),
		UserID:         in.UserID,
		DailyLogID:     l.ID,
		Type:           in.Type,
		Status:         StatusScheduled,
		ScheduledTime:  in.ScheduledTime,
		SlotKey:        in.SlotKey,
		TriggerContext: datatypes.NewJSONType(in.Trigger),
		ActionsTaken:   datatypes.JSONSlice[Action]{},
	}
	q := tx
	if in.SlotKey != nil {
		q = q.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "slot_key"}}, DoNothing: true})
	}
	res := q.Create(&row)
	if res.Error != nil {
		return nil, false, fmt.Errorf("create check-in: %w", res.Error)
	}
	if res.RowsAffected == 1 && l.IsCompleted {
		// a completed day only holds terminal check-ins
		if err := tx.Model(&DailyLog{}).Where("id = ?", l.ID).Update("is_completed", false).Error; err != nil {
			return nil, false, fmt.Errorf("reopen daily log: %w", err)
		}
	}
	if res.RowsAffected == 0 {
		var existing CheckIn
		if err := tx.Where("slot_key = ?", *in.SlotKey).First(&existing).Error; err != nil {
			return nil, false, err
		}
		return &existing, false, nil
	}
	return &row, true, nil
}

// CreateAdhoc creates a user-requested check-in in today's log.
func (s *Service) CreateAdhoc(ctx context.Context, userID uint64, reason string) (*CheckIn, error) {
	var out *CheckIn
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loc, err := userLocation(tx, userID)
		if err != nil {
			return err
		}
		c, _, err := insertCheckIn(tx, newCheckIn{
			UserID: userID,
			Date:   DayOf(s.now(), loc),
			Type:   TypeAdhoc,
			Trigger: TriggerContext{
				Reason:    cleanText(reason),
				CreatedBy: CreatedByUser,
				Source:    "user_initiated",
			},
		})
		out = c
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log().Debug("adhoc check-in created", zap.Uint64("user_id", userID), zap.String("checkin_id", out.ID))
	return out, nil
}

// CompleteCheckIn drives in_progress -> completed, writing insights and
// summary in the same conditional update.
func (s *Service) CompleteCheckIn(ctx context.Context, userID uint64, id string, insights Insights, summary string) (*CheckIn, error) {
	var out *CheckIn
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findOwned(tx, userID, id)
		if err != nil {
			return err
		}
		out, err = s.complete(tx, c, insights, summary)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) complete(tx *gorm.DB, c *CheckIn, insights Insights, summary string) (*CheckIn, error) {
	if c.Status != StatusInProgress {
		return nil, ErrNotInProgress
	}
	insights.sanitize()
	if err := insights.Validate(); err != nil {
		return nil, err
	}
	raw, err := insights.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("%w: insights: %v", ErrInvalidPayload, err)
	}
	summary = cleanText(summary)
	now := s.now()

	ok, err := casStatus(tx, c.ID, StatusInProgress, StatusCompleted, now, map[string]any{
		"insights":     datatypes.JSON(raw),
		"summary":      summary,
		"completed_at": now,
	})
	if err != nil {
		return nil, fmt.Errorf("complete check-in: %w", err)
	}
	if !ok {
		return nil, ErrNotInProgress
	}
	if err := s.reaggregateEnded(tx, c, now); err != nil {
		return nil, err
	}
	s.log().Debug("check-in completed", zap.String("checkin_id", c.ID))
	return findByID(tx, c.ID)
}

// reaggregateEnded queues a fresh aggregation when a check-in completes after
// its day has ended, since the rollover pass may already have run.
func (s *Service) reaggregateEnded(tx *gorm.DB, c *CheckIn, now time.Time) error {
	var day DailyLog
	if err := tx.First(&day, c.DailyLogID).Error; err != nil {
		return fmt.Errorf("load daily log: %w", err)
	}
	loc, err := userLocation(tx, c.UserID)
	if err != nil {
		return err
	}
	if now.Before(dayEnd(day.Date, loc)) {
		return nil
	}
	key := fmt.Sprintf("aggregate:%d:%s:%s", c.UserID, day.Date, c.ID)
	if _, err := jobs.Enqueue(tx, c.UserID, jobs.TypeDayAggregate, key, aggregatePayload{Date: day.Date}, now); err != nil {
		return fmt.Errorf("enqueue aggregate: %w", err)
	}
	return nil
}

// SkipCheckIn dismisses a scheduled check-in.
func (s *Service) SkipCheckIn(ctx context.Context, userID uint64, id string) (*CheckIn, error) {
	var out *CheckIn
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := findOwned(tx, userID, id)
		if err != nil {
			return err
		}
		ok, err := casStatus(tx, c.ID, StatusScheduled, StatusSkipped, s.now(), nil)
		if err != nil {
			return fmt.Errorf("skip check-in: %w", err)
		}
		if !ok {
			cur, err := findByID(tx, c.ID)
			if err != nil {
				return err
			}
			return skipError(cur.Status)
		}
		out, err = findByID(tx, c.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.log().Debug("check-in skipped", zap.String("checkin_id", id))
	return out, nil
}

func skipError(cur Status) error {
	if cur.Terminal() {
		return ErrAlreadyTerminal
	}
	return ErrAlreadyStarted
}
