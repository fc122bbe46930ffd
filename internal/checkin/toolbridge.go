package checkin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ToolCall identifies the agent session making a Tool Bridge call. The
// conversation is mandatory; CheckInID may be empty, in which case the call
// targets the check-in bound to the conversation.
type ToolCall struct {
	UserID         uint64
	ConversationID string
	CheckInID      string
}

// FollowupInput is the payload of create_followup.
type FollowupInput struct {
	At      time.Time
	Reason  string
	Context string
}

var errVersionConflict = errors.New("actions version conflict")

// activeCheckIn resolves the call's check-in and checks it is in progress
// and bound to the calling conversation.
func activeCheckIn(tx *gorm.DB, call ToolCall) (*CheckIn, error) {
	convID := strings.TrimSpace(call.ConversationID)
	if convID == "" {
		return nil, ErrNotBound
	}
	var (
		c   *CheckIn
		err error
	)
	if call.CheckInID != "" {
		c, err = findOwned(tx, call.UserID, call.CheckInID)
	} else {
		var row CheckIn
		err = tx.Where("conversation_id = ? AND user_id = ?", convID, call.UserID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrNotBound
		}
		c = &row
	}
	if err != nil {
		return nil, err
	}
	if c.Status != StatusInProgress {
		return nil, ErrCheckInNotActive
	}
	if c.ConversationID == nil || *c.ConversationID != convID {
		return nil, ErrNotBound
	}
	return c, nil
}

// appendAction appends to actions_taken guarded by status and version, so an
// action can never land on a check-in that has left in_progress and no
// concurrent append is lost.
func appendAction(tx *gorm.DB, c *CheckIn, a Action, now time.Time) error {
	actions := make(datatypes.JSONSlice[Action], 0, len(c.ActionsTaken)+1)
	actions = append(actions, c.ActionsTaken...)
	actions = append(actions, a)

	res := tx.Model(&CheckIn{}).
		Where("id = ? AND status = ? AND version = ?", c.ID, StatusInProgress, c.Version).
		Updates(map[string]any{
			"actions_taken": actions,
			"version":       gorm.Expr("version + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return fmt.Errorf("append action: %w", res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}
	cur, err := findByID(tx, c.ID)
	if err != nil {
		return err
	}
	if cur.Status != StatusInProgress {
		return ErrCheckInNotActive
	}
	return errVersionConflict
}

// retryOnConflict reruns fn when a concurrent append bumped the version
// underneath it. Status violations are returned as-is.
func (s *Service) retryOnConflict(ctx context.Context, fn func(tx *gorm.DB) error) error {
	const attempts = 5
	var err error
	for i := 0; i < attempts; i++ {
		err = s.DB.WithContext(ctx).Transaction(fn)
		if !errors.Is(err, errVersionConflict) {
			return err
		}
	}
	return fmt.Errorf("append action: gave up after %d attempts: %w", attempts, err)
}

// CreateFollowup schedules a new check-in on behalf of the agent and records
// a create_reminder action on the calling check-in. It returns the new id.
func (s *Service) CreateFollowup(ctx context.Context, call ToolCall, in FollowupInput) (string, error) {
	reason := cleanText(in.Reason)
	if reason == "" {
		return "", fmt.Errorf("%w: reason required", ErrInvalidPayload)
	}
	if in.At.IsZero() {
		return "", fmt.Errorf("%w: time required", ErrInvalidPayload)
	}
	if in.At.Before(s.now()) {
		return "", fmt.Errorf("%w: follow-up time is in the past", ErrInvalidPayload)
	}
	evt := cleanText(in.Context)

	var newID, parentID string
	err := s.retryOnConflict(ctx, func(tx *gorm.DB) error {
		cur, err := activeCheckIn(tx, call)
		if err != nil {
			return err
		}
		parentID = cur.ID
		var day DailyLog
		if err := tx.First(&day, cur.DailyLogID).Error; err != nil {
			return fmt.Errorf("load daily log: %w", err)
		}
		sched, loc, err := loadSchedule(tx, cur.UserID)
		if err != nil {
			return err
		}

		at := in.At.UTC()
		typ, date := followupSlot(sched, loc, day.Date, at)
		created, _, err := insertCheckIn(tx, newCheckIn{
			UserID:        cur.UserID,
			Date:          date,
			Type:          typ,
			ScheduledTime: &at,
			Trigger: TriggerContext{
				Reason:      reason,
				Event:       evt,
				MentionedIn: cur.ID,
				CreatedBy:   CreatedByAgent,
			},
		})
		if err != nil {
			return err
		}

		if err := appendAction(tx, cur, Action{
			Name:      ActionCreateReminder,
			Timestamp: s.now().UTC(),
			Reminder: &ReminderAction{
				CheckInID:     created.ID,
				CheckInType:   typ,
				ScheduledTime: at,
				Reason:        reason,
				Context:       evt,
			},
		}, s.now()); err != nil {
			return err
		}
		newID = created.ID
		return nil
	})
	if err != nil {
		return "", err
	}
	s.log().Debug("follow-up created",
		zap.String("checkin_id", newID),
		zap.String("mentioned_in", parentID),
		zap.Time("scheduled_time", in.At))
	return newID, nil
}

// followupSlot picks midday when at falls on the current check-in's local day
// before that day's evening slot; anything else is adhoc on at's local day.
func followupSlot(sched Schedule, loc *time.Location, currentDate string, at time.Time) (Type, string) {
	date := DayOf(at, loc)
	if date != currentDate {
		return TypeAdhoc, date
	}
	evening := eveningCutoff(sched, at.In(loc))
	if at.In(loc).Before(evening) {
		return TypeMidday, date
	}
	return TypeAdhoc, date
}

// RecordAction appends an arbitrary tool action to the calling check-in.
func (s *Service) RecordAction(ctx context.Context, call ToolCall, name string, params map[string]any) error {
	name = strings.TrimSpace(name)
	if err := validateActionName(name); err != nil {
		return err
	}
	if err := validateParams(params); err != nil {
		return err
	}
	return s.retryOnConflict(ctx, func(tx *gorm.DB) error {
		cur, err := activeCheckIn(tx, call)
		if err != nil {
			return err
		}
		now := s.now()
		return appendAction(tx, cur, Action{
			Name:      name,
			Timestamp: now.UTC(),
			Params:    params,
		}, now)
	})
}

// Complete is the agent-facing completion: the same transition as
// CompleteCheckIn, gated on the calling conversation.
func (s *Service) Complete(ctx context.Context, call ToolCall, insights Insights, summary string) (*CheckIn, error) {
	var out *CheckIn
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, err := activeCheckIn(tx, call)
		if err != nil {
			return err
		}
		out, err = s.complete(tx, cur, insights, summary)
		if errors.Is(err, ErrNotInProgress) {
			return ErrCheckInNotActive
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseFollowupTime accepts RFC3339 or a local "HH:MM" on the given day.
func ParseFollowupTime(raw, date string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	clock, err := parseClock(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time must be RFC3339 or HH:MM", ErrInvalidPayload)
	}
	day, err := time.ParseInLocation(dateLayout, date, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad date %q", ErrInvalidPayload, date)
	}
	return time.Date(day.Year(), day.Month(), day.Day(), clock.hour, clock.minute, 0, 0, loc), nil
}

// FollowupLocation returns the calling check-in's day and the user's timezone,
// used to resolve "HH:MM" follow-up times.
func (s *Service) FollowupLocation(ctx context.Context, call ToolCall) (string, *time.Location, error) {
	db := s.DB.WithContext(ctx)
	cur, err := activeCheckIn(db, call)
	if err != nil {
		return "", nil, err
	}
	var day DailyLog
	if err := db.First(&day, cur.DailyLogID).Error; err != nil {
		return "", nil, err
	}
	loc, err := userLocation(db, cur.UserID)
	if err != nil {
		return "", nil, err
	}
	return day.Date, loc, nil
}
