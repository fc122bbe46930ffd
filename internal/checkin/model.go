package checkin

import (
	"time"

	"gorm.io/datatypes"
)

// Type is the kind of check-in.
type Type string

const (
	TypeMorning Type = "morning"
	TypeMidday  Type = "midday"
	TypeEvening Type = "evening"
	TypeAdhoc   Type = "adhoc"
)

func (t Type) Valid() bool {
	switch t {
	case TypeMorning, TypeMidday, TypeEvening, TypeAdhoc:
		return true
	}
	return false
}

// Label is the display name used in titles, summaries and prompts.
func (t Type) Label() string {
	switch t {
	case TypeMorning:
		return "Morning Catch-up"
	case TypeMidday:
		return "Midday Check-in"
	case TypeEvening:
		return "Evening Reflection"
	default:
		return "Ad-hoc Check-in"
	}
}

// DailyLog is the per-user per-day container. (user_id, date) is unique.
type DailyLog struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID uint64 `gorm:"not null;uniqueIndex:uq_daily_logs_user_date"`
	// Date is the local calendar day as YYYY-MM-DD.
	Date string `gorm:"type:varchar(10);not null;uniqueIndex:uq_daily_logs_user_date"`

	IsCompleted        bool    `gorm:"not null;default:false"`
	Summary            *string `gorm:"type:text"`
	SummaryGeneratedAt *time.Time

	CheckIns []CheckIn         `gorm:"foreignKey:DailyLogID"`
	Emotions []DailyLogEmotion `gorm:"foreignKey:DailyLogID"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// DailyLogEmotion is one emotion's intensity for a day, written by the aggregator.
type DailyLogEmotion struct {
	ID         uint64 `gorm:"primaryKey"`
	DailyLogID uint64 `gorm:"not null;uniqueIndex:uq_daily_log_emotion"`
	Emotion    string `gorm:"type:varchar(64);not null;uniqueIndex:uq_daily_log_emotion"`
	Intensity  int    `gorm:"not null"`
	CreatedAt  time.Time
}

// CheckIn is one scheduled or ad-hoc session.
//
// Status only moves scheduled -> in_progress -> completed or
// scheduled -> skipped. Every status write goes through a conditional
// UPDATE on the expected current status (see state.go); Version guards the
// read-modify-write of ActionsTaken.
type CheckIn struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	UserID     uint64 `gorm:"index;not null"`
	DailyLogID uint64 `gorm:"index:idx_check_ins_log_type;not null"`
	Type       Type   `gorm:"column:check_in_type;type:varchar(16);index:idx_check_ins_log_type;not null"`
	Status     Status `gorm:"type:varchar(16);index;not null;default:'scheduled'"`

	ScheduledTime *time.Time `gorm:"index"`
	// SlotKey is set for scheduler-created check-ins only and makes
	// (user, type, date) unique for them.
	SlotKey *string `gorm:"type:varchar(64);uniqueIndex"`

	TriggerContext datatypes.JSONType[TriggerContext] `gorm:"not null"`
	ConversationID *string                            `gorm:"type:varchar(36);uniqueIndex"`

	Insights     datatypes.JSON
	Summary      *string                     `gorm:"type:text"`
	ActionsTaken datatypes.JSONSlice[Action] `gorm:"not null"`

	NotifiedAt  *time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time

	Version   uint64    `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (CheckIn) TableName() string { return "check_ins" }

// DecodedInsights parses the stored insights. It returns nil, nil when the
// check-in has none.
func (c *CheckIn) DecodedInsights() (*Insights, error) {
	if len(c.Insights) == 0 || string(c.Insights) == "null" {
		return nil, nil
	}
	var in Insights
	if err := in.UnmarshalJSON(c.Insights); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}
	return &in, nil
}

// Trigger returns the trigger context.
func (c *CheckIn) Trigger() TriggerContext {
	return c.TriggerContext.Data()
}

// Schedule is a user's check-in configuration.
type Schedule struct {
	UserID               uint64 `gorm:"primaryKey;autoIncrement:false"`
	Timezone             string `gorm:"type:varchar(64);not null;default:'UTC'"`
	NotificationsEnabled bool   `gorm:"not null;default:true"`

	MorningWeekdayEnabled bool   `gorm:"not null"`
	MorningWeekdayTime    string `gorm:"type:varchar(5);not null"`
	MorningWeekendEnabled bool   `gorm:"not null"`
	MorningWeekendTime    string `gorm:"type:varchar(5);not null"`
	EveningWeekdayEnabled bool   `gorm:"not null"`
	EveningWeekdayTime    string `gorm:"type:varchar(5);not null"`
	EveningWeekendEnabled bool   `gorm:"not null"`
	EveningWeekendTime    string `gorm:"type:varchar(5);not null"`

	UpdatedAt time.Time `gorm:"not null"`
}

func (Schedule) TableName() string { return "checkin_schedules" }
