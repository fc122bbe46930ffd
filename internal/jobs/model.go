package jobs

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeCheckInNotify = "CHECKIN_NOTIFY"
	TypeDayAggregate  = "DAY_AGGREGATE"
)

const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusDone    = "DONE"
	StatusFailed  = "FAILED"
)

type Job struct {
	ID     uint64 `gorm:"primaryKey"`
	UserID uint64 `gorm:"index;not null"`

	Type    string         `gorm:"type:varchar(32);not null"` // CHECKIN_NOTIFY/DAY_AGGREGATE
	Payload datatypes.JSON `gorm:"not null"`

	// IdempotencyKey makes enqueueing the same logical job a no-op.
	IdempotencyKey *string `gorm:"type:varchar(128);uniqueIndex"`

	RunAt  time.Time `gorm:"index;not null"`
	Status string    `gorm:"type:varchar(16);index;not null;default:'PENDING'"`

	Attempts    int `gorm:"not null;default:0"`
	MaxAttempts int `gorm:"not null;default:8"`

	LockedBy *string `gorm:"type:varchar(64)"`
	LockedAt *time.Time

	LastError *string `gorm:"type:text"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}
