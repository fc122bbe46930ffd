package checkin

import (
	"time"

	"gorm.io/gorm"
)

// Status is the lifecycle state of a check-in.
type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// transitions lists every legal edge. There is no edge out of a terminal state.
var transitions = map[Status][]Status{
	StatusScheduled:  {StatusInProgress, StatusSkipped},
	StatusInProgress: {StatusCompleted},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// casStatus moves one check-in from -> to in a single conditional UPDATE.
// It reports false when the row was not in status from, which is how the
// loser of a race finds out.
func casStatus(tx *gorm.DB, id string, from, to Status, now time.Time, fields map[string]any) (bool, error) {
	if !CanTransition(from, to) {
		return false, nil
	}
	updates := map[string]any{
		"status":     to,
		"version":    gorm.Expr("version + 1"),
		"updated_at": now,
	}
	for k, v := range fields {
		updates[k] = v
	}
	res := tx.Model(&CheckIn{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
