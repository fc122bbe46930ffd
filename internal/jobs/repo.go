package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// stuckAfter is how long a RUNNING job may hold its lock before it is requeued.
const stuckAfter = 5 * time.Minute

type Repo struct {
	DB *gorm.DB
}

// Enqueue inserts a job using tx so it commits with the caller's writes. A
// non-empty key that was already used makes this a no-op; enqueued reports
// whether a row was written.
func Enqueue(tx *gorm.DB, userID uint64, typ, key string, payload any, runAt time.Time) (enqueued bool, err error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return false, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	j := Job{
		UserID:      userID,
		Type:        typ,
		Payload:     b,
		RunAt:       runAt.UTC(),
		Status:      StatusPending,
		MaxAttempts: 8,
	}
	q := tx
	if key != "" {
		j.IdempotencyKey = &key
		q = q.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "idempotency_key"}}, DoNothing: true})
	}
	res := q.Create(&j)
	if res.Error != nil {
		return false, fmt.Errorf("enqueue %s: %w", typ, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Claim one due job atomically. Postgres uses SKIP LOCKED; other dialects
// fall back to a conditional update on status.
func (r *Repo) Claim(workerID string, now time.Time) (*Job, error) {
	now = now.UTC()
	var job Job
	err := r.DB.Transaction(func(tx *gorm.DB) error {
		// requeue stuck RUNNING jobs
		if err := tx.Model(&Job{}).
			Where("status = ? AND locked_at IS NOT NULL AND locked_at < ?", StatusRunning, now.Add(-stuckAfter)).
			Updates(map[string]any{"status": StatusPending, "locked_by": nil, "locked_at": nil, "updated_at": now}).Error; err != nil {
			return err
		}

		if tx.Dialector.Name() == "postgres" {
			// FOR UPDATE SKIP LOCKED ensures no double-claim
			return tx.Raw(`
with cte as (
  select id
  from jobs
  where status='PENDING' and run_at <= ?
  order by run_at asc
  for update skip locked
  limit 1
)
update jobs
set status='RUNNING', locked_by=?, locked_at=?, updated_at=?
where id in (select id from cte)
returning *;
`, now, workerID, now, now).Scan(&job).Error
		}

		var cand Job
		err := tx.Where("status = ? AND run_at <= ?", StatusPending, now).
			Order("run_at asc, id asc").
			First(&cand).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		res := tx.Model(&Job{}).
			Where("id = ? AND status = ?", cand.ID, StatusPending).
			Updates(map[string]any{"status": StatusRunning, "locked_by": workerID, "locked_at": now, "updated_at": now})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		return tx.First(&job, cand.ID).Error
	})
	if err != nil {
		return nil, err
	}
	if job.ID == 0 {
		return nil, nil
	}
	return &job, nil
}

func (r *Repo) MarkDone(id uint64) error {
	return r.DB.Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusDone, "updated_at": time.Now().UTC()}).Error
}

func (r *Repo) MarkFailed(id uint64, errMsg string) error {
	return r.DB.Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{"status": StatusFailed, "last_error": errMsg, "updated_at": time.Now().UTC()}).Error
}

func (r *Repo) RetryLater(id uint64, attempts int, runAt time.Time, errMsg string) error {
	return r.DB.Model(&Job{}).Where("id = ?", id).
		Updates(map[string]any{
			"status":     StatusPending,
			"attempts":   attempts,
			"run_at":     runAt.UTC(),
			"locked_by":  nil,
			"locked_at":  nil,
			"last_error": errMsg,
			"updated_at": time.Now().UTC(),
		}).Error
}
