package checkin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// moodIntensity is the intensity given to a mood word that no check-in
// reported as an explicit emotion.
const moodIntensity = 5

const maxEmotionRunes = 64

// AggregateDay folds the day's completed check-ins into the log's emotions
// and summary. Once the day has ended in the user's timezone, check-ins still
// scheduled for that day are skipped first. The log is marked completed only
// after the day has ended and every check-in is terminal.
//
// Emotions keep the maximum intensity per lower-cased name across the day.
func (s *Service) AggregateDay(ctx context.Context, userID uint64, date string) (*DailyLog, error) {
	date, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	var logID uint64
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loc, err := userLocation(tx, userID)
		if err != nil {
			return err
		}
		day, err := getOrCreateLog(tx, userID, date)
		if err != nil {
			return err
		}
		logID = day.ID

		end := dayEnd(date, loc)
		now := s.now()
		ended := !now.Before(end)

		if ended {
			swept, err := sweepStale(tx, day.ID, end, now)
			if err != nil {
				return err
			}
			if swept > 0 {
				s.log().Info("skipped stale check-ins",
					zap.Uint64("user_id", userID), zap.String("date", date), zap.Int64("count", swept))
			}
		}

		var rows []CheckIn
		if err := tx.Where("daily_log_id = ?", day.ID).Order("created_at asc, id asc").Find(&rows).Error; err != nil {
			return fmt.Errorf("load check-ins: %w", err)
		}

		f := newEmotionFold()
		var parts []string
		allTerminal := true
		for i := range rows {
			c := &rows[i]
			if !c.Status.Terminal() {
				allTerminal = false
			}
			if c.Status != StatusCompleted {
				continue
			}
			if c.Summary != nil && strings.TrimSpace(*c.Summary) != "" {
				parts = append(parts, fmt.Sprintf("**%s**: %s", c.Type.Label(), strings.TrimSpace(*c.Summary)))
			}
			in, err := c.DecodedInsights()
			if err != nil {
				s.log().Warn("skipping malformed insights",
					zap.String("checkin_id", c.ID), zap.String("date", date), zap.Error(err))
				continue
			}
			f.add(in)
		}

		if err := tx.Where("daily_log_id = ?", day.ID).Delete(&DailyLogEmotion{}).Error; err != nil {
			return fmt.Errorf("clear emotions: %w", err)
		}
		if emotions := f.rows(day.ID); len(emotions) > 0 {
			if err := tx.Create(&emotions).Error; err != nil {
				return fmt.Errorf("write emotions: %w", err)
			}
		}

		summary := "No check-ins were completed on this day."
		if len(parts) > 0 {
			summary = strings.Join(parts, "\n\n")
		}
		return tx.Model(&DailyLog{}).Where("id = ?", day.ID).Updates(map[string]any{
			"summary":              summary,
			"summary_generated_at": now,
			"is_completed":         ended && allTerminal,
			"updated_at":           now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.loadLog(ctx, logID)
}

// dayEnd is local midnight after date.
func dayEnd(date string, loc *time.Location) time.Time {
	start, _ := time.ParseInLocation(dateLayout, date, loc)
	return time.Date(start.Year(), start.Month(), start.Day()+1, 0, 0, 0, 0, loc)
}

// sweepStale skips check-ins of the log that are still scheduled for a time
// before dayEnd (or have no time). The status precondition is part of the
// update, so a check-in started concurrently is left alone.
func sweepStale(tx *gorm.DB, logID uint64, dayEnd, now time.Time) (int64, error) {
	res := tx.Model(&CheckIn{}).
		Where("daily_log_id = ? AND status = ? AND (scheduled_time IS NULL OR scheduled_time < ?)",
			logID, StatusScheduled, dayEnd.UTC()).
		Updates(map[string]any{
			"status":     StatusSkipped,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep stale check-ins: %w", res.Error)
	}
	return res.RowsAffected, nil
}

type emotionFold struct {
	explicit map[string]int
	moods    map[string]bool
}

func newEmotionFold() *emotionFold {
	return &emotionFold{explicit: map[string]int{}, moods: map[string]bool{}}
}

func normalizeEmotion(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if r := []rune(name); len(r) > maxEmotionRunes {
		name = string(r[:maxEmotionRunes])
	}
	return name
}

func (f *emotionFold) add(in *Insights) {
	if in == nil {
		return
	}
	for _, e := range in.Emotions {
		name := normalizeEmotion(e.Name)
		if name == "" {
			continue
		}
		if e.Intensity > f.explicit[name] {
			f.explicit[name] = e.Intensity
		}
	}
	if mood := normalizeEmotion(in.Mood); mood != "" {
		f.moods[mood] = true
	}
}

func (f *emotionFold) rows(logID uint64) []DailyLogEmotion {
	merged := make(map[string]int, len(f.explicit)+len(f.moods))
	for name, v := range f.explicit {
		merged[name] = v
	}
	for mood := range f.moods {
		if _, ok := merged[mood]; !ok {
			merged[mood] = moodIntensity
		}
	}
	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]DailyLogEmotion, 0, len(names))
	for _, name := range names {
		out = append(out, DailyLogEmotion{DailyLogID: logID, Emotion: name, Intensity: merged[name]})
	}
	return out
}
