package handler

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"wellcheck/internal/checkin"
)

type checkInDTO struct {
	ID             string                 `json:"id"`
	DailyLogID     uint64                 `json:"daily_log_id"`
	Type           checkin.Type           `json:"check_in_type"`
	Status         checkin.Status         `json:"status"`
	ScheduledTime  *time.Time             `json:"scheduled_time"`
	TriggerContext checkin.TriggerContext `json:"trigger_context"`
	ConversationID *string                `json:"conversation_id"`
	Insights       json.RawMessage        `json:"insights"`
	Summary        *string                `json:"summary"`
	ActionsTaken   []checkin.Action       `json:"actions_taken"`
	StartedAt      *time.Time             `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at"`
	CreatedAt      time.Time              `json:"created_at"`
}

func toCheckInDTO(c *checkin.CheckIn) checkInDTO {
	insights := json.RawMessage("null")
	if len(c.Insights) > 0 {
		insights = json.RawMessage(c.Insights)
	}
	actions := []checkin.Action(c.ActionsTaken)
	if actions == nil {
		actions = []checkin.Action{}
	}
	return checkInDTO{
		ID:             c.ID,
		DailyLogID:     c.DailyLogID,
		Type:           c.Type,
		Status:         c.Status,
		ScheduledTime:  c.ScheduledTime,
		TriggerContext: c.Trigger(),
		ConversationID: c.ConversationID,
		Insights:       insights,
		Summary:        c.Summary,
		ActionsTaken:   actions,
		StartedAt:      c.StartedAt,
		CompletedAt:    c.CompletedAt,
		CreatedAt:      c.CreatedAt,
	}
}

func toCheckInDTOs(rows []checkin.CheckIn) []checkInDTO {
	out := make([]checkInDTO, 0, len(rows))
	for i := range rows {
		out = append(out, toCheckInDTO(&rows[i]))
	}
	return out
}

type emotionDTO struct {
	Emotion   string `json:"emotion"`
	Intensity int    `json:"intensity"`
}

type dailyLogDTO struct {
	ID                 uint64       `json:"id"`
	Date               string       `json:"date"`
	IsCompleted        bool         `json:"is_completed"`
	Summary            *string      `json:"summary"`
	SummaryHTML        *string      `json:"summary_html"`
	SummaryGeneratedAt *time.Time   `json:"summary_generated_at"`
	CheckIns           []checkInDTO `json:"check_ins"`
	Emotions           []emotionDTO `json:"emotions"`
}

func toDailyLogDTO(l *checkin.DailyLog) dailyLogDTO {
	emotions := make([]emotionDTO, 0, len(l.Emotions))
	for _, e := range l.Emotions {
		emotions = append(emotions, emotionDTO{Emotion: e.Emotion, Intensity: e.Intensity})
	}
	out := dailyLogDTO{
		ID:                 l.ID,
		Date:               l.Date,
		IsCompleted:        l.IsCompleted,
		Summary:            l.Summary,
		SummaryGeneratedAt: l.SummaryGeneratedAt,
		CheckIns:           toCheckInDTOs(l.CheckIns),
		Emotions:           emotions,
	}
	if l.Summary != nil {
		if h, err := renderMarkdown(*l.Summary); err == nil {
			out.SummaryHTML = &h
		}
	}
	return out
}

var (
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM, extension.Linkify),
		goldmark.WithRendererOptions(html.WithHardWraps(), html.WithXHTML()),
	)
	ugc = bluemonday.UGCPolicy()
)

// renderMarkdown turns a daily summary into sanitized HTML.
func renderMarkdown(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	return ugc.Sanitize(buf.String()), nil
}

type scheduleDTO struct {
	Timezone             string  `json:"timezone"`
	NotificationsEnabled bool    `json:"notifications_enabled"`
	Morning              slotDTO `json:"morning"`
	Evening              slotDTO `json:"evening"`
}

type slotDTO struct {
	Weekday slotTimeDTO `json:"weekday"`
	Weekend slotTimeDTO `json:"weekend"`
}

type slotTimeDTO struct {
	Enabled bool   `json:"enabled"`
	Time    string `json:"time"`
}

func toScheduleDTO(sc checkin.Schedule) scheduleDTO {
	return scheduleDTO{
		Timezone:             sc.Timezone,
		NotificationsEnabled: sc.NotificationsEnabled,
		Morning: slotDTO{
			Weekday: slotTimeDTO{sc.MorningWeekdayEnabled, sc.MorningWeekdayTime},
			Weekend: slotTimeDTO{sc.MorningWeekendEnabled, sc.MorningWeekendTime},
		},
		Evening: slotDTO{
			Weekday: slotTimeDTO{sc.EveningWeekdayEnabled, sc.EveningWeekdayTime},
			Weekend: slotTimeDTO{sc.EveningWeekendEnabled, sc.EveningWeekendTime},
		},
	}
}

func (d scheduleDTO) toSchedule(userID uint64) checkin.Schedule {
	return checkin.Schedule{
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
