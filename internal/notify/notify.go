package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"wellcheck/internal/checkin"
)

// Prompt is what the user sees for a due check-in.
type Prompt struct {
	UserID    uint64       `json:"user_id"`
	CheckInID string       `json:"checkin_id"`
	Type      checkin.Type `json:"check_in_type"`
	Title     string       `json:"title"`
	Body      string       `json:"body"`
	URL       string       `json:"url"`
}

// BuildPrompt renders the notification for c.
func BuildPrompt(c *checkin.CheckIn) Prompt {
	p := Prompt{
		UserID:    c.UserID,
		CheckInID: c.ID,
		Type:      c.Type,
		URL:       "/chat?checkin_id=" + url.QueryEscape(c.ID),
	}
	switch c.Type {
	case checkin.TypeMorning:
		p.Title = "Good morning!"
		p.Body = "Time for your morning check-in. How are you feeling today?"
	case checkin.TypeMidday:
		p.Title = "Quick check-in"
		p.Body = "How are things going?"
		if r := c.Trigger().Reason; r != "" {
			p.Body = r
		}
	case checkin.TypeEvening:
		p.Title = "Evening reflection"
		p.Body = "How did your day go? Let's reflect together."
	default:
		p.Title = "Check-in"
		p.Body = "Time for a check-in!"
	}
	return p
}

// LogNotifier writes prompts to the log. It is used when no delivery
// channel is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) Notify(ctx context.Context, c *checkin.CheckIn) error {
	p := BuildPrompt(c)
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Info("check-in due",
		zap.Uint64("user_id", p.UserID),
		zap.String("checkin_id", p.CheckInID),
		zap.String("type", string(p.Type)),
		zap.String("title", p.Title),
		zap.String("url", p.URL))
	return nil
}

// PGNotifier publishes prompts as JSON on a postgres NOTIFY channel.
type PGNotifier struct {
	DB      *gorm.DB
	Channel string
}

func (n *PGNotifier) Notify(ctx context.Context, c *checkin.CheckIn) error {
	b, err := json.Marshal(BuildPrompt(c))
	if err != nil {
		return err
	}
	if err := n.DB.WithContext(ctx).Exec("select pg_notify(?, ?)", n.Channel, string(b)).Error; err != nil {
		return fmt.Errorf("pg_notify %s: %w", n.Channel, err)
	}
	return nil
}

// ForDB picks the notifier for the connected database.
func ForDB(gdb *gorm.DB, channel string, log *zap.Logger) checkin.Notifier {
	if gdb.Dialector.Name() == "postgres" {
		return &PGNotifier{DB: gdb, Channel: channel}
	}
	return &LogNotifier{Log: log}
}
