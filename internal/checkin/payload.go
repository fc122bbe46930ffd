package checkin

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
)

// Creator records who created a check-in.
type Creator string

const (
	CreatedByScheduler Creator = "scheduler"
	CreatedByAgent     Creator = "agent"
	CreatedByUser      Creator = "user"
)

// TriggerContext explains why a check-in exists.
type TriggerContext struct {
	Reason string `json:"reason,omitempty"`
	// Event describes the originating event, e.g. "presentation at 18:00".
	Event string `json:"event,omitempty"`
	// MentionedIn is the id of the check-in that spawned this one. It is a
	// lookup key only; chains may be long or cyclic.
	MentionedIn string         `json:"mentioned_in,omitempty"`
	CreatedBy   Creator        `json:"created_by"`
	Source      string         `json:"source,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// EmotionIntensity is one emotion reported in insights.
type EmotionIntensity struct {
	Name      string `json:"name"`
	Intensity int    `json:"intensity"`
}

// InsightEvent is a structured sub-event, e.g. an upcoming challenge.
type InsightEvent struct {
	Event       string `json:"event"`
	Time        string `json:"time,omitempty"`
	StressLevel *int   `json:"stress_level,omitempty"`
}

// Insights is what the agent extracts when completing a check-in. Known
// fields are typed; anything else lands in Extra.
type Insights struct {
	Mood        string             `json:"mood,omitempty"`
	EnergyLevel *int               `json:"energy_level,omitempty"`
	StressLevel *int               `json:"stress_level,omitempty"`
	DayRating   *int               `json:"day_rating,omitempty"`
	Concerns    []string           `json:"concerns,omitempty"`
	Highlights  []string           `json:"highlights,omitempty"`
	Emotions    []EmotionIntensity `json:"emotions,omitempty"`
	Events      []InsightEvent     `json:"events,omitempty"`
	Extra       map[string]any     `json:"-"`
}

type insightsAlias Insights

var insightKeys = []string{
	"mood", "energy_level", "stress_level", "day_rating",
	"concerns", "highlights", "emotions", "events",
}

func (in *Insights) UnmarshalJSON(b []byte) error {
	var a insightsAlias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for _, k := range insightKeys {
		delete(raw, k)
	}
	// nested extension maps from a previous marshal are flattened back
	if ext, ok := raw["extra"].(map[string]any); ok {
		delete(raw, "extra")
		for k, v := range ext {
			raw[k] = v
		}
	}
	*in = Insights(a)
	if len(raw) > 0 {
		in.Extra = raw
	}
	return nil
}

func (in Insights) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(insightsAlias(in))
	if err != nil || len(in.Extra) == 0 {
		return b, err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range in.Extra {
		if _, known := m[k]; !known {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

const (
	maxListItems  = 32
	maxTextRunes  = 2000
	maxExtraBytes = 16 << 10
)

func validLevel(p *int) bool {
	return p == nil || (*p >= 1 && *p <= 10)
}

// Validate checks ranges and sizes of agent-supplied insights.
func (in *Insights) Validate() error {
	if !validLevel(in.EnergyLevel) || !validLevel(in.StressLevel) || !validLevel(in.DayRating) {
		return fmt.Errorf("%w: levels must be between 1 and 10", ErrInvalidPayload)
	}
	if len(in.Concerns) > maxListItems || len(in.Highlights) > maxListItems ||
		len(in.Emotions) > maxListItems || len(in.Events) > maxListItems {
		return fmt.Errorf("%w: too many items", ErrInvalidPayload)
	}
	for _, e := range in.Emotions {
		if strings.TrimSpace(e.Name) == "" {
			return fmt.Errorf("%w: emotion name required", ErrInvalidPayload)
		}
		if e.Intensity < 1 || e.Intensity > 10 {
			return fmt.Errorf("%w: emotion %q intensity %d out of range", ErrInvalidPayload, e.Name, e.Intensity)
		}
	}
	for _, ev := range in.Events {
		if strings.TrimSpace(ev.Event) == "" {
			return fmt.Errorf("%w: event description required", ErrInvalidPayload)
		}
		if !validLevel(ev.StressLevel) {
			return fmt.Errorf("%w: event stress level out of range", ErrInvalidPayload)
		}
	}
	if len(in.Extra) > 0 {
		b, err := json.Marshal(in.Extra)
		if err != nil || len(b) > maxExtraBytes {
			return fmt.Errorf("%w: extension fields too large", ErrInvalidPayload)
		}
	}
	return nil
}

// sanitize strips markup from every free-text field.
func (in *Insights) sanitize() {
	in.Mood = cleanText(in.Mood)
	for i := range in.Concerns {
		in.Concerns[i] = cleanText(in.Concerns[i])
	}
	for i := range in.Highlights {
		in.Highlights[i] = cleanText(in.Highlights[i])
	}
	for i := range in.Emotions {
		in.Emotions[i].Name = cleanText(in.Emotions[i].Name)
	}
	for i := range in.Events {
		in.Events[i].Event = cleanText(in.Events[i].Event)
	}
}

// ActionCreateReminder is recorded by CreateFollowup; RecordAction refuses it.
const ActionCreateReminder = "create_reminder"

// Action is one entry of actions_taken. Reminder is set for
// create_reminder entries; Params carries any other tool's arguments.
type Action struct {
	Name      string          `json:"action"`
	Timestamp time.Time       `json:"timestamp"`
	Reminder  *ReminderAction `json:"reminder,omitempty"`
	Params    map[string]any  `json:"params,omitempty"`
}

type ReminderAction struct {
	CheckInID     string    `json:"checkin_id"`
	CheckInType   Type      `json:"check_in_type"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Reason        string    `json:"reason"`
	Context       string    `json:"context,omitempty"`
}

var actionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

func validateActionName(name string) error {
	if !actionNameRe.MatchString(name) {
		return fmt.Errorf("%w: bad action name %q", ErrInvalidPayload, name)
	}
	if name == ActionCreateReminder {
		return fmt.Errorf("%w: %s is recorded by create_followup", ErrInvalidPayload, name)
	}
	return nil
}

func validateParams(params map[string]any) error {
	if len(params) == 0 {
		return nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: params: %v", ErrInvalidPayload, err)
	}
	if len(b) > maxExtraBytes {
		return fmt.Errorf("%w: params too large", ErrInvalidPayload)
	}
	return nil
}

var textPolicy = bluemonday.StrictPolicy()

// cleanText removes markup and trims agent-supplied text.
func cleanText(s string) string {
	s = strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
	r := []rune(s)
	if len(r) > maxTextRunes {
		s = string(r[:maxTextRunes])
	}
	return s
}
