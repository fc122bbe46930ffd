package checkin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"wellcheck/internal/conversation"
)

var errLostStart = errors.New("start lost race")

// StartCheckIn binds a conversation to a scheduled check-in and moves it to
// in_progress. An empty conversationID creates a new check-in conversation.
// Binding, seeding and the status change commit together or not at all.
//
// Retrying with the same conversation (or with none) returns the existing
// binding; offering a different conversation returns ErrAlreadyStarted.
func (s *Service) StartCheckIn(ctx context.Context, userID uint64, id, conversationID string) (*CheckIn, error) {
	conversationID = strings.TrimSpace(conversationID)

	c, err := findOwned(s.DB.WithContext(ctx), userID, id)
	if err != nil {
		return nil, err
	}
	return s.start(ctx, c, conversationID)
}

// start drives c from scheduled to in_progress. c may already be stale; the
// status CAS picks the winner.
func (s *Service) start(ctx context.Context, c *CheckIn, conversationID string) (*CheckIn, error) {
	if c.Status != StatusScheduled {
		return resolveStarted(c, conversationID)
	}

	var out *CheckIn
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		convID, err := s.bindConversation(tx, c, conversationID)
		if err != nil {
			return err
		}

		now := s.now()
		ok, err := casStatus(tx, c.ID, StatusScheduled, StatusInProgress, now, map[string]any{
			"conversation_id": convID,
			"started_at":      now,
		})
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// bound by a concurrent start between the check and the write
			return fmt.Errorf("%w: conversation already bound to another check-in", ErrInvalidPayload)
		}
		if err != nil {
			return fmt.Errorf("start check-in: %w", err)
		}
		if !ok {
			return errLostStart
		}
		out, err = findByID(tx, c.ID)
		return err
	})
	if errors.Is(err, errLostStart) {
		// another caller moved the check-in first; our conversation and
		// seed messages were rolled back with the transaction
		cur, ferr := findByID(s.DB.WithContext(ctx), c.ID)
		if ferr != nil {
			return nil, ferr
		}
		return resolveStarted(cur, conversationID)
	}
	if err != nil {
		return nil, err
	}
	s.log().Debug("check-in started",
		zap.String("checkin_id", out.ID),
		zap.Stringp("conversation_id", out.ConversationID))
	return out, nil
}

// resolveStarted decides the outcome of a start call on a check-in that is
// no longer scheduled.
func resolveStarted(c *CheckIn, conversationID string) (*CheckIn, error) {
	if c.Status.Terminal() {
		return nil, ErrAlreadyTerminal
	}
	if c.ConversationID != nil && (conversationID == "" || *c.ConversationID == conversationID) {
		return c, nil
	}
	return nil, ErrAlreadyStarted
}

// bindConversation creates or accepts the conversation and writes the hidden
// context plus the opening line.
func (s *Service) bindConversation(tx *gorm.DB, c *CheckIn, conversationID string) (string, error) {
	var day DailyLog
	if err := tx.First(&day, c.DailyLogID).Error; err != nil {
		return "", fmt.Errorf("load daily log: %w", err)
	}

	if conversationID == "" {
		conv, err := conversation.Create(tx, c.UserID, fmt.Sprintf("%s - %s", c.Type.Label(), day.Date), conversation.KindCheckIn)
		if err != nil {
			return "", err
		}
		conversationID = conv.ID
	} else {
		if _, err := conversation.Lookup(tx, c.UserID, conversationID); err != nil {
			if errors.Is(err, conversation.ErrNotFound) {
				return "", fmt.Errorf("conversation %s: %w", conversationID, ErrNotFound)
			}
			return "", err
		}
		var bound int64
		if err := tx.Model(&CheckIn{}).Where("conversation_id = ? AND id <> ?", conversationID, c.ID).Count(&bound).Error; err != nil {
			return "", err
		}
		if bound > 0 {
			return "", fmt.Errorf("%w: conversation already bound to another check-in", ErrInvalidPayload)
		}
	}

	var prior []CheckIn
	if err := tx.Where("daily_log_id = ? AND status = ? AND id <> ?", c.DailyLogID, StatusCompleted, c.ID).
		Order("completed_at asc").
		Find(&prior).Error; err != nil {
		return "", fmt.Errorf("load earlier check-ins: %w", err)
	}

	if err := conversation.Append(tx, conversationID, conversation.RoleSystem, seedContext(c, prior, s.log())); err != nil {
		return "", err
	}
	if err := conversation.Append(tx, conversationID, conversation.RoleAssistant, openingLine(c)); err != nil {
		return "", err
	}
	return conversationID, nil
}

var typeGoals = map[Type]string{
	TypeMorning: `This is a morning check-in to help the user start their day mindfully.
Learn how they slept and how they feel, what is on their schedule, and any
upcoming challenges. If a stressful event is coming up, create a follow-up
check-in before it.
At completion, extract: mood, energy_level, concerns, events (upcoming
challenges with time and stress_level), highlights.`,
	TypeMidday: `This is a midday check-in, usually created from something mentioned
earlier today. Follow up on that context, see how the user feels now and
help them prepare or decompress.
At completion, extract: mood, stress_level, concerns.`,
	TypeEvening: `This is an evening reflection. Help the user process the day: what went
well, what was hard, how they feel now and what is on their mind for
tomorrow.
At completion, extract: mood, day_rating, highlights, concerns, emotions
(name and intensity 1-10).`,
	TypeAdhoc: `This is a user-initiated check-in. Follow their lead, listen, and offer
practical suggestions when appropriate.
At completion, extract: mood and anything notable.`,
}

// seedContext builds the hidden system message for a check-in conversation.
func seedContext(c *CheckIn, prior []CheckIn, log *zap.Logger) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n\n%s\n", c.Type.Label(), typeGoals[c.Type])

	if len(prior) > 0 {
		b.WriteString("\n## Earlier Check-ins Today\n")
		for _, p := range prior {
			fmt.Fprintf(&b, "\n### %s\n", p.Type.Label())
			if p.Summary != nil && *p.Summary != "" {
				b.WriteString(*p.Summary)
				b.WriteString("\n")
			}
			in, err := p.DecodedInsights()
			if err != nil {
				log.Warn("skipping unreadable insights in seed context",
					zap.String("checkin_id", p.ID), zap.Error(err))
				continue
			}
			if in != nil {
				raw, _ := json.Marshal(in)
				fmt.Fprintf(&b, "Key insights: %s\n", raw)
			}
		}
	}

	tc := c.Trigger()
	if tc.CreatedBy == CreatedByAgent || tc.Reason != "" || tc.Event != "" {
		b.WriteString("\n## Why This Check-in Was Created\n")
		if tc.Reason != "" {
			fmt.Fprintf(&b, "Reason: %s\n", tc.Reason)
		}
		if tc.Event != "" {
			fmt.Fprintf(&b, "Context: %s\n", tc.Event)
		}
		if tc.MentionedIn != "" {
			fmt.Fprintf(&b, "Created during check-in %s\n", tc.MentionedIn)
		}
	}
	return strings.TrimSpace(b.String())
}

func openingLine(c *CheckIn) string {
	tc := c.Trigger()
	if c.Type == TypeMidday && tc.Event != "" {
		return fmt.Sprintf("Hi! Just checking in before %s. How are you feeling?", tc.Event)
	}
	switch c.Type {
	case TypeMorning:
		return "Good morning! How are you feeling today?"
	case TypeMidday:
		return "Hi! Just checking in. How are things going?"
	case TypeEvening:
		return "Good evening! How did your day go?"
	default:
		return "Hi! I'm here to chat. What's on your mind?"
	}
}
