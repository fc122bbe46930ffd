package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var ErrNotFound = errors.New("conversation not found")
var ErrInvalidRole = errors.New("invalid message role")

const (
	KindGeneral = "general"
	KindCheckIn = "checkin"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	// RoleTrigger messages start a turn but are never shown to the user.
	RoleTrigger = "trigger"
)

type Conversation struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)"`
	UserID    uint64    `gorm:"index:idx_conversations_user_kind;not null"`
	Title     string    `gorm:"type:varchar(255);not null;default:''"`
	Kind      string    `gorm:"type:varchar(20);index:idx_conversations_user_kind;not null;default:'general'"`
	IsActive  bool      `gorm:"not null;default:true"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// Message is append-only.
type Message struct {
	ID             uint64    `gorm:"primaryKey"`
	ConversationID string    `gorm:"type:varchar(36);index;not null"`
	Role           string    `gorm:"type:varchar(10);not null"`
	Content        string    `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"not null"`
}

// Hidden reports whether the message is kept out of the user-facing transcript.
func (m Message) Hidden() bool {
	return m.Role == RoleSystem || m.Role == RoleTrigger
}

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem, RoleTrigger:
		return true
	}
	return false
}

// Create inserts a conversation using tx, so callers can bind it atomically
// with their own writes.
func Create(tx *gorm.DB, userID uint64, title, kind string) (*Conversation, error) {
	if kind == "" {
		kind = KindGeneral
	}
	c := Conversation{
		ID:       uuid.NewString(),
		UserID:   userID,
		Title:    strings.TrimSpace(title),
		Kind:     kind,
		IsActive: true,
	}
	if err := tx.Create(&c).Error; err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return &c, nil
}

// Append adds one message using tx.
func Append(tx *gorm.DB, conversationID, role, content string) error {
	if !validRole(role) {
		return ErrInvalidRole
	}
	m := Message{
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
	}
	if err := tx.Create(&m).Error; err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return tx.Model(&Conversation{}).
		Where("id = ?", conversationID).
		Update("updated_at", time.Now()).Error
}

// Lookup loads a conversation owned by userID using tx.
func Lookup(tx *gorm.DB, userID uint64, id string) (*Conversation, error) {
	var c Conversation
	if err := tx.Where("id = ? AND user_id = ?", id, userID).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

type Store struct {
	DB *gorm.DB
}

func (s *Store) CreateConversation(ctx context.Context, userID uint64, title, kind string) (string, error) {
	c, err := Create(s.DB.WithContext(ctx), userID, title, kind)
	if err != nil {
		return "", err
	}
	return c.ID, nil
}

func (s *Store) AppendMessage(ctx context.Context, userID uint64, conversationID, role, content string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := Lookup(tx, userID, conversationID); err != nil {
			return err
		}
		return Append(tx, conversationID, role, content)
	})
}

// Messages returns the transcript in order. Hidden messages are included
// only when withHidden is set.
func (s *Store) Messages(ctx context.Context, userID uint64, conversationID string, withHidden bool) ([]Message, error) {
	db := s.DB.WithContext(ctx)
	if _, err := Lookup(db, userID, conversationID); err != nil {
		return nil, err
	}
	q := db.Where("conversation_id = ?", conversationID)
	if !withHidden {
		q = q.Where("role NOT IN ?", []string{RoleSystem, RoleTrigger})
	}
	var out []Message
	if err := q.Order("id asc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
