// Package repo implements the data persistence layer for the flow engine,
// backed by GORM. This file provides repository functions for Conversation
// sessions and their message log.
//
// Concurrency contract: AdvanceConversation performs an optimistic
// version-checked update inside a transaction. The flow service additionally
// serializes same-session work behind an in-process keyed lock; the version
// check is the guard against writers outside that lock (a second process, an
// operator script).
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

// ErrStaleSession indicates that an advance lost a version race: the session
// row changed between load and update. The caller retries the whole event.
var ErrStaleSession = errors.New("session version conflict")

// GetConversation fetches the session row for (campaignID, prizeID, userID).
// Returns ErrNotFound if absent.
func GetConversation(ctx context.Context, db *gorm.DB, campaignID, prizeID, userID string) (*domain.Conversation, error) {
	var c domain.Conversation
	err := db.WithContext(ctx).
		Where("campaign_id = ? AND prize_id = ? AND instagram_user_id = ?", campaignID, prizeID, userID).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetConversationByID fetches a session row by primary key.
func GetConversationByID(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateConversation inserts a fresh session for the key with no current node
// and the first-trigger flag set. ModifiedAt is assigned here, not by a hook.
func CreateConversation(ctx context.Context, db *gorm.DB, campaignID, prizeID, userID string, now time.Time) (*domain.Conversation, error) {
	c := &domain.Conversation{
		ID:              uuid.NewString(),
		CampaignID:      campaignID,
		PrizeID:         prizeID,
		InstagramUserID: userID,
		CurrentNodeID:   nil,
		IsFirstTrigger:  true,
		IsLastTrigger:   false,
		SessionData:     "{}",
		Version:         0,
		CreatedAt:       now,
		ModifiedAt:      now,
	}
	if err := db.WithContext(ctx).Create(c).Error; err != nil {
		return nil, err
	}
	return c, nil
}

// AdvanceUpdate carries the mutation applied to a session by one flow step.
type AdvanceUpdate struct {
	CurrentNodeID  *string
	SessionData    string // full merged JSON, produced by the service
	IsFirstTrigger bool
	IsLastTrigger  bool
}

// AdvanceConversation applies upd to the session identified by c.ID, expecting
// c.Version to still be current, and appends the given log entries in the same
// transaction. On success the in-memory c is updated to match the stored row.
// Returns ErrStaleSession when the version check fails.
func AdvanceConversation(ctx context.Context, db *gorm.DB, c *domain.Conversation, upd AdvanceUpdate, logEntries []domain.ConversationMessage, now time.Time) error {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Conversation{}).
			Where("id = ? AND version = ? AND is_last_trigger = ?", c.ID, c.Version, false).
			Updates(map[string]any{
				"current_node_id":  upd.CurrentNodeID,
				"session_data":     upd.SessionData,
				"is_first_trigger": upd.IsFirstTrigger,
				"is_last_trigger":  upd.IsLastTrigger,
				"version":          c.Version + 1,
				"modified_at":      now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleSession
		}
		for i := range logEntries {
			logEntries[i].ID = uuid.NewString()
			logEntries[i].ConversationID = c.ID
			logEntries[i].CreatedAt = now
			if err := tx.Create(&logEntries[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.CurrentNodeID = upd.CurrentNodeID
	c.SessionData = upd.SessionData
	c.IsFirstTrigger = upd.IsFirstTrigger
	c.IsLastTrigger = upd.IsLastTrigger
	c.Version++
	c.ModifiedAt = now
	return nil
}

// CountConversationMessages returns the size of a session's message log using
// a raw COUNT so a missing table surfaces as an error.
func CountConversationMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Raw("SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = ?", conversationID).
		Scan(&total).Error
	return total, err
}

// ListConversationMessagesPage returns a paginated slice of a session's log,
// ordered (MessageTimestamp ASC, ID ASC) for determinism.
func ListConversationMessagesPage(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.ConversationMessage, error) {
	var out []domain.ConversationMessage
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("message_timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
