// Package domain defines the persistence models for the instant-win
// conversation flow engine. This file covers per-user conversation state and
// the exchanged-message log.
package domain

import "time"

// Conversation is the per-(campaign, prize, user) session: where the user
// currently is in the prize's graph, trigger flags, and free-form accumulated
// session data.
//
// Invariants:
//   - One row per (campaign_id, prize_id, instagram_user_id).
//   - CurrentNodeID never moves backward once advanced; a session that
//     reached a terminal node (IsLastTrigger) is immutable.
//   - ModifiedAt is assigned explicitly by the session store on every
//     mutation, not by a lifecycle callback.
//   - Version increments on every advance and guards against concurrent
//     writers outside the in-process session lock.
type Conversation struct {
	ID              string  `json:"id"                gorm:"type:char(36);primaryKey"`
	CampaignID      string  `json:"campaign_id"       gorm:"type:char(36);not null;uniqueIndex:ux_session_key,priority:1"`
	PrizeID         string  `json:"prize_id"          gorm:"type:char(36);not null;uniqueIndex:ux_session_key,priority:2"`
	InstagramUserID string  `json:"instagram_user_id" gorm:"type:varchar(64);not null;uniqueIndex:ux_session_key,priority:3"`
	CurrentNodeID   *string `json:"current_node_id"   gorm:"type:char(36)"`

	IsFirstTrigger bool `json:"is_first_trigger" gorm:"not null;default:true"`
	IsLastTrigger  bool `json:"is_last_trigger"  gorm:"not null;default:false"`

	// SessionData is a JSON object accumulated across the flow (selected
	// options so far and similar). Merged, never replaced wholesale.
	SessionData string `json:"session_data" gorm:"type:text;not null;default:'{}'"`

	Version    int64     `json:"version"     gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// Terminated reports whether the session reached a terminal node and must no
// longer be advanced.
func (c Conversation) Terminated() bool { return c.IsLastTrigger }

// ConversationMessage is one logged exchange within a conversation, either
// received from the user or emitted by the engine.
type ConversationMessage struct {
	ID               string    `json:"id"                gorm:"type:char(36);primaryKey"`
	ConversationID   string    `json:"conversation_id"   gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	IsFromUser       bool      `json:"is_from_user"      gorm:"not null"`
	Content          string    `json:"content"           gorm:"type:text;not null"`
	MessageTimestamp time.Time `json:"message_timestamp" gorm:"index:idx_conv_msgs,priority:2"`
	CreatedAt        time.Time `json:"created_at"`

	// Conversation is the owning session. Log rows are cascade-deleted with it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ConversationMessage.
func (ConversationMessage) TableName() string { return "conversation_messages" }
