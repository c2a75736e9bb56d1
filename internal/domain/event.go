// Package domain defines the persistence models for the instant-win
// conversation flow engine. This file covers the processed-event record used
// to make inbound event handling safe under webhook redelivery.
package domain

import "time"

// ProcessedEvent marks an inbound chat event as already applied, keyed by
// (campaign_id, prize_id, instagram_user_id, event_key). Redelivering the
// same event must not advance the session twice or double-draw a lottery;
// the flow interpreter consults this table before stepping and records the
// key inside the same transaction as the session advance.
type ProcessedEvent struct {
	ID              string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	CampaignID      string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_event_key,priority:1"`
	PrizeID         string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_event_key,priority:2"`
	InstagramUserID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_event_key,priority:3"`
	EventKey        string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_event_key,priority:4"`
	NodeID          string    `gorm:"type:TEXT NOT NULL"`
	CreatedAt       time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt       time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedEvent) TableName() string { return "processed_events" }
