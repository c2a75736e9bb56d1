// Package repo implements the data persistence layer for the flow engine,
// backed by GORM. This file provides repository helpers for the
// ProcessedEvent model used to implement exactly-once handling of
// redelivered inbound chat events.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

// ErrDuplicate indicates that a processed-event record already exists for the
// given (campaign, prize, user, event key) tuple.
var ErrDuplicate = errors.New("duplicate")

// GetProcessedEvent returns a non-expired record or ErrNotFound.
func GetProcessedEvent(ctx context.Context, db *gorm.DB, campaignID, prizeID, userID, eventKey string, now time.Time) (*domain.ProcessedEvent, error) {
	if strings.TrimSpace(eventKey) == "" {
		return nil, ErrNotFound
	}
	var rec domain.ProcessedEvent
	err := db.WithContext(ctx).
		Where("campaign_id = ? AND prize_id = ? AND instagram_user_id = ? AND event_key = ? AND expires_at > ?",
			campaignID, prizeID, userID, eventKey, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, err
}

// CreateProcessedEvent inserts a record and returns ErrDuplicate on unique
// violation. NodeID records where the session ended up after the event, for
// diagnostics on replay.
func CreateProcessedEvent(ctx context.Context, db *gorm.DB, campaignID, prizeID, userID, eventKey, nodeID string, ttl time.Duration, now time.Time) (*domain.ProcessedEvent, error) {
	rec := &domain.ProcessedEvent{
		ID:              uuid.NewString(),
		CampaignID:      campaignID,
		PrizeID:         prizeID,
		InstagramUserID: userID,
		EventKey:        eventKey,
		NodeID:          nodeID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(ttl),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// DeleteExpiredEvents removes stale dedupe records. Intended for a periodic
// sweep from the server process.
func DeleteExpiredEvents(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Where("expires_at <= ?", now).
		Delete(&domain.ProcessedEvent{})
	return res.RowsAffected, res.Error
}
