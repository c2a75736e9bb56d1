// Package services – SessionStore
//
// This file implements the session store over Conversation rows. It owns the
// get-or-create semantics for the (campaign, prize, user) key, the terminal
// no-op rule, and the session-data merge applied on each advance. The actual
// row update is the repo layer's version-checked transaction.
package services

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
	"github.com/sakamotodd/chatbot-sub001/internal/repo"
)

// SessionStore manages per-user conversation state.
type SessionStore struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Clock stamps ModifiedAt on every mutation; nil means system UTC.
	Clock Clock
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(db *gorm.DB) *SessionStore {
	return &SessionStore{DB: db, Clock: SystemClock}
}

// GetOrCreate returns the session for the key, creating a fresh one (no
// current node, first-trigger set) when absent. Creation races resolve to
// the winner's row.
func (s *SessionStore) GetOrCreate(ctx context.Context, campaignID, prizeID, userID string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, s.DB, campaignID, prizeID, userID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, mapStoreErr(err)
	}

	now := clockOrSystem(s.Clock).Now()
	c, err = repo.CreateConversation(ctx, s.DB, campaignID, prizeID, userID, now)
	if err == nil {
		return c, nil
	}
	// Lost a creation race; the existing row is the session.
	if existing, gerr := repo.GetConversation(ctx, s.DB, campaignID, prizeID, userID); gerr == nil {
		return existing, nil
	}
	return nil, mapStoreErr(err)
}

// Advance applies one flow step to the session: new current node, merged
// session data, trigger flags, and log entries, all in one transaction on
// the given handle (pass a tx to compose with other writes).
//
// Advancing a terminal session returns ErrSessionTerminated without touching
// the row.
func (s *SessionStore) Advance(ctx context.Context, db *gorm.DB, c *domain.Conversation, upd repo.AdvanceUpdate, logEntries []domain.ConversationMessage) error {
	if c.Terminated() {
		return ErrSessionTerminated
	}
	now := clockOrSystem(s.Clock).Now()
	if err := repo.AdvanceConversation(ctx, db, c, upd, logEntries, now); err != nil {
		return mapStoreErr(err)
	}
	return nil
}

// MergeSessionData merges patch into the session-data JSON object and
// returns the new document. Existing keys are overwritten by the patch;
// unrelated keys survive. A corrupt stored document is replaced rather than
// failing the flow.
func MergeSessionData(current string, patch map[string]string) string {
	if len(patch) == 0 && current != "" {
		return current
	}
	data := map[string]any{}
	if current != "" {
		if err := json.Unmarshal([]byte(current), &data); err != nil {
			data = map[string]any{}
		}
	}
	for k, v := range patch {
		data[k] = v
	}
	b, err := json.Marshal(data)
	if err != nil {
		return current
	}
	return string(b)
}
