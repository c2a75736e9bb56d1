// Package repo implements the data persistence layer for the flow engine,
// backed by GORM. This file provides the read queries behind the graph store:
// bulk loads of one prize's templates, nodes, edges, and messages.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. The
// engine treats graph rows as read-only; nothing here mutates.
//
// Error semantics:
//   - Single-row lookups return gorm.ErrRecordNotFound (exported here as
//     ErrNotFound) when the id does not resolve.
//   - Bulk loads return empty slices for prizes without rows; callers decide
//     whether an empty graph is an integrity error.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ListActiveTemplates returns the prize's active templates ordered by
// StepOrder ascending (ties broken by id for determinism).
func ListActiveTemplates(ctx context.Context, db *gorm.DB, prizeID string) ([]domain.Template, error) {
	var out []domain.Template
	err := db.WithContext(ctx).
		Where("prize_id = ? AND is_active = ?", prizeID, true).
		Order("step_order ASC, id ASC").
		Find(&out).Error
	return out, err
}

// ListNodes returns every node of the prize's graph, across all templates.
func ListNodes(ctx context.Context, db *gorm.DB, prizeID string) ([]domain.Node, error) {
	var out []domain.Node
	err := db.WithContext(ctx).
		Where("prize_id = ?", prizeID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListEdges returns every edge of the prize's graph.
func ListEdges(ctx context.Context, db *gorm.DB, prizeID string) ([]domain.Edge, error) {
	var out []domain.Edge
	err := db.WithContext(ctx).
		Where("prize_id = ?", prizeID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// ListMessages returns every message of the prize's graph with card buttons
// and select options preloaded, ordered deterministically (node, display
// order, id). The per-node grouping is done by the snapshot builder.
func ListMessages(ctx context.Context, db *gorm.DB, prizeID string) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Preload("CardButtons", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC, id ASC")
		}).
		Preload("SelectOptions", func(db *gorm.DB) *gorm.DB {
			return db.Order("display_order ASC, id ASC")
		}).
		Where("prize_id = ?", prizeID).
		Order("node_id ASC, display_order ASC, id ASC").
		Find(&out).Error
	return out, err
}

// GetNode fetches a single node by id. Returns ErrNotFound if missing.
func GetNode(ctx context.Context, db *gorm.DB, id string) (*domain.Node, error) {
	var n domain.Node
	if err := db.WithContext(ctx).Where("id = ?", id).First(&n).Error; err != nil {
		return nil, err
	}
	return &n, nil
}

// GetPrize fetches a prize row by id. Returns ErrNotFound if missing.
func GetPrize(ctx context.Context, db *gorm.DB, id string) (*domain.Prize, error) {
	var p domain.Prize
	if err := db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
