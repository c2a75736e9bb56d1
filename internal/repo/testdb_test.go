package repo

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

// newTestDB opens a unique in-memory database per test (avoids schema leakage
// across tests) and migrates the full engine schema. A single connection
// serializes concurrent writers, matching SQLite's production write behavior.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedPrize inserts a prize with the given quota settings and returns it.
func seedPrize(t *testing.T, db *gorm.DB, id string, winnerCount int, opts ...func(*domain.Prize)) *domain.Prize {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.Prize{
		ID:                    id,
		CampaignID:            "camp-1",
		Name:                  "prize " + id,
		WinnerCount:           winnerCount,
		WinningRate:           1.0,
		WinningRateChangeType: domain.RateStatic,
		StartDatetime:         now.Add(-time.Hour),
		EndDatetime:           now.Add(time.Hour),
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	for _, o := range opts {
		o(p)
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("seed prize: %v", err)
	}
	return p
}
