package services

import (
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
	"github.com/sakamotodd/chatbot-sub001/internal/repo"
)

const (
	testCampaign = "camp-1"
	testPrizeID  = "p1"
	testUser     = "ig-user-1"
)

// fakeClock is a fixed, manually advanced clock.
type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }
func newFakeClock(t time.Time) *fakeClock    { return &fakeClock{t: t} }

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
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// seedPrize inserts a prize configured to always win the roll unless a test
// overrides the rate.
func seedPrize(t *testing.T, db *gorm.DB, winnerCount int, opts ...func(*domain.Prize)) *domain.Prize {
	t.Helper()
	now := time.Now().UTC()
	p := &domain.Prize{
		ID:                    testPrizeID,
		CampaignID:            testCampaign,
		Name:                  "test prize",
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

// seedFlowGraph builds the canonical instant-win flow:
//
//	t0 START:   trigger -> hello
//	t1 TREE:    hello(select a/b) -> [pickA | pickB] -> draw
//	t2 LOTTERY: draw -> (WON) wonMsg, (LOST) lostMsg
//	t3 END:     wonMsg, lostMsg
func seedFlowGraph(t *testing.T, db *gorm.DB) {
	t.Helper()
	now := time.Now().UTC()

	templates := []domain.Template{
		{ID: "t0", PrizeID: testPrizeID, Type: domain.TemplateStart, StepOrder: 0, IsActive: true, CreatedAt: now},
		{ID: "t1", PrizeID: testPrizeID, Type: domain.TemplateTree, StepOrder: 1, IsActive: true, CreatedAt: now},
		{ID: "t2", PrizeID: testPrizeID, Type: domain.TemplateLotteryGroup, StepOrder: 2, IsActive: true, CreatedAt: now},
		{ID: "t3", PrizeID: testPrizeID, Type: domain.TemplateEnd, StepOrder: 3, IsActive: true, CreatedAt: now},
	}
	nodes := []domain.Node{
		{ID: "trigger", TemplateID: "t0", PrizeID: testPrizeID, Type: domain.NodeFirstTrigger, CreatedAt: now},
		{ID: "hello", TemplateID: "t1", PrizeID: testPrizeID, Type: domain.NodeSelectOption, CreatedAt: now},
		{ID: "pickA", TemplateID: "t1", PrizeID: testPrizeID, Type: domain.NodeMessage, CreatedAt: now},
		{ID: "pickB", TemplateID: "t1", PrizeID: testPrizeID, Type: domain.NodeMessage, CreatedAt: now},
		{ID: "draw", TemplateID: "t2", PrizeID: testPrizeID, Type: domain.NodeLottery, CreatedAt: now},
		{ID: "wonMsg", TemplateID: "t3", PrizeID: testPrizeID, Type: domain.NodeLotteryResult, CreatedAt: now},
		{ID: "lostMsg", TemplateID: "t3", PrizeID: testPrizeID, Type: domain.NodeLotteryResult, CreatedAt: now},
	}
	edges := []domain.Edge{
		{ID: "e0", PrizeID: testPrizeID, SourceNodeID: "trigger", TargetNodeID: "hello", CreatedAt: now},
		{ID: "e1", PrizeID: testPrizeID, SourceNodeID: "hello", TargetNodeID: "pickA", ConditionData: "a", CreatedAt: now},
		{ID: "e2", PrizeID: testPrizeID, SourceNodeID: "hello", TargetNodeID: "pickB", ConditionData: "b", CreatedAt: now},
		{ID: "e3", PrizeID: testPrizeID, SourceNodeID: "pickA", TargetNodeID: "draw", CreatedAt: now},
		{ID: "e4", PrizeID: testPrizeID, SourceNodeID: "pickB", TargetNodeID: "draw", CreatedAt: now},
		{ID: "e5", PrizeID: testPrizeID, SourceNodeID: "draw", TargetNodeID: "wonMsg", ConditionData: domain.ConditionWon, CreatedAt: now},
		{ID: "e6", PrizeID: testPrizeID, SourceNodeID: "draw", TargetNodeID: "lostMsg", ConditionData: domain.ConditionLost, CreatedAt: now},
	}
	msgs := []domain.Message{
		{ID: "m0", NodeID: "hello", PrizeID: testPrizeID, Type: domain.MessageSelect, Body: "pick a or b", CreatedAt: now},
		{ID: "m1", NodeID: "wonMsg", PrizeID: testPrizeID, Type: domain.MessageText, Body: "you won", CreatedAt: now},
		{ID: "m2", NodeID: "lostMsg", PrizeID: testPrizeID, Type: domain.MessageText, Body: "you lost", CreatedAt: now},
	}
	options := []domain.MessageSelectOption{
		{ID: "o1", MessageID: "m0", Label: "A", Value: "a", DisplayOrder: 0, CreatedAt: now},
		{ID: "o2", MessageID: "m0", Label: "B", Value: "b", DisplayOrder: 1, CreatedAt: now},
	}

	for i := range templates {
		if err := db.Create(&templates[i]).Error; err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}
	for i := range nodes {
		if err := db.Create(&nodes[i]).Error; err != nil {
			t.Fatalf("seed node: %v", err)
		}
	}
	for i := range edges {
		if err := db.Create(&edges[i]).Error; err != nil {
			t.Fatalf("seed edge: %v", err)
		}
	}
	for i := range msgs {
		if err := db.Create(&msgs[i]).Error; err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}
	for i := range options {
		if err := db.Create(&options[i]).Error; err != nil {
			t.Fatalf("seed option: %v", err)
		}
	}
}

// newFlowService wires a FlowService over db with an unlimited draw window
// and a deterministic always-win roll unless the test reconfigures it.
func newFlowService(db *gorm.DB) *FlowService {
	quota := NewQuotaService(db, 1000)
	lottery := NewLotteryService(quota)
	lottery.Rand = func() float64 { return 0 } // roll always below any positive rate
	return NewFlowService(db, NewSessionStore(db), lottery)
}
