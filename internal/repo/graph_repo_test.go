package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

func TestListActiveTemplates_OrderAndActivityFilter(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rows := []domain.Template{
		{ID: "t2", PrizeID: "p1", Type: domain.TemplateEnd, StepOrder: 2, IsActive: true, CreatedAt: now},
		{ID: "t0", PrizeID: "p1", Type: domain.TemplateStart, StepOrder: 0, IsActive: true, CreatedAt: now},
		{ID: "t1", PrizeID: "p1", Type: domain.TemplateTree, StepOrder: 1, IsActive: true, CreatedAt: now},
		{ID: "tx", PrizeID: "p1", Type: domain.TemplateMessage, StepOrder: 3, IsActive: false, CreatedAt: now},
		{ID: "ty", PrizeID: "p2", Type: domain.TemplateStart, StepOrder: 0, IsActive: true, CreatedAt: now},
	}
	for i := range rows {
		if err := db.Create(&rows[i]).Error; err != nil {
			t.Fatalf("seed template: %v", err)
		}
	}

	got, err := ListActiveTemplates(ctx, db, "p1")
	if err != nil {
		t.Fatalf("ListActiveTemplates: %v", err)
	}
	if len(got) != 3 || got[0].ID != "t0" || got[1].ID != "t1" || got[2].ID != "t2" {
		t.Fatalf("templates unexpected: %+v", got)
	}
}

func TestListMessages_PreloadsOrderedChildren(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	tmpl := domain.Template{ID: "t0", PrizeID: "p1", Type: domain.TemplateStart, StepOrder: 0, IsActive: true, CreatedAt: now}
	if err := db.Create(&tmpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	node := domain.Node{ID: "n1", TemplateID: "t0", PrizeID: "p1", Type: domain.NodeSelectOption, CreatedAt: now}
	if err := db.Create(&node).Error; err != nil {
		t.Fatalf("seed node: %v", err)
	}
	msg := domain.Message{ID: "m1", NodeID: "n1", PrizeID: "p1", Type: domain.MessageSelect, Body: "pick one", CreatedAt: now}
	if err := db.Create(&msg).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	opts := []domain.MessageSelectOption{
		{ID: "o2", MessageID: "m1", Label: "B", Value: "b", DisplayOrder: 1, CreatedAt: now},
		{ID: "o1", MessageID: "m1", Label: "A", Value: "a", DisplayOrder: 0, CreatedAt: now},
	}
	for i := range opts {
		if err := db.Create(&opts[i]).Error; err != nil {
			t.Fatalf("seed option: %v", err)
		}
	}

	got, err := ListMessages(ctx, db, "p1")
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(got) != 1 || len(got[0].SelectOptions) != 2 {
		t.Fatalf("messages unexpected: %+v", got)
	}
	if got[0].SelectOptions[0].Value != "a" || got[0].SelectOptions[1].Value != "b" {
		t.Fatalf("options not ordered by display_order: %+v", got[0].SelectOptions)
	}
}

func TestGetPrize_NotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := GetPrize(context.Background(), db, "missing")
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("got %v, want ErrRecordNotFound", err)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ErrNotFound alias broken: %v", err)
	}
}
