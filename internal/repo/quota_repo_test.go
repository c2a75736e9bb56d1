package repo

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

func TestReserveDraw_ZeroLimit_AlwaysRefused(t *testing.T) {
	db := newTestDB(t)
	seedPrize(t, db, "p1", 10)
	now := time.Now().UTC()

	ok, err := ReserveDraw(context.Background(), db, "p1", 0, time.Minute, now)
	if err != nil {
		t.Fatalf("ReserveDraw: %v", err)
	}
	if ok {
		t.Fatalf("limit 0 must refuse every draw")
	}
}

func TestReserveDraw_FreshWindow_ResetsCounter(t *testing.T) {
	db := newTestDB(t)
	seedPrize(t, db, "p1", 10)
	now := time.Now().UTC()

	ok, err := ReserveDraw(context.Background(), db, "p1", 2, time.Minute, now)
	if err != nil || !ok {
		t.Fatalf("first draw should reserve, got (%v, %v)", ok, err)
	}

	p, err := GetPrize(context.Background(), db, "p1")
	if err != nil {
		t.Fatalf("GetPrize: %v", err)
	}
	if p.LotteryCountPerMinute != 1 {
		t.Fatalf("counter = %d, want 1", p.LotteryCountPerMinute)
	}
	if p.LotteryCountPerMinuteUpdatedDatetime == nil {
		t.Fatalf("window anchor not set")
	}
}

func TestReserveDraw_WindowFull_ThenNewWindow(t *testing.T) {
	db := newTestDB(t)
	seedPrize(t, db, "p1", 10)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 2; i++ {
		ok, err := ReserveDraw(ctx, db, "p1", 2, time.Minute, now)
		if err != nil || !ok {
			t.Fatalf("draw %d should reserve, got (%v, %v)", i, ok, err)
		}
	}

	// Third draw within the same window: refused, counters untouched.
	ok, err := ReserveDraw(ctx, db, "p1", 2, time.Minute, now)
	if err != nil {
		t.Fatalf("ReserveDraw: %v", err)
	}
	if ok {
		t.Fatalf("window full, draw must be refused")
	}
	p, _ := GetPrize(ctx, db, "p1")
	if p.LotteryCountPerMinute != 2 {
		t.Fatalf("counter = %d, want 2 after refusal", p.LotteryCountPerMinute)
	}

	// A minute later the window rolls over and the counter resets to 1.
	later := now.Add(61 * time.Second)
	ok, err = ReserveDraw(ctx, db, "p1", 2, time.Minute, later)
	if err != nil || !ok {
		t.Fatalf("draw in new window should reserve, got (%v, %v)", ok, err)
	}
	p, _ = GetPrize(ctx, db, "p1")
	if p.LotteryCountPerMinute != 1 {
		t.Fatalf("counter = %d, want 1 after window reset", p.LotteryCountPerMinute)
	}
}

func TestGrantWin_LifetimeQuota(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, "p1", 2)
	ctx := context.Background()
	now := time.Now().UTC()
	day := now.Format(domain.DayKey)

	for i := 0; i < 2; i++ {
		granted, err := GrantWin(ctx, db, p, day, now)
		if err != nil || !granted {
			t.Fatalf("grant %d should succeed, got (%v, %v)", i, granted, err)
		}
	}

	granted, err := GrantWin(ctx, db, p, day, now)
	if err != nil {
		t.Fatalf("GrantWin: %v", err)
	}
	if granted {
		t.Fatalf("grant beyond winner_count must be refused")
	}

	got, _ := GetPrize(ctx, db, "p1")
	if got.SendWinnerCount != 2 {
		t.Fatalf("send_winner_count = %d, want 2", got.SendWinnerCount)
	}
}

func TestGrantWin_DailyCap_RollsBackLifetimeIncrement(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, "p1", 100, func(p *domain.Prize) {
		p.IsDailyLottery = true
		p.DailyWinnerCount = 1
	})
	ctx := context.Background()
	now := time.Now().UTC()
	day := now.Format(domain.DayKey)

	granted, err := GrantWin(ctx, db, p, day, now)
	if err != nil || !granted {
		t.Fatalf("first daily grant should succeed, got (%v, %v)", granted, err)
	}

	granted, err = GrantWin(ctx, db, p, day, now)
	if err != nil {
		t.Fatalf("GrantWin: %v", err)
	}
	if granted {
		t.Fatalf("second grant on the same day must be refused")
	}

	// The refused grant must not leak a lifetime increment.
	got, _ := GetPrize(ctx, db, "p1")
	if got.SendWinnerCount != 1 {
		t.Fatalf("send_winner_count = %d, want 1 (refused grant rolled back)", got.SendWinnerCount)
	}

	// A new day opens a fresh daily budget.
	nextDay := now.Add(24 * time.Hour).Format(domain.DayKey)
	granted, err = GrantWin(ctx, db, p, nextDay, now)
	if err != nil || !granted {
		t.Fatalf("grant on next day should succeed, got (%v, %v)", granted, err)
	}
}

func TestGrantWin_DailyLottery_ZeroDailyCap(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, "p1", 100, func(p *domain.Prize) {
		p.IsDailyLottery = true
		p.DailyWinnerCount = 0
	})
	granted, err := GrantWin(context.Background(), db, p, "2026-08-31", time.Now().UTC())
	if err != nil {
		t.Fatalf("GrantWin: %v", err)
	}
	if granted {
		t.Fatalf("daily lottery with zero daily cap must never grant")
	}
}

// Two users racing for the last slot: exactly one grant must land.
func TestGrantWin_ConcurrentLastSlot(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, "p1", 1)
	ctx := context.Background()
	now := time.Now().UTC()
	day := now.Format(domain.DayKey)

	const racers = 16
	var wg sync.WaitGroup
	results := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, err := GrantWin(ctx, db, p, day, now)
			if err != nil {
				t.Errorf("GrantWin: %v", err)
				return
			}
			results <- granted
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for g := range results {
		if g {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("granted %d wins for winner_count=1", wins)
	}
	got, _ := GetPrize(ctx, db, "p1")
	if got.SendWinnerCount != 1 {
		t.Fatalf("send_winner_count = %d, want 1", got.SendWinnerCount)
	}
}

// Concurrent grants on a fresh day must allocate the full daily cap: the
// first wins of the day race to create the (prize, day) row, and losers of
// that race fall through to the increment instead of being refused.
func TestGrantWin_ConcurrentFirstWinsOfDay_FillCap(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, "p1", 100, func(p *domain.Prize) {
		p.IsDailyLottery = true
		p.DailyWinnerCount = 3
	})
	ctx := context.Background()
	now := time.Now().UTC()
	day := now.Format(domain.DayKey)

	const racers = 12
	var wg sync.WaitGroup
	results := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			granted, err := GrantWin(ctx, db, p, day, now)
			if err != nil {
				t.Errorf("GrantWin: %v", err)
				return
			}
			results <- granted
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for g := range results {
		if g {
			wins++
		}
	}
	if wins != 3 {
		t.Fatalf("granted %d wins for daily_winner_count=3", wins)
	}
	if n, _ := DailyGranted(ctx, db, "p1", day); n != 3 {
		t.Fatalf("daily granted_count = %d, want 3", n)
	}
	got, _ := GetPrize(ctx, db, "p1")
	if got.SendWinnerCount != 3 {
		t.Fatalf("send_winner_count = %d, want 3", got.SendWinnerCount)
	}
}

// incrementDailyWin is the path taken after losing the row-creation race: it
// must succeed while the existing row is below the cap and refuse at the cap.
func TestIncrementDailyWin_ExistingRow(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, "p1", 100, func(p *domain.Prize) {
		p.IsDailyLottery = true
		p.DailyWinnerCount = 2
	})
	now := time.Now().UTC()
	day := now.Format(domain.DayKey)

	row := &domain.PrizeDailyWin{ID: "dw1", PrizeID: "p1", Day: day, GrantedCount: 1, CreatedAt: now, UpdatedAt: now}
	if err := db.Create(row).Error; err != nil {
		t.Fatalf("seed daily row: %v", err)
	}

	ok, err := incrementDailyWin(db, p, day, now)
	if err != nil || !ok {
		t.Fatalf("increment below cap: got (%v, %v)", ok, err)
	}
	ok, err = incrementDailyWin(db, p, day, now)
	if err != nil {
		t.Fatalf("incrementDailyWin: %v", err)
	}
	if ok {
		t.Fatalf("increment at cap must be refused")
	}
	if n, _ := DailyGranted(context.Background(), db, "p1", day); n != 2 {
		t.Fatalf("granted_count = %d, want 2", n)
	}
}

func TestDailyGranted(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, "p1", 10, func(p *domain.Prize) {
		p.IsDailyLottery = true
		p.DailyWinnerCount = 5
	})
	ctx := context.Background()
	now := time.Now().UTC()
	day := now.Format(domain.DayKey)

	n, err := DailyGranted(ctx, db, "p1", day)
	if err != nil || n != 0 {
		t.Fatalf("no wins yet: got (%d, %v)", n, err)
	}

	for i := 0; i < 3; i++ {
		if granted, err := GrantWin(ctx, db, p, day, now); err != nil || !granted {
			t.Fatalf("grant %d: (%v, %v)", i, granted, err)
		}
	}
	n, err = DailyGranted(ctx, db, "p1", day)
	if err != nil || n != 3 {
		t.Fatalf("got (%d, %v), want (3, nil)", n, err)
	}
}
