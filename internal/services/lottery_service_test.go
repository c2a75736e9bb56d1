package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

func TestStaticRate_Clamps(t *testing.T) {
	cases := []struct {
		rate float64
		want float64
	}{
		{0.3, 0.3},
		{-1, 0},
		{2, 1},
	}
	for _, c := range cases {
		got := StaticRate{}.Probability(PrizeState{WinningRate: c.rate}, time.Now())
		if got != c.want {
			t.Fatalf("StaticRate(%v) = %v, want %v", c.rate, got, c.want)
		}
	}
}

func TestRampUpRate_Curve(t *testing.T) {
	start := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * 24 * time.Hour)
	state := PrizeState{
		WinnerCount:   100,
		WinningRate:   0.2,
		StartDatetime: start,
		EndDatetime:   end,
	}

	// At campaign start the rate is the configured one.
	if got := (RampUpRate{}).Probability(state, start); got != 0.2 {
		t.Fatalf("at start: %v, want 0.2", got)
	}

	// At the end with the full quota left the rate doubles.
	if got := (RampUpRate{}).Probability(state, end); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("at end, full quota: %v, want 0.4", got)
	}

	// Half the quota spent halves the boost.
	spent := state
	spent.SendWinnerCount = 50
	if got := (RampUpRate{}).Probability(spent, end); math.Abs(got-0.3) > 1e-9 {
		t.Fatalf("at end, half quota: %v, want 0.3", got)
	}

	// Out-of-window times are clamped into the campaign window.
	if got := (RampUpRate{}).Probability(state, start.Add(-time.Hour)); got != 0.2 {
		t.Fatalf("before start: %v, want 0.2", got)
	}
	if got := (RampUpRate{}).Probability(state, end.Add(time.Hour)); math.Abs(got-0.4) > 1e-9 {
		t.Fatalf("after end: %v, want 0.4", got)
	}

	// Degenerate configurations fall back to the base rate.
	broken := state
	broken.EndDatetime = broken.StartDatetime
	if got := (RampUpRate{}).Probability(broken, end); got != 0.2 {
		t.Fatalf("zero-length window: %v, want 0.2", got)
	}
	noQuota := state
	noQuota.WinnerCount = 0
	if got := (RampUpRate{}).Probability(noQuota, end); got != 0.2 {
		t.Fatalf("zero winner count: %v, want 0.2", got)
	}
}

func TestPolicyFor_UnknownFallsBackToStatic(t *testing.T) {
	s := NewLotteryService(nil)
	if _, ok := s.policyFor("TYPO").(StaticRate); !ok {
		t.Fatalf("unknown selector must resolve to StaticRate")
	}
	if _, ok := s.policyFor(domain.RateRampUp).(RampUpRate); !ok {
		t.Fatalf("RAMP_UP must resolve to RampUpRate")
	}
}

func TestResolve_LostRoll(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, 10, func(p *domain.Prize) { p.WinningRate = 0.5 })

	s := NewLotteryService(NewQuotaService(db, 100))
	s.Rand = func() float64 { return 0.9 }

	out, err := s.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Won || out.Reason != ReasonLostRoll || out.Condition() != domain.ConditionLost {
		t.Fatalf("outcome unexpected: %+v", out)
	}

	// A lost roll must not consume a draw slot or a win.
	var stored domain.Prize
	db.Where("id = ?", testPrizeID).First(&stored)
	if stored.LotteryCountPerMinute != 0 || stored.SendWinnerCount != 0 {
		t.Fatalf("lost roll touched counters: %+v", stored)
	}
}

func TestResolve_RateLimitedDowngradesToLost(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, 10)

	s := NewLotteryService(NewQuotaService(db, 0)) // window cap 0: every draw refused
	s.Rand = func() float64 { return 0 }

	out, err := s.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Won || out.Reason != ReasonRateLimited {
		t.Fatalf("outcome unexpected: %+v", out)
	}
}

func TestResolve_QuotaExhaustedDowngradesToLost(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, 0) // nothing to win

	s := NewLotteryService(NewQuotaService(db, 100))
	s.Rand = func() float64 { return 0 }

	out, err := s.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if out.Won || out.Reason != ReasonQuotaExhausted {
		t.Fatalf("outcome unexpected: %+v", out)
	}
}

func TestResolve_Win(t *testing.T) {
	db := newTestDB(t)
	p := seedPrize(t, db, 1)

	s := NewLotteryService(NewQuotaService(db, 100))
	s.Rand = func() float64 { return 0 }

	out, err := s.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !out.Won || out.Reason != ReasonWon || out.Condition() != domain.ConditionWon {
		t.Fatalf("outcome unexpected: %+v", out)
	}

	var stored domain.Prize
	db.Where("id = ?", testPrizeID).First(&stored)
	if stored.SendWinnerCount != 1 {
		t.Fatalf("send_winner_count = %d, want 1", stored.SendWinnerCount)
	}

	// The prize is now exhausted; the next winning roll downgrades.
	out, err = s.Resolve(context.Background(), p)
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if out.Won || out.Reason != ReasonQuotaExhausted {
		t.Fatalf("second outcome unexpected: %+v", out)
	}
}
