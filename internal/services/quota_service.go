// Package services – QuotaService
//
// This file implements the quota ledger, the only component permitted to
// increment winner counts or per-minute draw counters. Both operations are
// conditional single-statement updates executed by the repo layer; the
// service adds the window/day bookkeeping, outcome mapping, metrics, and
// tracing.
//
// RateLimited and QuotaExhausted are expected outcomes here, not failures:
// callers fold them into a Lost lottery result so every draw terminates the
// user-visible flow deterministically.
package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
	"github.com/sakamotodd/chatbot-sub001/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// QuotaOutcome enumerates the ledger's draw and grant results.
type QuotaOutcome string

// Ledger outcomes.
const (
	QuotaReserved    QuotaOutcome = "RESERVED"
	QuotaRateLimited QuotaOutcome = "RATE_LIMITED"
	QuotaGranted     QuotaOutcome = "GRANTED"
	QuotaExhausted   QuotaOutcome = "EXHAUSTED"
)

// DrawToken proves a successful ReserveDraw and pins the calendar day the
// reservation was made on, so the grant that follows it is checked against
// the same daily window.
type DrawToken struct {
	PrizeID    string
	ReservedAt time.Time
	day        string
}

// Day returns the calendar-day key the token was reserved on.
func (t DrawToken) Day() string { return t.day }

// QuotaService enforces the per-minute draw cap and the lifetime/daily
// winner caps for all prizes.
type QuotaService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// DrawsPerMinute caps reservations per rolling window; <= 0 disables draws.
	DrawsPerMinute int
	// Window is the rolling window length; zero means one minute.
	Window time.Duration
	// Clock supplies the window anchor and day boundary; nil means system UTC.
	Clock Clock
}

// NewQuotaService constructs a QuotaService with a one-minute window.
func NewQuotaService(db *gorm.DB, drawsPerMinute int) *QuotaService {
	return &QuotaService{
		DB:             db,
		DrawsPerMinute: drawsPerMinute,
		Window:         time.Minute,
		Clock:          SystemClock,
	}
}

func (s *QuotaService) window() time.Duration {
	if s.Window <= 0 {
		return time.Minute
	}
	return s.Window
}

// ReserveDraw consumes one slot of the prize's rolling per-minute counter.
// Returns a token and QuotaReserved on success, or a nil token and
// QuotaRateLimited when the window is full. The error return is for store
// failures only.
func (s *QuotaService) ReserveDraw(ctx context.Context, prizeID string) (*DrawToken, QuotaOutcome, error) {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "ReserveDraw",
		trace.WithAttributes(attribute.String("prize.id", prizeID)),
	)
	defer span.End()

	now := clockOrSystem(s.Clock).Now()
	ok, err := repo.ReserveDraw(ctx, s.DB, prizeID, s.DrawsPerMinute, s.window(), now)
	if err != nil {
		return nil, "", mapStoreErr(err)
	}
	if !ok {
		drawsRateLimited.Inc()
		return nil, QuotaRateLimited, nil
	}
	return &DrawToken{
		PrizeID:    prizeID,
		ReservedAt: now,
		day:        now.Format(domain.DayKey),
	}, QuotaReserved, nil
}

// TryGrantWin atomically consumes one win from the prize's quota, honoring
// the daily cap when the prize runs a daily lottery. A nil or mismatched
// token yields QuotaExhausted without touching the counters.
func (s *QuotaService) TryGrantWin(ctx context.Context, prize *domain.Prize, token *DrawToken) (QuotaOutcome, error) {
	tr := otel.Tracer("services/QuotaService")
	ctx, span := tr.Start(ctx, "TryGrantWin",
		trace.WithAttributes(attribute.String("prize.id", prize.ID)),
	)
	defer span.End()

	if token == nil || token.PrizeID != prize.ID {
		quotaExhausted.Inc()
		return QuotaExhausted, nil
	}

	now := clockOrSystem(s.Clock).Now()
	granted, err := repo.GrantWin(ctx, s.DB, prize, token.day, now)
	if err != nil {
		return "", mapStoreErr(err)
	}
	if !granted {
		quotaExhausted.Inc()
		return QuotaExhausted, nil
	}
	quotaGrants.Inc()
	return QuotaGranted, nil
}

// Status describes a prize's quota position for operational endpoints.
type Status struct {
	PrizeID         string     `json:"prize_id"`
	WinnerCount     int        `json:"winner_count"`
	SendWinnerCount int        `json:"send_winner_count"`
	Remaining       int        `json:"remaining"`
	IsDailyLottery  bool       `json:"is_daily_lottery"`
	DailyCap        int        `json:"daily_winner_count,omitempty"`
	DailyGranted    int        `json:"daily_granted,omitempty"`
	WindowCount     int        `json:"window_count"`
	WindowAnchor    *time.Time `json:"window_anchor,omitempty"`
}

// StatusFor reports the current quota position of a prize.
func (s *QuotaService) StatusFor(ctx context.Context, prizeID string) (*Status, error) {
	prize, err := repo.GetPrize(ctx, s.DB, prizeID)
	if err != nil {
		return nil, err
	}
	st := &Status{
		PrizeID:         prize.ID,
		WinnerCount:     prize.WinnerCount,
		SendWinnerCount: prize.SendWinnerCount,
		Remaining:       prize.Remaining(),
		IsDailyLottery:  prize.IsDailyLottery,
		DailyCap:        prize.DailyWinnerCount,
		WindowCount:     prize.LotteryCountPerMinute,
		WindowAnchor:    prize.LotteryCountPerMinuteUpdatedDatetime,
	}
	if prize.IsDailyLottery {
		day := clockOrSystem(s.Clock).Now().Format(domain.DayKey)
		granted, err := repo.DailyGranted(ctx, s.DB, prize.ID, day)
		if err != nil {
			return nil, err
		}
		st.DailyGranted = granted
	}
	return st, nil
}
