// Package services – LotteryService
//
// This file implements the lottery resolver. On a LOTTERY node it computes
// the effective winning probability from the prize's configured rate and its
// rate-change policy, draws a uniform random value, and — only when the roll
// says "win" — asks the quota ledger for a reservation and a grant. Scarcity
// always overrides randomness: a RateLimited or QuotaExhausted outcome
// downgrades a winning roll to Lost, so every draw terminates deterministically.
package services

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// PrizeState is the read-only view of a prize a rate policy may consult.
type PrizeState struct {
	WinnerCount     int
	SendWinnerCount int
	WinningRate     float64
	StartDatetime   time.Time
	EndDatetime     time.Time
}

// RatePolicy derives the effective winning probability for a draw. Policies
// must be pure: same state and time in, same probability out.
type RatePolicy interface {
	Probability(state PrizeState, now time.Time) float64
}

// StaticRate uses the configured winning rate unchanged.
type StaticRate struct{}

// Probability implements RatePolicy.
func (StaticRate) Probability(state PrizeState, _ time.Time) float64 {
	return clampProbability(state.WinningRate)
}

// RampUpRate raises the effective rate linearly as the campaign ages, scaled
// by the fraction of quota still unspent, so a prize that is behind schedule
// becomes easier to win near the end of its window. At campaign start the
// rate equals the configured one; with the full quota remaining at the very
// end it approaches twice the configured rate.
type RampUpRate struct{}

// Probability implements RatePolicy.
func (RampUpRate) Probability(state PrizeState, now time.Time) float64 {
	base := clampProbability(state.WinningRate)
	if state.WinnerCount <= 0 {
		return base
	}
	total := state.EndDatetime.Sub(state.StartDatetime)
	if total <= 0 {
		return base
	}
	elapsed := now.Sub(state.StartDatetime)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > total {
		elapsed = total
	}
	elapsedFrac := float64(elapsed) / float64(total)
	remainingFrac := float64(state.WinnerCount-state.SendWinnerCount) / float64(state.WinnerCount)
	if remainingFrac < 0 {
		remainingFrac = 0
	}
	return clampProbability(base * (1 + elapsedFrac*remainingFrac))
}

func clampProbability(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}

// DrawReason explains how a lottery resolution reached its result.
type DrawReason string

// Resolution reasons.
const (
	ReasonWon            DrawReason = "won"
	ReasonLostRoll       DrawReason = "lost_roll"
	ReasonRateLimited    DrawReason = "rate_limited"
	ReasonQuotaExhausted DrawReason = "quota_exhausted"
)

// LotteryOutcome is the final result of one draw.
type LotteryOutcome struct {
	Won         bool       `json:"won"`
	Probability float64    `json:"probability"`
	Roll        float64    `json:"roll"`
	Reason      DrawReason `json:"reason"`
}

// Condition returns the edge condition the flow follows for this outcome.
func (o LotteryOutcome) Condition() string {
	if o.Won {
		return domain.ConditionWon
	}
	return domain.ConditionLost
}

// LotteryService resolves LOTTERY nodes against the quota ledger.
type LotteryService struct {
	// Quota is the ledger consulted for reservations and grants.
	Quota *QuotaService
	// Rand yields uniform values in [0,1); nil means a locked math/rand source.
	Rand func() float64
	// Policies maps rate-change selectors to curves. Unknown selectors fall
	// back to StaticRate so a data typo degrades safely instead of panicking.
	Policies map[domain.RateChangeType]RatePolicy
	// Clock feeds time-scaled policies; nil means system UTC.
	Clock Clock
}

// NewLotteryService constructs a resolver with the built-in policy registry
// and a time-seeded random source.
func NewLotteryService(quota *QuotaService) *LotteryService {
	src := rand.New(rand.NewSource(time.Now().UnixNano()))
	var mu sync.Mutex
	return &LotteryService{
		Quota: quota,
		Rand: func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return src.Float64()
		},
		Policies: map[domain.RateChangeType]RatePolicy{
			domain.RateStatic: StaticRate{},
			domain.RateRampUp: RampUpRate{},
		},
		Clock: SystemClock,
	}
}

func (s *LotteryService) policyFor(t domain.RateChangeType) RatePolicy {
	if p, ok := s.Policies[t]; ok {
		return p
	}
	return StaticRate{}
}

// Resolve performs one draw for the prize. A win is final only when the
// random roll, the per-minute reservation, and the quota grant all succeed;
// any quota refusal downgrades the result to Lost. The error return covers
// store failures only.
func (s *LotteryService) Resolve(ctx context.Context, prize *domain.Prize) (LotteryOutcome, error) {
	tr := otel.Tracer("services/LotteryService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(
			attribute.String("prize.id", prize.ID),
			attribute.String("rate.policy", string(prize.WinningRateChangeType)),
		),
	)
	defer span.End()

	now := clockOrSystem(s.Clock).Now()
	state := PrizeState{
		WinnerCount:     prize.WinnerCount,
		SendWinnerCount: prize.SendWinnerCount,
		WinningRate:     prize.WinningRate,
		StartDatetime:   prize.StartDatetime,
		EndDatetime:     prize.EndDatetime,
	}
	p := s.policyFor(prize.WinningRateChangeType).Probability(state, now)
	roll := s.Rand()

	out := LotteryOutcome{Probability: p, Roll: roll}
	if roll >= p {
		out.Reason = ReasonLostRoll
		lotteryDraws.WithLabelValues(string(out.Reason)).Inc()
		return out, nil
	}

	token, res, err := s.Quota.ReserveDraw(ctx, prize.ID)
	if err != nil {
		return out, err
	}
	if res == QuotaRateLimited {
		out.Reason = ReasonRateLimited
		lotteryDraws.WithLabelValues(string(out.Reason)).Inc()
		log.Debug().Str("prize_id", prize.ID).Msg("draw rate limited, downgraded to lost")
		return out, nil
	}

	res, err = s.Quota.TryGrantWin(ctx, prize, token)
	if err != nil {
		return out, err
	}
	if res == QuotaExhausted {
		out.Reason = ReasonQuotaExhausted
		lotteryDraws.WithLabelValues(string(out.Reason)).Inc()
		log.Debug().Str("prize_id", prize.ID).Msg("quota exhausted, downgraded to lost")
		return out, nil
	}

	out.Won = true
	out.Reason = ReasonWon
	lotteryDraws.WithLabelValues(string(out.Reason)).Inc()
	return out, nil
}
