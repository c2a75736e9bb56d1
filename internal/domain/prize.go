// Package domain defines the persistence models for the instant-win
// conversation flow engine. This file covers the prize quota state: lifetime
// and daily winner caps, the winning-rate policy selector, and the per-minute
// draw counter used to absorb burst traffic.
package domain

import "time"

// RateChangeType selects the policy used to derive the effective winning
// probability from a prize's configured rate. Concrete curves are registered
// with the lottery resolver; the model stores only the selector.
type RateChangeType string

// Winning-rate policies.
const (
	// RateStatic uses the configured winning rate as-is.
	RateStatic RateChangeType = "STATIC"
	// RateRampUp raises the rate as the campaign ages while quota remains.
	RateRampUp RateChangeType = "RAMP_UP"
)

// Valid reports whether r is one of the known policy selectors.
func (r RateChangeType) Valid() bool {
	switch r {
	case RateStatic, RateRampUp:
		return true
	}
	return false
}

// Prize holds the scarce, time-windowed budget a conversation graph draws
// against. Counter fields are mutated exclusively through the quota ledger
// with conditional single-statement updates; read-then-write application
// logic over these columns is a correctness bug.
//
// Invariants:
//   - SendWinnerCount <= WinnerCount at all times.
//   - If IsDailyLottery, wins granted per calendar day never exceed
//     DailyWinnerCount (tracked in PrizeDailyWin rows).
type Prize struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	CampaignID string    `json:"campaign_id" gorm:"type:char(36);not null;index:idx_campaign_prizes"`
	Name       string    `json:"name"        gorm:"type:varchar(255);not null"`

	// Lifetime quota.
	WinnerCount     int `json:"winner_count"      gorm:"not null;default:0"`
	SendWinnerCount int `json:"send_winner_count" gorm:"not null;default:0"`

	// Probability policy.
	WinningRate           float64        `json:"winning_rate"             gorm:"not null;default:0"`
	WinningRateChangeType RateChangeType `json:"winning_rate_change_type" gorm:"type:varchar(32);not null;default:'STATIC'"`

	// Daily quota.
	IsDailyLottery   bool `json:"is_daily_lottery"   gorm:"not null;default:false"`
	DailyWinnerCount int  `json:"daily_winner_count" gorm:"not null;default:0"`

	// Rolling per-minute draw counter. The count is valid only while the
	// anchor timestamp is within the current window; the ledger resets both
	// atomically when the window has elapsed.
	LotteryCountPerMinute                int        `json:"lottery_count_per_minute"                  gorm:"not null;default:0"`
	LotteryCountPerMinuteUpdatedDatetime *time.Time `json:"lottery_count_per_minute_updated_datetime"`

	// Campaign window, consumed by time-scaled rate policies.
	StartDatetime time.Time `json:"start_datetime"`
	EndDatetime   time.Time `json:"end_datetime"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Prize.
func (Prize) TableName() string { return "prizes" }

// Remaining returns the number of wins still grantable against the lifetime
// quota. Never negative.
func (p Prize) Remaining() int {
	if r := p.WinnerCount - p.SendWinnerCount; r > 0 {
		return r
	}
	return 0
}

// DayKey is the calendar-day format used to key PrizeDailyWin rows.
const DayKey = "2006-01-02"

// PrizeDailyWin tracks wins granted for a prize on a single calendar day.
// One row per (prize, day); GrantedCount is incremented with a conditional
// UPDATE inside the same transaction as the lifetime counter.
type PrizeDailyWin struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	PrizeID      string    `json:"prize_id"      gorm:"type:char(36);not null;uniqueIndex:ux_prize_day,priority:1"`
	Day          string    `json:"day"           gorm:"type:char(10);not null;uniqueIndex:ux_prize_day,priority:2"`
	GrantedCount int       `json:"granted_count" gorm:"not null;default:0"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for PrizeDailyWin.
func (PrizeDailyWin) TableName() string { return "prize_daily_wins" }
