// Package repo implements the data persistence layer for the flow engine,
// backed by GORM. This file provides the transactional primitives behind the
// quota ledger: the per-minute draw counter and the winner-count grants.
//
// Every mutation here is a conditional single-statement UPDATE checked via
// RowsAffected (or a transaction of such statements). Two users racing for
// the last prize slot must never both be granted a win, so read-then-write
// logic over these counters is not allowed anywhere else in the codebase.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/sakamotodd/chatbot-sub001/internal/domain"
)

// errDailyExhausted aborts the grant transaction when the daily cap is hit,
// rolling back the lifetime-counter increment of the same transaction.
var errDailyExhausted = errors.New("daily winner quota exhausted")

// ReserveDraw consumes one slot of the prize's rolling per-minute draw
// counter. The counter is keyed by lottery_count_per_minute_updated_datetime:
// when the anchor is older than window (or unset), the counter resets to 1
// and the anchor to now; otherwise the counter increments while below cap.
//
// Returns (true, nil) when a slot was reserved and (false, nil) when the
// window is full; the false case is an expected outcome, not an error.
func ReserveDraw(ctx context.Context, db *gorm.DB, prizeID string, limit int, window time.Duration, now time.Time) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	cutoff := now.Add(-window)

	// Expired (or never started) window: reset counter and anchor in one shot.
	res := db.WithContext(ctx).Model(&domain.Prize{}).
		Where("id = ? AND (lottery_count_per_minute_updated_datetime IS NULL OR lottery_count_per_minute_updated_datetime <= ?)", prizeID, cutoff).
		Updates(map[string]any{
			"lottery_count_per_minute":                   1,
			"lottery_count_per_minute_updated_datetime":  now,
			"updated_at":                                 now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// Live window: increment while below cap.
	res = db.WithContext(ctx).Model(&domain.Prize{}).
		Where("id = ? AND lottery_count_per_minute_updated_datetime > ? AND lottery_count_per_minute < ?", prizeID, cutoff, limit).
		Updates(map[string]any{
			"lottery_count_per_minute": gorm.Expr("lottery_count_per_minute + 1"),
			"updated_at":               now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// GrantWin atomically consumes one win against the prize's lifetime quota
// and, when the prize runs a daily lottery, against the per-day quota for
// day (domain.DayKey format). Both legs run in one transaction; if either
// cap is already reached nothing is mutated.
//
// Returns (true, nil) when the win was granted, (false, nil) when either
// quota is exhausted.
func GrantWin(ctx context.Context, db *gorm.DB, prize *domain.Prize, day string, now time.Time) (bool, error) {
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Prize{}).
			Where("id = ? AND send_winner_count < winner_count", prize.ID).
			Updates(map[string]any{
				"send_winner_count": gorm.Expr("send_winner_count + 1"),
				"updated_at":        now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return errDailyExhausted // lifetime quota gone; same rollback path
		}

		if !prize.IsDailyLottery {
			return nil
		}
		if prize.DailyWinnerCount <= 0 {
			return errDailyExhausted
		}
		return grantDailyWin(tx, prize, day, now)
	})
	if errors.Is(err, errDailyExhausted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// grantDailyWin increments the (prize, day) counter while below the daily
// cap, creating the row on first win of the day. Runs inside GrantWin's
// transaction.
func grantDailyWin(tx *gorm.DB, prize *domain.Prize, day string, now time.Time) error {
	ok, err := incrementDailyWin(tx, prize, day, now)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	// Either no row yet for this day, or the cap is reached.
	var existing int64
	if err := tx.Model(&domain.PrizeDailyWin{}).
		Where("prize_id = ? AND day = ?", prize.ID, day).
		Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		return errDailyExhausted
	}

	row := &domain.PrizeDailyWin{
		ID:           uuid.NewString(),
		PrizeID:      prize.ID,
		Day:          day,
		GrantedCount: 1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			// A racing grant created the row first; its win is counted there,
			// so take the increment path instead of refusing the day outright.
			ok, err := incrementDailyWin(tx, prize, day, now)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
			return errDailyExhausted
		}
		return err
	}
	return nil
}

// incrementDailyWin is the conditional increment of the (prize, day) counter.
// Reports false when no row exists yet or the cap is reached.
func incrementDailyWin(tx *gorm.DB, prize *domain.Prize, day string, now time.Time) (bool, error) {
	res := tx.Model(&domain.PrizeDailyWin{}).
		Where("prize_id = ? AND day = ? AND granted_count < ?", prize.ID, day, prize.DailyWinnerCount).
		Updates(map[string]any{
			"granted_count": gorm.Expr("granted_count + 1"),
			"updated_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// isUniqueViolation matches unique-constraint failures across drivers.
// glebarez/sqlite often returns plain-text errors instead of gorm.ErrDuplicatedKey.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// DailyGranted returns the number of wins granted for the prize on day, zero
// when no row exists yet.
func DailyGranted(ctx context.Context, db *gorm.DB, prizeID, day string) (int, error) {
	var row domain.PrizeDailyWin
	err := db.WithContext(ctx).
		Where("prize_id = ? AND day = ?", prizeID, day).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return row.GrantedCount, nil
}
