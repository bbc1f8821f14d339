package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const scheduleColumns = `id, stock_id, quarter, year, priority, next_check_at, last_status,
	last_checked_at, last_available_at, attempts, locked_until`

// SyncSchedule makes the period's schedule match seeds in one transaction.
// Rows of other periods or of stocks outside seeds are deleted; existing
// rows keep their next_check_at.
func (s *Store) SyncSchedule(ctx context.Context, period domain.Period, seeds []domain.ScheduleSeed, now time.Time) (domain.SyncResult, error) {
	var result domain.SyncResult

	stockIDs := make([]int64, len(seeds))
	priorities := make([]int64, len(seeds))
	for i, seed := range seeds {
		stockIDs[i] = seed.StockID
		priorities[i] = int64(seed.Priority)
	}

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM transcript_fetch_schedule
			WHERE quarter <> $1 OR year <> $2 OR NOT (stock_id = ANY($3))
		`, period.Quarter, period.Year, pq.Array(stockIDs))
		if err != nil {
			return fmt.Errorf("failed to prune schedule: %w", err)
		}
		if result.Deleted, err = res.RowsAffected(); err != nil {
			return err
		}

		if len(seeds) == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			INSERT INTO transcript_fetch_schedule (stock_id, quarter, year, priority, next_check_at, updated_at)
			SELECT s.stock_id, $1, $2, s.priority, $5, $5
			FROM UNNEST($3::bigint[], $4::bigint[]) AS s(stock_id, priority)
			ON CONFLICT (stock_id, quarter, year) DO UPDATE
			SET priority = EXCLUDED.priority,
				next_check_at = COALESCE(transcript_fetch_schedule.next_check_at, EXCLUDED.next_check_at),
				updated_at = EXCLUDED.updated_at
		`, period.Quarter, period.Year, pq.Array(stockIDs), pq.Array(priorities), now)
		if err != nil {
			return fmt.Errorf("failed to upsert schedule: %w", err)
		}
		result.Upserted, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return domain.SyncResult{}, err
	}
	return result, nil
}

// ScheduleEntries returns every schedule row of the period
func (s *Store) ScheduleEntries(ctx context.Context, period domain.Period) ([]domain.ScheduleEntry, error) {
	var rows []domain.ScheduleEntry
	err := s.db.SelectContext(ctx, &rows, `
		SELECT `+scheduleColumns+`
		FROM transcript_fetch_schedule
		WHERE quarter = $1 AND year = $2
		ORDER BY priority DESC, next_check_at ASC NULLS FIRST, id
	`, period.Quarter, period.Year)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule: %w", err)
	}
	return rows, nil
}

// LockSchedule takes a lease on a due, unlocked row. It reports false when
// another caller got there first.
func (s *Store) LockSchedule(ctx context.Context, id int64, now, until time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcript_fetch_schedule
		SET locked_until = $3, updated_at = $2
		WHERE id = $1
		  AND (locked_until IS NULL OR locked_until < $2)
		  AND (next_check_at IS NULL OR next_check_at <= $2)
	`, id, now, until)
	if err != nil {
		return false, fmt.Errorf("failed to lock schedule row %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UnlockSchedule drops the lease, used when the check message could not be pushed
func (s *Store) UnlockSchedule(ctx context.Context, id int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transcript_fetch_schedule SET locked_until = NULL, updated_at = $2 WHERE id = $1
	`, id, now)
	if err != nil {
		return fmt.Errorf("failed to unlock schedule row %d: %w", id, err)
	}
	return nil
}

// SetCheckIndicator sets the per-stock checking flag shown to users
func (s *Store) SetCheckIndicator(ctx context.Context, stockID int64, status string, now time.Time) error {
	return setCheckIndicator(ctx, s.db, stockID, status, now)
}

func setCheckIndicator(ctx context.Context, db sqlx.ExecerContext, stockID int64, status string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO transcript_checks (stock_id, status, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (stock_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
	`, stockID, status, now)
	if err != nil {
		return fmt.Errorf("failed to set check indicator: %w", err)
	}
	return nil
}

// RecordCheck persists a successful provider poll: the transcript row and
// its event, the schedule outcome and the idle indicator.
func (s *Store) RecordCheck(ctx context.Context, r domain.CheckResult) (domain.CheckRecord, error) {
	var record domain.CheckRecord
	now := r.Outcome.CheckedAt

	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if r.Item != nil && (r.Item.Status == domain.CheckAvailable || r.Item.Status == domain.CheckUpcoming) {
			var previous sql.NullString
			err := tx.GetContext(ctx, &previous, `
				SELECT status FROM transcripts WHERE stock_id = $1 AND quarter = $2 AND year = $3
			`, r.StockID, r.Period.Quarter, r.Period.Year)
			if err != nil && !errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to load transcript: %w", err)
			}

			var sourceURL *string
			if r.Item.SourceURL != "" {
				sourceURL = &r.Item.SourceURL
			}

			err = tx.GetContext(ctx, &record.TranscriptID, `
				INSERT INTO transcripts (stock_id, quarter, year, status, source_url, event_date, updated_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				ON CONFLICT (stock_id, quarter, year) DO UPDATE
				SET status = CASE WHEN transcripts.status = 'available' THEN transcripts.status ELSE EXCLUDED.status END,
					source_url = COALESCE(EXCLUDED.source_url, transcripts.source_url),
					event_date = COALESCE(EXCLUDED.event_date, transcripts.event_date),
					updated_at = EXCLUDED.updated_at
				RETURNING id
			`, r.StockID, r.Period.Quarter, r.Period.Year, string(r.Item.Status), sourceURL, r.Item.EventTime, now)
			if err != nil {
				return fmt.Errorf("failed to upsert transcript: %w", err)
			}
			record.BecameAvailable = r.Item.Status == domain.CheckAvailable &&
				(!previous.Valid || previous.String != domain.TranscriptAvailable)

			_, err = tx.ExecContext(ctx, `
				INSERT INTO transcript_events (stock_id, quarter, year, status, source_url, event_date, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, r.StockID, r.Period.Quarter, r.Period.Year, string(r.Item.Status), sourceURL, r.Item.EventTime, now)
			if err != nil {
				return fmt.Errorf("failed to insert transcript event: %w", err)
			}
		}

		_, err := tx.ExecContext(ctx, `
			UPDATE transcript_fetch_schedule
			SET last_status = $4,
				last_checked_at = $5,
				last_available_at = CASE WHEN $4 = 'available' THEN $5 ELSE last_available_at END,
				next_check_at = $6,
				attempts = $7,
				locked_until = NULL,
				updated_at = $5
			WHERE stock_id = $1 AND quarter = $2 AND year = $3
		`, r.StockID, r.Period.Quarter, r.Period.Year, string(r.Outcome.Status),
			now, r.Outcome.NextCheckAt, r.Outcome.Attempts)
		if err != nil {
			return fmt.Errorf("failed to update schedule: %w", err)
		}

		return setCheckIndicator(ctx, tx, r.StockID, domain.CheckIndicatorIdle, now)
	})
	if err != nil {
		return domain.CheckRecord{}, err
	}
	return record, nil
}

// RecordCheckError stores a failed poll on the schedule row and resets the indicator
func (s *Store) RecordCheckError(ctx context.Context, stockID int64, period domain.Period, outcome domain.CheckOutcome) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE transcript_fetch_schedule
			SET last_status = 'error',
				last_checked_at = $4,
				next_check_at = $5,
				attempts = $6,
				locked_until = NULL,
				updated_at = $4
			WHERE stock_id = $1 AND quarter = $2 AND year = $3
		`, stockID, period.Quarter, period.Year, outcome.CheckedAt, outcome.NextCheckAt, outcome.Attempts)
		if err != nil {
			return fmt.Errorf("failed to record check error: %w", err)
		}
		return setCheckIndicator(ctx, tx, stockID, domain.CheckIndicatorIdle, outcome.CheckedAt)
	})
}

// GetScheduleEntry returns the row tracking stockID for the period
func (s *Store) GetScheduleEntry(ctx context.Context, stockID int64, period domain.Period) (*domain.ScheduleEntry, error) {
	var e domain.ScheduleEntry
	err := s.db.GetContext(ctx, &e, `
		SELECT `+scheduleColumns+`
		FROM transcript_fetch_schedule
		WHERE stock_id = $1 AND quarter = $2 AND year = $3
	`, stockID, period.Quarter, period.Year)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to get schedule entry: %w", err)
	}
	return &e, nil
}

// TriggerSchedule makes the stock's row due now, inserting it with
// priority when missing.
func (s *Store) TriggerSchedule(ctx context.Context, stockID int64, period domain.Period, priority int, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transcript_fetch_schedule (stock_id, quarter, year, priority, next_check_at, attempts, locked_until, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, NULL, $5)
		ON CONFLICT (stock_id, quarter, year) DO UPDATE
		SET next_check_at = EXCLUDED.next_check_at,
			attempts = 0,
			locked_until = NULL,
			updated_at = EXCLUDED.updated_at
	`, stockID, period.Quarter, period.Year, priority, now)
	if err != nil {
		return fmt.Errorf("failed to trigger schedule for stock %d: %w", stockID, err)
	}
	return nil
}

// ReseedSchedules makes error rows, and rows whose lease lapsed after they
// fell due, due now unless their transcript is already available.
func (s *Store) ReseedSchedules(ctx context.Context, period domain.Period, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE transcript_fetch_schedule fs
		SET next_check_at = $3, attempts = 0, locked_until = NULL, updated_at = $3
		WHERE fs.quarter = $1 AND fs.year = $2
		  AND (
			fs.last_status = 'error'
			OR (fs.locked_until IS NOT NULL AND fs.locked_until < $3 AND fs.next_check_at <= $3)
		  )
		  AND NOT EXISTS (
			SELECT 1 FROM transcripts t
			WHERE t.stock_id = fs.stock_id AND t.quarter = fs.quarter AND t.year = fs.year
			  AND t.status = 'available'
		  )
	`, period.Quarter, period.Year, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reseed schedule: %w", err)
	}
	return res.RowsAffected()
}

// ScheduleOverview counts leased rows and finds the earliest next check
func (s *Store) ScheduleOverview(ctx context.Context, period domain.Period, now time.Time) (domain.ScheduleOverview, error) {
	var o domain.ScheduleOverview
	err := s.db.GetContext(ctx, &o, `
		SELECT
			COUNT(*) FILTER (WHERE locked_until IS NOT NULL AND locked_until >= $3) AS polling,
			MIN(next_check_at) AS next_check_at
		FROM transcript_fetch_schedule
		WHERE quarter = $1 AND year = $2
	`, period.Quarter, period.Year, now)
	if err != nil {
		return domain.ScheduleOverview{}, fmt.Errorf("failed to summarise schedule: %w", err)
	}
	return o, nil
}
