package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// SaveSchedulerState upserts the single heartbeat row
func (s *Store) SaveSchedulerState(ctx context.Context, st domain.SchedulerState) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO scheduler_status (id, running, last_schedule_sync, last_enqueue, last_group_check, heartbeat_at)
		VALUES (1, :running, :last_schedule_sync, :last_enqueue, :last_group_check, :heartbeat_at)
		ON CONFLICT (id) DO UPDATE
		SET running = EXCLUDED.running,
			last_schedule_sync = EXCLUDED.last_schedule_sync,
			last_enqueue = EXCLUDED.last_enqueue,
			last_group_check = EXCLUDED.last_group_check,
			heartbeat_at = EXCLUDED.heartbeat_at
	`, st)
	if err != nil {
		return fmt.Errorf("failed to save scheduler state: %w", err)
	}
	return nil
}

// LoadSchedulerState returns the heartbeat row, or nil when the scheduler never ran
func (s *Store) LoadSchedulerState(ctx context.Context) (*domain.SchedulerState, error) {
	var st domain.SchedulerState
	err := s.db.GetContext(ctx, &st, `
		SELECT running, last_schedule_sync, last_enqueue, last_group_check, heartbeat_at
		FROM scheduler_status WHERE id = 1
	`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load scheduler state: %w", err)
	}
	return &st, nil
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
