package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// PostgresStore keeps messages in the queue_messages table. Claiming uses
// SELECT ... FOR UPDATE SKIP LOCKED followed by DELETE in one transaction.
type PostgresStore struct {
	db     *sqlx.DB
	logger *slog.Logger
	opts   Options
	now    func() time.Time
}

// NewPostgresStore creates a new PostgresStore instance
func NewPostgresStore(db *sqlx.DB, logger *slog.Logger, opts Options) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
		opts:   opts.withDefaults(),
		now:    time.Now,
	}
}

// Enqueue inserts one message visible at now+delay
func (s *PostgresStore) Enqueue(ctx context.Context, topic string, payload any, delay time.Duration) error {
	body, err := encodePayload(payload)
	if err != nil {
		return err
	}
	availableAt := s.now().Add(delay)

	err = withBusyRetry(ctx, s.opts, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO queue_messages (topic, payload, available_at) VALUES ($1, $2, $3)`,
			topic, string(body), availableAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message on %s: %w", topic, err)
	}
	return nil
}

// Dequeue claims and deletes the oldest visible message on topic
func (s *PostgresStore) Dequeue(ctx context.Context, topic string, timeout time.Duration) (*Message, error) {
	return poll(ctx, timeout, s.opts.PollInterval, func(ctx context.Context) (*Message, error) {
		var msg *Message
		err := withBusyRetry(ctx, s.opts, func() error {
			var err error
			msg, err = s.claimOne(ctx, topic)
			return err
		})
		if err != nil && !errors.Is(err, errLostRace) {
			return nil, fmt.Errorf("failed to dequeue from %s: %w", topic, err)
		}
		return msg, err
	})
}

func (s *PostgresStore) claimOne(ctx context.Context, topic string) (*Message, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var msg Message
	err = tx.GetContext(ctx, &msg, `
		SELECT id, topic, payload, available_at
		FROM queue_messages
		WHERE topic = $1 AND available_at <= $2
		ORDER BY available_at, id
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, topic, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM queue_messages WHERE id = $1`, msg.ID)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, errLostRace
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.Debug("Queue message claimed",
		slog.String("topic", topic),
		slog.Int64("message_id", msg.ID),
	)
	return &msg, nil
}

// Length counts all messages on topic
func (s *PostgresStore) Length(ctx context.Context, topic string) (int64, error) {
	var n int64
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM queue_messages WHERE topic = $1`, topic); err != nil {
		return 0, fmt.Errorf("failed to count messages on %s: %w", topic, err)
	}
	return n, nil
}

// Ping checks the database connection
func (s *PostgresStore) Ping(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}
