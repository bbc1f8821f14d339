package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// jobTable maps the generic job shape onto one table
type jobTable struct {
	name    string
	subject string
	key     string
	force   string
	// insert returns an INSERT ... ON CONFLICT DO NOTHING statement
	insert func(n domain.NewJob) (string, []any)
	// lookup returns the WHERE clause locating the row insert targeted
	lookup func(n domain.NewJob) (string, []any)
}

func (t jobTable) columns() string {
	return fmt.Sprintf(
		"id, %s AS subject_id, %s AS job_key, %s AS force, status, attempts, last_error, retry_next_at, locked_until, created_at, updated_at",
		t.subject, t.key, t.force,
	)
}

var jobTables = map[domain.Kind]jobTable{
	domain.KindAnalysis: {
		name:    "analysis_jobs",
		subject: "transcript_id",
		key:     "idempotency_key",
		force:   "force",
		insert: func(n domain.NewJob) (string, []any) {
			return `INSERT INTO analysis_jobs (transcript_id, idempotency_key, force, status)
				VALUES ($1, $2, $3, 'pending')
				ON CONFLICT (idempotency_key) DO NOTHING`,
				[]any{n.SubjectID, n.Key, n.Force}
		},
		lookup: func(n domain.NewJob) (string, []any) {
			return "idempotency_key = $1", []any{n.Key}
		},
	},
	domain.KindEmail: {
		name:    "email_outbox",
		subject: "analysis_id",
		key:     "recipient",
		force:   "FALSE",
		insert: func(n domain.NewJob) (string, []any) {
			return `INSERT INTO email_outbox (analysis_id, recipient, status, scheduled_at)
				VALUES ($1, $2, 'pending', NOW())
				ON CONFLICT (analysis_id, recipient) DO NOTHING`,
				[]any{n.SubjectID, n.Key}
		},
		lookup: func(n domain.NewJob) (string, []any) {
			return "analysis_id = $1 AND recipient = $2", []any{n.SubjectID, n.Key}
		},
	},
	domain.KindGroupResearch: {
		name:    "group_research_runs",
		subject: "group_id",
		key:     "idempotency_key",
		force:   "FALSE",
		insert: func(n domain.NewJob) (string, []any) {
			return `INSERT INTO group_research_runs (group_id, quarter, year, idempotency_key, status)
				VALUES ($1, $2, $3, $4, 'pending')
				ON CONFLICT (idempotency_key) DO NOTHING`,
				[]any{n.SubjectID, n.Period.Quarter, n.Period.Year, n.Key}
		},
		lookup: func(n domain.NewJob) (string, []any) {
			return "idempotency_key = $1", []any{n.Key}
		},
	},
}

// JobRepository performs guarded status updates on one job table. Every
// update derives its allowed source statuses from domain.Sources.
type JobRepository struct {
	db     *sqlx.DB
	kind   domain.Kind
	table  jobTable
	logger *slog.Logger
}

// Kind returns the job kind the repository serves
func (r *JobRepository) Kind() domain.Kind {
	return r.kind
}

// Get retrieves a job by its ID
func (r *JobRepository) Get(ctx context.Context, id int64) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, r.table.columns(), r.table.name)

	var job domain.Job
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get %s job: %w", r.kind, err)
	}
	job.Kind = r.kind
	return &job, nil
}

// InsertOrGet inserts a pending row unless one with the same key exists,
// then returns the stored row.
func (r *JobRepository) InsertOrGet(ctx context.Context, n domain.NewJob) (*domain.Job, error) {
	insert, args := r.table.insert(n)
	if _, err := r.db.ExecContext(ctx, insert, args...); err != nil {
		return nil, fmt.Errorf("failed to insert %s job: %w", r.kind, err)
	}

	where, args := r.table.lookup(n)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s`, r.table.columns(), r.table.name, where)

	var job domain.Job
	if err := r.db.GetContext(ctx, &job, query, args...); err != nil {
		return nil, fmt.Errorf("failed to load %s job %q: %w", r.kind, n.Key, err)
	}
	job.Kind = r.kind
	return &job, nil
}

// Transition applies u when the row's current status allows it. It
// reports false when the guard did not match.
func (r *JobRepository) Transition(ctx context.Context, id int64, now time.Time, u domain.JobUpdate) (bool, error) {
	return transition(ctx, r.db, r.table.name, id, now, u)
}

func transition(ctx context.Context, db sqlx.ExecerContext, table string, id int64, now time.Time, u domain.JobUpdate) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $1::text,
			locked_until = $2,
			retry_next_at = $3,
			last_error = CASE WHEN $4::boolean THEN $5 ELSE last_error END,
			attempts = attempts + $6,
			updated_at = $7
		WHERE id = $8
		  AND status = ANY($9)
		  AND ($1::text <> 'queued' OR status <> 'queued' OR locked_until IS NULL OR locked_until < $7)
	`, table)

	bump := 0
	if u.BumpAttempts {
		bump = 1
	}

	res, err := db.ExecContext(ctx, query,
		string(u.Status), u.LockedUntil, u.RetryNextAt, u.SetError, u.LastError, bump, now,
		id, pq.Array(domain.SourceStrings(u.Status)),
	)
	if err != nil {
		return false, fmt.Errorf("failed to move %s row %d to %s: %w", table, id, u.Status, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Claim moves the row to in_progress with a lease. Duplicate deliveries
// get ErrJobTerminal or ErrJobAlreadyClaimed.
func (r *JobRepository) Claim(ctx context.Context, id int64, now, lease time.Time) (*domain.Job, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'in_progress', locked_until = $2, updated_at = $3
		WHERE id = $1
		  AND (status = ANY($4)
		       OR (status = 'in_progress' AND (locked_until IS NULL OR locked_until < $3)))
		RETURNING %s
	`, r.table.name, r.table.columns())

	var job domain.Job
	err := r.db.GetContext(ctx, &job, query, id, lease, now, pq.Array(domain.SourceStrings(domain.StatusInProgress)))
	if err == nil {
		job.Kind = r.kind
		return &job, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim %s job: %w", r.kind, err)
	}

	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if current.Status.IsTerminal() {
		return nil, domain.ErrJobTerminal
	}
	return nil, domain.ErrJobAlreadyClaimed
}

// ClaimDue moves up to limit due rows to queued with a lease and returns
// their ids. Concurrent sweeps skip each other's rows.
func (r *JobRepository) ClaimDue(ctx context.Context, now, lease time.Time, limit int) ([]int64, error) {
	query := fmt.Sprintf(`
		WITH due AS (
			SELECT id FROM %[1]s
			WHERE status = ANY($1)
			  AND (retry_next_at IS NULL OR retry_next_at <= $2)
			  AND (locked_until IS NULL OR locked_until < $2)
			ORDER BY COALESCE(retry_next_at, created_at), id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE %[1]s AS j
		SET status = 'queued', locked_until = $4, updated_at = $2
		FROM due
		WHERE j.id = due.id
		RETURNING j.id
	`, r.table.name)

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, pq.Array(domain.SourceStrings(domain.StatusQueued)), now, limit, lease); err != nil {
		return nil, fmt.Errorf("failed to claim due %s jobs: %w", r.kind, err)
	}
	return ids, nil
}

// RecoverExpired returns in_progress rows whose lease lapsed to retrying,
// due immediately.
func (r *JobRepository) RecoverExpired(ctx context.Context, now time.Time) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'retrying', retry_next_at = $1, locked_until = NULL, updated_at = $1
		WHERE status = 'in_progress'
		  AND (locked_until IS NULL OR locked_until < $1)
	`, r.table.name)

	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to recover expired %s jobs: %w", r.kind, err)
	}
	return res.RowsAffected()
}

// MigrateLegacy moves blocked_legacy rows, and error rows whose last error
// contains one of phrases, back to pending. It bypasses the transition table.
func (r *JobRepository) MigrateLegacy(ctx context.Context, now time.Time, phrases []string) (int64, error) {
	patterns := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, "%"+p+"%")
		}
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending', retry_next_at = $1, locked_until = NULL, updated_at = $1
		WHERE status = 'blocked_legacy'
		   OR (status = 'error' AND last_error ILIKE ANY($2))
	`, r.table.name)

	res, err := r.db.ExecContext(ctx, query, now, pq.Array(patterns))
	if err != nil {
		return 0, fmt.Errorf("failed to migrate legacy %s jobs: %w", r.kind, err)
	}
	return res.RowsAffected()
}

// List returns a page of jobs, newest first
func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE 1=1`, r.table.columns(), r.table.name)
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.ID)
		argIdx += 2
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list %s jobs: %w", r.kind, err)
	}
	for i := range jobs {
		jobs[i].Kind = r.kind
	}
	return jobs, nil
}
