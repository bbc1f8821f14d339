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

type groupRow struct {
	ID       int64         `db:"id"`
	Name     string        `db:"name"`
	Prompt   string        `db:"prompt"`
	StockIDs pq.Int64Array `db:"stock_ids"`
}

func (r groupRow) toDomain() domain.Group {
	return domain.Group{ID: r.ID, Name: r.Name, Prompt: r.Prompt, StockIDs: []int64(r.StockIDs)}
}

const groupSelect = `
	SELECT g.id, g.name, COALESCE(g.deep_research_prompt, '') AS prompt,
		COALESCE(ARRAY_AGG(gs.stock_id ORDER BY gs.stock_id) FILTER (WHERE gs.stock_id IS NOT NULL), '{}') AS stock_ids
	FROM groups g
	LEFT JOIN group_stocks gs ON gs.group_id = g.id
`

// ActiveGroups lists active groups that have a research prompt and at least one stock
func (s *Store) ActiveGroups(ctx context.Context) ([]domain.Group, error) {
	var rows []groupRow
	err := s.db.SelectContext(ctx, &rows, groupSelect+`
		WHERE g.is_active AND COALESCE(g.deep_research_prompt, '') <> ''
		GROUP BY g.id
		HAVING COUNT(gs.stock_id) > 0
		ORDER BY g.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active groups: %w", err)
	}

	groups := make([]domain.Group, len(rows))
	for i, r := range rows {
		groups[i] = r.toDomain()
	}
	return groups, nil
}

// GetActiveGroup retrieves an active group by its ID
func (s *Store) GetActiveGroup(ctx context.Context, id int64) (*domain.Group, error) {
	var row groupRow
	err := s.db.GetContext(ctx, &row, groupSelect+`
		WHERE g.id = $1 AND g.is_active
		GROUP BY g.id
	`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrGroupNotFound
		}
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	g := row.toDomain()
	return &g, nil
}

// AvailablePeriods maps each stock to the periods with an available transcript
func (s *Store) AvailablePeriods(ctx context.Context, stockIDs []int64) (map[int64][]domain.Period, error) {
	var rows []struct {
		StockID int64  `db:"stock_id"`
		Quarter string `db:"quarter"`
		Year    int    `db:"year"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT stock_id, quarter, year
		FROM transcripts
		WHERE status = 'available' AND stock_id = ANY($1)
		ORDER BY stock_id, year, quarter
	`, pq.Array(stockIDs))
	if err != nil {
		return nil, fmt.Errorf("failed to list available periods: %w", err)
	}

	out := make(map[int64][]domain.Period, len(stockIDs))
	for _, r := range rows {
		out[r.StockID] = append(out[r.StockID], domain.Period{Quarter: r.Quarter, Year: r.Year})
	}
	return out, nil
}

// GroupDigests returns the latest analysis of each stock for the period
func (s *Store) GroupDigests(ctx context.Context, stockIDs []int64, period domain.Period) ([]domain.GroupDigest, error) {
	var digests []domain.GroupDigest
	err := s.db.SelectContext(ctx, &digests, `
		SELECT DISTINCT ON (t.stock_id)
			t.stock_id,
			COALESCE(NULLIF(st.stock_symbol, ''), st.bse_code, '') AS ticker,
			a.llm_output
		FROM transcripts t
		JOIN transcript_analyses a ON a.transcript_id = t.id
		JOIN stocks st ON st.id = t.stock_id
		WHERE t.stock_id = ANY($1) AND t.quarter = $2 AND t.year = $3
		ORDER BY t.stock_id, a.created_at DESC
	`, pq.Array(stockIDs), period.Quarter, period.Year)
	if err != nil {
		return nil, fmt.Errorf("failed to load group digests: %w", err)
	}
	return digests, nil
}

// CommitGroupResearch stores the run's output and marks it done
func (s *Store) CommitGroupResearch(ctx context.Context, runID int64, result domain.GroupResult, now time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE group_research_runs
			SET prompt_snapshot = $2, llm_output = $3, model_provider = $4, model_id = $5
			WHERE id = $1 AND status = 'in_progress'
		`, runID, result.PromptSnapshot, result.Output, result.Provider, result.ModelID)
		if err != nil {
			return fmt.Errorf("failed to store group research output: %w", err)
		}

		ok, err := transition(ctx, tx, jobTables[domain.KindGroupResearch].name, runID, now, domain.DoneUpdate())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrJobAlreadyClaimed
		}
		return nil
	})
}
