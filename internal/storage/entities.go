package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
	"github.com/jmoiron/sqlx"
)

// GetStock retrieves a stock by its ID
func (s *Store) GetStock(ctx context.Context, id int64) (*domain.Stock, error) {
	var stock domain.Stock
	err := s.db.GetContext(ctx, &stock,
		`SELECT id, stock_symbol, bse_code, stock_name FROM stocks WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrStockNotFound
		}
		return nil, fmt.Errorf("failed to get stock: %w", err)
	}
	return &stock, nil
}

// GetMembership reports whether the stock is watchlisted and whether it
// belongs to an active group
func (s *Store) GetMembership(ctx context.Context, stockID int64) (domain.Membership, error) {
	var row struct {
		InWatchlist   bool `db:"in_watchlist"`
		InActiveGroup bool `db:"in_active_group"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT
			EXISTS (SELECT 1 FROM watchlist_items WHERE stock_id = $1) AS in_watchlist,
			EXISTS (
				SELECT 1 FROM group_stocks gs
				JOIN groups g ON g.id = gs.group_id
				WHERE gs.stock_id = $1 AND g.is_active
			) AS in_active_group
	`, stockID)
	if err != nil {
		return domain.Membership{}, fmt.Errorf("failed to get membership of stock %d: %w", stockID, err)
	}
	return domain.Membership{InWatchlist: row.InWatchlist, InActiveGroup: row.InActiveGroup}, nil
}

// WatchlistStockIDs lists every watchlisted stock
func (s *Store) WatchlistStockIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := s.db.SelectContext(ctx, &ids, `SELECT DISTINCT stock_id FROM watchlist_items ORDER BY stock_id`); err != nil {
		return nil, fmt.Errorf("failed to list watchlist stocks: %w", err)
	}
	return ids, nil
}

// ActiveGroupStockIDs lists every stock in at least one active group
func (s *Store) ActiveGroupStockIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT DISTINCT gs.stock_id
		FROM group_stocks gs
		JOIN groups g ON g.id = gs.group_id
		WHERE g.is_active
		ORDER BY gs.stock_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list group stocks: %w", err)
	}
	return ids, nil
}

// SystemPrompt returns the stock's prompt, falling back to the default one.
// An empty string means no prompt is configured.
func (s *Store) SystemPrompt(ctx context.Context, stockID int64) (string, error) {
	var content string
	err := s.db.GetContext(ctx, &content, `
		SELECT content FROM prompts
		WHERE stock_id = $1 OR (stock_id IS NULL AND is_default)
		ORDER BY (stock_id IS NULL), updated_at DESC
		LIMIT 1
	`, stockID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("failed to get system prompt: %w", err)
	}
	return content, nil
}

// ActiveRecipients lists the email addresses that receive reports
func (s *Store) ActiveRecipients(ctx context.Context) ([]string, error) {
	var emails []string
	if err := s.db.SelectContext(ctx, &emails, `SELECT email FROM email_list WHERE is_active ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list recipients: %w", err)
	}
	return emails, nil
}

const transcriptColumns = `id, stock_id, quarter, year, status, source_url, event_date, analysis_status, analysis_error, updated_at`

// GetTranscript retrieves a transcript by its ID
func (s *Store) GetTranscript(ctx context.Context, id int64) (*domain.Transcript, error) {
	var t domain.Transcript
	err := s.db.GetContext(ctx, &t, `SELECT `+transcriptColumns+` FROM transcripts WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTranscriptNotFound
		}
		return nil, fmt.Errorf("failed to get transcript: %w", err)
	}
	return &t, nil
}

// HasAnalysis reports whether any analysis exists for the transcript
func (s *Store) HasAnalysis(ctx context.Context, transcriptID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM transcript_analyses WHERE transcript_id = $1)`, transcriptID)
	if err != nil {
		return false, fmt.Errorf("failed to check analysis: %w", err)
	}
	return exists, nil
}

// MarkAnalysisStarted flags the transcript as being analysed
func (s *Store) MarkAnalysisStarted(ctx context.Context, transcriptID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET analysis_status = 'in_progress', analysis_error = NULL, updated_at = $2
		WHERE id = $1
	`, transcriptID, now)
	if err != nil {
		return fmt.Errorf("failed to mark analysis started: %w", err)
	}
	return nil
}

// MarkAnalysisFailed records the analysis error on the transcript
func (s *Store) MarkAnalysisFailed(ctx context.Context, transcriptID int64, cause string, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE transcripts
		SET analysis_status = 'error', analysis_error = $2, updated_at = $3
		WHERE id = $1
	`, transcriptID, domain.TruncateError(cause), now)
	if err != nil {
		return fmt.Errorf("failed to mark analysis failed: %w", err)
	}
	return nil
}

// CommitAnalysis stores the analysis, flags the transcript done and
// finishes the job in one transaction. With replace set, older analyses of
// the transcript are deleted first. ErrJobAlreadyClaimed is returned when
// the job no longer belongs to the caller.
func (s *Store) CommitAnalysis(ctx context.Context, jobID int64, a *domain.Analysis, replace bool, now time.Time) (int64, error) {
	var analysisID int64
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if replace {
			if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_analyses WHERE transcript_id = $1`, a.TranscriptID); err != nil {
				return fmt.Errorf("failed to delete previous analyses: %w", err)
			}
		}

		err := tx.GetContext(ctx, &analysisID, `
			INSERT INTO transcript_analyses (
				transcript_id, prompt_snapshot, llm_output, model_provider, model_id,
				tokens_used_input, tokens_used_output, cost_usd, created_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id
		`, a.TranscriptID, a.PromptSnapshot, a.Output, a.Provider, a.ModelID,
			a.TokensIn, a.TokensOut, a.CostUSD, now)
		if err != nil {
			return fmt.Errorf("failed to insert analysis: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE transcripts
			SET analysis_status = 'done', analysis_error = NULL, updated_at = $2
			WHERE id = $1
		`, a.TranscriptID, now)
		if err != nil {
			return fmt.Errorf("failed to mark analysis done: %w", err)
		}

		ok, err := transition(ctx, tx, jobTables[domain.KindAnalysis].name, jobID, now, domain.DoneUpdate())
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrJobAlreadyClaimed
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	a.ID = analysisID
	return analysisID, nil
}

// GetAnalysisDigest loads an analysis with its transcript and stock
func (s *Store) GetAnalysisDigest(ctx context.Context, analysisID int64) (*domain.AnalysisDigest, error) {
	var d domain.AnalysisDigest
	err := s.db.GetContext(ctx, &d, `
		SELECT
			a.id AS analysis_id, a.llm_output, COALESCE(a.model_provider, '') AS model_provider, a.model_id,
			t.stock_id, t.quarter, t.year, t.source_url,
			st.stock_symbol, st.bse_code, st.stock_name
		FROM transcript_analyses a
		JOIN transcripts t ON t.id = a.transcript_id
		JOIN stocks st ON st.id = t.stock_id
		WHERE a.id = $1
	`, analysisID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAnalysisNotFound
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return &d, nil
}
