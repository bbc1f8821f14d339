package storage

import (
	"context"
	"fmt"
	"time"
)

// ResetStaleTranscripts clears analysis_status on transcripts stuck in
// progress since before olderThan and returns their ids.
func (s *Store) ResetStaleTranscripts(ctx context.Context, olderThan, now time.Time) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		UPDATE transcripts
		SET analysis_status = NULL, updated_at = $2
		WHERE analysis_status = 'in_progress' AND updated_at < $1
		RETURNING id
	`, olderThan, now)
	if err != nil {
		return nil, fmt.Errorf("failed to reset stale transcripts: %w", err)
	}
	return ids, nil
}

// UnanalysedTranscripts lists available transcripts of watchlisted stocks
// outside active groups that have neither an analysis nor any analysis job.
// Transcripts with a job are left to the sweep, or stay terminal.
func (s *Store) UnanalysedTranscripts(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, `
		SELECT t.id
		FROM transcripts t
		WHERE t.status = 'available'
		  AND COALESCE(t.source_url, '') <> ''
		  AND EXISTS (SELECT 1 FROM watchlist_items w WHERE w.stock_id = t.stock_id)
		  AND NOT EXISTS (
			SELECT 1 FROM group_stocks gs JOIN groups g ON g.id = gs.group_id
			WHERE gs.stock_id = t.stock_id AND g.is_active
		  )
		  AND NOT EXISTS (SELECT 1 FROM transcript_analyses a WHERE a.transcript_id = t.id)
		  AND NOT EXISTS (SELECT 1 FROM analysis_jobs j WHERE j.transcript_id = t.id)
		ORDER BY t.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unanalysed transcripts: %w", err)
	}
	return ids, nil
}
