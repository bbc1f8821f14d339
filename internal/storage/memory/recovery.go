package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func (s *Store) ResetStaleTranscripts(_ context.Context, olderThan, now time.Time) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for _, t := range s.transcripts {
		if t.AnalysisStatus != nil && *t.AnalysisStatus == domain.AnalysisInProgress && t.UpdatedAt.Before(olderThan) {
			t.AnalysisStatus = nil
			t.UpdatedAt = now
			ids = append(ids, t.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) UnanalysedTranscripts(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hasJob := make(map[int64]bool)
	for _, j := range s.jobs[domain.KindAnalysis].rows {
		hasJob[j.SubjectID] = true
	}

	var ids []int64
	for _, t := range s.transcripts {
		if !t.Analysable() || !s.watchlist[t.StockID] || s.inActiveGroup(t.StockID) {
			continue
		}
		if s.hasAnalysis(t.ID) || hasJob[t.ID] {
			continue
		}
		ids = append(ids, t.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
