package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func (s *Store) GetStock(_ context.Context, id int64) (*domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stocks[id]
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	return &st, nil
}

func (s *Store) GetMembership(_ context.Context, stockID int64) (domain.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Membership{InWatchlist: s.watchlist[stockID], InActiveGroup: s.inActiveGroup(stockID)}, nil
}

func (s *Store) inActiveGroup(stockID int64) bool {
	for _, g := range s.groups {
		if !g.active {
			continue
		}
		for _, id := range g.group.StockIDs {
			if id == stockID {
				return true
			}
		}
	}
	return false
}

func (s *Store) WatchlistStockIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.watchlist))
	for id := range s.watchlist {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) ActiveGroupStockIDs(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int64]bool)
	var ids []int64
	for _, g := range s.groups {
		if !g.active {
			continue
		}
		for _, id := range g.group.StockIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) SystemPrompt(_ context.Context, stockID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.prompts[stockID]; ok {
		return p, nil
	}
	return s.defPrompt, nil
}

func (s *Store) ActiveRecipients(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.recipients...), nil
}

func (s *Store) GetTranscript(_ context.Context, id int64) (*domain.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, domain.ErrTranscriptNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) HasAnalysis(_ context.Context, transcriptID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasAnalysis(transcriptID), nil
}

func (s *Store) hasAnalysis(transcriptID int64) bool {
	for _, r := range s.analyses {
		if r.analysis.TranscriptID == transcriptID {
			return true
		}
	}
	return false
}

func (s *Store) MarkAnalysisStarted(_ context.Context, transcriptID int64, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transcripts[transcriptID]; ok {
		status := domain.AnalysisInProgress
		t.AnalysisStatus = &status
		t.AnalysisError = nil
		t.UpdatedAt = now
	}
	return nil
}

func (s *Store) MarkAnalysisFailed(_ context.Context, transcriptID int64, cause string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.transcripts[transcriptID]; ok {
		status, msg := domain.AnalysisError, domain.TruncateError(cause)
		t.AnalysisStatus = &status
		t.AnalysisError = &msg
		t.UpdatedAt = now
	}
	return nil
}

func (s *Store) CommitAnalysis(_ context.Context, jobID int64, a *domain.Analysis, replace bool, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := s.jobs[domain.KindAnalysis]
	j, ok := jobs.rows[jobID]
	if !ok || !j.CanApply(domain.DoneUpdate(), now) {
		return 0, domain.ErrJobAlreadyClaimed
	}

	if replace {
		for id, r := range s.analyses {
			if r.analysis.TranscriptID == a.TranscriptID {
				delete(s.analyses, id)
			}
		}
	}
	a.ID = s.id()
	s.analyses[a.ID] = &analysisRecord{analysis: *a, createdAt: now}

	if t, ok := s.transcripts[a.TranscriptID]; ok {
		status := domain.AnalysisDone
		t.AnalysisStatus = &status
		t.AnalysisError = nil
		t.UpdatedAt = now
	}
	j.Apply(domain.DoneUpdate(), now)
	return a.ID, nil
}

func (s *Store) GetAnalysisDigest(_ context.Context, analysisID int64) (*domain.AnalysisDigest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.analyses[analysisID]
	if !ok {
		return nil, domain.ErrAnalysisNotFound
	}
	t, ok := s.transcripts[r.analysis.TranscriptID]
	if !ok {
		return nil, domain.ErrAnalysisNotFound
	}
	st, ok := s.stocks[t.StockID]
	if !ok {
		return nil, domain.ErrAnalysisNotFound
	}
	model := r.analysis.ModelID
	return &domain.AnalysisDigest{
		AnalysisID: analysisID,
		Output:     r.analysis.Output,
		Provider:   r.analysis.Provider,
		ModelID:    &model,
		StockID:    t.StockID,
		Quarter:    t.Quarter,
		Year:       t.Year,
		SourceURL:  t.SourceURL,
		Symbol:     st.Symbol,
		BSECode:    st.BSECode,
		StockName:  st.Name,
	}, nil
}
