package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func (s *Store) ActiveGroups(context.Context) ([]domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Group
	for _, g := range s.groups {
		if g.active && g.group.Prompt != "" && len(g.group.StockIDs) > 0 {
			out = append(out, g.group)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetActiveGroup(_ context.Context, id int64) (*domain.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok || !g.active {
		return nil, domain.ErrGroupNotFound
	}
	cp := g.group
	return &cp, nil
}

func (s *Store) AvailablePeriods(_ context.Context, stockIDs []int64) (map[int64][]domain.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]bool, len(stockIDs))
	for _, id := range stockIDs {
		wanted[id] = true
	}
	out := make(map[int64][]domain.Period, len(stockIDs))
	for _, t := range s.transcripts {
		if wanted[t.StockID] && t.Status == domain.TranscriptAvailable {
			out[t.StockID] = append(out[t.StockID], domain.Period{Quarter: t.Quarter, Year: t.Year})
		}
	}
	return out, nil
}

func (s *Store) GroupDigests(_ context.Context, stockIDs []int64, period domain.Period) ([]domain.GroupDigest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.GroupDigest
	for _, stockID := range stockIDs {
		t := s.findTranscript(stockID, period)
		if t == nil {
			continue
		}
		var latest *analysisRecord
		for _, r := range s.analyses {
			if r.analysis.TranscriptID == t.ID && (latest == nil || r.analysis.ID > latest.analysis.ID) {
				latest = r
			}
		}
		if latest == nil {
			continue
		}
		st := s.stocks[stockID]
		out = append(out, domain.GroupDigest{StockID: stockID, Ticker: st.Ticker(), Output: latest.analysis.Output})
	}
	return out, nil
}

func (s *Store) CommitGroupResearch(_ context.Context, runID int64, result domain.GroupResult, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	runs := s.jobs[domain.KindGroupResearch]
	if !runs.transition(runID, now, domain.DoneUpdate()) {
		return domain.ErrJobAlreadyClaimed
	}
	s.groupOutput[runID] = result
	return nil
}
