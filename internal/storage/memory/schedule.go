package memory

import (
	"context"
	"sort"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func (s *Store) SyncSchedule(_ context.Context, period domain.Period, seeds []domain.ScheduleSeed, now time.Time) (domain.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[int64]int, len(seeds))
	for _, seed := range seeds {
		wanted[seed.StockID] = seed.Priority
	}

	var result domain.SyncResult
	existing := make(map[int64]*domain.ScheduleEntry)
	for id, e := range s.schedule {
		_, keep := wanted[e.StockID]
		if e.Period() != period || !keep {
			delete(s.schedule, id)
			result.Deleted++
			continue
		}
		existing[e.StockID] = e
	}

	for _, seed := range seeds {
		if e, ok := existing[seed.StockID]; ok {
			e.Priority = seed.Priority
			if e.NextCheckAt == nil {
				at := now
				e.NextCheckAt = &at
			}
		} else {
			at := now
			id := s.id()
			s.schedule[id] = &domain.ScheduleEntry{
				ID:          id,
				StockID:     seed.StockID,
				Quarter:     period.Quarter,
				Year:        period.Year,
				Priority:    seed.Priority,
				NextCheckAt: &at,
				LastStatus:  domain.CheckNone,
			}
		}
		result.Upserted++
	}
	return result, nil
}

func (s *Store) ScheduleEntries(_ context.Context, period domain.Period) ([]domain.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.ScheduleEntry
	for _, e := range s.schedule {
		if e.Period() == period {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) LockSchedule(_ context.Context, id int64, now, until time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.schedule[id]
	if !ok || e.Locked(now) || !e.Due(now) {
		return false, nil
	}
	u := until
	e.LockedUntil = &u
	return true, nil
}

func (s *Store) UnlockSchedule(_ context.Context, id int64, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.schedule[id]; ok {
		e.LockedUntil = nil
	}
	return nil
}

func (s *Store) SetCheckIndicator(_ context.Context, stockID int64, status string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indicators[stockID] = status
	return nil
}

func (s *Store) findSchedule(stockID int64, period domain.Period) *domain.ScheduleEntry {
	for _, e := range s.schedule {
		if e.StockID == stockID && e.Period() == period {
			return e
		}
	}
	return nil
}

func (s *Store) findTranscript(stockID int64, period domain.Period) *domain.Transcript {
	for _, t := range s.transcripts {
		if t.StockID == stockID && t.Quarter == period.Quarter && t.Year == period.Year {
			return t
		}
	}
	return nil
}

func (s *Store) RecordCheck(_ context.Context, r domain.CheckResult) (domain.CheckRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var record domain.CheckRecord
	now := r.Outcome.CheckedAt

	if r.Item != nil && (r.Item.Status == domain.CheckAvailable || r.Item.Status == domain.CheckUpcoming) {
		t := s.findTranscript(r.StockID, r.Period)
		wasAvailable := t != nil && t.Status == domain.TranscriptAvailable
		if t == nil {
			t = &domain.Transcript{ID: s.id(), StockID: r.StockID, Quarter: r.Period.Quarter, Year: r.Period.Year}
			s.transcripts[t.ID] = t
		}
		if !wasAvailable {
			t.Status = string(r.Item.Status)
		}
		if r.Item.SourceURL != "" {
			url := r.Item.SourceURL
			t.SourceURL = &url
		}
		if r.Item.EventTime != nil {
			t.EventDate = r.Item.EventTime
		}
		t.UpdatedAt = now

		record.TranscriptID = t.ID
		record.BecameAvailable = r.Item.Status == domain.CheckAvailable && !wasAvailable
		s.events = append(s.events, r)
	}

	if e := s.findSchedule(r.StockID, r.Period); e != nil {
		checked, next := now, r.Outcome.NextCheckAt
		e.LastStatus = r.Outcome.Status
		e.LastCheckedAt = &checked
		if r.Outcome.Status == domain.CheckAvailable {
			e.LastAvailableAt = &checked
		}
		e.NextCheckAt = &next
		e.Attempts = r.Outcome.Attempts
		e.LockedUntil = nil
	}
	s.indicators[r.StockID] = domain.CheckIndicatorIdle
	return record, nil
}

func (s *Store) RecordCheckError(_ context.Context, stockID int64, period domain.Period, outcome domain.CheckOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e := s.findSchedule(stockID, period); e != nil {
		checked, next := outcome.CheckedAt, outcome.NextCheckAt
		e.LastStatus = domain.CheckError
		e.LastCheckedAt = &checked
		e.NextCheckAt = &next
		e.Attempts = outcome.Attempts
		e.LockedUntil = nil
	}
	s.indicators[stockID] = domain.CheckIndicatorIdle
	return nil
}

func (s *Store) GetScheduleEntry(_ context.Context, stockID int64, period domain.Period) (*domain.ScheduleEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.findSchedule(stockID, period)
	if e == nil {
		return nil, domain.ErrScheduleNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *Store) TriggerSchedule(_ context.Context, stockID int64, period domain.Period, priority int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := now
	if e := s.findSchedule(stockID, period); e != nil {
		e.NextCheckAt = &at
		e.Attempts = 0
		e.LockedUntil = nil
		return nil
	}
	id := s.id()
	s.schedule[id] = &domain.ScheduleEntry{
		ID:          id,
		StockID:     stockID,
		Quarter:     period.Quarter,
		Year:        period.Year,
		Priority:    priority,
		NextCheckAt: &at,
		LastStatus:  domain.CheckNone,
	}
	return nil
}

func (s *Store) ReseedSchedules(_ context.Context, period domain.Period, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.schedule {
		if e.Period() != period {
			continue
		}
		stale := e.LockedUntil != nil && e.LockedUntil.Before(now) && e.NextCheckAt != nil && !e.NextCheckAt.After(now)
		if e.LastStatus != domain.CheckError && !stale {
			continue
		}
		if t := s.findTranscript(e.StockID, period); t != nil && t.Status == domain.TranscriptAvailable {
			continue
		}
		at := now
		e.NextCheckAt = &at
		e.Attempts = 0
		e.LockedUntil = nil
		n++
	}
	return n, nil
}

func (s *Store) ScheduleOverview(_ context.Context, period domain.Period, now time.Time) (domain.ScheduleOverview, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var o domain.ScheduleOverview
	for _, e := range s.schedule {
		if e.Period() != period {
			continue
		}
		if e.Locked(now) {
			o.Polling++
		}
		if e.NextCheckAt != nil && (o.NextCheckAt == nil || e.NextCheckAt.Before(*o.NextCheckAt)) {
			at := *e.NextCheckAt
			o.NextCheckAt = &at
		}
	}
	return o, nil
}
