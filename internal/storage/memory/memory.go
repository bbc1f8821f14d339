// Package memory is an in-process implementation of the storage layer used
// by unit tests and single-binary demos. It honours the same transition
// table as the Postgres repositories.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

type groupRecord struct {
	group  domain.Group
	active bool
}

type analysisRecord struct {
	analysis  domain.Analysis
	createdAt time.Time
}

// Store keeps every table in maps guarded by one mutex
type Store struct {
	mu     sync.Mutex
	nextID int64

	// Now stamps rows created without an explicit time
	Now func() time.Time

	jobs        map[domain.Kind]*JobTable
	stocks      map[int64]domain.Stock
	watchlist   map[int64]bool
	groups      map[int64]*groupRecord
	prompts     map[int64]string
	defPrompt   string
	recipients  []string
	transcripts map[int64]*domain.Transcript
	analyses    map[int64]*analysisRecord
	events      []domain.CheckResult
	indicators  map[int64]string
	schedule    map[int64]*domain.ScheduleEntry
	state       *domain.SchedulerState
	groupOutput map[int64]domain.GroupResult
}

// New creates an empty Store
func New() *Store {
	s := &Store{
		Now:         time.Now,
		jobs:        make(map[domain.Kind]*JobTable),
		stocks:      make(map[int64]domain.Stock),
		watchlist:   make(map[int64]bool),
		groups:      make(map[int64]*groupRecord),
		prompts:     make(map[int64]string),
		transcripts: make(map[int64]*domain.Transcript),
		analyses:    make(map[int64]*analysisRecord),
		indicators:  make(map[int64]string),
		schedule:    make(map[int64]*domain.ScheduleEntry),
		groupOutput: make(map[int64]domain.GroupResult),
	}
	for _, kind := range []domain.Kind{domain.KindAnalysis, domain.KindEmail, domain.KindGroupResearch} {
		s.jobs[kind] = &JobTable{s: s, kind: kind, rows: make(map[int64]*domain.Job)}
	}
	return s
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Jobs returns the table for one job kind
func (s *Store) Jobs(kind domain.Kind) *JobTable {
	return s.jobs[kind]
}

// Ping always succeeds
func (s *Store) Ping(context.Context) error {
	return nil
}

// Seeding helpers

// AddStock stores a stock and returns its id
func (s *Store) AddStock(symbol, name string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	sym, nm := symbol, name
	s.stocks[id] = domain.Stock{ID: id, Symbol: &sym, Name: &nm}
	return id
}

// AddToWatchlist puts the stock on the watchlist
func (s *Store) AddToWatchlist(stockID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchlist[stockID] = true
}

// AddGroup stores a group and returns its id
func (s *Store) AddGroup(name, prompt string, active bool, stockIDs ...int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.id()
	ids := append([]int64(nil), stockIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	s.groups[id] = &groupRecord{group: domain.Group{ID: id, Name: name, Prompt: prompt, StockIDs: ids}, active: active}
	return id
}

// SetPrompt sets the stock's system prompt; stockID 0 sets the default
func (s *Store) SetPrompt(stockID int64, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stockID == 0 {
		s.defPrompt = content
		return
	}
	s.prompts[stockID] = content
}

// AddRecipient adds an active email recipient
func (s *Store) AddRecipient(email string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recipients = append(s.recipients, email)
}

// AddTranscript stores a copy of t and returns its id
func (s *Store) AddTranscript(t domain.Transcript) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	t.ID = s.id()
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = s.Now()
	}
	s.transcripts[t.ID] = &t
	return t.ID
}

// AddAnalysis stores a copy of a and returns its id
func (s *Store) AddAnalysis(a domain.Analysis) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	s.analyses[a.ID] = &analysisRecord{analysis: a, createdAt: s.Now()}
	return a.ID
}

// Transcript returns a copy of the stored transcript
func (s *Store) Transcript(id int64) (domain.Transcript, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return domain.Transcript{}, false
	}
	return *t, true
}

// Analyses returns the analyses of a transcript in creation order
func (s *Store) Analyses(transcriptID int64) []domain.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Analysis
	for _, r := range s.analyses {
		if r.analysis.TranscriptID == transcriptID {
			out = append(out, r.analysis)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TranscriptEvents returns the recorded poll log
func (s *Store) TranscriptEvents() []domain.CheckResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.CheckResult(nil), s.events...)
}

// CheckIndicator returns the stock's checking flag
func (s *Store) CheckIndicator(stockID int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.indicators[stockID]
}

// GroupResult returns what CommitGroupResearch stored for a run
func (s *Store) GroupResult(runID int64) (domain.GroupResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.groupOutput[runID]
	return r, ok
}

// PutScheduleEntry stores a copy of e and returns its id
func (s *Store) PutScheduleEntry(e domain.ScheduleEntry) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		e.ID = s.id()
	}
	if e.LastStatus == "" {
		e.LastStatus = domain.CheckNone
	}
	s.schedule[e.ID] = &e
	return e.ID
}

func lower(ss []string) []string {
	out := make([]string, 0, len(ss))
	for _, p := range ss {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, strings.ToLower(p))
		}
	}
	return out
}
