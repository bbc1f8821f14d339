package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// JobTable is the in-memory counterpart of storage.JobRepository
type JobTable struct {
	s       *Store
	kind    domain.Kind
	rows    map[int64]*domain.Job
	periods map[int64]domain.Period
}

// Kind returns the job kind the table serves
func (t *JobTable) Kind() domain.Kind {
	return t.kind
}

// Put stores a copy of job as-is and returns its id
func (t *JobTable) Put(job domain.Job) int64 {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if job.ID == 0 {
		job.ID = t.s.id()
	}
	job.Kind = t.kind
	if job.CreatedAt.IsZero() {
		job.CreatedAt = t.s.Now()
		job.UpdatedAt = job.CreatedAt
	}
	t.rows[job.ID] = &job
	return job.ID
}

// All returns a copy of every row ordered by id
func (t *JobTable) All() []domain.Job {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	out := make([]domain.Job, 0, len(t.rows))
	for _, j := range t.rows {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// Period returns the reporting period stored with a group research run
func (t *JobTable) Period(id int64) domain.Period {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.periods[id]
}

func (t *JobTable) Get(_ context.Context, id int64) (*domain.Job, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.get(id)
}

func (t *JobTable) get(id int64) (*domain.Job, error) {
	j, ok := t.rows[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	cp := *j
	return &cp, nil
}

func (t *JobTable) InsertOrGet(_ context.Context, n domain.NewJob) (*domain.Job, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	for _, j := range t.rows {
		if t.sameKey(j, n) {
			cp := *j
			return &cp, nil
		}
	}

	now := t.s.Now()
	j := &domain.Job{
		ID:        t.s.id(),
		Kind:      t.kind,
		SubjectID: n.SubjectID,
		Key:       n.Key,
		Force:     n.Force && t.kind == domain.KindAnalysis,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.rows[j.ID] = j
	if t.kind == domain.KindGroupResearch {
		if t.periods == nil {
			t.periods = make(map[int64]domain.Period)
		}
		t.periods[j.ID] = n.Period
	}
	cp := *j
	return &cp, nil
}

func (t *JobTable) sameKey(j *domain.Job, n domain.NewJob) bool {
	if t.kind == domain.KindEmail {
		return j.SubjectID == n.SubjectID && j.Key == n.Key
	}
	return j.Key == n.Key
}

func (t *JobTable) Transition(_ context.Context, id int64, now time.Time, u domain.JobUpdate) (bool, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.transition(id, now, u), nil
}

func (t *JobTable) transition(id int64, now time.Time, u domain.JobUpdate) bool {
	j, ok := t.rows[id]
	if !ok || !j.CanApply(u, now) {
		return false
	}
	j.Apply(u, now)
	return true
}

func (t *JobTable) Claim(_ context.Context, id int64, now, lease time.Time) (*domain.Job, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	j, ok := t.rows[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if !j.Claimable(now) {
		if j.Status.IsTerminal() {
			return nil, domain.ErrJobTerminal
		}
		return nil, domain.ErrJobAlreadyClaimed
	}
	j.Status = domain.StatusInProgress
	j.LockedUntil = &lease
	j.UpdatedAt = now
	cp := *j
	return &cp, nil
}

func (t *JobTable) ClaimDue(_ context.Context, now, lease time.Time, limit int) ([]int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var due []*domain.Job
	for _, j := range t.rows {
		if j.Due(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool {
		a, b := dueOrder(due[i]), dueOrder(due[k])
		if !a.Equal(b) {
			return a.Before(b)
		}
		return due[i].ID < due[k].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	ids := make([]int64, 0, len(due))
	for _, j := range due {
		l := lease
		j.Status = domain.StatusQueued
		j.LockedUntil = &l
		j.UpdatedAt = now
		ids = append(ids, j.ID)
	}
	return ids, nil
}

func dueOrder(j *domain.Job) time.Time {
	if j.RetryNextAt != nil {
		return *j.RetryNextAt
	}
	return j.CreatedAt
}

func (t *JobTable) RecoverExpired(_ context.Context, now time.Time) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var n int64
	for _, j := range t.rows {
		if j.Status == domain.StatusInProgress && j.LeaseExpired(now) {
			at := now
			j.Status = domain.StatusRetrying
			j.RetryNextAt = &at
			j.LockedUntil = nil
			j.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (t *JobTable) MigrateLegacy(_ context.Context, now time.Time, phrases []string) (int64, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	patterns := lower(phrases)
	var n int64
	for _, j := range t.rows {
		if j.Status != domain.StatusBlockedLegacy && !(j.Status == domain.StatusError && matchesAny(j.LastError, patterns)) {
			continue
		}
		at := now
		j.Status = domain.StatusPending
		j.RetryNextAt = &at
		j.LockedUntil = nil
		j.UpdatedAt = now
		n++
	}
	return n, nil
}

func matchesAny(msg *string, patterns []string) bool {
	if msg == nil {
		return false
	}
	m := strings.ToLower(*msg)
	for _, p := range patterns {
		if strings.Contains(m, p) {
			return true
		}
	}
	return false
}

func (t *JobTable) List(_ context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var out []domain.Job
	for _, j := range t.rows {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if c := filter.Cursor; c != nil {
			if j.CreatedAt.After(c.CreatedAt) || (j.CreatedAt.Equal(c.CreatedAt) && j.ID >= c.ID) {
				continue
			}
		}
		out = append(out, *j)
	}
	sort.Slice(out, func(i, k int) bool {
		if !out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].CreatedAt.After(out[k].CreatedAt)
		}
		return out[i].ID > out[k].ID
	})
	if len(out) > filter.PageSize+1 {
		out = out[:filter.PageSize+1]
	}
	return out, nil
}
