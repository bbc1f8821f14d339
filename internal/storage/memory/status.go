package memory

import (
	"context"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

func (s *Store) SaveSchedulerState(_ context.Context, st domain.SchedulerState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = &st
	return nil
}

func (s *Store) LoadSchedulerState(context.Context) (*domain.SchedulerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}
