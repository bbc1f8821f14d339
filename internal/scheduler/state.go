package scheduler

import (
	"sync"
	"time"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

// State is owned by the process running the loop. The loop updates it and
// persists a snapshot after every action so other processes can read it.
type State struct {
	mu             sync.Mutex
	running        bool
	lastSync       *time.Time
	lastEnqueue    *time.Time
	lastGroupCheck *time.Time
}

// Snapshot copies the state with the heartbeat set to now
func (s *State) Snapshot(now time.Time) domain.SchedulerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.SchedulerState{
		Running:          s.running,
		LastScheduleSync: s.lastSync,
		LastEnqueue:      s.lastEnqueue,
		LastGroupCheck:   s.lastGroupCheck,
		HeartbeatAt:      now,
	}
}

// Running reports whether the loop is started
func (s *State) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *State) setRunning(running bool) {
	s.mu.Lock()
	s.running = running
	s.mu.Unlock()
}

func (s *State) markSync(at time.Time) {
	s.mu.Lock()
	s.lastSync = &at
	s.mu.Unlock()
}

func (s *State) markEnqueue(at time.Time) {
	s.mu.Lock()
	s.lastEnqueue = &at
	s.mu.Unlock()
}

func (s *State) markGroupCheck(at time.Time) {
	s.mu.Lock()
	s.lastGroupCheck = &at
	s.mu.Unlock()
}
