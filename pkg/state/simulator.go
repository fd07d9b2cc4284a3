package state

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Simulator opens and closes the case on a fixed interval, as if someone were
// taking a pill, and pushes the current time on every tick.
type Simulator struct {
	caseState *CaseState
	notifier  EventNotifier
	interval  time.Duration
	steps     int
	mutex     sync.Mutex
}

// NewSimulator creates a simulator for caseState.
func NewSimulator(caseState *CaseState, interval time.Duration) *Simulator {
	return &Simulator{
		caseState: caseState,
		notifier:  &NoOpEventNotifier{},
		interval:  interval,
	}
}

// SetEventNotifier sets the notifier used for time updates
func (s *Simulator) SetEventNotifier(notifier EventNotifier) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.notifier = notifier
}

// Run steps the simulation every interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	log.Infof("Starting case simulator, toggling every %v", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Stopping case simulator")
			return
		case <-ticker.C:
			s.Step()
		}
	}
}

// Steps is the number of completed steps.
func (s *Simulator) Steps() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.steps
}

// Step toggles the case once and pushes the time.
func (s *Simulator) Step() {
	s.mutex.Lock()
	s.steps++
	notifier := s.notifier
	s.mutex.Unlock()

	open, err := s.caseState.Toggle()
	if err != nil {
		log.Warnf("simulator: case notification failed: %v", err)
	}
	log.Debugf("simulator: case %s", openWord(open))

	if err := notifier.NotifyTimeChanged(s.caseState.now()); err != nil {
		log.Tracef("simulator: time notification failed: %v", err)
	}
}
