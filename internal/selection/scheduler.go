package selection

import (
	"sync"
	"time"
)

// Scheduler keeps at most one pending settle job per key. Scheduling again
// cancels the pending job and starts a new delay; jobs for the same key
// never run concurrently.
type Scheduler struct {
	delay time.Duration
	run   func(key string)

	mu      sync.Mutex
	timers  map[string]*time.Timer
	gen     map[string]uint64
	locks   map[string]*sync.Mutex
	stopped bool
}

func NewScheduler(delay time.Duration, run func(key string)) *Scheduler {
	return &Scheduler{
		delay:  delay,
		run:    run,
		timers: make(map[string]*time.Timer),
		gen:    make(map[string]uint64),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (s *Scheduler) Schedule(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if timer, ok := s.timers[key]; ok {
		timer.Stop()
	}
	s.gen[key]++
	gen := s.gen[key]
	s.timers[key] = time.AfterFunc(s.delay, func() {
		s.fire(key, gen)
	})
}

// Pending reports whether a job for key is waiting.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[key]
	return ok
}

// Flush runs the pending job for key now, if there is one.
func (s *Scheduler) Flush(key string) {
	s.mu.Lock()
	timer, ok := s.timers[key]
	if !ok {
		s.mu.Unlock()
		return
	}
	timer.Stop()
	delete(s.timers, key)
	s.gen[key]++
	lock := s.lockFor(key)
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	s.run(key)
}

// Stop flushes every pending job and refuses new ones.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	keys := make([]string, 0, len(s.timers))
	for key := range s.timers {
		keys = append(keys, key)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.Flush(key)
	}
}

func (s *Scheduler) fire(key string, gen uint64) {
	s.mu.Lock()
	if s.gen[key] != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	lock := s.lockFor(key)
	s.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	s.run(key)
}

func (s *Scheduler) lockFor(key string) *sync.Mutex {
	lock, ok := s.locks[key]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[key] = lock
	return lock
}
