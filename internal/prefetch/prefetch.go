// Package prefetch schedules background page loads so that screenshot
// navigation stays ahead of the network. Triggers are debounced after the
// last navigation event and rate-limited per trigger kind, so a burst of
// arrow-key presses issues one fetch and a manual jump past the loaded bound
// cannot starve a scheduled look-ahead fetch.
package prefetch

import (
	"sync"
	"time"
)

// Trigger classifies why a fetch was requested.
type Trigger int

const (
	// TriggerNone means the viewed index needs no fetch.
	TriggerNone Trigger = iota
	// TriggerReactive fires when the index moved past the loaded bound.
	TriggerReactive
	// TriggerProactive fires when the index is within the look-ahead window
	// of the loaded bound.
	TriggerProactive
)

func (t Trigger) String() string {
	switch t {
	case TriggerReactive:
		return "reactive"
	case TriggerProactive:
		return "proactive"
	default:
		return "none"
	}
}

// Config tunes the scheduler. Zero values fall back to defaults.
type Config struct {
	// Lookahead is how close to the loaded edge the viewed index may get
	// before a proactive fetch is scheduled.
	Lookahead int
	// Debounce is the quiet period after the last navigation event before a
	// scheduled fetch fires.
	Debounce time.Duration
	// MinInterval is the minimum spacing between fired fetches of the same
	// trigger kind.
	MinInterval time.Duration
}

const (
	defaultLookahead   = 3
	defaultDebounce    = 150 * time.Millisecond
	defaultMinInterval = time.Second
)

func (c Config) withDefaults() Config {
	if c.Lookahead <= 0 {
		c.Lookahead = defaultLookahead
	}
	if c.Debounce <= 0 {
		c.Debounce = defaultDebounce
	}
	if c.MinInterval <= 0 {
		c.MinInterval = defaultMinInterval
	}
	return c
}

// Decide maps a navigation position to a trigger. Pure so the policy is
// testable without timers. index is the viewed position in a newest-first
// list of loaded items.
func Decide(index, loaded int, hasMore bool, lookahead int) Trigger {
	if !hasMore {
		return TriggerNone
	}
	if index >= loaded {
		return TriggerReactive
	}
	if loaded-1-index < lookahead {
		return TriggerProactive
	}
	return TriggerNone
}

// Scheduler debounces and rate-limits fetch triggers. The fetch callback runs
// on a timer goroutine and must serialize its own state access.
type Scheduler struct {
	cfg   Config
	fetch func(Trigger)

	mu      sync.Mutex
	timers  map[Trigger]*time.Timer
	last    map[Trigger]time.Time
	now     func() time.Time
	stopped bool
}

func New(cfg Config, fetch func(Trigger)) *Scheduler {
	return &Scheduler{
		cfg:    cfg.withDefaults(),
		fetch:  fetch,
		timers: make(map[Trigger]*time.Timer),
		last:   make(map[Trigger]time.Time),
		now:    time.Now,
	}
}

// Observe reports the current navigation position. Each call restarts the
// debounce timer for its trigger kind; a kind with no pending need keeps any
// already-scheduled timer, so jumping back into range does not cancel a fetch
// the earlier navigation earned.
func (s *Scheduler) Observe(index, loaded int, hasMore bool) {
	trig := Decide(index, loaded, hasMore, s.cfg.Lookahead)
	if trig == TriggerNone {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if t := s.timers[trig]; t != nil {
		t.Stop()
	}
	s.timers[trig] = time.AfterFunc(s.cfg.Debounce, func() { s.fire(trig) })
}

func (s *Scheduler) fire(trig Trigger) {
	s.mu.Lock()
	if s.stopped || s.now().Sub(s.last[trig]) < s.cfg.MinInterval {
		s.mu.Unlock()
		return
	}
	s.last[trig] = s.now()
	s.mu.Unlock()

	s.fetch(trig)
}

// Stop cancels pending timers. No fetch fires after Stop returns.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for _, t := range s.timers {
		t.Stop()
	}
}
