// Package schedule is the client-side companion to the server scanner: a
// best-effort, session-scoped reminder scheduler that arms one-shot timers for
// today's remaining classes and re-derives them every tick.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"campus-notifier/pkg/campus"
)

// DefaultTick is the re-evaluation period.
const DefaultTick = 60 * time.Second

// Store is the subset of the document store the scheduler needs.
type Store interface {
	User(ctx context.Context, userID string) (campus.User, error)
	Timetable(ctx context.Context, userID string) (*campus.Timetable, error)
}

// IsNotFound reports whether a store error means the document is missing.
type IsNotFound func(error) bool

// Config holds scheduler timing. The zero value takes the contract defaults.
type Config struct {
	Now      func() time.Time
	Location *time.Location
	Tick     time.Duration
	Lead     time.Duration
}

// Scheduler owns the per-session mutable state: the set of keys already fired
// this session and the currently armed timers. All of it is torn down by Stop.
type Scheduler struct {
	store      Store
	alerter    Alerter
	logger     *slog.Logger
	isNotFound IsNotFound
	userID     string
	cfg        Config

	mu     sync.Mutex
	fired  map[string]struct{}
	timers []*time.Timer
}

// New creates a scheduler for one user session.
func New(store Store, userID string, alerter Alerter, isNotFound IsNotFound, logger *slog.Logger, cfg Config) *Scheduler {
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}
	if cfg.Lead <= 0 {
		cfg.Lead = 15 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	return &Scheduler{
		store:      store,
		alerter:    alerter,
		logger:     logger,
		isNotFound: isNotFound,
		userID:     userID,
		cfg:        cfg,
		fired:      make(map[string]struct{}),
	}
}

// Run re-arms immediately and then on every tick, until ctx is canceled.
// All armed timers are cancelled on the way out.
func (s *Scheduler) Run(ctx context.Context) {
	s.Rearm(ctx)

	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Local scheduler stopping", "user_id", s.userID)
			s.Stop()
			return
		case <-ticker.C:
			s.Rearm(ctx)
		}
	}
}

// Rearm cancels every previously armed timer and arms a fresh one-shot timer
// for each reminder instant still ahead of now and not already fired this
// session. Fully re-deriving from the current snapshot means entries added or
// removed underneath us are picked up within one tick.
func (s *Scheduler) Rearm(ctx context.Context) {
	s.cancelTimers()

	user, err := s.store.User(ctx, s.userID)
	if err != nil {
		s.logger.Warn("Failed to load user profile, timers stay disarmed", "user_id", s.userID, "error", err)
		return
	}
	if !user.Eligible() {
		return
	}

	tt, err := s.store.Timetable(ctx, s.userID)
	if err != nil {
		if !s.isNotFound(err) {
			s.logger.Warn("Failed to load timetable, timers stay disarmed", "user_id", s.userID, "error", err)
		}
		return
	}

	now := s.cfg.Now().In(s.cfg.Location)
	weekday := now.Weekday()
	armed := 0

	for _, entry := range tt.Entries {
		if !campus.MatchDay(entry.Day, weekday) {
			continue
		}

		clock, err := campus.ParseClock(entry.Start)
		if err != nil {
			s.logger.Warn("Skipping entry with unparseable start time",
				"entry_id", entry.ID, "start", entry.Start, "error", err)
			continue
		}

		reminderAt := clock.On(now).Add(-s.cfg.Lead)
		if !reminderAt.After(now) {
			continue
		}

		key := campus.ReminderKey(entry.ID, now)
		if s.hasFired(key) {
			continue
		}

		s.armTimer(reminderAt.Sub(now), func() { s.fire(key, entry) })
		armed++
	}

	if armed > 0 {
		s.logger.Debug("Reminder timers armed", "user_id", s.userID, "count", armed)
	}
}

// Stop cancels all armed timers. Safe to call more than once.
func (s *Scheduler) Stop() {
	s.cancelTimers()
}

// fire delivers one local alert. Opt-in is re-checked right before alerting
// since the setting may have changed while the timer was armed; the fired-set
// check makes duplicate fires for the same key a no-op.
func (s *Scheduler) fire(key string, entry campus.TimetableEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	user, err := s.store.User(ctx, s.userID)
	if err != nil {
		s.logger.Warn("Skipping alert, profile re-check failed", "user_id", s.userID, "error", err)
		return
	}
	if !user.Eligible() {
		return
	}

	s.mu.Lock()
	if _, done := s.fired[key]; done {
		s.mu.Unlock()
		return
	}
	s.fired[key] = struct{}{}
	s.mu.Unlock()

	title := "Class Reminder: " + entry.Subject
	body := fmt.Sprintf("Your class in %s starts in %d minutes.", entry.Room, int(s.cfg.Lead.Minutes()))
	s.alerter.Alert(title, body)
}

func (s *Scheduler) armTimer(delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, time.AfterFunc(delay, fn))
}

func (s *Scheduler) cancelTimers() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
}

func (s *Scheduler) hasFired(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, done := s.fired[key]
	return done
}

func (s *Scheduler) armedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
