// Package scan periodically evaluates opted-in users' timetables and stages a
// class reminder exactly once per entry per calendar day.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"campus-notifier/batch"
	"campus-notifier/pkg/campus"
)

const (
	// DefaultInterval is the contract scan period.
	DefaultInterval = 5 * time.Minute
	// DefaultLead is how long before a class its reminder becomes due.
	DefaultLead = 15 * time.Minute
)

// Store is the subset of the document store the scanner needs.
type Store interface {
	Users(ctx context.Context) ([]campus.User, error)
	Timetable(ctx context.Context, userID string) (*campus.Timetable, error)
	HasNotification(ctx context.Context, userID, notificationID string) (bool, error)
	NotificationWrite(n campus.Notification) batch.Write
}

// IsNotFound reports whether a store error means the document is missing.
type IsNotFound func(error) bool

// Config holds scan timing. The zero value takes the contract defaults.
type Config struct {
	Now      func() time.Time // injectable clock; defaults to time.Now
	Location *time.Location   // campus wall-clock timezone; defaults to time.Local
	Interval time.Duration    // scan period
	Lead     time.Duration    // reminder lead time before class start
	Slack    time.Duration    // half-width of the scan window; defaults to Interval/2
}

// Scanner runs the reminder scan.
type Scanner struct {
	store      Store
	writer     *batch.Writer
	logger     *slog.Logger
	isNotFound IsNotFound
	cfg        Config
}

// New creates a scanner. The slack must cover at least half the scan interval,
// otherwise a reminder instant could fall between two consecutive windows and
// never fire.
func New(store Store, writer *batch.Writer, isNotFound IsNotFound, logger *slog.Logger, cfg Config) (*Scanner, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Lead <= 0 {
		cfg.Lead = DefaultLead
	}
	if cfg.Slack <= 0 {
		cfg.Slack = cfg.Interval / 2
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}

	if cfg.Slack < cfg.Interval/2 {
		return nil, fmt.Errorf("slack %v must be at least half the scan interval %v", cfg.Slack, cfg.Interval)
	}
	if cfg.Lead < cfg.Slack {
		return nil, fmt.Errorf("lead %v shorter than slack %v: window would reach into the past", cfg.Lead, cfg.Slack)
	}

	return &Scanner{
		store:      store,
		writer:     writer,
		isNotFound: isNotFound,
		logger:     logger,
		cfg:        cfg,
	}, nil
}

// Run scans on a fixed interval until ctx is canceled. A failed pass is logged
// and the next tick serves as the retry.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reminder scanner stopping", "error", ctx.Err())
			return
		case <-ticker.C:
			if err := s.Scan(ctx); err != nil {
				s.logger.Error("Reminder scan failed", "error", err)
			}
		}
	}
}

// Scan performs one full pass. A reminder is due when the class start lies in
// (now+lead-slack, now+lead+slack], i.e. its reminder instant is within slack
// of now; the half-open window keeps consecutive scans' windows disjoint
// while abutting. Only total failure to reach the store surfaces as an error;
// per-user and per-entry problems are logged and skipped.
func (s *Scanner) Scan(ctx context.Context) error {
	now := s.cfg.Now().In(s.cfg.Location)
	windowStart := now.Add(s.cfg.Lead - s.cfg.Slack)
	windowEnd := now.Add(s.cfg.Lead + s.cfg.Slack)
	weekday := now.Weekday()

	users, err := s.store.Users(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	eligible := campus.EligibleUsers(users)
	if len(eligible) == 0 {
		s.logger.Info("No opted-in users to check for reminders", "timestamp", now.Format(time.RFC3339))
		return nil
	}

	s.logger.Info("Starting reminder scan",
		"timestamp", now.Format(time.RFC3339),
		"weekday", weekday.String(),
		"window_start", windowStart.Format(time.RFC3339),
		"window_end", windowEnd.Format(time.RFC3339),
		"eligible_users", len(eligible))

	var writes []batch.Write
	var skippedUsers int

	for _, u := range eligible {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		due, err := s.dueEntries(ctx, u, now, windowStart, windowEnd, weekday)
		if err != nil {
			// One user's timetable must not abort the pass for everyone else.
			s.logger.Warn("Skipping user after timetable failure", "user_id", u.ID, "error", err)
			skippedUsers++
			continue
		}
		writes = append(writes, due...)
	}

	total, err := s.writer.WriteAll(ctx, writes)
	if err != nil {
		// Reported, not fatal: the next scheduled pass re-discovers anything
		// still inside its window, and deterministic ids absorb the rest.
		s.logger.Error("Reminder commit failed for some groups",
			"committed", total,
			"staged", len(writes),
			"error", err)
	}

	if total > 0 {
		s.logger.Info("Class reminders created", "count", total, "skipped_users", skippedUsers)
	} else {
		s.logger.Info("No upcoming classes found for reminders in this interval", "skipped_users", skippedUsers)
	}

	return nil
}

// dueEntries stages reminder writes for one user's entries due in the window.
func (s *Scanner) dueEntries(ctx context.Context, u campus.User, now, windowStart, windowEnd time.Time, weekday time.Weekday) ([]batch.Write, error) {
	tt, err := s.store.Timetable(ctx, u.ID)
	if err != nil {
		if s.isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("load timetable: %w", err)
	}
	if tt == nil || len(tt.Entries) == 0 {
		return nil, nil
	}

	var writes []batch.Write
	for _, entry := range tt.Entries {
		if !campus.MatchDay(entry.Day, weekday) {
			continue
		}

		clock, err := campus.ParseClock(entry.Start)
		if err != nil {
			s.logger.Warn("Skipping entry with unparseable start time",
				"user_id", u.ID, "entry_id", entry.ID, "start", entry.Start, "error", err)
			continue
		}

		classStart := clock.On(now)
		if !classStart.After(windowStart) || classStart.After(windowEnd) {
			continue
		}

		key := campus.ReminderKey(entry.ID, now)
		exists, err := s.store.HasNotification(ctx, u.ID, key)
		if err != nil {
			s.logger.Warn("Skipping entry after dedup check failure",
				"user_id", u.ID, "entry_id", entry.ID, "error", err)
			continue
		}
		if exists {
			s.logger.Debug("Reminder already exists", "user_id", u.ID, "key", key)
			continue
		}

		writes = append(writes, s.store.NotificationWrite(campus.Notification{
			ID:              key,
			UserID:          u.ID,
			Type:            campus.TypeClassReminder,
			Title:           fmt.Sprintf("Reminder: %s starts in %d mins", entry.Subject, int(s.cfg.Lead.Minutes())),
			Read:            false,
			RelatedEntityID: entry.ID,
		}))
	}

	return writes, nil
}
