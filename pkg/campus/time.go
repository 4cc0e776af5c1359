package campus

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock is a wall-clock time of day parsed from a timetable entry.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses an "HH:MM" (24h) string. A single-digit hour is accepted
// since timetable editors have produced both "9:05" and "09:05".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("malformed time %q: want HH:MM", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return Clock{}, fmt.Errorf("malformed hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return Clock{}, fmt.Errorf("malformed minute in %q: %w", s, err)
	}

	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("time %q out of range", s)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

// On anchors the clock to the calendar day of ref in ref's location.
func (c Clock) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), c.Hour, c.Minute, 0, 0, ref.Location())
}

// MatchDay reports whether an entry's day field names the given weekday.
// Matching is case-insensitive.
func MatchDay(day string, weekday time.Weekday) bool {
	return strings.EqualFold(strings.TrimSpace(day), weekday.String())
}

// ReminderKey derives the idempotency key for a class reminder: one per
// timetable entry per calendar day. Used as the notification document id so
// overlapping scans absorb duplicate writes.
func ReminderKey(entryID string, day time.Time) string {
	return fmt.Sprintf("reminder-%s-%s", entryID, day.Format("2006-01-02"))
}

// NoticeKey derives the idempotency key for a notice fan-out notification.
// The recipient is part of the document path, so the notice id alone makes the
// key unique per (notice, user) pair and a redelivered trigger rewrites the
// same document instead of inserting a second one.
func NoticeKey(noticeID string) string {
	return "notice-" + noticeID
}
