// Package campus contains the core domain types for the campus notification service.
package campus

import "time"

// NotificationType distinguishes the two kinds of notifications this service creates.
type NotificationType string

const (
	TypeNewNotice     NotificationType = "new_notice"
	TypeClassReminder NotificationType = "class_reminder"
)

// OptIn is the tri-state decoding of a user's `notifications` field.
// Absence of the field is a first-class state, not an implicit false.
type OptIn int

const (
	OptInUnset OptIn = iota // field missing from the user document
	OptInEnabled
	OptInDisabled
)

// User is a user record as seen by the dispatch engine. Profile fields beyond
// the opt-in flag are carried for logging only.
type User struct {
	ID    string
	Name  string
	Role  string
	OptIn OptIn
}

// Eligible reports whether the user should receive notifications.
// Policy is default-in: a user is eligible unless they explicitly opted out.
func (u User) Eligible() bool {
	return u.OptIn != OptInDisabled
}

// EligibleUsers returns the subset of users eligible to receive notifications.
func EligibleUsers(users []User) []User {
	var eligible []User
	for _, u := range users {
		if u.Eligible() {
			eligible = append(eligible, u)
		}
	}
	return eligible
}

// Notice is an announcement document. Read-only to this service.
type Notice struct {
	ID        string
	Title     string
	Body      string // HTML content from the authoring flow
	AuthorID  string
	CreatedAt time.Time
}

// TimetableEntry is one recurring weekly class in a user's timetable.
type TimetableEntry struct {
	ID      string
	Subject string
	Room    string
	Teacher string
	Day     string // weekday name, matched case-insensitively
	Start   string // HH:MM, 24h
	End     string
}

// Timetable holds all entries for one user. At most one per user.
type Timetable struct {
	UserID  string
	Entries []TimetableEntry
}

// Notification is a per-user notification document. Created only by the
// fan-out trigger and the reminder scanner; owned by the recipient.
type Notification struct {
	ID              string
	UserID          string
	Type            NotificationType
	Title           string
	Excerpt         string // plain-text snippet, new_notice only
	Read            bool
	RelatedEntityID string
}
