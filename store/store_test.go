package store

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"campus-notifier/batch"
	"campus-notifier/pkg/campus"
)

// Local filesystem mode tests; the Firestore paths share the same decoding
// and conversion code.

func newLocalStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(nil, t.TempDir(), logger)
}

func writeJSON(t *testing.T, s *Store, rel string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(s.localPath, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}
}

func boolPtr(b bool) *bool { return &b }

func TestUsersDecodesOptInStates(t *testing.T) {
	s := newLocalStore(t)
	writeJSON(t, s, "users/on.json", userDoc{Name: "Alice", Notifications: boolPtr(true)})
	writeJSON(t, s, "users/off.json", userDoc{Name: "Bob", Notifications: boolPtr(false)})
	writeJSON(t, s, "users/unset.json", userDoc{Name: "Cleo"})

	users, err := s.Users(context.Background())
	if err != nil {
		t.Fatalf("Users() error = %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("got %d users, want 3", len(users))
	}

	byID := map[string]campus.User{}
	for _, u := range users {
		byID[u.ID] = u
	}
	if byID["on"].OptIn != campus.OptInEnabled {
		t.Errorf("on: OptIn = %v, want enabled", byID["on"].OptIn)
	}
	if byID["off"].OptIn != campus.OptInDisabled {
		t.Errorf("off: OptIn = %v, want disabled", byID["off"].OptIn)
	}
	if byID["unset"].OptIn != campus.OptInUnset {
		t.Errorf("unset: OptIn = %v, want unset", byID["unset"].OptIn)
	}
}

func TestUserNotFound(t *testing.T) {
	s := newLocalStore(t)
	_, err := s.User(context.Background(), "ghost")
	if !IsNotFound(err) {
		t.Errorf("User() error = %v, want not-found", err)
	}
}

func TestTimetableRoundTrip(t *testing.T) {
	s := newLocalStore(t)
	writeJSON(t, s, "timetables/u1.json", timetableDoc{Entries: []entryDoc{
		{ID: "e1", Subject: "CS101", Room: "B12", Day: "Monday", Start: "10:00", End: "11:00"},
	}})

	tt, err := s.Timetable(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Timetable() error = %v", err)
	}
	if len(tt.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(tt.Entries))
	}
	e := tt.Entries[0]
	if e.ID != "e1" || e.Subject != "CS101" || e.Start != "10:00" {
		t.Errorf("entry = %+v", e)
	}

	if _, err := s.Timetable(context.Background(), "u2"); !IsNotFound(err) {
		t.Errorf("missing timetable error = %v, want not-found", err)
	}
}

func TestNoticeRoundTrip(t *testing.T) {
	s := newLocalStore(t)
	writeJSON(t, s, "notices/n1.json", noticeDoc{Title: "Exam", Body: "<p>soon</p>", AuthorID: "admin"})

	n, err := s.Notice(context.Background(), "n1")
	if err != nil {
		t.Fatalf("Notice() error = %v", err)
	}
	if n.ID != "n1" || n.Title != "Exam" || n.Body != "<p>soon</p>" {
		t.Errorf("notice = %+v", n)
	}
}

func TestCommitAndHasNotification(t *testing.T) {
	s := newLocalStore(t)
	n := campus.Notification{
		ID:              "reminder-e1-2024-07-29",
		UserID:          "u1",
		Type:            campus.TypeClassReminder,
		Title:           "Reminder: CS101 starts in 15 mins",
		RelatedEntityID: "e1",
	}

	exists, err := s.HasNotification(context.Background(), "u1", n.ID)
	if err != nil {
		t.Fatalf("HasNotification() error = %v", err)
	}
	if exists {
		t.Fatal("notification should not exist before commit")
	}

	if err := s.Commit(context.Background(), []batch.Write{s.NotificationWrite(n)}); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}

	exists, err = s.HasNotification(context.Background(), "u1", n.ID)
	if err != nil {
		t.Fatalf("HasNotification() error = %v", err)
	}
	if !exists {
		t.Fatal("notification should exist after commit")
	}

	// The server-timestamp sentinel must be replaced with a concrete time.
	var doc map[string]any
	data, err := os.ReadFile(filepath.Join(s.localPath, "users", "u1", "notifications", n.ID+".json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	if _, ok := doc["createdAt"].(string); !ok {
		t.Errorf("createdAt = %v, want RFC3339 string", doc["createdAt"])
	}
	if doc["type"] != "class_reminder" {
		t.Errorf("type = %v", doc["type"])
	}
}

func TestCommitRejectsTraversal(t *testing.T) {
	s := newLocalStore(t)
	err := s.Commit(context.Background(), []batch.Write{{
		Path: "users/../escape/notifications/n1",
		Data: map[string]any{},
	}})
	if err == nil {
		t.Fatal("Commit() should reject path traversal segments")
	}
}

func TestUnreadCountLocal(t *testing.T) {
	s := newLocalStore(t)
	writeJSON(t, s, "users/u1/notifications/a.json", map[string]any{"read": false})
	writeJSON(t, s, "users/u1/notifications/b.json", map[string]any{"read": true})
	writeJSON(t, s, "users/u1/notifications/c.json", map[string]any{"read": false})

	count, err := s.UnreadCount(context.Background(), "u1")
	if err != nil {
		t.Fatalf("UnreadCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("UnreadCount() = %d, want 2", count)
	}

	count, err = s.UnreadCount(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("UnreadCount() error = %v", err)
	}
	if count != 0 {
		t.Errorf("UnreadCount() = %d, want 0 for user without notifications", count)
	}
}

func TestNotificationPath(t *testing.T) {
	got := NotificationPath("u1", "notice-n1")
	if want := "users/u1/notifications/notice-n1"; got != want {
		t.Errorf("NotificationPath() = %q, want %q", got, want)
	}
}

func TestValidID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"u1", true},
		{"reminder-e1-2024-07-29", true},
		{"", false},
		{".", false},
		{"..", false},
		{"a/b", false},
		{`a\b`, false},
	}

	for _, tt := range tests {
		if got := validID(tt.id); got != tt.want {
			t.Errorf("validID(%q) = %v, want %v", tt.id, got, tt.want)
		}
	}
}
