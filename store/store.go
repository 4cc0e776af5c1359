// Package store handles persistence of users, notices, timetables and
// notifications in Firestore, with a local filesystem mode for development.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"campus-notifier/batch"
	"campus-notifier/pkg/campus"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("store: document not found")

// IsNotFound checks if an error indicates a missing document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Store reads and writes the service's document collections.
type Store struct {
	client    *firestore.Client
	logger    *slog.Logger
	localPath string
}

// New creates a store. When localPath is non-empty the store operates on JSON
// files under that directory instead of Firestore.
func New(client *firestore.Client, localPath string, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		localPath: localPath,
		logger:    logger,
	}
}

// Boundary document shapes. Firestore documents are decoded into these before
// conversion to domain types, so optional and malformed fields are handled in
// one place.
type userDoc struct {
	Notifications *bool  `firestore:"notifications" json:"notifications"`
	Name          string `firestore:"name" json:"name"`
	Role          string `firestore:"role" json:"role"`
}

type noticeDoc struct {
	Title     string    `firestore:"title" json:"title"`
	Body      string    `firestore:"body" json:"body"`
	AuthorID  string    `firestore:"authorId" json:"authorId"`
	CreatedAt time.Time `firestore:"createdAt" json:"createdAt"`
}

type entryDoc struct {
	ID      string `firestore:"id" json:"id"`
	Subject string `firestore:"subject" json:"subject"`
	Room    string `firestore:"room" json:"room"`
	Teacher string `firestore:"teacher" json:"teacher"`
	Day     string `firestore:"day" json:"day"`
	Start   string `firestore:"start" json:"start"`
	End     string `firestore:"end" json:"end"`
}

type timetableDoc struct {
	Entries []entryDoc `firestore:"entries" json:"entries"`
}

func (d userDoc) toUser(id string) campus.User {
	optIn := campus.OptInUnset
	if d.Notifications != nil {
		if *d.Notifications {
			optIn = campus.OptInEnabled
		} else {
			optIn = campus.OptInDisabled
		}
	}
	return campus.User{ID: id, Name: d.Name, Role: d.Role, OptIn: optIn}
}

// Users returns all user records.
func (s *Store) Users(ctx context.Context) ([]campus.User, error) {
	if s.localPath != "" {
		return s.localUsers()
	}

	var users []campus.User
	it := s.client.Collection("users").Documents(ctx)
	defer it.Stop()

	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate users: %w", err)
		}

		var doc userDoc
		if err := snap.DataTo(&doc); err != nil {
			s.logger.Warn("Skipping malformed user document", "user_id", snap.Ref.ID, "error", err)
			continue
		}
		users = append(users, doc.toUser(snap.Ref.ID))
	}

	return users, nil
}

// User returns a single user record.
func (s *Store) User(ctx context.Context, userID string) (campus.User, error) {
	if s.localPath != "" {
		var doc userDoc
		if err := s.localRead(filepath.Join("users", userID+".json"), userID, &doc); err != nil {
			return campus.User{}, err
		}
		return doc.toUser(userID), nil
	}

	snap, err := s.getDoc(ctx, s.client.Collection("users").Doc(userID))
	if err != nil {
		return campus.User{}, err
	}

	var doc userDoc
	if err := snap.DataTo(&doc); err != nil {
		return campus.User{}, fmt.Errorf("decode user %s: %w", userID, err)
	}
	return doc.toUser(userID), nil
}

// Notice returns a notice by id.
func (s *Store) Notice(ctx context.Context, noticeID string) (*campus.Notice, error) {
	if s.localPath != "" {
		var doc noticeDoc
		if err := s.localRead(filepath.Join("notices", noticeID+".json"), noticeID, &doc); err != nil {
			return nil, err
		}
		return noticeFromDoc(noticeID, doc), nil
	}

	snap, err := s.getDoc(ctx, s.client.Collection("notices").Doc(noticeID))
	if err != nil {
		return nil, err
	}

	var doc noticeDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decode notice %s: %w", noticeID, err)
	}
	return noticeFromDoc(noticeID, doc), nil
}

func noticeFromDoc(id string, doc noticeDoc) *campus.Notice {
	return &campus.Notice{
		ID:        id,
		Title:     doc.Title,
		Body:      doc.Body,
		AuthorID:  doc.AuthorID,
		CreatedAt: doc.CreatedAt,
	}
}

// Timetable returns a user's timetable, or ErrNotFound if they have none.
func (s *Store) Timetable(ctx context.Context, userID string) (*campus.Timetable, error) {
	var doc timetableDoc

	if s.localPath != "" {
		if err := s.localRead(filepath.Join("timetables", userID+".json"), userID, &doc); err != nil {
			return nil, err
		}
	} else {
		snap, err := s.getDoc(ctx, s.client.Collection("timetables").Doc(userID))
		if err != nil {
			return nil, err
		}
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode timetable %s: %w", userID, err)
		}
	}

	tt := &campus.Timetable{UserID: userID}
	for _, e := range doc.Entries {
		tt.Entries = append(tt.Entries, campus.TimetableEntry{
			ID:      e.ID,
			Subject: e.Subject,
			Room:    e.Room,
			Teacher: e.Teacher,
			Day:     e.Day,
			Start:   e.Start,
			End:     e.End,
		})
	}
	return tt, nil
}

// HasNotification reports whether a notification document already exists.
// This is the dedup check; the deterministic document id makes a concurrent
// duplicate write an overwrite rather than a second document.
func (s *Store) HasNotification(ctx context.Context, userID, notificationID string) (bool, error) {
	if s.localPath != "" {
		if !validID(userID) || !validID(notificationID) {
			return false, errors.New("invalid document id")
		}
		_, err := os.Stat(filepath.Join(s.localPath, "users", userID, "notifications", notificationID+".json"))
		if err != nil {
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, fmt.Errorf("stat notification: %w", err)
		}
		return true, nil
	}

	ref := s.client.Collection("users").Doc(userID).Collection("notifications").Doc(notificationID)
	_, err := s.getDoc(ctx, ref)
	if err != nil {
		if IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NotificationWrite converts a notification into a pending batch write.
// createdAt is assigned by the server clock at commit time.
func (s *Store) NotificationWrite(n campus.Notification) batch.Write {
	data := map[string]any{
		"userId":          n.UserID,
		"type":            string(n.Type),
		"title":           n.Title,
		"read":            n.Read,
		"createdAt":       firestore.ServerTimestamp,
		"relatedEntityId": n.RelatedEntityID,
	}
	if n.Excerpt != "" {
		data["excerpt"] = n.Excerpt
	}
	return batch.Write{Path: NotificationPath(n.UserID, n.ID), Data: data}
}

// NotificationPath builds the document path for a per-user notification.
func NotificationPath(userID, notificationID string) string {
	return fmt.Sprintf("users/%s/notifications/%s", userID, notificationID)
}

// Commit writes one group atomically. Implements batch.Committer. Retried as a
// whole; deterministic document ids make a replayed commit an overwrite.
func (s *Store) Commit(ctx context.Context, writes []batch.Write) error {
	if len(writes) == 0 {
		return nil
	}

	if s.localPath != "" {
		return s.localCommit(writes)
	}

	err := retry.Do(
		func() error {
			b := s.client.Batch()
			for _, w := range writes {
				b.Set(s.client.Doc(w.Path), w.Data)
			}
			if _, err := b.Commit(ctx); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying batch commit after error", "attempt", n, "size", len(writes), "error", retryErr)
		}),
	)
	if err != nil {
		return fmt.Errorf("commit after retries: %w", err)
	}

	s.logger.Debug("Batch committed", "size", len(writes))
	return nil
}

// getDoc fetches a document snapshot with retries. Not-found is unrecoverable
// and surfaces as ErrNotFound.
func (s *Store) getDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	var snap *firestore.DocumentSnapshot

	err := retry.Do(
		func() error {
			var getErr error
			snap, getErr = ref.Get(ctx)
			if getErr != nil {
				if status.Code(getErr) == codes.NotFound {
					return retry.Unrecoverable(ErrNotFound)
				}
				return fmt.Errorf("get %s: %w", ref.Path, getErr)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying document read after error", "attempt", n, "path", ref.Path, "error", retryErr)
		}),
	)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read after retries: %w", err)
	}

	return snap, nil
}

// validID rejects document ids that could escape the local storage directory.
func validID(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, `/\`)
}
