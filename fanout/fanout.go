// Package fanout reacts to newly created notices by writing one notification
// into every opted-in user's sub-collection.
package fanout

import (
	"context"
	"log/slog"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"campus-notifier/batch"
	"campus-notifier/pkg/campus"
)

// DefaultTitle is used when a notice carries no title.
const DefaultTitle = "New Announcement"

const maxExcerptLen = 140

// Store is the subset of the document store the fan-out needs.
type Store interface {
	Notice(ctx context.Context, noticeID string) (*campus.Notice, error)
	Users(ctx context.Context) ([]campus.User, error)
	NotificationWrite(n campus.Notification) batch.Write
}

// IsNotFound reports whether a store error means the document is missing.
type IsNotFound func(error) bool

// Fanout handles the notice-created trigger.
type Fanout struct {
	store      Store
	writer     *batch.Writer
	logger     *slog.Logger
	isNotFound IsNotFound
}

// New creates a fan-out trigger handler.
func New(store Store, writer *batch.Writer, isNotFound IsNotFound, logger *slog.Logger) *Fanout {
	return &Fanout{
		store:      store,
		writer:     writer,
		isNotFound: isNotFound,
		logger:     logger,
	}
}

// Deliver fans a notice out to every eligible user. Failures are logged and
// swallowed: the triggering platform redelivers on failure, and deterministic
// notification ids make a redelivered trigger rewrite the same documents
// instead of inserting duplicates.
func (f *Fanout) Deliver(ctx context.Context, noticeID string) {
	notice, err := f.store.Notice(ctx, noticeID)
	if err != nil {
		if f.isNotFound(err) {
			f.logger.Info("No data associated with the notice creation event", "notice_id", noticeID)
			return
		}
		f.logger.Error("Failed to load notice", "notice_id", noticeID, "error", err)
		return
	}

	title := notice.Title
	if title == "" {
		title = DefaultTitle
	}

	users, err := f.store.Users(ctx)
	if err != nil {
		f.logger.Error("Failed to list users for notice fan-out", "notice_id", noticeID, "error", err)
		return
	}

	eligible := campus.EligibleUsers(users)
	if len(eligible) == 0 {
		f.logger.Info("No users have notifications enabled", "notice_id", noticeID)
		return
	}

	excerpt := Excerpt(notice.Body)

	writes := make([]batch.Write, 0, len(eligible))
	for _, u := range eligible {
		writes = append(writes, f.store.NotificationWrite(campus.Notification{
			ID:              campus.NoticeKey(noticeID),
			UserID:          u.ID,
			Type:            campus.TypeNewNotice,
			Title:           "New Notice: " + title,
			Excerpt:         excerpt,
			Read:            false,
			RelatedEntityID: noticeID,
		}))
	}

	total, err := f.writer.WriteAll(ctx, writes)
	if err != nil {
		f.logger.Error("Notice fan-out partially failed",
			"notice_id", noticeID,
			"delivered", total,
			"eligible", len(eligible),
			"error", err)
		return
	}

	f.logger.Info("Notifications created for notice",
		"notice_id", noticeID,
		"total_notifications", total)
}

// Excerpt derives a short plain-text snippet from a notice's HTML body for
// display in the notification panel.
func Excerpt(htmlBody string) string {
	if strings.TrimSpace(htmlBody) == "" {
		return ""
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		// Fall back to the raw body rather than dropping the snippet.
		return truncate(strings.TrimSpace(htmlBody), maxExcerptLen)
	}

	text := strings.Join(strings.Fields(doc.Text()), " ")
	return truncate(text, maxExcerptLen)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	if idx := strings.LastIndex(cut, " "); idx > 0 {
		cut = cut[:idx]
	}
	return cut + "…"
}
