package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"campus-notifier/batch"
	"campus-notifier/pkg/campus"
)

// Local filesystem mode: documents are JSON files laid out like the Firestore
// paths (users/u1.json, users/u1/notifications/n1.json, ...). Development
// only; writes are per-file, not atomic across a group.

func (s *Store) localUsers() ([]campus.User, error) {
	dir := filepath.Join(s.localPath, "users")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read users directory: %w", err)
	}

	var users []campus.User
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")

		var doc userDoc
		if err := s.localRead(filepath.Join("users", entry.Name()), id, &doc); err != nil {
			s.logger.Warn("Skipping unreadable user file", "file", entry.Name(), "error", err)
			continue
		}
		users = append(users, doc.toUser(id))
	}

	return users, nil
}

func (s *Store) localRead(rel, id string, out any) error {
	if !validID(id) {
		return errors.New("invalid document id")
	}

	data, err := os.ReadFile(filepath.Join(s.localPath, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read local document: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal %s: %w", rel, err)
	}
	return nil
}

func (s *Store) localCommit(writes []batch.Write) error {
	now := time.Now().UTC()

	for _, w := range writes {
		for _, seg := range strings.Split(w.Path, "/") {
			if !validID(seg) {
				return fmt.Errorf("invalid document path %q", w.Path)
			}
		}

		// The server-timestamp sentinel has no meaning on a filesystem;
		// substitute the local clock.
		data := make(map[string]any, len(w.Data))
		for k, v := range w.Data {
			if v == firestore.ServerTimestamp {
				data[k] = now
				continue
			}
			data[k] = v
		}

		body, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal document %s: %w", w.Path, err)
		}

		file := filepath.Join(s.localPath, filepath.FromSlash(w.Path)+".json")
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return fmt.Errorf("create document directory: %w", err)
		}
		if err := os.WriteFile(file, body, 0o600); err != nil {
			return fmt.Errorf("write document %s: %w", w.Path, err)
		}
	}

	s.logger.Info("Documents written to local storage", "count", len(writes))
	return nil
}

func (s *Store) localUnreadCount(userID string) (int64, error) {
	if !validID(userID) {
		return 0, errors.New("invalid document id")
	}

	dir := filepath.Join(s.localPath, "users", userID, "notifications")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read notifications directory: %w", err)
	}

	var count int64
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		var doc struct {
			Read bool `json:"read"`
		}
		rel := filepath.Join("users", userID, "notifications", entry.Name())
		if err := s.localRead(rel, strings.TrimSuffix(entry.Name(), ".json"), &doc); err != nil {
			s.logger.Warn("Skipping unreadable notification file", "file", entry.Name(), "error", err)
			continue
		}
		if !doc.Read {
			count++
		}
	}

	return count, nil
}
