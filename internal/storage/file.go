package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"schedd/internal/model"
	logx "schedd/pkg/logx"
)

// snapshot is the on-disk form of the file backend.
type snapshot struct {
	EventSeq int64                           `json:"event_seq"`
	Events   []model.ScheduledEvent          `json:"events"`
	PrefsSeq int64                           `json:"prefs_seq"`
	Prefs    []model.AvailabilityPreferences `json:"preferences"`
	PostSeq  int64                           `json:"post_seq"`
	Posts    []Post                          `json:"posts"`
}

// openFile returns a memory store that rewrites a JSON snapshot at cfg.Path
// after every mutation (write to tmp, then rename).
func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	s := newMemoryStore()
	if err := loadSnapshot(path, s); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load snapshot %s: %w", path, err)
	}
	s.onChange = func() error {
		if err := writeSnapshotLocked(path, s); err != nil {
			log.Warn("snapshot write failed", logx.String("path", path), logx.Err(err))
			return err
		}
		return nil
	}
	log.Debug("file store opened", logx.String("path", path), logx.Int("events", len(s.events)))
	return s, nil
}

func loadSnapshot(path string, s *memoryStore) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return err
	}
	for _, e := range snap.Events {
		s.events[e.ID] = e
		if e.ID > s.eventID {
			s.eventID = e.ID
		}
	}
	if snap.EventSeq > s.eventID {
		s.eventID = snap.EventSeq
	}
	s.prefs = append(s.prefs, snap.Prefs...)
	s.prefsID = snap.PrefsSeq
	for _, p := range snap.Prefs {
		if p.ID > s.prefsID {
			s.prefsID = p.ID
		}
	}
	for _, p := range snap.Posts {
		s.posts[p.ID] = p
		if p.ID > s.postID {
			s.postID = p.ID
		}
	}
	if snap.PostSeq > s.postID {
		s.postID = snap.PostSeq
	}
	return nil
}

func writeSnapshotLocked(path string, s *memoryStore) error {
	snap := snapshot{
		EventSeq: s.eventID,
		Events:   make([]model.ScheduledEvent, 0, len(s.events)),
		PrefsSeq: s.prefsID,
		Prefs:    s.prefs,
		PostSeq:  s.postID,
		Posts:    make([]Post, 0, len(s.posts)),
	}
	for _, e := range s.events {
		snap.Events = append(snap.Events, e)
	}
	for _, p := range s.posts {
		snap.Posts = append(snap.Posts, p)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
