// Package hashes persists per-artifact fingerprints and sync
// timestamps under the working directory's hidden metadata folder. It
// is the authoritative answer to "is this path locally modified since
// the last sync" and "is the remote side newer than what we last saw".
package hashes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Direction distinguishes which side of a sync produced a record.
type Direction int

const (
	// Pull records a remote-to-local transfer.
	Pull Direction = iota
	// Push records a local-to-remote transfer.
	Push
)

// Record is the per-path fingerprint. Created on first successful pull
// or push, updated on every successful sync, and removed only by
// explicit working-directory removal.
type Record struct {
	Path               string    `json:"path"`
	MD5                string    `json:"md5"`
	ResourceID         string    `json:"resourceId,omitempty"`
	LastPulledAt       time.Time `json:"lastPulledAt,omitempty"`
	LastPushedAt       time.Time `json:"lastPushedAt,omitempty"`
	RemoteLastModified time.Time `json:"remoteLastModified,omitempty"`
	RemoteAbsent       bool      `json:"remoteAbsent,omitempty"`
}

// document is the hashes.json on-disk shape.
type document struct {
	Records map[string]*Record `json:"records"`
}

// timestamps is the last-pull.json / last-push.json on-disk shape:
// per-kind instants used for the modified-since server query.
type timestamps map[string]time.Time

const (
	metadataDir    = ".metadata"
	hashesFile     = "hashes.json"
	lastPullFile   = "last-pull.json"
	lastPushFile   = "last-push.json"
	flushDebounce  = 500 * time.Millisecond
	metadataPerm   = 0o755
	metadataFileMo = 0o644
)

// Store owns the hash records for one working directory. All access is
// guarded by a single mutex; persistence flushes are debounced and
// atomic (write-to-temp + rename), so readers of the file see either
// the pre- or post-state, never a partial document.
type Store struct {
	root   string
	logger *slog.Logger

	mu       sync.Mutex
	records  map[string]*Record
	lastPull timestamps
	lastPush timestamps
	dirty    bool
	timer    *time.Timer
}

// Open loads (or initializes) the hash store for a working directory.
func Open(root string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		root:     root,
		logger:   logger,
		records:  make(map[string]*Record),
		lastPull: make(timestamps),
		lastPush: make(timestamps),
	}

	if err := os.MkdirAll(filepath.Join(root, metadataDir), metadataPerm); err != nil {
		return nil, fmt.Errorf("hashes: creating metadata dir: %w", err)
	}

	if err := s.load(); err != nil {
		return nil, err
	}

	return s, nil
}

// load reads the persisted documents. Missing files are a fresh start.
func (s *Store) load() error {
	var doc document
	if err := readJSON(s.filePath(hashesFile), &doc); err != nil {
		return fmt.Errorf("hashes: loading %s: %w", hashesFile, err)
	}

	if doc.Records != nil {
		s.records = doc.Records
	}

	if err := readJSON(s.filePath(lastPullFile), &s.lastPull); err != nil {
		return fmt.Errorf("hashes: loading %s: %w", lastPullFile, err)
	}

	if err := readJSON(s.filePath(lastPushFile), &s.lastPush); err != nil {
		return fmt.Errorf("hashes: loading %s: %w", lastPushFile, err)
	}

	if s.lastPull == nil {
		s.lastPull = make(timestamps)
	}

	if s.lastPush == nil {
		s.lastPush = make(timestamps)
	}

	s.logger.Debug("hash store loaded",
		slog.String("root", s.root),
		slog.Int("records", len(s.records)),
	)

	return nil
}

func (s *Store) filePath(name string) string {
	return filepath.Join(s.root, metadataDir, name)
}

// Record upserts the fingerprint for path after a successful transfer.
// Idempotent: recording the same state twice leaves one record.
func (s *Store) Record(path, md5, resourceID string, remoteModified time.Time, dir Direction) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[path]
	if !ok {
		r = &Record{Path: path}
		s.records[path] = r
	}

	r.MD5 = md5
	r.ResourceID = resourceID
	r.RemoteLastModified = remoteModified
	r.RemoteAbsent = false

	switch dir {
	case Pull:
		r.LastPulledAt = now
	case Push:
		r.LastPushedAt = now
	}

	s.markDirtyLocked()
}

// Lookup returns the record for path, or nil when none exists.
func (s *Store) Lookup(path string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[path]
	if !ok {
		return nil
	}

	cp := *r

	return &cp
}

// IsLocalModified reports whether the local bytes at path differ from
// the last synced state. True when no record exists.
func (s *Store) IsLocalModified(path, currentMD5 string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[path]
	if !ok {
		return true
	}

	return currentMD5 != r.MD5
}

// IsRemoteModified reports whether the remote artifact is newer than
// the last synced state. True when no record exists, the remote
// timestamp advanced, or the digest changed.
func (s *Store) IsRemoteModified(path, remoteMD5 string, remoteModified time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[path]
	if !ok {
		return true
	}

	if remoteModified.After(r.RemoteLastModified) {
		return true
	}

	return remoteMD5 != "" && remoteMD5 != r.MD5
}

// MarkRemoteAbsent flags the record after a confirmed remote deletion.
func (s *Store) MarkRemoteAbsent(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.records[path]; ok {
		r.RemoteAbsent = true
		s.markDirtyLocked()
	}
}

// ListKnownPaths returns every path the store has a record for.
func (s *Store) ListKnownPaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	paths := make([]string, 0, len(s.records))
	for p := range s.records {
		paths = append(paths, p)
	}

	return paths
}

// KnownResourceID returns the recorded resource id for a digest, if
// any path was synced with exactly these bytes before. Enables upload
// deduplication before any network round-trip.
func (s *Store) KnownResourceID(md5 string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.records {
		if r.MD5 == md5 && r.ResourceID != "" {
			return r.ResourceID
		}
	}

	return ""
}

// LastPullAt returns the recorded pull watermark for a kind.
func (s *Store) LastPullAt(kind string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastPull[kind]
}

// LastPushAt returns the recorded push watermark for a kind.
func (s *Store) LastPushAt(kind string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastPush[kind]
}

// SetLastPullAt advances the pull watermark on clean completion.
func (s *Store) SetLastPullAt(kind string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPull[kind] = t.UTC()
	s.markDirtyLocked()
}

// SetLastPushAt advances the push watermark on clean completion.
func (s *Store) SetLastPushAt(kind string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastPush[kind] = t.UTC()
	s.markDirtyLocked()
}

// markDirtyLocked schedules a debounced flush. Callers hold s.mu.
func (s *Store) markDirtyLocked() {
	s.dirty = true

	if s.timer == nil {
		s.timer = time.AfterFunc(flushDebounce, func() {
			if err := s.Flush(); err != nil {
				s.logger.Error("hash store flush failed",
					slog.String("error", err.Error()),
				)
			}
		})
	} else {
		s.timer.Reset(flushDebounce)
	}
}

// Flush persists any pending changes immediately.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.dirty {
		return nil
	}

	doc := document{Records: s.records}
	if err := writeJSONAtomic(s.filePath(hashesFile), &doc); err != nil {
		return fmt.Errorf("hashes: writing %s: %w", hashesFile, err)
	}

	if err := writeJSONAtomic(s.filePath(lastPullFile), s.lastPull); err != nil {
		return fmt.Errorf("hashes: writing %s: %w", lastPullFile, err)
	}

	if err := writeJSONAtomic(s.filePath(lastPushFile), s.lastPush); err != nil {
		return fmt.Errorf("hashes: writing %s: %w", lastPushFile, err)
	}

	s.dirty = false

	return nil
}

// Close flushes pending changes and stops the debounce timer.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	return s.Flush()
}

// readJSON decodes the file into v. A missing file is not an error.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	return json.Unmarshal(data, v)
}

// writeJSONAtomic writes v to path via a temp file and rename, so
// concurrent readers never observe a partial document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return err
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return err
	}

	return os.Rename(tmp.Name(), path)
}
