// ABOUTME: Disk-backed range cache for partially downloaded streams
// ABOUTME: Sparse blob files per stream plus a JSON index of cached ranges
package cachestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tonearm/tonearm/pkg/media"
)

const (
	indexFileName = "index.json"
	blobSubdir    = "blobs"
	blobExt       = ".bin"

	// defaultSaveEvery throttles index rewrites. Blob chunks land every
	// few milliseconds during a fetch; the index only needs to keep up
	// roughly, and Close, eviction, and entry completion force a flush.
	defaultSaveEvery = time.Second
)

var (
	// ErrNotCached is returned when the requested byte range is not
	// fully present on disk.
	ErrNotCached = errors.New("cachestore: range not cached")

	// ErrCorrupt is returned when a blob file disagrees with the index.
	ErrCorrupt = errors.New("cachestore: entry corrupt")
)

// Entry is the index record for one cached stream.
type Entry struct {
	Key        string      `json:"key"`
	TrackID    string      `json:"track_id"`
	Codec      media.Codec `json:"codec"`
	Length     int64       `json:"length"`
	Ranges     RangeSet    `json:"ranges"`
	LastAccess time.Time   `json:"last_access"`

	mu     sync.Mutex
	pinned bool
}

// Complete reports whether the whole stream is on disk.
func (e *Entry) Complete() bool {
	return e.Length > 0 && e.Ranges.Covered(0, e.Length)
}

// Stats summarizes cache occupancy.
type Stats struct {
	Entries     int
	Bytes       int64
	Budget      int64
	Complete    int
	Evictions   uint64
	CorruptDrop uint64
}

// Store keeps partially downloaded streams on disk, keyed by stream
// fingerprint, so playback can resume byte ranges across sessions.
type Store struct {
	dir       string
	budget    int64
	saveEvery time.Duration

	mu          sync.RWMutex
	entries     map[string]*Entry
	dirty       bool
	lastSave    time.Time
	evictions   uint64
	corruptDrop uint64
}

// Open loads (or initializes) a cache rooted at dir. budget caps the
// total cached bytes; entries are evicted least-recently-used first.
func Open(dir string, budget int64) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, blobSubdir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{
		dir:       dir,
		budget:    budget,
		saveEvery: defaultSaveEvery,
		entries:   make(map[string]*Entry),
		lastSave:  time.Now(),
	}

	if err := s.loadIndex(); err != nil {
		// A broken index is not fatal: start fresh and let the blobs
		// be re-fetched.
		log.Warn().Err(err).Str("dir", dir).Msg("Cache index unreadable, starting empty")
		s.entries = make(map[string]*Entry)
	}

	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, indexFileName)
}

func (s *Store) blobPath(key string) string {
	return filepath.Join(s.dir, blobSubdir, key+blobExt)
}

func (s *Store) loadIndex() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	var entries []*Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	for _, e := range entries {
		if e.Key == "" {
			continue
		}
		// Drop entries whose blob vanished or shrank: the index must
		// never promise bytes the blob cannot deliver.
		info, err := os.Stat(s.blobPath(e.Key))
		if err != nil || !blobConsistent(info.Size(), &e.Ranges) {
			s.corruptDrop++
			os.Remove(s.blobPath(e.Key))
			log.Debug().Str("key", e.Key).Msg("Dropping corrupt cache entry")
			continue
		}
		s.entries[e.Key] = e
	}
	return nil
}

// blobConsistent checks that the blob file is at least as large as the
// highest cached offset.
func blobConsistent(size int64, ranges *RangeSet) bool {
	rs := ranges.Ranges()
	if len(rs) == 0 {
		return true
	}
	return size >= rs[len(rs)-1].End
}

// saveIndex writes the index atomically via temp file + rename.
// Callers must hold s.mu (read lock is enough, entries are snapshotted).
func (s *Store) saveIndex() error {
	entries := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache index: %w", err)
	}

	tmpFile, err := os.CreateTemp(s.dir, ".index-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp index: %w", err)
	}
	tmpPath := tmpFile.Name()

	defer func() {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp index: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp index: %w", err)
	}
	if err := os.Rename(tmpPath, s.indexPath()); err != nil {
		return fmt.Errorf("failed to rename index: %w", err)
	}

	tmpPath = ""
	return nil
}

// flushIndexLocked persists pending index changes. Non-forced flushes are
// throttled by saveEvery so a stream of chunk writes does not rewrite the
// whole index per chunk. Caller holds s.mu.
func (s *Store) flushIndexLocked(force bool) error {
	if !s.dirty {
		return nil
	}
	if !force && time.Since(s.lastSave) < s.saveEvery {
		return nil
	}
	if err := s.saveIndex(); err != nil {
		return err
	}
	s.dirty = false
	s.lastSave = time.Now()
	return nil
}

// Ensure registers a stream in the index, creating its blob on first
// sight. Re-registering an existing key updates the metadata but keeps
// the cached ranges: a re-resolved URL still maps to the same bytes.
func (s *Store) Ensure(key, trackID string, codec media.Codec, length int64) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.TrackID = trackID
		e.Codec = codec
		e.Length = length
		e.LastAccess = time.Now()
		return e, nil
	}

	f, err := os.OpenFile(s.blobPath(key), os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob: %w", err)
	}
	f.Close()

	e := &Entry{
		Key:        key,
		TrackID:    trackID,
		Codec:      codec,
		Length:     length,
		LastAccess: time.Now(),
	}
	s.entries[key] = e

	s.dirty = true
	if err := s.flushIndexLocked(true); err != nil {
		return nil, err
	}
	return e, nil
}

// Ranges returns the cached intervals for key, or nil if unknown.
func (s *Store) Ranges(key string) []ByteRange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		return nil
	}
	return e.Ranges.Ranges()
}

// Missing returns the sub-intervals of [start, end) not yet cached for
// key. An unknown key is entirely missing.
func (s *Store) Missing(key string, start, end int64) []ByteRange {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[key]
	if !ok {
		if end <= start {
			return nil
		}
		return []ByteRange{{Start: start, End: end}}
	}
	return e.Ranges.Missing(start, end)
}

// ReadAt copies cached bytes [off, off+len(p)) into p. The whole range
// must be cached; otherwise ErrNotCached is returned and p is untouched.
//
// s.mu guards the index and all entry metadata; e.mu only serializes
// blob file access, so decode reads overlap with index maintenance.
func (s *Store) ReadAt(key string, p []byte, off int64) (int, error) {
	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		s.mu.Unlock()
		return 0, ErrNotCached
	}
	end := off + int64(len(p))
	if !e.Ranges.Covered(off, end) {
		s.mu.Unlock()
		return 0, ErrNotCached
	}
	e.LastAccess = time.Now()
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	f, err := os.Open(s.blobPath(key))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer f.Close()

	n, err := f.ReadAt(p, off)
	if err != nil {
		return n, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return n, nil
}

// WriteAt stores p at offset off in the stream's blob and records the
// range as cached. Writes may arrive out of order and may overlap
// already-cached bytes.
func (s *Store) WriteAt(key string, p []byte, off int64) error {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("cachestore: unknown key %q", key)
	}

	e.mu.Lock()
	f, err := os.OpenFile(s.blobPath(key), os.O_WRONLY, 0644)
	if err != nil {
		e.mu.Unlock()
		return fmt.Errorf("failed to open blob: %w", err)
	}
	_, err = f.WriteAt(p, off)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}

	s.mu.Lock()
	e.Ranges.Insert(off, off+int64(len(p)))
	e.LastAccess = time.Now()
	s.dirty = true
	evictionsBefore := s.evictions
	err = s.evictLocked()
	if err == nil {
		// A completed entry or an eviction must land on disk right away;
		// mid-stream chunk writes are batched.
		err = s.flushIndexLocked(e.Complete() || s.evictions != evictionsBefore)
	}
	s.mu.Unlock()
	return err
}

// Pin protects an entry from eviction while a stream is playing.
func (s *Store) Pin(key string) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.pinned = true
	}
	s.mu.Unlock()
}

// Unpin makes an entry evictable again.
func (s *Store) Unpin(key string) {
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.pinned = false
	}
	s.mu.Unlock()
}

// evictLocked drops least-recently-used entries until total cached
// bytes fit the budget. Pinned entries are skipped. Caller holds s.mu.
func (s *Store) evictLocked() error {
	if s.budget <= 0 {
		return nil
	}

	total := s.totalLocked()
	if total <= s.budget {
		return nil
	}

	candidates := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		if !e.pinned {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastAccess.Before(candidates[j].LastAccess)
	})

	for _, e := range candidates {
		if total <= s.budget {
			break
		}
		size := e.Ranges.Total()
		if err := os.Remove(s.blobPath(e.Key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to evict blob: %w", err)
		}
		delete(s.entries, e.Key)
		s.evictions++
		total -= size
		log.Debug().Str("key", e.Key).Int64("bytes", size).Msg("Evicted cache entry")
	}
	return nil
}

func (s *Store) totalLocked() int64 {
	var n int64
	for _, e := range s.entries {
		n += e.Ranges.Total()
	}
	return n
}

// Remove deletes one entry and its blob.
func (s *Store) Remove(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[key]; !ok {
		return nil
	}
	if err := os.Remove(s.blobPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove blob: %w", err)
	}
	delete(s.entries, key)
	s.dirty = true
	return s.flushIndexLocked(true)
}

// Clear wipes the whole cache.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key := range s.entries {
		if err := os.Remove(s.blobPath(key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove blob: %w", err)
		}
		delete(s.entries, key)
	}
	s.dirty = true
	return s.flushIndexLocked(true)
}

// Stats reports cache occupancy.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Entries:     len(s.entries),
		Bytes:       s.totalLocked(),
		Budget:      s.budget,
		Evictions:   s.evictions,
		CorruptDrop: s.corruptDrop,
	}
	for _, e := range s.entries {
		if e.Complete() {
			st.Complete++
		}
	}
	return st
}

// Close flushes any pending index changes.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = true
	return s.flushIndexLocked(true)
}
