// Package cache persists fetched series on disk, keyed by MakeKey and
// expired by a time-to-live checked at read time.
//
// Each entry is a pair of files in the store directory:
//
//	<key>.parquet    the series, columnar
//	<key>.meta.json  {"fetched_at": <unix seconds>, "fetched_at_ns": <unix nanoseconds>,
//	                  "key": "<key>", ...tags}
//
// fetched_at is a float for readers of the directory; freshness is decided
// on the integer fetched_at_ns, which a float64 cannot hold exactly at
// present-day timestamps. Records without it fall back to fetched_at.
//
// A read needs both files. Writes go to temporary files first and are
// renamed into place metadata last, so an interrupted Put reads as a miss.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/timeseries"
)

const (
	dataSuffix = ".parquet"
	metaSuffix = ".meta.json"
	tempSuffix = ".tmp"
)

// Metadata fields written by the store. Caller tags with these names are overridden.
const (
	MetaFetchedAt   = "fetched_at"
	MetaFetchedAtNS = "fetched_at_ns"
	MetaKey         = "key"
)

// DefaultTTL matches the daily release cadence of the upstream statistics.
const DefaultTTL = 24 * time.Hour

var (
	// ErrCorruptEntry marks metadata or data files that exist but cannot be decoded.
	ErrCorruptEntry = errors.New("cache: corrupt entry")
	// ErrInvalidKey is returned for keys that cannot be used as file names.
	ErrInvalidKey = errors.New("cache: invalid key")
)

// Entry describes one cached series as found on disk.
type Entry struct {
	Key       string
	Metadata  map[string]any
	FetchedAt time.Time
	Stale     bool  // older than the store TTL
	Complete  bool  // data file present next to the metadata
	Size      int64 // bytes on disk for both files
}

// Store is a directory of cached series.
// Methods are safe for concurrent use within one process.
type Store struct {
	dir   string
	ttl   time.Duration
	clock clock.Clock
	mem   memory.Allocator
	log   zerolog.Logger
	mu    sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithAllocator sets the arrow allocator used for parquet encoding.
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Store) { s.mem = mem }
}

// NewStore opens (and creates if needed) a cache directory.
func NewStore(dir string, ttl time.Duration, log zerolog.Logger, opts ...Option) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if ttl < 0 {
		return nil, fmt.Errorf("cache ttl must not be negative, got %s", ttl)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	s := &Store{
		dir:   dir,
		ttl:   ttl,
		clock: clock.New(),
		mem:   memory.DefaultAllocator,
		log:   log.With().Str("component", "cache").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Dir returns the cache directory.
func (s *Store) Dir() string {
	return s.dir
}

// TTL returns the freshness window.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

func (s *Store) dataPath(key string) string {
	return filepath.Join(s.dir, key+dataSuffix)
}

func (s *Store) metaPath(key string) string {
	return filepath.Join(s.dir, key+metaSuffix)
}

// Get returns the cached frame for key.
// A missing, half-written or stale entry returns nil, nil. Files that exist
// but cannot be decoded return an error wrapping ErrCorruptEntry.
func (s *Store) Get(key string) (*timeseries.Frame, error) {
	if !ValidKey(key) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err := s.readMeta(key)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		s.log.Debug().Str("key", key).Msg("Cache miss")
		return nil, nil
	}

	if s.isStale(meta) {
		s.log.Debug().Str("key", key).Msg("Cache entry stale")
		return nil, nil
	}

	data, err := os.ReadFile(s.dataPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		s.log.Debug().Str("key", key).Msg("Cache entry has no data file")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache data for %s: %w", key, err)
	}

	frame, err := decodeParquet(data, s.mem)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorruptEntry, key, err)
	}

	s.log.Debug().Str("key", key).Int("rows", frame.Len()).Msg("Cache hit")
	return frame, nil
}

// Put stores frame under key, replacing any previous entry. tags are
// written to the metadata record next to fetched_at and key.
func (s *Store) Put(key string, frame *timeseries.Frame, tags map[string]any) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if frame == nil {
		return fmt.Errorf("cannot cache nil frame for %s", key)
	}
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("cannot cache invalid frame for %s: %w", key, err)
	}

	data, err := encodeParquet(frame, s.mem)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta := make(map[string]any, len(tags)+3)
	for k, v := range tags {
		meta[k] = v
	}
	now := s.clock.Now()
	meta[MetaFetchedAt] = unixSeconds(now)
	meta[MetaFetchedAtNS] = now.UnixNano()
	meta[MetaKey] = key

	metaBytes, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode metadata for %s: %w", key, err)
	}

	if err := s.publish(key, data, metaBytes); err != nil {
		return err
	}

	s.log.Debug().Str("key", key).Int("rows", frame.Len()).Msg("Cached series")
	return nil
}

// publish writes both files to temporary names and renames them into
// place. The old metadata goes first and the new metadata lands last, so
// every intermediate state reads as a miss.
func (s *Store) publish(key string, data, meta []byte) (err error) {
	dataTmp, err := s.writeTemp(key+dataSuffix, data)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(dataTmp)
		}
	}()

	metaTmp, err := s.writeTemp(key+metaSuffix, meta)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = os.Remove(metaTmp)
		}
	}()

	if err := removeIfExists(s.metaPath(key)); err != nil {
		return fmt.Errorf("failed to retire metadata for %s: %w", key, err)
	}
	if err := os.Rename(dataTmp, s.dataPath(key)); err != nil {
		return fmt.Errorf("failed to publish data for %s: %w", key, err)
	}
	if err := os.Rename(metaTmp, s.metaPath(key)); err != nil {
		return fmt.Errorf("failed to publish metadata for %s: %w", key, err)
	}
	return nil
}

func (s *Store) writeTemp(name string, content []byte) (string, error) {
	f, err := os.CreateTemp(s.dir, "."+name+".*"+tempSuffix)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	path := f.Name()

	if _, err := f.Write(content); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to close %s: %w", name, err)
	}
	return path, nil
}

// Invalidate removes the entry for key. Missing entries are not an error.
func (s *Store) Invalidate(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// metadata first so a failure part way leaves an orphaned data file, which reads as a miss
	if err := removeIfExists(s.metaPath(key)); err != nil {
		return fmt.Errorf("failed to remove metadata for %s: %w", key, err)
	}
	if err := removeIfExists(s.dataPath(key)); err != nil {
		return fmt.Errorf("failed to remove data for %s: %w", key, err)
	}
	return nil
}

// ClearAll removes every entry in the directory, including leftovers of
// interrupted writes.
func (s *Store) ClearAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readDir()
	if err != nil {
		return err
	}

	removed := 0
	for _, name := range names {
		if !strings.HasSuffix(name, metaSuffix) &&
			!strings.HasSuffix(name, dataSuffix) &&
			!strings.HasSuffix(name, tempSuffix) {
			continue
		}
		if err := removeIfExists(filepath.Join(s.dir, name)); err != nil {
			return fmt.Errorf("failed to remove %s: %w", name, err)
		}
		removed++
	}

	s.log.Info().Int("files", removed).Msg("Cache cleared")
	return nil
}

// ListEntries returns every entry with a metadata record, sorted by key.
// Staleness is reported but does not filter the list.
func (s *Store) ListEntries() ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.readDir()
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, name := range names {
		if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, metaSuffix))
	}
	sort.Strings(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		meta, err := s.readMeta(key)
		if err != nil {
			return nil, err
		}
		if meta == nil {
			// removed since readDir
			continue
		}

		entry := Entry{
			Key:       key,
			Metadata:  meta,
			FetchedAt: fetchedAt(meta),
			Stale:     s.isStale(meta),
		}
		if info, err := os.Stat(s.metaPath(key)); err == nil {
			entry.Size += info.Size()
		}
		if info, err := os.Stat(s.dataPath(key)); err == nil {
			entry.Complete = true
			entry.Size += info.Size()
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Export returns the raw files of a complete entry, ignoring the TTL.
// ok is false when either file is missing.
func (s *Store) Export(key string) (data, meta []byte, ok bool, err error) {
	if !ValidKey(key) {
		return nil, nil, false, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	meta, err = os.ReadFile(s.metaPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read metadata for %s: %w", key, err)
	}
	data, err = os.ReadFile(s.dataPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to read data for %s: %w", key, err)
	}
	return data, meta, true, nil
}

// Import publishes raw entry files produced by Export, keeping the
// original fetched_at. Both payloads are decoded first so a damaged copy
// never replaces a good entry.
func (s *Store) Import(key string, data, meta []byte) error {
	if !ValidKey(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	var decoded map[string]any
	if err := json.Unmarshal(meta, &decoded); err != nil {
		return fmt.Errorf("%w: %s metadata: %v", ErrCorruptEntry, key, err)
	}
	if _, err := decodeParquet(data, s.mem); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrCorruptEntry, key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.publish(key, data, meta)
}

// readMeta loads the metadata record. A missing file returns nil, nil.
func (s *Store) readMeta(key string) (map[string]any, error) {
	raw, err := os.ReadFile(s.metaPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read cache metadata for %s: %w", key, err)
	}

	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("%w: %s metadata: %v", ErrCorruptEntry, key, err)
	}
	if meta == nil {
		return nil, fmt.Errorf("%w: %s metadata is null", ErrCorruptEntry, key)
	}
	if v, ok := meta[MetaFetchedAt]; ok {
		if _, isNumber := v.(float64); !isNumber {
			return nil, fmt.Errorf("%w: %s fetched_at is %T", ErrCorruptEntry, key, v)
		}
	}
	if _, ok := meta[MetaFetchedAtNS]; ok {
		// decoded again because map[string]any rounds it through float64
		var exact struct {
			NS json.Number `json:"fetched_at_ns"`
		}
		if err := json.Unmarshal(raw, &exact); err != nil {
			return nil, fmt.Errorf("%w: %s fetched_at_ns: %v", ErrCorruptEntry, key, err)
		}
		ns, err := exact.NS.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %s fetched_at_ns is not an integer", ErrCorruptEntry, key)
		}
		meta[MetaFetchedAtNS] = ns
	}
	return meta, nil
}

func (s *Store) readDir() ([]string, error) {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache directory: %w", err)
	}
	names := make([]string, 0, len(dirEntries))
	for _, e := range dirEntries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// isStale reports whether now - fetched_at > ttl. A record without
// a fetch time counts as fetched at the epoch.
func (s *Store) isStale(meta map[string]any) bool {
	return s.clock.Now().Sub(fetchedAt(meta)) > s.ttl
}

// fetchedAt prefers the exact fetched_at_ns set by readMeta.
func fetchedAt(meta map[string]any) time.Time {
	if ns, ok := meta[MetaFetchedAtNS].(int64); ok {
		return time.Unix(0, ns).UTC()
	}
	secs, _ := meta[MetaFetchedAt].(float64)
	whole, frac := math.Modf(secs)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC()
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
