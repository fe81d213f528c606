// Package reliability snapshots the series cache to an S3-compatible bucket
// and restores it.
package reliability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/macroecon/internal/cache"
)

const (
	manifestName = "manifest.json"
	dataExt      = ".parquet"
	metaExt      = ".meta.json"

	// snapshot ids start with the creation time in this layout
	snapshotTimeLayout = "20060102T150405Z"
)

// ErrSnapshotNotFound is returned when a snapshot id has no manifest.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Manifest is written last into each snapshot; a snapshot without one is
// incomplete and ignored.
type Manifest struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Keys      []string  `json:"keys"`
	SizeBytes int64     `json:"size_bytes"`
}

// SnapshotInfo summarises a stored snapshot.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Entries   int       `json:"entries"`
	SizeBytes int64     `json:"size_bytes"`
	AgeHours  int64     `json:"age_hours"`
}

// CacheBackupService copies complete cache entries to and from a bucket.
type CacheBackupService struct {
	store   *cache.Store
	objects ObjectStore
	prefix  string
	log     zerolog.Logger
	now     func() time.Time
}

// NewCacheBackupService creates a backup service writing under prefix.
func NewCacheBackupService(store *cache.Store, objects ObjectStore, prefix string, log zerolog.Logger) *CacheBackupService {
	return &CacheBackupService{
		store:   store,
		objects: objects,
		prefix:  strings.Trim(prefix, "/"),
		log:     log.With().Str("service", "cache_backup").Logger(),
		now:     time.Now,
	}
}

func (s *CacheBackupService) snapshotDir(id string) string {
	if s.prefix == "" {
		return id + "/"
	}
	return s.prefix + "/" + id + "/"
}

func (s *CacheBackupService) rootDir() string {
	if s.prefix == "" {
		return ""
	}
	return s.prefix + "/"
}

func (s *CacheBackupService) newID() string {
	return s.now().UTC().Format(snapshotTimeLayout) + "-" + uuid.NewString()
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, `/\`) && !strings.HasPrefix(id, ".")
}

// CreateSnapshot uploads every complete entry, regardless of staleness.
// Entries without a data file are skipped.
func (s *CacheBackupService) CreateSnapshot(ctx context.Context) (*Manifest, error) {
	start := time.Now()

	entries, err := s.store.ListEntries()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	manifest := &Manifest{ID: s.newID(), CreatedAt: s.now().UTC(), Keys: []string{}}
	dir := s.snapshotDir(manifest.ID)

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !entry.Complete {
			continue
		}

		data, meta, ok, err := s.store.Export(entry.Key)
		if err != nil {
			return nil, err
		}
		if !ok {
			// removed since ListEntries
			continue
		}

		if err := s.upload(ctx, dir+entry.Key+dataExt, data); err != nil {
			return nil, err
		}
		if err := s.upload(ctx, dir+entry.Key+metaExt, meta); err != nil {
			return nil, err
		}
		manifest.Keys = append(manifest.Keys, entry.Key)
		manifest.SizeBytes += int64(len(data) + len(meta))
	}

	encoded, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := s.upload(ctx, dir+manifestName, encoded); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("snapshot", manifest.ID).
		Int("entries", len(manifest.Keys)).
		Int64("size_bytes", manifest.SizeBytes).
		Dur("duration_ms", time.Since(start)).
		Msg("Cache snapshot created")

	return manifest, nil
}

func (s *CacheBackupService) upload(ctx context.Context, key string, body []byte) error {
	return s.objects.Upload(ctx, key, bytes.NewReader(body), int64(len(body)))
}

func (s *CacheBackupService) readManifest(ctx context.Context, id string) (*Manifest, error) {
	raw, err := s.objects.Download(ctx, s.snapshotDir(id)+manifestName)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest for %s: %w", id, err)
	}
	return &m, nil
}

// ListSnapshots returns the complete snapshots, newest first.
func (s *CacheBackupService) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	objects, err := s.objects.List(ctx, s.rootDir())
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	now := s.now()
	var snapshots []SnapshotInfo
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, s.rootDir())
		id, name, ok := strings.Cut(rel, "/")
		if !ok || name != manifestName {
			continue
		}

		m, err := s.readManifest(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("snapshot", id).Msg("Skipping unreadable snapshot")
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			ID:        id,
			CreatedAt: m.CreatedAt,
			Entries:   len(m.Keys),
			SizeBytes: m.SizeBytes,
			AgeHours:  int64(now.Sub(m.CreatedAt).Hours()),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].CreatedAt.Equal(snapshots[j].CreatedAt) {
			return snapshots[i].ID > snapshots[j].ID
		}
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

func (s *CacheBackupService) hasManifest(ctx context.Context, id string) (bool, error) {
	objects, err := s.objects.List(ctx, s.snapshotDir(id))
	if err != nil {
		return false, fmt.Errorf("failed to list snapshot %s: %w", id, err)
	}
	for _, obj := range objects {
		if path.Base(obj.Key) == manifestName {
			return true, nil
		}
	}
	return false, nil
}

// RestoreSnapshot imports every entry of a snapshot into the store,
// replacing entries with the same key and keeping their original fetch
// time. It returns the number of entries restored.
func (s *CacheBackupService) RestoreSnapshot(ctx context.Context, id string) (int, error) {
	if !validID(id) {
		return 0, fmt.Errorf("%w: %q", ErrSnapshotNotFound, id)
	}
	ok, err := s.hasManifest(ctx, id)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}

	m, err := s.readManifest(ctx, id)
	if err != nil {
		return 0, err
	}

	dir := s.snapshotDir(id)
	restored := 0
	for _, key := range m.Keys {
		if err := ctx.Err(); err != nil {
			return restored, err
		}

		data, err := s.objects.Download(ctx, dir+key+dataExt)
		if err != nil {
			return restored, err
		}
		meta, err := s.objects.Download(ctx, dir+key+metaExt)
		if err != nil {
			return restored, err
		}
		if err := s.store.Import(key, data, meta); err != nil {
			return restored, fmt.Errorf("failed to restore %s: %w", key, err)
		}
		restored++
	}

	s.log.Info().
		Str("snapshot", id).
		Int("entries", restored).
		Msg("Cache snapshot restored")

	return restored, nil
}

// RotateSnapshots deletes all but the newest keep snapshots. At least one
// snapshot is always kept.
func (s *CacheBackupService) RotateSnapshots(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		keep = 1
	}

	snapshots, err := s.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= keep {
		return 0, nil
	}

	deleted := 0
	for _, snap := range snapshots[keep:] {
		objects, err := s.objects.List(ctx, s.snapshotDir(snap.ID))
		if err != nil {
			return deleted, err
		}
		// manifest first so a partly deleted snapshot is no longer listed
		sort.SliceStable(objects, func(i, j int) bool {
			return path.Base(objects[i].Key) == manifestName && path.Base(objects[j].Key) != manifestName
		})
		for _, obj := range objects {
			if err := s.objects.Delete(ctx, obj.Key); err != nil {
				return deleted, err
			}
		}

		s.log.Info().
			Str("snapshot", snap.ID).
			Time("created_at", snap.CreatedAt).
			Msg("Deleted old snapshot")
		deleted++
	}
	return deleted, nil
}

// CacheBackupJob snapshots the cache and rotates old snapshots.
type CacheBackupJob struct {
	service *CacheBackupService
	keep    int
	timeout time.Duration
}

// NewCacheBackupJob creates a scheduled backup keeping keep snapshots.
func NewCacheBackupJob(service *CacheBackupService, keep int) *CacheBackupJob {
	return &CacheBackupJob{service: service, keep: keep, timeout: time.Hour}
}

// Name returns the job name
func (j *CacheBackupJob) Name() string {
	return "cache_backup"
}

// Run creates a snapshot, then rotates.
func (j *CacheBackupJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	if _, err := j.service.CreateSnapshot(ctx); err != nil {
		return fmt.Errorf("cache snapshot failed: %w", err)
	}
	if _, err := j.service.RotateSnapshots(ctx, j.keep); err != nil {
		return fmt.Errorf("snapshot rotation failed: %w", err)
	}
	return nil
}
