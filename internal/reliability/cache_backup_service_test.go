package reliability

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/macroecon/internal/cache"
	testingpkg "github.com/aristath/macroecon/internal/testing"
)

// memObjects is an in-memory ObjectStore.
type memObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemObjects() *memObjects {
	return &memObjects{objects: make(map[string][]byte)}
}

func (m *memObjects) Upload(ctx context.Context, key string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch for %s", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memObjects) Download(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, errors.New("no such key: " + key)
	}
	return data, nil
}

func (m *memObjects) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memObjects) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *memObjects) keys() []string {
	objs, _ := m.List(context.Background(), "")
	keys := make([]string, len(objs))
	for i, o := range objs {
		keys[i] = o.Key
	}
	return keys
}

func seedStore(t *testing.T, store *cache.Store, ids ...string) []string {
	t.Helper()
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = cache.MakeKey("fred", id, nil)
		require.NoError(t, store.Put(keys[i], testingpkg.SampleFrame(), map[string]any{"series_id": id}))
	}
	return keys
}

func TestCreateAndRestoreSnapshot(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()

	src := testingpkg.NewStore(t, time.Hour)
	keys := seedStore(t, src, "GDP", "UNRATE")

	svc := NewCacheBackupService(src, objects, "/backups/", zerolog.Nop())
	manifest, err := svc.CreateSnapshot(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, keys, manifest.Keys)
	assert.Positive(t, manifest.SizeBytes)

	dir := "backups/" + manifest.ID + "/"
	assert.Contains(t, objects.keys(), dir+manifestName)
	assert.Contains(t, objects.keys(), dir+keys[0]+dataExt)
	assert.Contains(t, objects.keys(), dir+keys[0]+metaExt)

	dst := testingpkg.NewStore(t, time.Hour)
	restorer := NewCacheBackupService(dst, objects, "backups", zerolog.Nop())
	n, err := restorer.RestoreSnapshot(ctx, manifest.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, key := range keys {
		want, err := src.Get(key)
		require.NoError(t, err)
		got, err := dst.Get(key)
		require.NoError(t, err)
		assert.True(t, want.Equal(got), key)
	}

	srcEntries, err := src.ListEntries()
	require.NoError(t, err)
	dstEntries, err := dst.ListEntries()
	require.NoError(t, err)
	require.Len(t, dstEntries, 2)
	assert.Equal(t, srcEntries[0].FetchedAt, dstEntries[0].FetchedAt)
}

func TestSnapshotIDFormat(t *testing.T) {
	svc := NewCacheBackupService(testingpkg.NewStore(t, time.Hour), newMemObjects(), "", zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC) }

	id := svc.newID()
	assert.True(t, strings.HasPrefix(id, "20260304T050607Z-"), id)
	assert.Len(t, id, len(snapshotTimeLayout)+1+36)
}

func TestListSnapshotsIgnoresIncomplete(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	store := testingpkg.NewStore(t, time.Hour)
	seedStore(t, store, "GDP")

	svc := NewCacheBackupService(store, objects, "snap", zerolog.Nop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	var ids []string
	for i := 0; i < 3; i++ {
		svc.now = func() time.Time { return base.Add(time.Duration(i) * time.Hour) }
		m, err := svc.CreateSnapshot(ctx)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	// an interrupted upload leaves data without a manifest
	require.NoError(t, objects.Upload(ctx, "snap/partial/x.parquet", strings.NewReader("x"), 1))

	svc.now = func() time.Time { return base.Add(5 * time.Hour) }
	snapshots, err := svc.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snapshots, 3)
	assert.Equal(t, ids[2], snapshots[0].ID, "newest first")
	assert.Equal(t, ids[0], snapshots[2].ID)
	assert.Equal(t, 1, snapshots[0].Entries)
	assert.Equal(t, int64(5), snapshots[2].AgeHours)

	_, err = svc.RestoreSnapshot(ctx, "partial")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	_, err = svc.RestoreSnapshot(ctx, "../escape")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestRotateSnapshots(t *testing.T) {
	ctx := context.Background()
	objects := newMemObjects()
	store := testingpkg.NewStore(t, time.Hour)
	seedStore(t, store, "GDP")

	svc := NewCacheBackupService(store, objects, "snap", zerolog.Nop())
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 4; i++ {
		svc.now = func() time.Time { return base.Add(time.Duration(i) * 24 * time.Hour) }
		m, err := svc.CreateSnapshot(ctx)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	deleted, err := svc.RotateSnapshots(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	snapshots, err := svc.ListSnapshots(ctx)
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
	assert.Equal(t, ids[3], snapshots[0].ID)
	assert.Equal(t, ids[2], snapshots[1].ID)
	for _, key := range objects.keys() {
		assert.NotContains(t, key, ids[0])
	}

	deleted, err = svc.RotateSnapshots(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "at least one snapshot is kept")
}

func TestCacheBackupJob(t *testing.T) {
	objects := newMemObjects()
	store := testingpkg.NewStore(t, time.Hour)
	seedStore(t, store, "GDP")

	job := NewCacheBackupJob(NewCacheBackupService(store, objects, "snap", zerolog.Nop()), 3)
	assert.Equal(t, "cache_backup", job.Name())
	require.NoError(t, job.Run())
	assert.Len(t, objects.keys(), 3)
}

func TestNewS3ClientRequiresBucket(t *testing.T) {
	_, err := NewS3Client(context.Background(), S3Config{})
	assert.ErrorIs(t, err, ErrNoBucket)

	client, err := NewS3Client(context.Background(), S3Config{
		Endpoint:        "http://127.0.0.1:9000",
		Bucket:          "cache",
		AccessKeyID:     "id",
		SecretAccessKey: "secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "cache", client.Bucket())
}
