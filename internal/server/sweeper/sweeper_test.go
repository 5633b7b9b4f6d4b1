package sweeper

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"dropslot/internal/server/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	mu     sync.Mutex
	shares map[int64]*database.Share
	files  map[int64]*database.File
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		shares: make(map[int64]*database.Share),
		files:  make(map[int64]*database.File),
	}
}

func (r *fakeRegistry) ExpiredFiles(_ context.Context) ([]*database.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*database.File
	for _, f := range r.files {
		if f.Expired() {
			copied := *f
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRegistry) ExpiredShares(_ context.Context) ([]*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*database.Share
	for _, s := range r.shares {
		if s.Expired() {
			copied := *s
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRegistry) ShareFiles(_ context.Context, shareID int64) ([]*database.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*database.File
	for _, f := range r.files {
		if f.ShareID == shareID {
			copied := *f
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *fakeRegistry) DeleteFile(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[id]; !ok {
		return database.ErrFileNotFound
	}
	delete(r.files, id)
	return nil
}

func (r *fakeRegistry) DeleteShare(_ context.Context, shareID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shares, shareID)
	return nil
}

func (r *fakeRegistry) addShare(id int64, identifier string, expiresAt *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shares[id] = &database.Share{ID: id, Identifier: identifier, ExpiresAt: expiresAt}
}

func (r *fakeRegistry) addFile(id, shareID int64, key string, expiresAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files[id] = &database.File{ID: id, ShareID: shareID, StoredKey: key, ExpiresAt: expiresAt}
}

func (r *fakeRegistry) counts() (shares, files int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shares), len(r.files)
}

// memStore is an in-memory blob store whose deletes can be made to fail.
type memStore struct {
	mu         sync.Mutex
	blobs      map[string][]byte
	failDelete map[string]bool
}

func newMemStore() *memStore {
	return &memStore{
		blobs:      make(map[string][]byte),
		failDelete: make(map[string]bool),
	}
}

func (m *memStore) Put(_ context.Context, key string, data io.Reader) (int64, error) {
	buf, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = buf
	return int64(len(buf)), nil
}

func (m *memStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf, ok := m.blobs[key]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete[key] {
		return errors.New("delete failed")
	}
	delete(m.blobs, key)
	return nil
}

func (m *memStore) put(key, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = []byte(content)
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}

func TestSweeper_Run(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Hour)

	t.Run("clean store is a no-op", func(t *testing.T) {
		repo := newFakeRegistry()
		store := newMemStore()
		repo.addShare(1, "live-page", nil)
		repo.addFile(1, 1, "live.txt", future)
		store.put("live.txt", "data")

		report := New(repo, store, time.Hour).Run(ctx)
		require.NotNil(t, report)
		assert.Equal(t, 0, report.FilesRemoved)
		assert.Equal(t, 0, report.SharesRemoved)
		assert.Equal(t, 0, report.Failures)

		shares, files := repo.counts()
		assert.Equal(t, 1, shares)
		assert.Equal(t, 1, files)
		assert.Equal(t, 1, store.len())
	})

	t.Run("removes expired files and their blobs", func(t *testing.T) {
		repo := newFakeRegistry()
		store := newMemStore()
		repo.addShare(1, "my-page", nil)
		repo.addFile(1, 1, "dead.txt", past)
		repo.addFile(2, 1, "live.txt", future)
		store.put("dead.txt", "data")
		store.put("live.txt", "data")

		report := New(repo, store, time.Hour).Run(ctx)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.FilesRemoved)
		assert.Equal(t, 0, report.Failures)

		_, files := repo.counts()
		assert.Equal(t, 1, files)
		ok, _ := store.Exists(ctx, "dead.txt")
		assert.False(t, ok)
		ok, _ = store.Exists(ctx, "live.txt")
		assert.True(t, ok)
	})

	t.Run("expired share goes with all its files", func(t *testing.T) {
		repo := newFakeRegistry()
		store := newMemStore()
		repo.addShare(1, "dead-page", &past)
		repo.addFile(1, 1, "a.txt", future)
		repo.addFile(2, 1, "b.txt", future)
		store.put("a.txt", "data")
		store.put("b.txt", "data")

		report := New(repo, store, time.Hour).Run(ctx)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.SharesRemoved)

		shares, files := repo.counts()
		assert.Equal(t, 0, shares)
		assert.Equal(t, 0, files)
		assert.Equal(t, 0, store.len())
	})

	t.Run("blob failure keeps the row for the next cycle", func(t *testing.T) {
		repo := newFakeRegistry()
		store := newMemStore()
		repo.addShare(1, "my-page", nil)
		repo.addFile(1, 1, "stuck.txt", past)
		store.put("stuck.txt", "data")
		store.failDelete["stuck.txt"] = true

		sw := New(repo, store, time.Hour)
		report := sw.Run(ctx)
		require.NotNil(t, report)
		assert.Equal(t, 0, report.FilesRemoved)
		assert.Equal(t, 1, report.Failures)

		_, files := repo.counts()
		assert.Equal(t, 1, files)

		// Once the store recovers, the next cycle finishes the job.
		store.failDelete["stuck.txt"] = false
		report = sw.Run(ctx)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.FilesRemoved)
		_, files = repo.counts()
		assert.Equal(t, 0, files)
	})

	t.Run("runs are idempotent", func(t *testing.T) {
		repo := newFakeRegistry()
		store := newMemStore()
		repo.addShare(1, "my-page", nil)
		repo.addFile(1, 1, "dead.txt", past)
		store.put("dead.txt", "data")

		sw := New(repo, store, time.Hour)
		report := sw.Run(ctx)
		require.NotNil(t, report)
		assert.Equal(t, 1, report.FilesRemoved)

		report = sw.Run(ctx)
		require.NotNil(t, report)
		assert.Equal(t, 0, report.FilesRemoved)
		assert.Equal(t, 0, report.Failures)
	})
}
