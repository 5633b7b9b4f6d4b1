package service

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"dropslot/internal/server/database"
)

// fakeRegistry is an in-memory Registry. A single mutex stands in for the
// per-share row locks, so AddFile and SweepShare stay atomic under
// concurrent callers just like the real repository.
type fakeRegistry struct {
	mu          sync.Mutex
	shares      map[int64]*database.Share
	byIdent     map[string]int64
	files       map[int64]*database.File
	nextShareID int64
	nextFileID  int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		shares:  make(map[int64]*database.Share),
		byIdent: make(map[string]int64),
		files:   make(map[int64]*database.File),
	}
}

func (r *fakeRegistry) FindOrCreateShare(_ context.Context, identifier string, passwordHash *string, durationSeconds *int, expiresAt *time.Time) (*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byIdent[identifier]; ok {
		out := *r.shares[id]
		return &out, nil
	}

	r.nextShareID++
	share := &database.Share{
		ID:              r.nextShareID,
		Identifier:      identifier,
		PasswordHash:    passwordHash,
		DurationSeconds: durationSeconds,
		ExpiresAt:       expiresAt,
		CreatedAt:       time.Now(),
	}
	r.shares[share.ID] = share
	r.byIdent[identifier] = share.ID

	out := *share
	return &out, nil
}

func (r *fakeRegistry) GetShareByIdentifier(_ context.Context, identifier string) (*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byIdent[identifier]
	if !ok {
		return nil, database.ErrShareNotFound
	}
	out := *r.shares[id]
	return &out, nil
}

func (r *fakeRegistry) GetShareByID(_ context.Context, id int64) (*database.Share, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	share, ok := r.shares[id]
	if !ok {
		return nil, database.ErrShareNotFound
	}
	out := *share
	return &out, nil
}

func (r *fakeRegistry) RemovePassword(_ context.Context, shareID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	share, ok := r.shares[shareID]
	if !ok {
		return database.ErrShareNotFound
	}
	share.PasswordHash = nil
	share.DurationSeconds = nil
	share.ExpiresAt = nil
	return nil
}

func (r *fakeRegistry) DeleteShare(_ context.Context, shareID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteShareLocked(shareID)
	return nil
}

func (r *fakeRegistry) deleteShareLocked(shareID int64) {
	share, ok := r.shares[shareID]
	if !ok {
		return
	}
	for id, f := range r.files {
		if f.ShareID == shareID {
			delete(r.files, id)
		}
	}
	delete(r.byIdent, share.Identifier)
	delete(r.shares, shareID)
}

func (r *fakeRegistry) AddFile(_ context.Context, file *database.File, maxActive int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.shares[file.ShareID]; !ok {
		return nil, database.ErrShareNotFound
	}

	swept := r.sweepExpiredFilesLocked(file.ShareID)

	active := 0
	for _, f := range r.files {
		if f.ShareID == file.ShareID {
			active++
		}
	}
	if active >= maxActive {
		return swept, database.ErrFileLimit
	}

	r.nextFileID++
	file.ID = r.nextFileID
	file.CreatedAt = time.Now()
	stored := *file
	r.files[file.ID] = &stored
	return swept, nil
}

func (r *fakeRegistry) SweepShare(_ context.Context, shareID int64) ([]string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	share, ok := r.shares[shareID]
	if !ok {
		return nil, false, nil
	}

	if share.Expired() {
		var keys []string
		for _, f := range r.files {
			if f.ShareID == shareID {
				keys = append(keys, f.StoredKey)
			}
		}
		r.deleteShareLocked(shareID)
		return keys, true, nil
	}

	keys := r.sweepExpiredFilesLocked(shareID)

	if !share.Protected() {
		active := 0
		for _, f := range r.files {
			if f.ShareID == shareID {
				active++
			}
		}
		if active == 0 {
			r.deleteShareLocked(shareID)
			return keys, true, nil
		}
	}
	return keys, false, nil
}

func (r *fakeRegistry) sweepExpiredFilesLocked(shareID int64) []string {
	var keys []string
	for id, f := range r.files {
		if f.ShareID == shareID && f.Expired() {
			keys = append(keys, f.StoredKey)
			delete(r.files, id)
		}
	}
	return keys
}

func (r *fakeRegistry) GetFile(_ context.Context, id int64) (*database.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, ok := r.files[id]
	if !ok {
		return nil, database.ErrFileNotFound
	}
	out := *file
	return &out, nil
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

func (r *fakeRegistry) ActiveFiles(_ context.Context, shareID int64) ([]*database.File, error) {
	return r.selectFiles(func(f *database.File) bool {
		return f.ShareID == shareID && !f.Expired()
	}), nil
}

func (r *fakeRegistry) ShareFiles(_ context.Context, shareID int64) ([]*database.File, error) {
	return r.selectFiles(func(f *database.File) bool {
		return f.ShareID == shareID
	}), nil
}

func (r *fakeRegistry) ExpiredFiles(_ context.Context) ([]*database.File, error) {
	return r.selectFiles(func(f *database.File) bool {
		return f.Expired()
	}), nil
}

func (r *fakeRegistry) selectFiles(keep func(*database.File) bool) []*database.File {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*database.File
	for _, f := range r.files {
		if keep(f) {
			copied := *f
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
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

func (r *fakeRegistry) GetStats(_ context.Context) (*database.Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := &database.Stats{TotalShares: int64(len(r.shares))}
	for _, s := range r.shares {
		if s.Protected() {
			stats.ProtectedShares++
		}
	}
	for _, f := range r.files {
		if !f.Expired() {
			stats.ActiveFiles++
			stats.StorageUsed += f.Size
		}
	}
	return stats, nil
}

// shareCount reports how many share rows exist, for asserting collapse.
func (r *fakeRegistry) shareCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shares)
}

// expireFile backdates a file's expiration so sweeps see it as dead.
func (r *fakeRegistry) expireFile(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[id]; ok {
		f.ExpiresAt = time.Now().Add(-time.Minute)
	}
}

// expireShare backdates a share's own expiration.
func (r *fakeRegistry) expireShare(identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byIdent[identifier]; ok {
		past := time.Now().Add(-time.Minute)
		r.shares[id].ExpiresAt = &past
	}
}

// collapsingRegistry sweeps the target share away right before the first
// AddFile, reproducing a lazy sweep on another request collapsing a
// just-created empty share.
type collapsingRegistry struct {
	*fakeRegistry
	collapsed bool
}

func (r *collapsingRegistry) AddFile(ctx context.Context, file *database.File, maxActive int) ([]string, error) {
	if !r.collapsed {
		r.collapsed = true
		if _, _, err := r.fakeRegistry.SweepShare(ctx, file.ShareID); err != nil {
			return nil, err
		}
	}
	return r.fakeRegistry.AddFile(ctx, file, maxActive)
}

// memStore is an in-memory blob store.
type memStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
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
	delete(m.blobs, key)
	return nil
}

func (m *memStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blobs)
}
