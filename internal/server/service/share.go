package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"time"

	"dropslot/internal/server/auth"
	"dropslot/internal/server/config"
	"dropslot/internal/server/database"
	"dropslot/internal/server/storage"

	"github.com/google/uuid"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound          = errors.New("share or file not found")
	ErrForbidden         = errors.New("password required")
	ErrWrongPassword     = errors.New("wrong password")
	ErrFileLimitExceeded = errors.New("active file limit reached")
	ErrFileTooLarge      = errors.New("file exceeds maximum allowed size")
	ErrInvalidIdentifier = errors.New("invalid identifier")
	ErrInvalidDuration   = errors.New("invalid duration")
	ErrInaccessible      = errors.New("page is not accessible")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,255}$`)

// Registry is the persistence surface the service needs. Implemented by
// *database.Repository.
type Registry interface {
	FindOrCreateShare(ctx context.Context, identifier string, passwordHash *string, durationSeconds *int, expiresAt *time.Time) (*database.Share, error)
	GetShareByIdentifier(ctx context.Context, identifier string) (*database.Share, error)
	GetShareByID(ctx context.Context, id int64) (*database.Share, error)
	RemovePassword(ctx context.Context, shareID int64) error
	DeleteShare(ctx context.Context, shareID int64) error
	AddFile(ctx context.Context, file *database.File, maxActive int) ([]string, error)
	SweepShare(ctx context.Context, shareID int64) ([]string, bool, error)
	GetFile(ctx context.Context, id int64) (*database.File, error)
	DeleteFile(ctx context.Context, id int64) error
	ActiveFiles(ctx context.Context, shareID int64) ([]*database.File, error)
	ShareFiles(ctx context.Context, shareID int64) ([]*database.File, error)
	ExpiredFiles(ctx context.Context) ([]*database.File, error)
	ExpiredShares(ctx context.Context) ([]*database.Share, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

// FileView is the file metadata exposed to callers.
type FileView struct {
	ID           int64     `json:"id"`
	OriginalName string    `json:"original_name"`
	Size         string    `json:"size"`
	SizeBytes    int64     `json:"size_bytes"`
	MimeType     string    `json:"mime_type"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// ShareView is what a show request sees after the lazy sweep ran.
type ShareView struct {
	Identifier       string     `json:"identifier"`
	Exists           bool       `json:"page_exists"`
	HasPassword      bool       `json:"has_password"`
	PasswordRequired bool       `json:"password_required"`
	ExpiresAt        *time.Time `json:"page_expires_at,omitempty"`
	Files            []FileView `json:"files"`
	MaxFiles         int        `json:"max_files"`
	MaxFileSize      int64      `json:"max_file_size"`
}

// CreateResult is returned after a successful page creation.
type CreateResult struct {
	Redirect string `json:"redirect"`
	Message  string `json:"message,omitempty"`
}

// UploadResult is returned after a successful upload.
type UploadResult struct {
	File    FileView `json:"file"`
	Message string   `json:"message,omitempty"`
}

// ShareService composes the registry, the blob store and the password guard
// into the operations the HTTP layer calls.
type ShareService struct {
	repo  Registry
	store storage.Store
	guard *auth.Guard
	cfg   *config.Config
}

// NewShareService creates a new share service.
func NewShareService(repo Registry, store storage.Store, guard *auth.Guard, cfg *config.Config) *ShareService {
	return &ShareService{
		repo:  repo,
		store: store,
		guard: guard,
		cfg:   cfg,
	}
}

// CreatePage prepares an identifier for use. Without a password nothing is
// persisted yet; the share row appears on the first upload. With a
// password the share is created up front, carrying its own expiration
// clamped to the maximum duration.
func (s *ShareService) CreatePage(ctx context.Context, identifier, password string, duration int, unit string) (*CreateResult, error) {
	if !identifierPattern.MatchString(identifier) {
		return nil, ErrInvalidIdentifier
	}

	accessible, err := s.isAccessible(ctx, identifier)
	if err != nil {
		return nil, err
	}
	if !accessible {
		return nil, ErrInaccessible
	}

	result := &CreateResult{Redirect: "/" + identifier}

	if password == "" {
		return result, nil
	}

	seconds, err := durationSeconds(duration, unit)
	if err != nil {
		return nil, err
	}
	clamped, limited := s.clampDuration(seconds)

	hash, err := s.guard.HashPassword(password)
	if err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(time.Duration(clamped) * time.Second)
	share, err := s.repo.FindOrCreateShare(ctx, identifier, &hash, &clamped, &expiresAt)
	if err != nil {
		return nil, err
	}

	if limited {
		result.Message = clampMessage("Page created", duration, unit, s.cfg.MaxDuration)
	}

	slog.Info("page created",
		"identifier", identifier,
		"protected", share.Protected(),
		"expires_at", share.ExpiresAt,
	)
	return result, nil
}

// isAccessible reports whether the identifier can be used. An expired
// protected share found here is swept first, which frees the identifier
// for reuse.
func (s *ShareService) isAccessible(ctx context.Context, identifier string) (bool, error) {
	share, err := s.repo.GetShareByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return true, nil
		}
		return false, err
	}

	if share.Expired() {
		if err := s.touch(ctx, share.ID); err != nil {
			return false, err
		}
	}
	return true, nil
}

// Show returns the state of an identifier's page. The lazy sweep runs
// first, so the view never contains expired files or an expired share.
func (s *ShareService) Show(ctx context.Context, identifier, token string) (*ShareView, error) {
	if !identifierPattern.MatchString(identifier) {
		return nil, ErrInvalidIdentifier
	}

	view := &ShareView{
		Identifier:  identifier,
		Files:       []FileView{},
		MaxFiles:    s.cfg.MaxFilesPerShare,
		MaxFileSize: s.cfg.MaxFileSize,
	}

	share, err := s.repo.GetShareByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return view, nil
		}
		return nil, err
	}

	deleted, err := s.touchReport(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	if deleted {
		return view, nil
	}

	view.Exists = true
	view.HasPassword = share.Protected()

	// Without a valid token only the prompt state is revealed, not the
	// page's expiry or files.
	if share.Protected() && !s.guard.VerifyToken(token, identifier) {
		view.PasswordRequired = true
		return view, nil
	}

	view.ExpiresAt = share.ExpiresAt

	files, err := s.repo.ActiveFiles(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	for _, f := range files {
		view.Files = append(view.Files, fileView(f))
	}
	return view, nil
}

// Upload stores a file under an identifier. The share row is created on
// first upload to an unknown identifier; a protected share requires a
// session token issued by ValidatePassword. The blob is written before the
// metadata row so a failed insert never leaves a row without bytes.
func (s *ShareService) Upload(ctx context.Context, identifier, token, originalName, mimeType string, size int64, data io.Reader, duration int, unit string) (*UploadResult, error) {
	if !identifierPattern.MatchString(identifier) {
		return nil, ErrInvalidIdentifier
	}
	if size > s.cfg.MaxFileSize {
		return nil, ErrFileTooLarge
	}

	seconds, err := durationSeconds(duration, unit)
	if err != nil {
		return nil, err
	}
	clamped, limited := s.clampDuration(seconds)

	share, err := s.prepareShareForUpload(ctx, identifier)
	if err != nil {
		return nil, err
	}

	if share.Protected() && !s.guard.VerifyToken(token, identifier) {
		return nil, ErrForbidden
	}

	key := uuid.NewString() + filepath.Ext(originalName)
	written, err := s.store.Put(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}

	file := &database.File{
		ShareID:         share.ID,
		OriginalName:    originalName,
		StoredKey:       key,
		Size:            written,
		MimeType:        mimeType,
		DurationSeconds: clamped,
		ExpiresAt:       time.Now().Add(time.Duration(clamped) * time.Second),
	}

	swept, err := s.repo.AddFile(ctx, file, s.cfg.MaxFilesPerShare)
	s.deleteBlobs(ctx, swept)
	if errors.Is(err, database.ErrShareNotFound) {
		// A concurrent sweep collapsed the share between prepare and
		// insert. Re-create it and try the insert once more.
		share, err = s.prepareShareForUpload(ctx, identifier)
		if err == nil && share.Protected() && !s.guard.VerifyToken(token, identifier) {
			err = ErrForbidden
		}
		if err == nil {
			file.ShareID = share.ID
			swept, err = s.repo.AddFile(ctx, file, s.cfg.MaxFilesPerShare)
			s.deleteBlobs(ctx, swept)
		}
	}
	if err != nil {
		// The blob has no metadata row; drop it again.
		if delErr := s.store.Delete(ctx, key); delErr != nil {
			slog.Error("failed to delete orphaned blob", "key", key, "error", delErr)
		}
		switch {
		case errors.Is(err, database.ErrFileLimit):
			return nil, ErrFileLimitExceeded
		case errors.Is(err, database.ErrShareNotFound):
			return nil, ErrNotFound
		}
		return nil, err
	}

	result := &UploadResult{File: fileView(file)}
	if limited {
		result.Message = clampMessage("File uploaded", duration, unit, s.cfg.MaxDuration)
	}

	slog.Info("file uploaded",
		"identifier", identifier,
		"file_id", file.ID,
		"original_name", originalName,
		"size", written,
		"expires_at", file.ExpiresAt,
	)
	return result, nil
}

// prepareShareForUpload sweeps the identifier's share and returns it,
// creating an unprotected share when none survives. The retry covers the
// window where a concurrent request collapses a just-created empty share.
func (s *ShareService) prepareShareForUpload(ctx context.Context, identifier string) (*database.Share, error) {
	for attempt := 0; attempt < 2; attempt++ {
		share, err := s.repo.GetShareByIdentifier(ctx, identifier)
		if err != nil {
			if !errors.Is(err, database.ErrShareNotFound) {
				return nil, err
			}
			share, err = s.repo.FindOrCreateShare(ctx, identifier, nil, nil, nil)
			if err != nil {
				return nil, err
			}
			return share, nil
		}

		deleted, err := s.touchReport(ctx, share.ID)
		if err != nil {
			return nil, err
		}
		if !deleted {
			return share, nil
		}
	}
	return nil, ErrNotFound
}

// ValidatePassword verifies the page password and, on success, issues a
// session token bound to the identifier.
func (s *ShareService) ValidatePassword(ctx context.Context, identifier, password string) (string, error) {
	share, err := s.getLiveShare(ctx, identifier)
	if err != nil {
		return "", err
	}

	if share.Protected() {
		if password == "" || !s.guard.CheckPassword(password, *share.PasswordHash) {
			return "", ErrWrongPassword
		}
	}

	return s.guard.IssueToken(identifier)
}

// RemovePassword transitions a protected share to unprotected, discarding
// its own expiration. From here on it survives only via active files.
func (s *ShareService) RemovePassword(ctx context.Context, identifier string) error {
	share, err := s.getLiveShare(ctx, identifier)
	if err != nil {
		return err
	}

	if err := s.repo.RemovePassword(ctx, share.ID); err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return ErrNotFound
		}
		return err
	}

	slog.Info("page password removed", "identifier", identifier)
	return nil
}

// DeletePage deletes a share and all of its files: blobs first, metadata
// rows second, share record last. Per-item failures are logged and skipped
// so one bad blob never blocks the rest of the cascade.
func (s *ShareService) DeletePage(ctx context.Context, identifier string) error {
	share, err := s.getLiveShare(ctx, identifier)
	if err != nil {
		return err
	}

	if err := s.cascadeDelete(ctx, share); err != nil {
		return err
	}

	slog.Info("page deleted", "identifier", identifier)
	return nil
}

func (s *ShareService) cascadeDelete(ctx context.Context, share *database.Share) error {
	files, err := s.repo.ShareFiles(ctx, share.ID)
	if err != nil {
		return err
	}

	var failed int
	for _, f := range files {
		if err := s.store.Delete(ctx, f.StoredKey); err != nil {
			slog.Error("failed to delete blob", "key", f.StoredKey, "error", err)
			failed++
		}
		if err := s.repo.DeleteFile(ctx, f.ID); err != nil && !errors.Is(err, database.ErrFileNotFound) {
			slog.Error("failed to delete file record", "file_id", f.ID, "error", err)
			failed++
		}
	}
	if failed > 0 {
		slog.Warn("cascade delete finished with failures", "share_id", share.ID, "failed", failed)
	}

	return s.repo.DeleteShare(ctx, share.ID)
}

// DeleteFile removes one file (blob then record) and collapses the owning
// share if it is unprotected and now empty.
func (s *ShareService) DeleteFile(ctx context.Context, fileID int64) error {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return ErrNotFound
		}
		return err
	}

	if err := s.store.Delete(ctx, file.StoredKey); err != nil {
		slog.Error("failed to delete blob", "key", file.StoredKey, "error", err)
	}

	if err := s.repo.DeleteFile(ctx, file.ID); err != nil && !errors.Is(err, database.ErrFileNotFound) {
		return err
	}

	// Owner GC: an unprotected share with no active files left goes away.
	if err := s.touch(ctx, file.ShareID); err != nil {
		return err
	}

	slog.Info("file deleted", "file_id", fileID)
	return nil
}

// Download opens the blob for a live file. An expired file behaves exactly
// like a missing one, whether or not the sweep got to its row yet.
func (s *ShareService) Download(ctx context.Context, fileID int64) (io.ReadCloser, *database.File, error) {
	file, err := s.repo.GetFile(ctx, fileID)
	if err != nil {
		if errors.Is(err, database.ErrFileNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	if file.Expired() {
		return nil, nil, ErrNotFound
	}

	rc, err := s.store.Get(ctx, file.StoredKey)
	if err != nil {
		return nil, nil, ErrNotFound
	}
	return rc, file, nil
}

// Stats returns aggregate server statistics.
func (s *ShareService) Stats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

// getLiveShare fetches a share by identifier after the lazy sweep, mapping
// both "never existed" and "just expired" to ErrNotFound.
func (s *ShareService) getLiveShare(ctx context.Context, identifier string) (*database.Share, error) {
	if !identifierPattern.MatchString(identifier) {
		return nil, ErrInvalidIdentifier
	}

	share, err := s.repo.GetShareByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, database.ErrShareNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	deleted, err := s.touchReport(ctx, share.ID)
	if err != nil {
		return nil, err
	}
	if deleted {
		return nil, ErrNotFound
	}
	return share, nil
}

// touch runs the lazy sweep for one share and disposes of swept blobs.
func (s *ShareService) touch(ctx context.Context, shareID int64) error {
	_, err := s.touchReport(ctx, shareID)
	return err
}

func (s *ShareService) touchReport(ctx context.Context, shareID int64) (shareDeleted bool, err error) {
	keys, deleted, err := s.repo.SweepShare(ctx, shareID)
	if err != nil {
		return false, err
	}
	s.deleteBlobs(ctx, keys)
	return deleted, nil
}

// deleteBlobs drops blobs best-effort; their metadata rows are already gone.
func (s *ShareService) deleteBlobs(ctx context.Context, keys []string) {
	for _, key := range keys {
		if err := s.store.Delete(ctx, key); err != nil {
			slog.Error("failed to delete swept blob", "key", key, "error", err)
		}
	}
}

func fileView(f *database.File) FileView {
	return FileView{
		ID:           f.ID,
		OriginalName: f.OriginalName,
		Size:         f.FormattedSize(),
		SizeBytes:    f.Size,
		MimeType:     f.MimeType,
		ExpiresAt:    f.ExpiresAt,
	}
}
