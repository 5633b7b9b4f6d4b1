package database

import (
	"fmt"
	"time"
)

// Share is a named container for uploaded files, addressed by a
// user-chosen identifier. A share with a password hash also carries its
// own expiration; an unprotected share lives only as long as it owns at
// least one active file.
type Share struct {
	ID              int64
	Identifier      string
	PasswordHash    *string // nil when no password set
	DurationSeconds *int
	ExpiresAt       *time.Time
	CreatedAt       time.Time
}

// Protected reports whether the share is password-protected.
func (s *Share) Protected() bool {
	return s.PasswordHash != nil
}

// Expired reports whether the share's own lifetime has passed.
// Unprotected shares carry no lifetime and never expire on their own.
func (s *Share) Expired() bool {
	return s.ExpiresAt != nil && !time.Now().Before(*s.ExpiresAt)
}

// File is one uploaded object owned by exactly one share.
type File struct {
	ID              int64
	ShareID         int64
	OriginalName    string
	StoredKey       string // blob store key, globally unique, never reused
	Size            int64
	MimeType        string
	DurationSeconds int
	ExpiresAt       time.Time
	CreatedAt       time.Time
}

// Expired reports whether the file's expiration time has passed.
func (f *File) Expired() bool {
	return !time.Now().Before(f.ExpiresAt)
}

// FormattedSize returns the file size as a human-readable string.
func (f *File) FormattedSize() string {
	return FormatBytes(f.Size)
}

// Stats holds aggregate server statistics.
type Stats struct {
	TotalShares     int64
	ProtectedShares int64
	ActiveFiles     int64
	StorageUsed     int64
}

// FormatBytes formats a byte count into a human-readable string.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
