package client

import "time"

// CreateResponse is the server's answer to POST /create.
type CreateResponse struct {
	Success  bool   `json:"success"`
	Redirect string `json:"redirect"`
	Message  string `json:"message"`
}

// ValidatePasswordResponse is the server's answer to
// POST /{identifier}/validate-password.
type ValidatePasswordResponse struct {
	Success      bool   `json:"success"`
	SessionToken string `json:"session_token"`
	Message      string `json:"message"`
}

// FileInfo describes one uploaded file.
type FileInfo struct {
	ID           int64     `json:"id"`
	OriginalName string    `json:"original_name"`
	Size         string    `json:"size"`
	SizeBytes    int64     `json:"size_bytes"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// UploadResponse is the server's answer to POST /{identifier}/upload.
type UploadResponse struct {
	Success bool     `json:"success"`
	File    FileInfo `json:"file"`
	Message string   `json:"message"`
}

// errorResponse is the shape every failed mutation comes back in.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
