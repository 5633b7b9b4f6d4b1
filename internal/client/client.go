package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Client talks to a dropslot server.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 10 * time.Minute},
	}
}

// CreatePage prepares an identifier, optionally protected with a password.
func (c *Client) CreatePage(identifier, password string, duration int, unit string) (*CreateResponse, error) {
	body := map[string]any{"identifier": identifier}
	if password != "" {
		body["password"] = password
		body["duration"] = duration
		body["unit"] = unit
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Post(c.baseURL+"/create", "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	defer resp.Body.Close()

	out := &CreateResponse{}
	if err := decode(resp, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ValidatePassword exchanges the page password for a session token.
func (c *Client) ValidatePassword(identifier, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{"password": password})
	if err != nil {
		return "", err
	}

	resp, err := c.http.Post(
		fmt.Sprintf("%s/%s/validate-password", c.baseURL, identifier),
		"application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("validate-password request failed: %w", err)
	}
	defer resp.Body.Close()

	out := &ValidatePasswordResponse{}
	if err := decode(resp, out); err != nil {
		return "", err
	}
	return out.SessionToken, nil
}

// Upload sends the file at path to the identifier's page.
func (c *Client) Upload(identifier, token, path string, duration int, unit string) (*UploadResponse, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)

	part, err := form.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	form.WriteField("duration", strconv.Itoa(duration))
	form.WriteField("unit", unit)
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequest(http.MethodPost,
		fmt.Sprintf("%s/%s/upload", c.baseURL, identifier), &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	if token != "" {
		req.Header.Set("X-Session-Token", token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()

	out := &UploadResponse{}
	if err := decode(resp, out); err != nil {
		return nil, err
	}
	return out, nil
}

// decode unmarshals a 2xx response into out, or turns an error response
// into a Go error carrying the server's message.
func decode(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		errResp := &errorResponse{}
		if err := json.Unmarshal(data, errResp); err == nil && errResp.Message != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
