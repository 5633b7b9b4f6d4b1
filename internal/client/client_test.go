package client

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreatePage(t *testing.T) {
	t.Run("sends identifier only when unprotected", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/create", r.URL.Path)

			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "my-page", body["identifier"])
			assert.NotContains(t, body, "password")

			json.NewEncoder(w).Encode(map[string]any{"success": true, "redirect": "/my-page"})
		}))
		defer srv.Close()

		resp, err := New(srv.URL).CreatePage("my-page", "", 0, "")
		require.NoError(t, err)
		assert.Equal(t, "/my-page", resp.Redirect)
	})

	t.Run("sends password and duration when protecting", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var body map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "s3cret", body["password"])
			assert.Equal(t, float64(2), body["duration"])
			assert.Equal(t, "hour", body["unit"])

			json.NewEncoder(w).Encode(map[string]any{"success": true, "redirect": "/my-page"})
		}))
		defer srv.Close()

		_, err := New(srv.URL).CreatePage("my-page", "s3cret", 2, "hour")
		require.NoError(t, err)
	})

	t.Run("surfaces server error message", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "invalid identifier"})
		}))
		defer srv.Close()

		_, err := New(srv.URL).CreatePage("bad/page", "", 0, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid identifier")
		assert.Contains(t, err.Error(), "422")
	})
}

func TestClient_ValidatePassword(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/locked/validate-password", r.URL.Path)

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "s3cret" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "wrong password"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"success": true, "session_token": "tok-123"})
	}))
	defer srv.Close()

	t.Run("returns session token", func(t *testing.T) {
		token, err := New(srv.URL).ValidatePassword("locked", "s3cret")
		require.NoError(t, err)
		assert.Equal(t, "tok-123", token)
	})

	t.Run("wrong password fails", func(t *testing.T) {
		_, err := New(srv.URL).ValidatePassword("locked", "nope")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "wrong password")
	})
}

func TestClient_Upload(t *testing.T) {
	t.Run("posts multipart form with token", func(t *testing.T) {
		dir := t.TempDir()
		path := dir + "/notes.txt"
		require.NoError(t, writeFile(path, "hello world"))

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/my-page/upload", r.URL.Path)
			assert.Equal(t, "tok-123", r.Header.Get("X-Session-Token"))

			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "2", r.FormValue("duration"))
			assert.Equal(t, "hour", r.FormValue("unit"))

			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "notes.txt", header.Filename)

			content, err := io.ReadAll(file)
			require.NoError(t, err)
			assert.Equal(t, "hello world", string(content))

			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"file": map[string]any{
					"id":            1,
					"original_name": "notes.txt",
					"size":          "11 B",
					"size_bytes":    11,
					"expires_at":    time.Now().Add(2 * time.Hour).Format(time.RFC3339),
				},
			})
		}))
		defer srv.Close()

		resp, err := New(srv.URL).Upload("my-page", "tok-123", path, 2, "hour")
		require.NoError(t, err)
		assert.Equal(t, "notes.txt", resp.File.OriginalName)
		assert.Equal(t, int64(11), resp.File.SizeBytes)
	})

	t.Run("omits token header when empty", func(t *testing.T) {
		dir := t.TempDir()
		path := dir + "/notes.txt"
		require.NoError(t, writeFile(path, "data"))

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("X-Session-Token"))
			json.NewEncoder(w).Encode(map[string]any{"success": true, "file": map[string]any{}})
		}))
		defer srv.Close()

		_, err := New(srv.URL).Upload("my-page", "", path, 1, "hour")
		require.NoError(t, err)
	})

	t.Run("missing local file fails", func(t *testing.T) {
		_, err := New("http://localhost:0").Upload("my-page", "", "/does/not/exist", 1, "hour")
		require.Error(t, err)
	})
}
