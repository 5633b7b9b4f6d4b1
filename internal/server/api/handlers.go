package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"dropslot/internal/server/database"
	"dropslot/internal/server/service"

	"github.com/labstack/echo/v4"
)

// dangerousExtensions are file extensions rejected at upload time.
var dangerousExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".pif": true, ".scr": true, ".vbs": true, ".js": true,
	".jar": true, ".php": true, ".asp": true, ".jsp": true,
}

// Handler contains the HTTP handlers for the share API.
type Handler struct {
	svc *service.ShareService
	db  *database.DB
}

// NewHandler creates a new handler with the given service dependency.
func NewHandler(svc *service.ShareService, db *database.DB) *Handler {
	return &Handler{svc: svc, db: db}
}

type createRequest struct {
	Identifier string `json:"identifier" form:"identifier"`
	Password   string `json:"password" form:"password"`
	Duration   int    `json:"duration" form:"duration"`
	Unit       string `json:"unit" form:"unit"`
}

// HandleCreate handles POST /create.
// Prepares an identifier, optionally protecting it with a password and an
// expiration of its own.
func (h *Handler) HandleCreate(c echo.Context) error {
	req := new(createRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false,
			"message": "malformed request body",
		})
	}

	result, err := h.svc.CreatePage(c.Request().Context(),
		strings.TrimSpace(req.Identifier), req.Password, req.Duration, req.Unit)
	if err != nil {
		return mapServiceError(c, err)
	}

	resp := echo.Map{"success": true, "redirect": result.Redirect}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleShow handles GET /:identifier.
// Runs the lazy sweep and returns the page state with its active files.
func (h *Handler) HandleShow(c echo.Context) error {
	view, err := h.svc.Show(c.Request().Context(), c.Param("identifier"), sessionToken(c))
	if err != nil {
		return mapServiceError(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

type validatePasswordRequest struct {
	Password string `json:"password" form:"password"`
}

// HandleValidatePassword handles POST /:identifier/validate-password.
// On success returns a session token the client presents on later requests.
func (h *Handler) HandleValidatePassword(c echo.Context) error {
	req := new(validatePasswordRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false,
			"message": "malformed request body",
		})
	}

	token, err := h.svc.ValidatePassword(c.Request().Context(), c.Param("identifier"), req.Password)
	if err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success":       true,
		"session_token": token,
	})
}

// HandleUpload handles POST /:identifier/upload.
// Accepts a multipart form with "file", "duration" and "unit" fields.
func (h *Handler) HandleUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false,
			"message": "file is required (use form field 'file')",
		})
	}

	if msg := validateUploadFilename(fileHeader.Filename); msg != "" {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false,
			"message": msg,
		})
	}

	duration, err := strconv.Atoi(c.FormValue("duration"))
	if err != nil {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false,
			"message": "duration must be an integer",
		})
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"success": false,
			"message": "failed to read uploaded file",
		})
	}
	defer src.Close()

	mimeType := fileHeader.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	result, err := h.svc.Upload(
		c.Request().Context(),
		c.Param("identifier"),
		sessionToken(c),
		fileHeader.Filename,
		mimeType,
		fileHeader.Size,
		src,
		duration,
		c.FormValue("unit"),
	)
	if err != nil {
		return mapServiceError(c, err)
	}

	resp := echo.Map{"success": true, "file": result.File}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleDeleteFile handles DELETE /file/:id.
func (h *Handler) HandleDeleteFile(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{
			"success": false,
			"message": "file not found",
		})
	}

	if err := h.svc.DeleteFile(c.Request().Context(), id); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "file removed successfully",
	})
}

// HandleDownload handles GET /download/:id.
// Streams the blob as an attachment. An expired file is a 404 whether or
// not its metadata row was swept yet.
func (h *Handler) HandleDownload(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusNotFound, echo.Map{
			"success": false,
			"message": "file not found",
		})
	}

	rc, file, err := h.svc.Download(c.Request().Context(), id)
	if err != nil {
		return mapServiceError(c, err)
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, file.OriginalName))
	return c.Stream(http.StatusOK, file.MimeType, rc)
}

// HandleRemovePassword handles DELETE /:identifier/password.
func (h *Handler) HandleRemovePassword(c echo.Context) error {
	if err := h.svc.RemovePassword(c.Request().Context(), c.Param("identifier")); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "password removed, the page is now public",
	})
}

// HandleDeletePage handles DELETE /:identifier.
func (h *Handler) HandleDeletePage(c echo.Context) error {
	if err := h.svc.DeletePage(c.Request().Context(), c.Param("identifier")); err != nil {
		return mapServiceError(c, err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"success": true,
		"message": "page deleted successfully",
	})
}

// HandleHealth handles GET /health.
func (h *Handler) HandleHealth(c echo.Context) error {
	status := "healthy"
	dbStatus := "connected"

	if err := h.db.HealthCheck(c.Request().Context()); err != nil {
		status = "degraded"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	return c.JSON(http.StatusOK, echo.Map{
		"status":   status,
		"database": dbStatus,
	})
}

// HandleStats handles GET /api/stats.
func (h *Handler) HandleStats(c echo.Context) error {
	stats, err := h.svc.Stats(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"success": false,
			"message": "failed to retrieve stats",
		})
	}

	return c.JSON(http.StatusOK, echo.Map{
		"total_shares":       stats.TotalShares,
		"protected_shares":   stats.ProtectedShares,
		"active_files":       stats.ActiveFiles,
		"storage_used_bytes": stats.StorageUsed,
		"storage_used_human": database.FormatBytes(stats.StorageUsed),
	})
}

// validateUploadFilename rejects dangerous extensions and path-traversing
// names before they reach the core. Returns an empty string when the name
// is fine.
func validateUploadFilename(name string) string {
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "file name contains disallowed characters"
	}
	if dangerousExtensions[strings.ToLower(filepath.Ext(name))] {
		return "file type is not allowed for security reasons"
	}
	return ""
}

// mapServiceError translates service-layer errors into HTTP responses.
func mapServiceError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{
			"success": false, "message": "page or file not found",
		})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{
			"success": false, "message": "access denied, this page is password protected",
		})
	case errors.Is(err, service.ErrWrongPassword):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false, "message": "wrong password",
		})
	case errors.Is(err, service.ErrFileLimitExceeded):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false, "message": "maximum of 2 files reached",
		})
	case errors.Is(err, service.ErrFileTooLarge):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false, "message": "file exceeds the maximum allowed size",
		})
	case errors.Is(err, service.ErrInvalidIdentifier):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false, "message": "identifier may only contain letters, digits, '-' and '_'",
		})
	case errors.Is(err, service.ErrInvalidDuration):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false, "message": "duration must be at least 1 second, minute or hour",
		})
	case errors.Is(err, service.ErrInaccessible):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"success": false, "message": "this page cannot be accessed",
		})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{
			"success": false, "message": "internal server error",
		})
	}
}
