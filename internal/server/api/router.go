package api

import (
	"dropslot/internal/server/config"
	"dropslot/internal/server/ratelimit"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// SetupRouter creates and configures the echo router with all routes and middleware.
func SetupRouter(handler *Handler, limiter *ratelimit.Limiter, cfg *config.Config) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Session-Token"},
	}))
	e.Use(RequestLogger())

	// Health & stats
	e.GET("/health", handler.HandleHealth)
	e.GET("/api/stats", handler.HandleStats)

	// Pages
	e.POST("/create", handler.HandleCreate)
	e.GET("/:identifier", handler.HandleShow)
	e.POST("/:identifier/validate-password", handler.HandleValidatePassword)
	e.DELETE("/:identifier/password", handler.HandleRemovePassword)
	e.DELETE("/:identifier", handler.HandleDeletePage)

	// Files
	e.POST("/:identifier/upload", handler.HandleUpload,
		UploadRateLimit(limiter, cfg.RateLimitIP, cfg.RateLimitIdentifier))
	e.DELETE("/file/:id", handler.HandleDeleteFile)
	e.GET("/download/:id", handler.HandleDownload)

	return e
}
