package api

import (
	"errors"
	"io/fs"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"

	"github.com/shelfgrab/shelfgrab/internal/logger"
)

// LogsProvider exposes the process logger's buffer and file.
type LogsProvider interface {
	GetRecentLogs() []logger.LogEntry
	GetLogFilePath() string
}

// recentLogs serves GET /api/v1/logs, optionally filtered by ?level.
func (s *Server) recentLogs(c echo.Context) error {
	entries := s.logs.GetRecentLogs()
	level := c.QueryParam("level")

	out := make([]logger.LogEntry, 0, len(entries))
	for _, e := range entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return c.JSON(http.StatusOK, out)
}

// downloadLog serves the active log file as an attachment.
func (s *Server) downloadLog(c echo.Context) error {
	path := s.logs.GetLogFilePath()
	if path == "" {
		return echo.NewHTTPError(http.StatusNotFound, "file logging is disabled")
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return echo.NewHTTPError(http.StatusNotFound, "log file not found")
	} else if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Attachment(path, logger.FileName)
}
