//go:build !linux

package platform

import (
	"errors"
	"log/slog"
)

// OpenDisplay is only implemented for X11 on Linux.
func OpenDisplay(display string, logger *slog.Logger) (Backend, error) {
	return nil, errors.New("display backend is only supported on linux; use --headless")
}
