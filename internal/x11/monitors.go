package x11

import (
	"fmt"

	"github.com/BurntSushi/xgb/randr"
)

// Monitor represents a physical display
type Monitor struct {
	ID     int
	Name   string
	X      int
	Y      int
	Width  int
	Height int
	// RefreshRate in Hz, 0 when the mode timings are unknown.
	RefreshRate float64
	Primary     bool
}

// GetMonitors retrieves all active monitors using XRandR
func (c *Connection) GetMonitors() ([]Monitor, error) {
	conn := c.Conn()

	// Get screen resources
	resources, err := randr.GetScreenResources(conn, c.Root).Reply()
	if err != nil {
		return nil, fmt.Errorf("failed to get screen resources: %w", err)
	}

	modes := make(map[randr.Mode]randr.ModeInfo, len(resources.Modes))
	for _, m := range resources.Modes {
		modes[randr.Mode(m.Id)] = m
	}

	var primary randr.Output
	if reply, err := randr.GetOutputPrimary(conn, c.Root).Reply(); err == nil {
		primary = reply.Output
	}

	var monitors []Monitor

	// Query each CRTC for active monitors
	for i, crtc := range resources.Crtcs {
		crtcInfo, err := randr.GetCrtcInfo(conn, crtc, resources.ConfigTimestamp).Reply()
		if err != nil {
			continue
		}

		// Skip disabled CRTCs
		if crtcInfo.Width == 0 || crtcInfo.Height == 0 || len(crtcInfo.Outputs) == 0 {
			continue
		}

		// Get output name
		outputName := fmt.Sprintf("Monitor%d", i)
		outputInfo, err := randr.GetOutputInfo(conn, crtcInfo.Outputs[0], resources.ConfigTimestamp).Reply()
		if err == nil {
			outputName = string(outputInfo.Name)
		}

		isPrimary := false
		for _, o := range crtcInfo.Outputs {
			if o == primary {
				isPrimary = true
			}
		}

		monitors = append(monitors, Monitor{
			ID:          i,
			Name:        outputName,
			X:           int(crtcInfo.X),
			Y:           int(crtcInfo.Y),
			Width:       int(crtcInfo.Width),
			Height:      int(crtcInfo.Height),
			RefreshRate: modeRefreshRate(modes[crtcInfo.Mode]),
			Primary:     isPrimary,
		})
	}

	return monitors, nil
}

// PrimaryRefreshRate returns the refresh rate of the primary monitor, or
// of the first one with known timings.
func (c *Connection) PrimaryRefreshRate() (float64, error) {
	monitors, err := c.GetMonitors()
	if err != nil {
		return 0, err
	}
	rate := 0.0
	for _, m := range monitors {
		if m.RefreshRate <= 0 {
			continue
		}
		if m.Primary {
			return m.RefreshRate, nil
		}
		if rate == 0 {
			rate = m.RefreshRate
		}
	}
	if rate == 0 {
		return 0, fmt.Errorf("no monitor reports mode timings")
	}
	return rate, nil
}

func modeRefreshRate(m randr.ModeInfo) float64 {
	if m.Htotal == 0 || m.Vtotal == 0 {
		return 0
	}
	vtotal := float64(m.Vtotal)
	if m.ModeFlags&randr.ModeFlagDoubleScan != 0 {
		vtotal *= 2
	}
	if m.ModeFlags&randr.ModeFlagInterlace != 0 {
		vtotal /= 2
	}
	return float64(m.DotClock) / (float64(m.Htotal) * vtotal)
}
