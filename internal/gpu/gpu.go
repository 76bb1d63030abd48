// Package gpu detects host GPUs available for passthrough, adapted from
// original_source's detect_gpus: walk /dev/dri render nodes, classify each
// as nvidia (driver name match) or dri3, and expose the result as
// AVAILABLE_GPUS for LaunchEngine's selection validation (§4.K).
package gpu

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/streamspace/sealskin/internal/logger"
	"github.com/streamspace/sealskin/internal/types"
)

// Info is one detected host GPU, keyed by device path for client selection.
type Info struct {
	Device string
	Driver string
	GPU    types.GPU
}

// Detect scans /dev/dri for render nodes and classifies each by its driver
// symlink. Detection failures are logged and yield an empty list, never an
// error — GPU support is best-effort (original_source api.py: "GPU
// detection command failed... No GPUs will be available").
func Detect() []Info {
	const drmRoot = "/dev/dri"
	entries, err := os.ReadDir(drmRoot)
	if err != nil {
		logger.Broker().Info().Err(err).Msg("no /dev/dri present, no GPUs available")
		return nil
	}

	var nvidiaIdx int
	var out []Info
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), "renderD") {
			continue
		}
		devicePath := filepath.Join(drmRoot, e.Name())
		driver := driverFor(e.Name())

		info := Info{Device: devicePath, Driver: driver}
		if strings.Contains(strings.ToLower(driver), "nvidia") {
			info.GPU = types.GPU{Kind: types.GPUNvidia, Index: nvidiaIdx}
			nvidiaIdx++
		} else {
			info.GPU = types.GPU{Kind: types.GPUDri3, Device: devicePath}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Device < out[j].Device })
	if len(out) > 0 {
		logger.Broker().Info().Int("count", len(out)).Msg("detected GPUs")
	}
	return out
}

// driverFor reads the kernel driver name backing a DRM render node, via the
// sysfs device/driver symlink. Returns "" if it cannot be determined.
func driverFor(renderNode string) string {
	link := filepath.Join("/sys/class/drm", renderNode, "device", "driver")
	target, err := os.Readlink(link)
	if err != nil {
		return ""
	}
	return filepath.Base(target)
}

// Catalog is the in-memory, detected-once-at-startup AVAILABLE_GPUS table.
type Catalog struct {
	gpus []Info
}

// NewCatalog runs Detect and wraps the result.
func NewCatalog() *Catalog {
	return &Catalog{gpus: Detect()}
}

// Lookup resolves a client-selected device path against AVAILABLE_GPUS.
func (c *Catalog) Lookup(device string) (Info, bool) {
	for _, g := range c.gpus {
		if g.Device == device {
			return g, true
		}
	}
	return Info{}, false
}

// All returns every detected GPU.
func (c *Catalog) All() []Info {
	return c.gpus
}
