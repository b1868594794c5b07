package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/centerstage/internal/utils"
)

// DeviceInfo describes one usable camera.
type DeviceInfo struct {
	Index  int    `json:"index"`
	Path   string `json:"path"`
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Enumerator scans V4L2 device nodes.
type Enumerator struct {
	DevDir string // usually /dev
	SysDir string // usually /sys/class/video4linux
	Probe  func(ctx context.Context, path string) (int, int, error)
}

func DefaultEnumerator() Enumerator {
	return Enumerator{
		DevDir: "/dev",
		SysDir: "/sys/class/video4linux",
		Probe: func(ctx context.Context, path string) (int, int, error) {
			return utils.GetVideoDimensions(ctx, "v4l2", path)
		},
	}
}

// Enumerate probes indices 0..max-1 and stops at the first index with no
// device node. Nodes that exist but cannot be probed (metadata nodes, busy
// devices) are skipped.
func (e Enumerator) Enumerate(ctx context.Context, max int) []DeviceInfo {
	var out []DeviceInfo
	for i := 0; i < max; i++ {
		path := filepath.Join(e.DevDir, fmt.Sprintf("video%d", i))
		if _, err := os.Stat(path); err != nil {
			break
		}
		w, h, err := e.Probe(ctx, path)
		if err != nil {
			continue
		}
		out = append(out, DeviceInfo{Index: i, Path: path, Name: e.name(i), Width: w, Height: h})
	}
	return out
}

func (e Enumerator) name(i int) string {
	b, err := os.ReadFile(filepath.Join(e.SysDir, fmt.Sprintf("video%d", i), "name"))
	if err != nil {
		return fmt.Sprintf("Camera %d", i)
	}
	return strings.TrimSpace(string(b))
}

// DevicePath maps a camera index to its node.
func DevicePath(index int) string {
	return fmt.Sprintf("/dev/video%d", index)
}
