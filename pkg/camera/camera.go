// Package camera provides frame capture from V4L2 video devices.
package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/disintegration/imaging"
)

// Capture backends, tried in the configured order.
const (
	BackendFFmpegMJPEG = "ffmpeg-mjpeg"
	BackendFFmpeg      = "ffmpeg"
	BackendV4L2Ctl     = "v4l2-ctl"
)

// DefaultBackends is the backend order used when none is configured.
var DefaultBackends = []string{BackendFFmpegMJPEG, BackendFFmpeg, BackendV4L2Ctl}

// captureTimeout bounds a single frame grab.
const captureTimeout = 10 * time.Second

var (
	// ErrDeviceUnavailable is returned when no backend can read a frame.
	ErrDeviceUnavailable = errors.New("camera device unavailable")
	// ErrCameraNotOpen is returned when reading from a camera that is not open.
	ErrCameraNotOpen = errors.New("camera not open")
	// ErrNoFrame is returned when a backend ran but produced no usable frame.
	ErrNoFrame = errors.New("failed to capture frame")
)

// execCommand is a seam for tests.
var execCommand = exec.CommandContext

// Frame represents a single camera frame.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Format    string // "JPEG"
	Timestamp time.Time
}

// ToImage decodes the frame.
func (f *Frame) ToImage() (image.Image, error) {
	return imaging.Decode(bytes.NewReader(f.Data))
}

// DeviceInfo contains information about a camera device.
type DeviceInfo struct {
	Path   string
	Name   string
	Driver string
}

// Device is an imaging device that yields still frames.
type Device interface {
	Open(ctx context.Context) error
	ReadFrame(ctx context.Context) (*Frame, error)
	Release()
}

// V4L2Camera grabs single JPEG frames by shelling out to ffmpeg or v4l2-ctl.
// Its methods are safe for concurrent use; frame grabs are serialized.
type V4L2Camera struct {
	device   string
	width    int
	height   int
	backends []string

	mu      sync.Mutex
	active  string
	isOpen  bool
	workDir string
	pending *Frame
}

// NewV4L2Camera creates a camera for device. An empty backend list selects
// DefaultBackends.
func NewV4L2Camera(device string, width, height int, backends []string) *V4L2Camera {
	if width <= 0 || height <= 0 {
		width, height = 640, 480
	}
	if len(backends) == 0 {
		backends = DefaultBackends
	}
	return &V4L2Camera{device: device, width: width, height: height, backends: backends}
}

// Open probes the backends in order and keeps the first that yields a frame.
func (c *V4L2Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isOpen {
		return nil
	}
	log := logging.Component("camera")

	dir, err := os.MkdirTemp("", "facegate-camera-")
	if err != nil {
		return fmt.Errorf("create capture dir: %w", err)
	}
	c.workDir = dir

	for _, backend := range c.backends {
		frame, err := c.capture(ctx, backend)
		if err != nil {
			log.WithError(err).WithField("backend", backend).Debug("Capture backend failed")
			continue
		}
		c.active = backend
		c.isOpen = true
		c.pending = frame
		log.WithField("backend", backend).Infof("Opened %s", c.device)
		return nil
	}

	_ = os.RemoveAll(dir)
	c.workDir = ""
	return fmt.Errorf("%w: %s", ErrDeviceUnavailable, c.device)
}

// ReadFrame returns the next frame from the active backend.
func (c *V4L2Camera) ReadFrame(ctx context.Context) (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isOpen {
		return nil, ErrCameraNotOpen
	}
	if c.pending != nil {
		f := c.pending
		c.pending = nil
		return f, nil
	}
	return c.capture(ctx, c.active)
}

// Release closes the camera. It is safe to call more than once.
func (c *V4L2Camera) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.isOpen = false
	c.pending = nil
	c.active = ""
	if c.workDir != "" {
		_ = os.RemoveAll(c.workDir)
		c.workDir = ""
	}
}

// IsOpen reports whether the camera is open.
func (c *V4L2Camera) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isOpen
}

// Backend returns the active backend, empty when closed.
func (c *V4L2Camera) Backend() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *V4L2Camera) capture(ctx context.Context, backend string) (*Frame, error) {
	ctx, cancel := context.WithTimeout(ctx, captureTimeout)
	defer cancel()

	out := filepath.Join(c.workDir, "frame.jpg")
	_ = os.Remove(out)

	var cmd *exec.Cmd
	size := fmt.Sprintf("%dx%d", c.width, c.height)
	switch backend {
	case BackendFFmpegMJPEG:
		cmd = execCommand(ctx, "ffmpeg", "-y", "-loglevel", "error",
			"-f", "v4l2", "-input_format", "mjpeg", "-video_size", size,
			"-i", c.device, "-frames:v", "1", out)
	case BackendFFmpeg:
		cmd = execCommand(ctx, "ffmpeg", "-y", "-loglevel", "error",
			"-f", "v4l2", "-video_size", size,
			"-i", c.device, "-frames:v", "1", out)
	case BackendV4L2Ctl:
		cmd = execCommand(ctx, "v4l2-ctl", "--device="+c.device,
			fmt.Sprintf("--set-fmt-video=width=%d,height=%d,pixelformat=MJPG", c.width, c.height),
			"--stream-mmap", "--stream-count=1", "--stream-to="+out)
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}

	if output, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", backend, err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}
	if len(data) < 2 || data[0] != 0xFF || data[1] != 0xD8 {
		return nil, fmt.Errorf("%w: not a JPEG", ErrNoFrame)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFrame, err)
	}

	return &Frame{
		Data:      data,
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    "JPEG",
		Timestamp: time.Now(),
	}, nil
}

// ListCameras enumerates /dev/video* devices.
func ListCameras(ctx context.Context) ([]DeviceInfo, error) {
	paths, err := filepath.Glob("/dev/video*")
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceInfo, 0, len(paths))
	for _, p := range paths {
		devices = append(devices, getDeviceInfo(ctx, p))
	}
	return devices, nil
}

func getDeviceInfo(ctx context.Context, device string) DeviceInfo {
	info := DeviceInfo{Path: device, Name: filepath.Base(device)}

	output, err := execCommand(ctx, "v4l2-ctl", "--device="+device, "--info").Output()
	if err != nil {
		return info
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		switch strings.TrimSpace(key) {
		case "Driver name":
			info.Driver = strings.TrimSpace(value)
		case "Card type":
			info.Name = strings.TrimSpace(value)
		}
	}
	return info
}
