// Package capture acquires face images for enrollment from an imaging
// device and for verification from uploaded bytes.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/MrCodeEU/facegate/pkg/camera"
	"github.com/MrCodeEU/facegate/pkg/logging"
	"github.com/MrCodeEU/facegate/pkg/recognition"
	"github.com/disintegration/imaging"
)

const (
	// FrameAttempts is the number of frames read per enrollment.
	FrameAttempts = 5
	// CropMargin is the padding kept around the detected face, in pixels.
	CropMargin = 20
	// DefaultMaxPixels bounds the decoded size of a verification upload.
	DefaultMaxPixels = 25_000_000
)

var (
	// ErrNoFaceDetected is returned when frames were read but none had a face.
	ErrNoFaceDetected = errors.New("no face detected")
	// ErrDeviceUnavailable is returned when the device could not be opened
	// or yielded no frame.
	ErrDeviceUnavailable = errors.New("imaging device unavailable")
	// ErrInvalidImage is returned when uploaded bytes do not decode as an image.
	ErrInvalidImage = errors.New("invalid image")
)

// Orchestrator coordinates a device and a detector. Enrollment captures
// hold the device exclusively from Open through Release.
type Orchestrator struct {
	device    camera.Device
	detector  recognition.Detector
	dir       string
	maxPixels int
	now       func() time.Time

	mu sync.Mutex
}

// NewOrchestrator creates an Orchestrator writing captures into dir.
func NewOrchestrator(device camera.Device, detector recognition.Detector, dir string) *Orchestrator {
	return &Orchestrator{device: device, detector: detector, dir: dir, maxPixels: DefaultMaxPixels, now: time.Now}
}

// SetMaxPixels sets the largest accepted upload, in pixels. Non-positive
// values keep the current limit.
func (o *Orchestrator) SetMaxPixels(n int) {
	if n > 0 {
		o.maxPixels = n
	}
}

// AcquireEnrollmentImage reads FrameAttempts frames, keeps the one with the
// most face regions and persists a crop of its first region. The device is
// always released.
func (o *Orchestrator) AcquireEnrollmentImage(ctx context.Context, identityHint string) (string, error) {
	log := logging.Component("capture")
	if o.device == nil {
		return "", ErrDeviceUnavailable
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.device.Open(ctx); err != nil {
		log.WithError(err).Warn("Failed to open imaging device")
		return "", fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	defer o.device.Release()

	var (
		best      *camera.Frame
		bestFaces []image.Rectangle
		readable  int
	)
	for i := 0; i < FrameAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		frame, err := o.device.ReadFrame(ctx)
		if err != nil {
			log.WithError(err).Debugf("Frame %d unreadable", i+1)
			continue
		}
		readable++

		regions, err := o.detector.Detect(frame.Data)
		if err != nil {
			log.WithError(err).Debugf("Detection failed on frame %d", i+1)
			continue
		}
		log.Debugf("Frame %d: %d face(s)", i+1, len(regions))

		if len(regions) > len(bestFaces) {
			best, bestFaces = frame, regions
		}
	}

	if readable == 0 {
		return "", fmt.Errorf("%w: no frame could be read", ErrDeviceUnavailable)
	}
	if best == nil {
		return "", ErrNoFaceDetected
	}

	img, err := best.ToImage()
	if err != nil {
		return "", fmt.Errorf("decode frame: %w", err)
	}
	crop := imaging.Crop(img, CropRegion(bestFaces[0], img.Bounds()))

	if err := os.MkdirAll(o.dir, 0700); err != nil {
		return "", fmt.Errorf("create capture directory: %w", err)
	}
	name := fmt.Sprintf("enroll_%s_%d.jpg", safeName(identityHint), o.now().UnixNano())
	path := filepath.Join(o.dir, name)
	if err := imaging.Save(crop, path, imaging.JPEGQuality(95)); err != nil {
		return "", fmt.Errorf("save capture: %w", err)
	}

	log.WithField("faces", len(bestFaces)).Infof("Enrollment image captured: %s", name)
	return path, nil
}

// CropRegion expands region by CropMargin on every side, clamped to bounds.
func CropRegion(region, bounds image.Rectangle) image.Rectangle {
	return region.Inset(-CropMargin).Intersect(bounds)
}

// AcquireVerificationImage validates uploaded bytes and stores them in a new
// temporary file. Callers must Discard the returned path.
func (o *Orchestrator) AcquireVerificationImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty upload", ErrInvalidImage)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(o.maxPixels) {
		return "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, cfg.Width, cfg.Height, o.maxPixels)
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}

	if err := os.MkdirAll(o.dir, 0700); err != nil {
		return "", fmt.Errorf("create capture directory: %w", err)
	}
	f, err := os.CreateTemp(o.dir, "verify_*."+format)
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(f.Name())
		return "", fmt.Errorf("close temp file: %w", err)
	}
	return f.Name(), nil
}

// Discard removes a capture file. Missing files are ignored.
func (o *Orchestrator) Discard(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logging.Component("capture").WithError(err).Warnf("Failed to remove capture %s", filepath.Base(path))
	}
}

func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		default:
			return '_'
		}
	}, s)
	if s == "" {
		return "anonymous"
	}
	return s
}
