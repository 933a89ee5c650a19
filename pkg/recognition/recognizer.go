// Package recognition locates face regions in images.
// It uses dlib via go-face for HOG-based face detection.
package recognition

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/facegate/pkg/logging"
)

// MinFaceSize is the smallest accepted region edge, in pixels.
const MinFaceSize = 100

// RequiredModels are the dlib model files go-face loads from the model dir.
var RequiredModels = []string{
	"shape_predictor_5_face_landmarks.dat",
	"dlib_face_recognition_resnet_model_v1.dat",
}

// ErrModelNotLoaded is returned when detection runs without models.
var ErrModelNotLoaded = errors.New("recognition models not loaded")

// Detector finds face regions in an encoded image.
type Detector interface {
	// Detect returns face regions in detector order. No face is an empty
	// result, not an error.
	Detect(imageData []byte) ([]image.Rectangle, error)
	Close() error
}

// faceEngine is the subset of *face.Recognizer the detector uses.
type faceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// DlibDetector implements Detector using go-face.
type DlibDetector struct {
	mu      sync.Mutex
	engine  faceEngine
	minSize int
}

// NewDlibDetector loads the dlib models from modelPath.
func NewDlibDetector(modelPath string) (*DlibDetector, error) {
	logging.Component("recognition").Infof("Loading face detection models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}
	return newDetector(rec), nil
}

func newDetector(engine faceEngine) *DlibDetector {
	return &DlibDetector{engine: engine, minSize: MinFaceSize}
}

// Detect implements Detector.
func (d *DlibDetector) Detect(imageData []byte) ([]image.Rectangle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine == nil {
		return nil, ErrModelNotLoaded
	}

	faces, err := d.engine.Recognize(imageData)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	regions := make([]image.Rectangle, 0, len(faces))
	for _, f := range faces {
		r := f.Rectangle
		if r.Dx() < d.minSize || r.Dy() < d.minSize {
			continue
		}
		regions = append(regions, r)
	}

	logging.Component("recognition").Debugf("Detected %d face(s), %d above minimum size", len(faces), len(regions))
	return regions, nil
}

// Close releases the models. It is safe to call more than once.
func (d *DlibDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.engine != nil {
		d.engine.Close()
		d.engine = nil
	}
	return nil
}
