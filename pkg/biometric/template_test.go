package biometric

import (
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// smoothFace returns a deterministic image with enough structure to
// survive resizing and equalization.
func smoothFace(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := 128 + 60*math.Sin(float64(x)/15) + 60*math.Cos(float64(y)/20)
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(v), G: uint8(v * 0.9), B: uint8(v * 0.8), A: 255})
		}
	}
	return img
}

// gradient returns a diagonal ramp with a bright square, unlike smoothFace.
func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := uint8((x + 2*y) * 255 / (w + 2*h))
			if x > w/3 && x < w/2 && y > h/3 && y < h/2 {
				v = 250
			}
			img.SetNRGBA(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

func uniform(w, h int, v uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

func TestExtractTemplate_UnitNorm(t *testing.T) {
	img := smoothFace(240, 180)

	for _, mode := range []Mode{ModeEnrollment, ModeVerification} {
		t.Run(mode.String(), func(t *testing.T) {
			tmpl, err := ExtractTemplate(img, mode)
			if err != nil {
				t.Fatalf("ExtractTemplate failed: %v", err)
			}
			if len(tmpl) != Dimension {
				t.Fatalf("expected %d values, got %d", Dimension, len(tmpl))
			}
			if norm := tmpl.Norm(); math.Abs(norm-1) > 1e-4 {
				t.Errorf("expected unit norm, got %f", norm)
			}
		})
	}
}

func TestExtractTemplate_Deterministic(t *testing.T) {
	img := smoothFace(120, 120)

	a, err := ExtractTemplate(img, ModeEnrollment)
	if err != nil {
		t.Fatalf("first extraction failed: %v", err)
	}
	b, err := ExtractTemplate(img, ModeEnrollment)
	if err != nil {
		t.Fatalf("second extraction failed: %v", err)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("templates differ at %d: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestExtractTemplate_ModesAgreeOnSmoothImage(t *testing.T) {
	img := smoothFace(200, 200)

	enrolled, err := ExtractTemplate(img, ModeEnrollment)
	if err != nil {
		t.Fatalf("enrollment extraction failed: %v", err)
	}
	verified, err := ExtractTemplate(img, ModeVerification)
	if err != nil {
		t.Fatalf("verification extraction failed: %v", err)
	}

	score, ok := Match(verified, enrolled)
	if !ok || score < 0.9 {
		t.Errorf("expected blurred template to match its source, got %f (accepted=%v)", score, ok)
	}
}

func TestExtractTemplate_ZeroVariance(t *testing.T) {
	for _, mode := range []Mode{ModeEnrollment, ModeVerification} {
		_, err := ExtractTemplate(uniform(64, 64, 128), mode)
		if !errors.Is(err, ErrExtractionFailed) {
			t.Errorf("%s: expected ErrExtractionFailed, got %v", mode, err)
		}
	}
}

func TestExtractTemplate_EmptyImage(t *testing.T) {
	if _, err := ExtractTemplate(nil, ModeEnrollment); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("nil image: expected ErrExtractionFailed, got %v", err)
	}
	empty := image.NewNRGBA(image.Rect(0, 0, 0, 0))
	if _, err := ExtractTemplate(empty, ModeEnrollment); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("empty image: expected ErrExtractionFailed, got %v", err)
	}
}

func TestExtractTemplateFile(t *testing.T) {
	dir := t.TempDir()

	pngPath := filepath.Join(dir, "face.png")
	if err := imaging.Save(smoothFace(160, 160), pngPath); err != nil {
		t.Fatalf("failed to write image: %v", err)
	}
	tmpl, err := ExtractTemplateFile(pngPath, ModeEnrollment)
	if err != nil {
		t.Fatalf("ExtractTemplateFile failed: %v", err)
	}
	if len(tmpl) != Dimension {
		t.Errorf("expected %d values, got %d", Dimension, len(tmpl))
	}

	garbage := filepath.Join(dir, "garbage.jpg")
	if err := os.WriteFile(garbage, []byte("not an image"), 0600); err != nil {
		t.Fatalf("failed to write garbage: %v", err)
	}
	if _, err := ExtractTemplateFile(garbage, ModeVerification); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("garbage: expected ErrExtractionFailed, got %v", err)
	}

	if _, err := ExtractTemplateFile(filepath.Join(dir, "missing.jpg"), ModeVerification); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("missing: expected ErrExtractionFailed, got %v", err)
	}
}

func TestNormalize(t *testing.T) {
	got, err := Normalize([]float64{1, 2, 3, 4})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	want := []float64{-0.670820, -0.223607, 0.223607, 0.670820}
	for i := range want {
		if math.Abs(float64(got[i])-want[i]) > 1e-5 {
			t.Errorf("index %d: expected %f, got %f", i, want[i], got[i])
		}
	}

	if _, err := Normalize([]float64{7, 7, 7}); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("constant input: expected ErrExtractionFailed, got %v", err)
	}
	if _, err := Normalize(nil); !errors.Is(err, ErrExtractionFailed) {
		t.Errorf("empty input: expected ErrExtractionFailed, got %v", err)
	}
}

func TestEqualizeHistogram(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 2))
	for i := 0; i < 8; i++ {
		v := uint8(10)
		if i >= 4 {
			v = 200
		}
		img.Pix[i*4], img.Pix[i*4+1], img.Pix[i*4+2], img.Pix[i*4+3] = v, v, v, 255
	}

	out := equalizeHistogram(img)
	for i, v := range out.Pix {
		want := uint8(0)
		if i >= 4 {
			want = 255
		}
		if v != want {
			t.Errorf("pixel %d: expected %d, got %d", i, want, v)
		}
	}
}

func TestEqualizeHistogram_SingleLevel(t *testing.T) {
	out := equalizeHistogram(uniform(3, 3, 42))
	for i, v := range out.Pix {
		if v != 42 {
			t.Errorf("pixel %d: expected single-level image unchanged, got %d", i, v)
		}
	}
}

func BenchmarkExtractTemplate(b *testing.B) {
	img := smoothFace(320, 240)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = ExtractTemplate(img, ModeVerification)
	}
}
