// Package biometric turns face images into fixed-size normalized templates
// and scores templates against each other.
//
// A template is the equalized 100x100 grayscale crop flattened to 10000
// values, z-scored and scaled to unit L2 norm. Similarity is cosine.
package biometric

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
)

const (
	// TemplateSize is the side length of the resized face crop.
	TemplateSize = 100
	// Dimension is the number of values in a template.
	Dimension = TemplateSize * TemplateSize
	// Epsilon guards the z-score and L2 divisions.
	Epsilon = 1e-9
)

// Template is a unit-norm feature vector of length Dimension.
type Template []float32

// Mode selects the preprocessing variant.
type Mode int

const (
	// ModeEnrollment skips smoothing.
	ModeEnrollment Mode = iota
	// ModeVerification applies a 3x3 Gaussian blur after equalization to
	// damp noise in uploaded images.
	ModeVerification
)

func (m Mode) String() string {
	if m == ModeVerification {
		return "verification"
	}
	return "enrollment"
}

// ErrExtractionFailed is returned when an image cannot be turned into a template.
var ErrExtractionFailed = errors.New("template extraction failed")

var gaussianKernel = [9]float64{
	1, 2, 1,
	2, 4, 2,
	1, 2, 1,
}

// ExtractTemplateFile decodes the image at path and extracts a template.
func ExtractTemplateFile(path string, mode Mode) (Template, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrExtractionFailed, path, err)
	}
	return ExtractTemplate(img, mode)
}

// ExtractTemplate runs the preprocessing pipeline on img.
func ExtractTemplate(img image.Image, mode Mode) (tmpl Template, err error) {
	if img == nil || img.Bounds().Empty() {
		return nil, fmt.Errorf("%w: empty image", ErrExtractionFailed)
	}

	defer func() {
		if r := recover(); r != nil {
			tmpl = nil
			err = fmt.Errorf("%w: %v", ErrExtractionFailed, r)
		}
	}()

	gray := imaging.Grayscale(img)
	small := imaging.Resize(gray, TemplateSize, TemplateSize, imaging.Linear)
	var src image.Image = equalizeHistogram(small)
	if mode == ModeVerification {
		src = imaging.Convolve3x3(src, gaussianKernel, &imaging.ConvolveOptions{Normalize: true})
	}

	return Normalize(flatten(src))
}

// Normalize z-scores pixels and scales them to unit L2 norm. Inputs with
// zero variance carry no information and are rejected.
func Normalize(pixels []float64) (Template, error) {
	n := len(pixels)
	if n == 0 {
		return nil, fmt.Errorf("%w: no pixels", ErrExtractionFailed)
	}

	var sum float64
	for _, p := range pixels {
		sum += p
	}
	mean := sum / float64(n)

	var sq float64
	for _, p := range pixels {
		d := p - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(n))
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return nil, fmt.Errorf("%w: zero variance image", ErrExtractionFailed)
	}

	z := make([]float64, n)
	var norm float64
	for i, p := range pixels {
		z[i] = (p - mean) / (std + Epsilon)
		norm += z[i] * z[i]
	}
	norm = math.Sqrt(norm)

	out := make(Template, n)
	for i, v := range z {
		f := v / (norm + Epsilon)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("%w: non-finite value at %d", ErrExtractionFailed, i)
		}
		out[i] = float32(f)
	}
	return out, nil
}

// Norm returns the L2 norm of t.
func (t Template) Norm() float64 {
	var s float64
	for _, v := range t {
		s += float64(v) * float64(v)
	}
	return math.Sqrt(s)
}

// equalizeHistogram spreads the intensity distribution of a grayscale
// NRGBA image over the full 0..255 range.
func equalizeHistogram(img *image.NRGBA) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	total := w * h

	values := make([]uint8, total)
	var hist [256]int
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			v := row[x*4]
			values[y*w+x] = v
			hist[v]++
		}
	}

	var cdf [256]int
	running := 0
	cdfMin := 0
	for i := 0; i < 256; i++ {
		running += hist[i]
		cdf[i] = running
		if cdfMin == 0 && running > 0 {
			cdfMin = running
		}
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	if total == cdfMin {
		copy(out.Pix, values)
		return out
	}

	var lut [256]uint8
	scale := 255.0 / float64(total-cdfMin)
	for i := 0; i < 256; i++ {
		if cdf[i] < cdfMin {
			continue
		}
		lut[i] = uint8(math.Round(float64(cdf[i]-cdfMin) * scale))
	}

	for i, v := range values {
		out.Pix[i] = lut[v]
	}
	return out
}

func flatten(img image.Image) []float64 {
	b := img.Bounds()
	pixels := make([]float64, 0, b.Dx()*b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			pixels = append(pixels, float64(g.Y))
		}
	}
	return pixels
}
