package biometric

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/MrCodeEU/facegate/pkg/logging"
)

// MatchThreshold is the cosine score a candidate must exceed to be accepted.
const MatchThreshold = 0.6

// ErrNoMatch is returned when no enrolled template is accepted.
var ErrNoMatch = errors.New("no matching template")

// Enrolled pairs an identity with its stored template.
type Enrolled struct {
	Identity string
	Template Template
}

// BestMatch is the outcome of a successful 1:N identification.
type BestMatch struct {
	Identity string
	Score    float32
}

// Match returns the cosine similarity of the common-length prefix of the two
// templates and whether it exceeds MatchThreshold. A zero-norm input scores 0.
func Match(candidate, stored Template) (float32, bool) {
	n := len(candidate)
	if len(stored) < n {
		n = len(stored)
	}
	if n == 0 {
		return 0, false
	}

	var dot, na, nb float64
	for i := 0; i < n; i++ {
		a, b := float64(candidate[i]), float64(stored[i])
		dot += a * b
		na += a * a
		nb += b * b
	}
	if na == 0 || nb == 0 {
		return 0, false
	}

	score := dot / (math.Sqrt(na) * math.Sqrt(nb))
	score = math.Max(-1, math.Min(1, score))
	return float32(score), score > MatchThreshold
}

// Identify scans enrolled linearly and returns the highest-scoring accepted
// template. Equal scores keep the earlier entry.
func Identify(candidate Template, enrolled []Enrolled) (BestMatch, error) {
	var best BestMatch
	found := false

	for _, e := range enrolled {
		score, ok := Match(candidate, e.Template)
		logging.Component("biometric").Debugf("score %.4f for %s", score, e.Identity)
		if !ok {
			continue
		}
		if !found || score > best.Score {
			best = BestMatch{Identity: e.Identity, Score: score}
			found = true
		}
	}

	if !found {
		return BestMatch{}, ErrNoMatch
	}
	return best, nil
}

// Source yields the enrolled templates to search.
type Source interface {
	Enrolled(ctx context.Context) ([]Enrolled, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) ([]Enrolled, error)

// Enrolled calls f.
func (f SourceFunc) Enrolled(ctx context.Context) ([]Enrolled, error) {
	return f(ctx)
}

// Index finds the best accepted template for a candidate.
type Index interface {
	Nearest(ctx context.Context, candidate Template) (BestMatch, error)
}

// LinearIndex is an Index that scores every enrolled template.
type LinearIndex struct {
	source Source
}

// NewLinearIndex creates a LinearIndex over source.
func NewLinearIndex(source Source) *LinearIndex {
	return &LinearIndex{source: source}
}

// Nearest loads the gallery and runs Identify over it.
func (ix *LinearIndex) Nearest(ctx context.Context, candidate Template) (BestMatch, error) {
	enrolled, err := ix.source.Enrolled(ctx)
	if err != nil {
		return BestMatch{}, fmt.Errorf("load enrolled templates: %w", err)
	}
	return Identify(candidate, enrolled)
}
