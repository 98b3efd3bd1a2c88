// Package prediction maps classifier scores onto catalog labels.
package prediction

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/Brownie44l1/aushadhi-api/internal/catalog"
)

var (
	// ErrEmptyDistribution is returned when the classifier produced no scores.
	ErrEmptyDistribution = errors.New("empty prediction distribution")
	// ErrCatalogMismatch is returned when scores and labels are not index-aligned.
	ErrCatalogMismatch = errors.New("distribution does not match catalog")
)

// Distribution holds one score per catalog label. Higher is more confident.
type Distribution []float64

// Score is a label with its classifier score.
type Score struct {
	Label      string  `json:"label"`
	Index      int     `json:"index"`
	Confidence float64 `json:"confidence"`
}

func check(dist Distribution, cat *catalog.Catalog) error {
	if len(dist) == 0 {
		return ErrEmptyDistribution
	}
	if cat == nil {
		return errors.Wrap(ErrCatalogMismatch, "no catalog")
	}
	if len(dist) != cat.Len() {
		return errors.Wrapf(ErrCatalogMismatch, "distribution has %d scores, catalog has %d labels",
			len(dist), cat.Len())
	}
	return nil
}

// Resolve returns the label with the highest score. Ties go to the lowest
// index and NaN scores are never selected.
func Resolve(dist Distribution, cat *catalog.Catalog) (Score, error) {
	if err := check(dist, cat); err != nil {
		return Score{}, err
	}
	i := floats.MaxIdx(dist)
	if math.IsNaN(dist[i]) {
		return Score{}, errors.Wrap(ErrEmptyDistribution, "every score is NaN")
	}
	return Score{Label: cat.At(i), Index: i, Confidence: dist[i]}, nil
}

// Top returns up to k scores, highest first, ties in catalog order.
func Top(dist Distribution, cat *catalog.Catalog, k int) ([]Score, error) {
	if err := check(dist, cat); err != nil {
		return nil, err
	}
	if k <= 0 || k > len(dist) {
		k = len(dist)
	}
	scores := make([]Score, 0, len(dist))
	for i, v := range dist {
		if math.IsNaN(v) {
			continue
		}
		scores = append(scores, Score{Label: cat.At(i), Index: i, Confidence: v})
	}
	sort.SliceStable(scores, func(a, b int) bool {
		return scores[a].Confidence > scores[b].Confidence
	})
	if len(scores) > k {
		scores = scores[:k]
	}
	return scores, nil
}
