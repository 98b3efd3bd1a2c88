package prediction

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Brownie44l1/aushadhi-api/internal/catalog"
)

func newCatalog(t *testing.T, labels ...string) *catalog.Catalog {
	t.Helper()
	c, err := catalog.FromLabels(labels)
	test.That(t, err, test.ShouldBeNil)
	return c
}

func TestResolvePicksArgMax(t *testing.T) {
	cat := newCatalog(t, "Neem", "Tulsi")

	got, err := Resolve(Distribution{0.2, 0.8}, cat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Label, test.ShouldEqual, "Tulsi")
	test.That(t, got.Index, test.ShouldEqual, 1)
	test.That(t, got.Confidence, test.ShouldEqual, 0.8)

	cat = newCatalog(t, "Betel", "Curry", "Guava", "Mango", "Mint")
	for i := 0; i < cat.Len(); i++ {
		dist := Distribution{0.1, 0.1, 0.1, 0.1, 0.1}
		dist[i] = 0.6
		got, err := Resolve(dist, cat)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got.Label, test.ShouldEqual, cat.At(i))
	}
}

func TestResolveTieGoesToFirst(t *testing.T) {
	cat := newCatalog(t, "Jamun", "Jasmine", "Karanda")
	got, err := Resolve(Distribution{0.1, 0.45, 0.45}, cat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Label, test.ShouldEqual, "Jasmine")
}

func TestResolveUnnormalizedScores(t *testing.T) {
	cat := newCatalog(t, "Lemon", "Mango", "Neem")
	got, err := Resolve(Distribution{-3.5, 12, 7}, cat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Label, test.ShouldEqual, "Mango")
}

func TestResolveSkipsNaN(t *testing.T) {
	cat := newCatalog(t, "Lemon", "Mango", "Neem")
	got, err := Resolve(Distribution{math.NaN(), 0.3, 0.2}, cat)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Label, test.ShouldEqual, "Mango")

	_, err = Resolve(Distribution{math.NaN(), math.NaN(), math.NaN()}, cat)
	test.That(t, errors.Is(err, ErrEmptyDistribution), test.ShouldBeTrue)
}

func TestResolveErrors(t *testing.T) {
	cat := newCatalog(t, "Neem", "Tulsi")

	_, err := Resolve(nil, cat)
	test.That(t, errors.Is(err, ErrEmptyDistribution), test.ShouldBeTrue)

	_, err = Resolve(Distribution{}, cat)
	test.That(t, errors.Is(err, ErrEmptyDistribution), test.ShouldBeTrue)

	_, err = Resolve(Distribution{0.1, 0.2, 0.7}, cat)
	test.That(t, errors.Is(err, ErrCatalogMismatch), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "3 scores")

	_, err = Resolve(Distribution{1}, cat)
	test.That(t, errors.Is(err, ErrCatalogMismatch), test.ShouldBeTrue)

	_, err = Resolve(Distribution{1}, nil)
	test.That(t, errors.Is(err, ErrCatalogMismatch), test.ShouldBeTrue)
}

func TestTop(t *testing.T) {
	cat := newCatalog(t, "Betel", "Curry", "Guava", "Mango")
	dist := Distribution{0.1, 0.4, 0.1, 0.4}

	top, err := Top(dist, cat, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, top, test.ShouldResemble, []Score{
		{Label: "Curry", Index: 1, Confidence: 0.4},
		{Label: "Mango", Index: 3, Confidence: 0.4},
		{Label: "Betel", Index: 0, Confidence: 0.1},
	})

	all, err := Top(dist, cat, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, all, test.ShouldHaveLength, 4)

	_, err = Top(Distribution{0.5, 0.5}, cat, 1)
	test.That(t, errors.Is(err, ErrCatalogMismatch), test.ShouldBeTrue)
}
