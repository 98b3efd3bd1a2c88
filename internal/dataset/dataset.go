// Package dataset walks a labeled image directory and scores the pipeline
// against it.
package dataset

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Brownie44l1/aushadhi-api/internal/catalog"
	"github.com/Brownie44l1/aushadhi-api/internal/pipeline"
)

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
	".bmp": true, ".webp": true, ".tif": true, ".tiff": true,
}

// Sample is one labeled image file.
type Sample struct {
	Path  string
	Label string
}

// Samples lists the images under root/<label>/ for every catalog label, in
// catalog order and then by file name.
func Samples(root string, cat *catalog.Catalog) ([]Sample, error) {
	var out []Sample
	for _, label := range cat.Labels() {
		dir := filepath.Join(root, label)
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "reading class directory %q", dir)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, n := range names {
			out = append(out, Sample{Path: filepath.Join(dir, n), Label: label})
		}
	}
	return out, nil
}

// ClassReport counts outcomes for one label.
type ClassReport struct {
	Total   int `json:"total"`
	Correct int `json:"correct"`
	Failed  int `json:"failed"`
}

// Report summarizes an evaluation run.
type Report struct {
	Total    int                    `json:"total"`
	Correct  int                    `json:"correct"`
	Failed   int                    `json:"failed"`
	Accuracy float64                `json:"accuracy"`
	PerClass map[string]ClassReport `json:"per_class"`
	// Confusions counts predictions that missed, keyed "want -> got".
	Confusions map[string]int `json:"confusions,omitempty"`
}

// Evaluate predicts every sample with at most workers in flight. A sample
// that fails to load or resolve is counted, not fatal; only ctx ends the run
// early.
func Evaluate(ctx context.Context, p *pipeline.Pipeline, samples []Sample, workers int) (*Report, error) {
	if workers <= 0 {
		workers = 1
	}
	hits := make([]bool, len(samples))
	got := make([]string, len(samples))
	failed := make([]bool, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, s := range samples {
		i, s := i, s
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := p.Predict(gctx, s.Path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed[i] = true
				return nil
			}
			got[i] = res.Label
			if res.Label == s.Label {
				hits[i] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r := &Report{
		Total:      len(samples),
		PerClass:   make(map[string]ClassReport),
		Confusions: make(map[string]int),
	}
	for i, s := range samples {
		c := r.PerClass[s.Label]
		c.Total++
		switch {
		case failed[i]:
			c.Failed++
			r.Failed++
		case hits[i]:
			c.Correct++
			r.Correct++
		default:
			r.Confusions[s.Label+" -> "+got[i]]++
		}
		r.PerClass[s.Label] = c
	}

	if r.Total > 0 {
		r.Accuracy = float64(r.Correct) / float64(r.Total)
	}
	return r, nil
}
