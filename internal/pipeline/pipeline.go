// Package pipeline resolves an image into a plant label and its description.
package pipeline

import (
	"context"
	"image"
	"io"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/aushadhi-api/internal/catalog"
	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
	"github.com/Brownie44l1/aushadhi-api/internal/knowledge"
	"github.com/Brownie44l1/aushadhi-api/internal/prediction"
)

// Classifier maps a (1, H, W, 3) image tensor to one score per catalog label.
type Classifier interface {
	Infer(ctx context.Context, input *tensor.Dense) (prediction.Distribution, error)
}

// Sized is implemented by classifiers that know their output length ahead of
// the first call.
type Sized interface {
	OutputSize() int
}

// Config collects the collaborators of a Pipeline.
type Config struct {
	Catalog      *catalog.Catalog
	Classifier   Classifier
	Preprocessor *imaging.Preprocessor
	Knowledge    *knowledge.Table
	// TopK is how many ranked scores a Result carries. Zero keeps only the
	// resolved label.
	TopK   int
	Logger *zap.SugaredLogger
}

// Pipeline is built once at startup and never modified, so a single value can
// serve concurrent requests.
type Pipeline struct {
	catalog      *catalog.Catalog
	classifier   Classifier
	preprocessor *imaging.Preprocessor
	knowledge    *knowledge.Table
	topK         int
	logger       *zap.SugaredLogger
}

// Result is what a caller displays for one image.
type Result struct {
	Label       string             `json:"label"`
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Confidence  float64            `json:"confidence"`
	Top         []prediction.Score `json:"top,omitempty"`
	Elapsed     time.Duration      `json:"-"`
}

// New validates cfg and returns a Pipeline.
func New(cfg Config) (*Pipeline, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, errors.New("pipeline needs a catalog")
	case cfg.Classifier == nil:
		return nil, errors.New("pipeline needs a classifier")
	case cfg.Preprocessor == nil:
		return nil, errors.New("pipeline needs a preprocessor")
	case cfg.Knowledge == nil:
		return nil, errors.New("pipeline needs a knowledge table")
	}
	if sized, ok := cfg.Classifier.(Sized); ok && sized.OutputSize() != cfg.Catalog.Len() {
		return nil, errors.Wrapf(prediction.ErrCatalogMismatch,
			"classifier has %d outputs, catalog has %d labels", sized.OutputSize(), cfg.Catalog.Len())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if missing := cfg.Knowledge.Missing(cfg.Catalog); len(missing) > 0 {
		logger.Warnw("labels without a knowledge entry", "labels", missing)
	}
	topK := cfg.TopK
	if topK < 0 {
		topK = 0
	}

	return &Pipeline{
		catalog:      cfg.Catalog,
		classifier:   cfg.Classifier,
		preprocessor: cfg.Preprocessor,
		knowledge:    cfg.Knowledge,
		topK:         topK,
		logger:       logger,
	}, nil
}

// Catalog returns the label catalog.
func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

// Geometry returns the input geometry images are resized to.
func (p *Pipeline) Geometry() imaging.Geometry {
	return p.preprocessor.Geometry()
}

// Predict loads source, a path or URL, and resolves it.
func (p *Pipeline) Predict(ctx context.Context, source string) (*Result, error) {
	start := time.Now()
	input, err := p.preprocessor.Load(ctx, source)
	if err != nil {
		return nil, err
	}
	res, err := p.PredictTensor(ctx, input)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	p.logger.Infow("prediction", "source", source, "label", res.Label,
		"confidence", res.Confidence, "elapsed", res.Elapsed)
	return res, nil
}

// PredictReader decodes an encoded image from r and resolves it.
func (p *Pipeline) PredictReader(ctx context.Context, r io.Reader) (*Result, error) {
	start := time.Now()
	input, err := p.preprocessor.Decode(r)
	if err != nil {
		return nil, err
	}
	res, err := p.PredictTensor(ctx, input)
	if err != nil {
		return nil, err
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// PredictImage resolves an already decoded image.
func (p *Pipeline) PredictImage(ctx context.Context, img image.Image) (*Result, error) {
	input, err := p.preprocessor.FromImage(img)
	if err != nil {
		return nil, err
	}
	return p.PredictTensor(ctx, input)
}

// PredictTensor runs an already normalized tensor through the classifier,
// resolves the label and looks up its description.
func (p *Pipeline) PredictTensor(ctx context.Context, input *tensor.Dense) (*Result, error) {
	dist, err := p.classifier.Infer(ctx, input)
	if err != nil {
		return nil, errors.Wrap(err, "classifier")
	}

	best, err := prediction.Resolve(dist, p.catalog)
	if err != nil {
		return nil, err
	}
	entry, err := p.knowledge.Lookup(best.Label)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Label:       best.Label,
		Name:        entry.Name,
		Description: entry.Description,
		Confidence:  best.Confidence,
	}
	if p.topK > 0 {
		if res.Top, err = prediction.Top(dist, p.catalog, p.topK); err != nil {
			return nil, err
		}
	}
	return res, nil
}
