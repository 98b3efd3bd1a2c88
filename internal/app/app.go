// Package app wires configuration into a ready-to-serve pipeline. Any error
// here is a startup failure.
package app

import (
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Brownie44l1/aushadhi-api/internal/catalog"
	"github.com/Brownie44l1/aushadhi-api/internal/config"
	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
	"github.com/Brownie44l1/aushadhi-api/internal/knowledge"
	"github.com/Brownie44l1/aushadhi-api/internal/model"
	"github.com/Brownie44l1/aushadhi-api/internal/pipeline"
)

// App holds the pipeline and the resources that must be released on exit.
type App struct {
	Pipeline *pipeline.Pipeline
	Model    *model.Server
}

// Close releases the model session.
func (a *App) Close() error {
	if a.Model == nil {
		return nil
	}
	return a.Model.Close()
}

// Build loads the catalog, knowledge table and model named by cfg.
func Build(cfg *config.AppConfig, logger *zap.SugaredLogger) (*App, error) {
	md, err := model.LoadMetadata(cfg.Model.MetadataPath)
	if err != nil {
		return nil, err
	}
	if md.Geometry() != cfg.Geometry() {
		return nil, errors.Errorf("model expects %s images, config says %s", md.Geometry(), cfg.Geometry())
	}

	cat, err := LoadCatalog(cfg.Dataset, md.Classes)
	if err != nil {
		return nil, err
	}
	kb, err := LoadKnowledge(cfg.Knowledge)
	if err != nil {
		return nil, err
	}
	pre, err := NewPreprocessor(cfg, logger)
	if err != nil {
		return nil, err
	}

	srv, err := model.NewServer(model.Options{
		ModelPath:         cfg.Model.Path,
		MetadataPath:      cfg.Model.MetadataPath,
		SharedLibraryPath: cfg.Model.SharedLibraryPath,
		Logger:            logger.Named("model"),
	})
	if err != nil {
		return nil, err
	}

	p, err := pipeline.New(pipeline.Config{
		Catalog:      cat,
		Classifier:   srv,
		Preprocessor: pre,
		Knowledge:    kb,
		TopK:         cfg.Inference.TopK,
		Logger:       logger.Named("pipeline"),
	})
	if err != nil {
		return nil, multierr.Combine(err, srv.Close())
	}

	logger.Infow("pipeline ready", "classes", cat.Len(), "geometry", pre.Geometry().String())
	return &App{Pipeline: p, Model: srv}, nil
}

// LoadCatalog builds the catalog from the dataset directory, or from the
// labels file when no directory is configured. When the model metadata lists
// its training classes they must match exactly, since the classifier's
// outputs are positional.
func LoadCatalog(cfg config.DatasetConfig, trained []string) (*catalog.Catalog, error) {
	var (
		cat *catalog.Catalog
		err error
	)
	switch {
	case cfg.Dir != "":
		cat, err = catalog.FromDir(cfg.Dir)
	case cfg.LabelsFile != "":
		cat, err = catalog.FromFile(cfg.LabelsFile)
	default:
		return nil, errors.Wrap(catalog.ErrBuild, "no dataset directory or labels file configured")
	}
	if err != nil {
		return nil, err
	}
	if len(trained) == 0 {
		return cat, nil
	}

	want, err := catalog.FromLabels(trained)
	if err != nil {
		return nil, errors.Wrap(err, "model metadata classes")
	}
	if !cat.Equal(want) {
		return nil, errors.Wrapf(catalog.ErrBuild,
			"catalog %v does not match the classes the model was trained on %v", cat.Labels(), want.Labels())
	}
	return cat, nil
}

// LoadKnowledge returns the configured table or the built-in one.
func LoadKnowledge(cfg config.KnowledgeConfig) (*knowledge.Table, error) {
	if cfg.Path == "" {
		return knowledge.Default(), nil
	}
	return knowledge.LoadFile(cfg.Path)
}

// NewPreprocessor builds the image preprocessor from cfg.
func NewPreprocessor(cfg *config.AppConfig, logger *zap.SugaredLogger) (*imaging.Preprocessor, error) {
	return imaging.NewPreprocessor(imaging.Options{
		Geometry:     cfg.Geometry(),
		FetchTimeout: cfg.FetchTimeout(),
		MaxBytes:     int64(cfg.Image.MaxMB) << 20,
		Logger:       logger.Named("imaging"),
	})
}
