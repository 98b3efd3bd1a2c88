package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.viam.com/test"

	"github.com/Brownie44l1/aushadhi-api/internal/catalog"
	"github.com/Brownie44l1/aushadhi-api/internal/config"
	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
)

func datasetDir(t *testing.T, labels ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, l := range labels {
		test.That(t, os.MkdirAll(filepath.Join(root, l), 0o755), test.ShouldBeNil)
	}
	return root
}

func TestLoadCatalogFromDir(t *testing.T) {
	root := datasetDir(t, "Tulsi", "Neem")
	cat, err := LoadCatalog(config.DatasetConfig{Dir: root, LabelsFile: "ignored.txt"}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cat.Labels(), test.ShouldResemble, []string{"Neem", "Tulsi"})
}

func TestLoadCatalogFromLabelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "labels.txt")
	test.That(t, os.WriteFile(path, []byte("Neem\nTulsi\n"), 0o644), test.ShouldBeNil)

	cat, err := LoadCatalog(config.DatasetConfig{LabelsFile: path}, []string{"Neem", "Tulsi"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cat.Len(), test.ShouldEqual, 2)
}

func TestLoadCatalogDetectsDrift(t *testing.T) {
	// a class directory was added after the model was trained
	root := datasetDir(t, "Neem", "Tulsi", "Mint")
	_, err := LoadCatalog(config.DatasetConfig{Dir: root}, []string{"Neem", "Tulsi"})
	test.That(t, errors.Is(err, catalog.ErrBuild), test.ShouldBeTrue)
	test.That(t, err.Error(), test.ShouldContainSubstring, "trained on")
}

func TestLoadCatalogErrors(t *testing.T) {
	_, err := LoadCatalog(config.DatasetConfig{}, nil)
	test.That(t, errors.Is(err, catalog.ErrBuild), test.ShouldBeTrue)

	_, err = LoadCatalog(config.DatasetConfig{Dir: filepath.Join(t.TempDir(), "gone")}, nil)
	test.That(t, errors.Is(err, catalog.ErrBuild), test.ShouldBeTrue)

	root := datasetDir(t, "Neem")
	_, err = LoadCatalog(config.DatasetConfig{Dir: root}, []string{"Neem", "Neem"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadKnowledge(t *testing.T) {
	kb, err := LoadKnowledge(config.KnowledgeConfig{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kb.Len(), test.ShouldEqual, 30)

	path := filepath.Join(t.TempDir(), "plants.yaml")
	test.That(t, os.WriteFile(path, []byte("plants:\n  - {label: Neem, description: Bitter.}\n"), 0o644),
		test.ShouldBeNil)
	kb, err = LoadKnowledge(config.KnowledgeConfig{Path: path})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, kb.Len(), test.ShouldEqual, 1)

	_, err = LoadKnowledge(config.KnowledgeConfig{Path: filepath.Join(t.TempDir(), "none.yaml")})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestNewPreprocessor(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "config.yaml"))
	test.That(t, err, test.ShouldBeNil)

	pre, err := NewPreprocessor(cfg, zap.NewNop().Sugar())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pre.Geometry(), test.ShouldResemble, imaging.DefaultGeometry)
}

func TestBuildFailsBeforeLoadingModel(t *testing.T) {
	dir := t.TempDir()
	meta := filepath.Join(dir, "model_metadata.json")
	test.That(t, os.WriteFile(meta, []byte(`{"input_shape":[1,224,224,3],"output_shape":[1,2]}`), 0o644),
		test.ShouldBeNil)

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	test.That(t, err, test.ShouldBeNil)
	cfg.Model.MetadataPath = meta
	cfg.Model.Path = filepath.Join(dir, "model.onnx")
	cfg.Dataset.Dir = datasetDir(t, "Neem", "Tulsi")

	_, err = Build(cfg, zap.NewNop().Sugar())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "224x224")

	cfg.Model.MetadataPath = filepath.Join(dir, "missing.json")
	_, err = Build(cfg, zap.NewNop().Sugar())
	test.That(t, err, test.ShouldNotBeNil)
}
