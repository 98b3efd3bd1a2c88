package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Server.Port, test.ShouldEqual, "8080")
	test.That(t, cfg.Geometry(), test.ShouldResemble, imaging.DefaultGeometry)
	test.That(t, cfg.RequestTimeout(), test.ShouldEqual, 30*time.Second)
	test.That(t, cfg.FetchTimeout(), test.ShouldEqual, 15*time.Second)
	test.That(t, cfg.Inference.TopK, test.ShouldEqual, 3)
	test.That(t, cfg.Dataset.LabelsFile, test.ShouldEqual, filepath.Join("models", "labels.txt"))
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	test.That(t, os.WriteFile(path, []byte(`
server:
  port: "9090"
dataset:
  dir: /data/Medicinal plant dataset
  labels_file: ""
image:
  height: 224
  width: 224
log:
  development: true
`), 0o644), test.ShouldBeNil)

	cfg, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Server.Port, test.ShouldEqual, "9090")
	test.That(t, cfg.Server.MaxUploadMB, test.ShouldEqual, 10)
	test.That(t, cfg.Dataset.Dir, test.ShouldEqual, "/data/Medicinal plant dataset")
	test.That(t, cfg.Geometry(), test.ShouldResemble, imaging.Geometry{Height: 224, Width: 224})
	test.That(t, cfg.Log.Level, test.ShouldEqual, "info")
	test.That(t, cfg.Log.Development, test.ShouldBeTrue)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "7000")
	t.Setenv("AUSHADHI_MODEL_PATH", "/srv/model.onnx")
	t.Setenv("AUSHADHI_IMAGE_SIZE", "160")
	t.Setenv("AUSHADHI_TOP_K", "5")
	t.Setenv("ONNXRUNTIME_LIB", "/usr/lib/libonnxruntime.so")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Server.Port, test.ShouldEqual, "7000")
	test.That(t, cfg.Model.Path, test.ShouldEqual, "/srv/model.onnx")
	test.That(t, cfg.Geometry(), test.ShouldResemble, imaging.Geometry{Height: 160, Width: 160})
	test.That(t, cfg.Inference.TopK, test.ShouldEqual, 5)
	test.That(t, cfg.Model.SharedLibraryPath, test.ShouldEqual, "/usr/lib/libonnxruntime.so")
}

func TestLoadRejects(t *testing.T) {
	t.Run("bad env number", func(t *testing.T) {
		t.Setenv("AUSHADHI_TOP_K", "many")
		_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("zero geometry", func(t *testing.T) {
		t.Setenv("AUSHADHI_IMAGE_SIZE", "0")
		_, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
		test.That(t, errors.Is(err, imaging.ErrUnsupportedGeometry), test.ShouldBeTrue)
	})

	t.Run("no catalog source", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		test.That(t, os.WriteFile(path, []byte("dataset:\n  labels_file: \"\"\n"), 0o644), test.ShouldBeNil)
		_, err := Load(path)
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "dataset")
	})

	t.Run("bad yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		test.That(t, os.WriteFile(path, []byte("server: [\n"), 0o644), test.ShouldBeNil)
		_, err := Load(path)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestSaveRoundTrip(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.yaml"))
	test.That(t, err, test.ShouldBeNil)
	cfg.Dataset.Dir = "/data/plants"

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	test.That(t, Save(path, cfg), test.ShouldBeNil)

	read, err := Load(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, read, test.ShouldResemble, cfg)
}
