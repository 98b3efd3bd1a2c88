package model

import (
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
)

func writeMetadata(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model_metadata.json")
	test.That(t, os.WriteFile(path, []byte(body), 0o644), test.ShouldBeNil)
	return path
}

func TestLoadMetadata(t *testing.T) {
	path := writeMetadata(t, `{
		"input_shape": [1, 128, 128, 3],
		"output_shape": [1, 2],
		"classes": ["Neem", "Tulsi"],
		"image_size": 128
	}`)

	md, err := LoadMetadata(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.InputName, test.ShouldEqual, "input")
	test.That(t, md.OutputName, test.ShouldEqual, "output")
	test.That(t, md.Geometry(), test.ShouldResemble, imaging.Geometry{Height: 128, Width: 128})
	test.That(t, md.NumClasses(), test.ShouldEqual, 2)
	test.That(t, md.Classes, test.ShouldResemble, []string{"Neem", "Tulsi"})
}

func TestLoadMetadataFromImageSize(t *testing.T) {
	md, err := LoadMetadata(writeMetadata(t, `{
		"output_shape": [1, 30],
		"image_size": 224,
		"input_name": "mobilenetv2_1.00_224_input",
		"output_name": "dense"
	}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, md.InputShape, test.ShouldResemble, []int64{1, 224, 224, 3})
	test.That(t, md.InputName, test.ShouldEqual, "mobilenetv2_1.00_224_input")
	test.That(t, md.OutputName, test.ShouldEqual, "dense")
}

func TestLoadMetadataRejects(t *testing.T) {
	for name, body := range map[string]string{
		"channels first": `{"input_shape": [1, 3, 128, 128], "output_shape": [1, 2]}`,
		"batch of two":   `{"input_shape": [2, 128, 128, 3], "output_shape": [2, 2]}`,
		"zero height":    `{"input_shape": [1, 0, 128, 3], "output_shape": [1, 2]}`,
		"no outputs":     `{"input_shape": [1, 128, 128, 3], "output_shape": [1, 0]}`,
		"flat output":    `{"input_shape": [1, 128, 128, 3], "output_shape": [2]}`,
		"class count":    `{"input_shape": [1, 128, 128, 3], "output_shape": [1, 3], "classes": ["Neem"]}`,
		"size disagrees": `{"input_shape": [1, 128, 128, 3], "output_shape": [1, 2], "image_size": 224}`,
		"missing shapes": `{}`,
		"not json":       `input_shape: [1, 128, 128, 3]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := LoadMetadata(writeMetadata(t, body))
			test.That(t, err, test.ShouldNotBeNil)
		})
	}

	_, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to read metadata")
}

func TestNewServerFailsWithoutMetadata(t *testing.T) {
	_, err := NewServer(Options{
		ModelPath:    filepath.Join(t.TempDir(), "model.onnx"),
		MetadataPath: filepath.Join(t.TempDir(), "missing.json"),
	})
	test.That(t, err, test.ShouldNotBeNil)
}
