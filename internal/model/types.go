package model

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"

	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
)

const (
	defaultInputName  = "input"
	defaultOutputName = "output"
)

// Metadata is written next to the exported model. InputShape is NHWC with a
// batch of one; OutputShape is [1, classes].
type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes,omitempty"`
	ImageSize   int      `json:"image_size"`
	InputName   string   `json:"input_name,omitempty"`
	OutputName  string   `json:"output_name,omitempty"`
}

// LoadMetadata reads and validates a metadata file.
func LoadMetadata(path string) (Metadata, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, errors.Wrap(err, "failed to read metadata")
	}
	var md Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return Metadata{}, errors.Wrap(err, "failed to parse metadata")
	}
	if err := md.normalize(); err != nil {
		return Metadata{}, errors.Wrapf(err, "invalid metadata %q", path)
	}
	return md, nil
}

func (md *Metadata) normalize() error {
	if md.InputName == "" {
		md.InputName = defaultInputName
	}
	if md.OutputName == "" {
		md.OutputName = defaultOutputName
	}
	if md.ImageSize > 0 && len(md.InputShape) == 0 {
		s := int64(md.ImageSize)
		md.InputShape = []int64{1, s, s, imaging.Channels}
	}

	in := md.InputShape
	if len(in) != 4 || in[0] != 1 || in[3] != imaging.Channels {
		return errors.Errorf("input_shape %v is not [1, H, W, 3]", in)
	}
	if err := md.Geometry().Validate(); err != nil {
		return err
	}
	if md.ImageSize > 0 && (in[1] != int64(md.ImageSize) || in[2] != int64(md.ImageSize)) {
		return errors.Errorf("image_size %d disagrees with input_shape %v", md.ImageSize, in)
	}

	out := md.OutputShape
	if len(out) != 2 || out[0] != 1 || out[1] <= 0 {
		return errors.Errorf("output_shape %v is not [1, N]", out)
	}
	if len(md.Classes) > 0 && int64(len(md.Classes)) != out[1] {
		return errors.Errorf("%d classes listed for %d outputs", len(md.Classes), out[1])
	}
	return nil
}

// Geometry is the image size the model expects.
func (md Metadata) Geometry() imaging.Geometry {
	if len(md.InputShape) != 4 {
		return imaging.Geometry{}
	}
	return imaging.Geometry{Height: int(md.InputShape[1]), Width: int(md.InputShape[2])}
}

// NumClasses is the length of the output distribution.
func (md Metadata) NumClasses() int {
	if len(md.OutputShape) != 2 {
		return 0
	}
	return int(md.OutputShape[1])
}
