// Package model runs the exported plant classifier through ONNX Runtime.
package model

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/Brownie44l1/aushadhi-api/internal/prediction"
)

// ErrInputShape is returned when a tensor does not match the model input.
var ErrInputShape = errors.New("input tensor shape mismatch")

// Options locates the model on disk.
type Options struct {
	ModelPath    string
	MetadataPath string
	// SharedLibraryPath points at libonnxruntime. Empty uses the library's
	// platform default.
	SharedLibraryPath string
	Logger            *zap.SugaredLogger
}

// Server owns one ONNX session and its preallocated tensors. Infer is
// serialized because those tensors are shared between calls.
type Server struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	Metadata     Metadata
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	// ownsEnv is set when this server initialized the ONNX environment.
	ownsEnv bool
	logger  *zap.SugaredLogger
}

// NewServer loads the metadata and model and prepares a session.
func NewServer(opts Options) (*Server, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	metadata, err := LoadMetadata(opts.MetadataPath)
	if err != nil {
		return nil, err
	}

	if opts.SharedLibraryPath != "" {
		ort.SetSharedLibraryPath(opts.SharedLibraryPath)
	}
	ownsEnv := !ort.IsInitialized()
	if ownsEnv {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}
	releaseEnv := func() {
		if ownsEnv {
			ort.DestroyEnvironment()
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.InputShape...))
	if err != nil {
		releaseEnv()
		return nil, errors.Wrap(err, "failed to create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		releaseEnv()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{metadata.InputName}, []string{metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		releaseEnv()
		return nil, errors.Wrapf(err, "failed to create ONNX session for %q", opts.ModelPath)
	}

	logger.Infow("model loaded",
		"path", opts.ModelPath,
		"input", metadata.InputShape,
		"output", metadata.OutputShape)

	return &Server{
		session:      session,
		Metadata:     metadata,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		ownsEnv:      ownsEnv,
		logger:       logger,
	}, nil
}

// OutputSize is the number of scores Infer returns.
func (s *Server) OutputSize() int {
	return s.Metadata.NumClasses()
}

// Infer runs one image tensor through the model.
func (s *Server) Infer(ctx context.Context, input *tensor.Dense) (prediction.Distribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want := s.Metadata.Geometry().Shape()
	if input == nil || !input.Shape().Eq(want) {
		var got tensor.Shape
		if input != nil {
			got = input.Shape()
		}
		return nil, errors.Wrapf(ErrInputShape, "got %v, model expects %v", got, want)
	}
	data, ok := input.Data().([]float32)
	if !ok {
		return nil, errors.Wrapf(ErrInputShape, "tensor holds %T, model expects float32", input.Data())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.session == nil {
		return nil, errors.New("model server is closed")
	}
	copy(s.inputTensor.GetData(), data)
	if err := s.session.Run(); err != nil {
		return nil, errors.Wrap(err, "inference failed")
	}

	out := s.outputTensor.GetData()
	dist := make(prediction.Distribution, len(out))
	for i, v := range out {
		dist[i] = float64(v)
	}
	s.logger.Debugw("inference complete", "scores", len(dist))
	return dist, nil
}

// Close releases the session and its tensors, and the runtime environment
// when this server created it.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.inputTensor != nil {
		err = multierr.Append(err, s.inputTensor.Destroy())
		s.inputTensor = nil
	}
	if s.outputTensor != nil {
		err = multierr.Append(err, s.outputTensor.Destroy())
		s.outputTensor = nil
	}
	if s.session != nil {
		err = multierr.Append(err, s.session.Destroy())
		s.session = nil
	}
	if s.ownsEnv {
		err = multierr.Append(err, ort.DestroyEnvironment())
		s.ownsEnv = false
	}
	return err
}
