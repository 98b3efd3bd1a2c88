// Package imaging turns an image source into the normalized tensor the plant
// classifier consumes.
package imaging

import (
	"context"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder
	_ "golang.org/x/image/webp" // register WebP decoder
	"gorgonia.org/tensor"
)

var (
	// ErrImageLoad is returned when a source cannot be read or decoded.
	ErrImageLoad = errors.New("image load failed")
	// ErrUnsupportedGeometry is returned for a non-positive target size.
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
)

const (
	// Channels is the number of color channels in every tensor.
	Channels = 3

	defaultMaxBytes     = 10 << 20
	defaultFetchTimeout = 15 * time.Second
)

// Geometry is the height and width images are resized to.
type Geometry struct {
	Height int `yaml:"height" json:"height"`
	Width  int `yaml:"width" json:"width"`
}

// DefaultGeometry matches the input size the plant model is trained at.
var DefaultGeometry = Geometry{Height: 128, Width: 128}

// Validate rejects non-positive sides.
func (g Geometry) Validate() error {
	if g.Height <= 0 || g.Width <= 0 {
		return errors.Wrapf(ErrUnsupportedGeometry, "%dx%d", g.Height, g.Width)
	}
	return nil
}

// Shape is the tensor shape produced for g, batch dimension included.
func (g Geometry) Shape() tensor.Shape {
	return tensor.Shape{1, g.Height, g.Width, Channels}
}

// Size is the number of values in a tensor of Shape.
func (g Geometry) Size() int {
	return g.Height * g.Width * Channels
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Height, g.Width)
}

// Options configures a Preprocessor. Zero fields take defaults.
type Options struct {
	Geometry     Geometry
	Client       *http.Client
	FetchTimeout time.Duration
	MaxBytes     int64
	Logger       *zap.SugaredLogger
}

// Preprocessor loads images and normalizes them. It holds no mutable state and
// is safe for concurrent use.
type Preprocessor struct {
	geometry     Geometry
	client       *http.Client
	fetchTimeout time.Duration
	maxBytes     int64
	logger       *zap.SugaredLogger
}

// NewPreprocessor validates opts and returns a Preprocessor.
func NewPreprocessor(opts Options) (*Preprocessor, error) {
	if err := opts.Geometry.Validate(); err != nil {
		return nil, err
	}
	p := &Preprocessor{
		geometry:     opts.Geometry,
		client:       opts.Client,
		fetchTimeout: opts.FetchTimeout,
		maxBytes:     opts.MaxBytes,
		logger:       opts.Logger,
	}
	if p.client == nil {
		p.client = http.DefaultClient
	}
	if p.fetchTimeout <= 0 {
		p.fetchTimeout = defaultFetchTimeout
	}
	if p.maxBytes <= 0 {
		p.maxBytes = defaultMaxBytes
	}
	if p.logger == nil {
		p.logger = zap.NewNop().Sugar()
	}
	return p, nil
}

// Geometry returns the target geometry.
func (p *Preprocessor) Geometry() Geometry {
	return p.geometry
}

// IsURL reports whether source is fetched over HTTP rather than read from disk.
func IsURL(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// Load reads source, a local path or an http(s) URL, and returns its tensor.
func (p *Preprocessor) Load(ctx context.Context, source string) (*tensor.Dense, error) {
	if IsURL(source) {
		return p.fetch(ctx, source)
	}
	f, err := os.Open(filepath.Clean(source))
	if err != nil {
		return nil, errors.Wrapf(ErrImageLoad, "opening %q: %v", source, err)
	}
	defer f.Close()
	return p.Decode(f)
}

func (p *Preprocessor) fetch(ctx context.Context, url string) (*tensor.Dense, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrImageLoad, "building request for %q: %v", url, err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		// both ErrImageLoad and the transport cause stay matchable
		return nil, errors.Wrapf(multierr.Combine(ErrImageLoad, err), "fetching %q", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Wrapf(ErrImageLoad, "fetching %q: status %s", url, resp.Status)
	}
	p.logger.Debugw("fetched image", "url", url, "content_type", resp.Header.Get("Content-Type"))
	return p.Decode(resp.Body)
}

// Decode reads at most the configured number of bytes from r and returns the
// tensor of the decoded image.
func (p *Preprocessor) Decode(r io.Reader) (*tensor.Dense, error) {
	limited := &io.LimitedReader{R: r, N: p.maxBytes + 1}
	img, format, err := image.Decode(limited)
	if err != nil {
		if limited.N <= 0 {
			return nil, errors.Wrapf(ErrImageLoad, "source exceeds %d bytes", p.maxBytes)
		}
		return nil, errors.Wrapf(ErrImageLoad, "decoding: %v", err)
	}
	p.logger.Debugw("decoded image", "format", format,
		"width", img.Bounds().Dx(), "height", img.Bounds().Dy())
	return p.FromImage(img)
}

// FromImage resizes img to the target geometry and scales every channel into
// [0, 1]. The result has shape (1, H, W, 3) in row-major NHWC order.
func (p *Preprocessor) FromImage(img image.Image) (*tensor.Dense, error) {
	return Normalize(img, p.geometry)
}

// Normalize is the preprocessing shared by inference and dataset evaluation:
// bilinear resize to g, straight 8-bit RGB, then division by 255.
func Normalize(img image.Image, g Geometry) (*tensor.Dense, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if img == nil || img.Bounds().Empty() {
		return nil, errors.Wrap(ErrImageLoad, "empty image")
	}

	resized := resize.Resize(uint(g.Width), uint(g.Height), img, resize.Bilinear)
	b := resized.Bounds()
	if b.Dx() != g.Width || b.Dy() != g.Height {
		return nil, errors.Errorf("resize produced %dx%d, want %s", b.Dy(), b.Dx(), g)
	}

	data := make([]float32, g.Size())
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(resized.At(x, y)).(color.NRGBA)
			data[i] = float32(c.R) / 255.0
			data[i+1] = float32(c.G) / 255.0
			data[i+2] = float32(c.B) / 255.0
			i += Channels
		}
	}
	return tensor.New(tensor.WithShape(g.Shape()...), tensor.WithBacking(data)), nil
}

// FromValues wraps raw NHWC values, already in [0, 1], as a tensor of g.
func FromValues(values []float32, g Geometry) (*tensor.Dense, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if len(values) != g.Size() {
		return nil, errors.Errorf("expected %d values for %s, got %d", g.Size(), g, len(values))
	}
	for i, v := range values {
		if math.IsNaN(float64(v)) || v < 0 || v > 1 {
			return nil, errors.Errorf("value %d is %v, outside [0, 1]", i, v)
		}
	}
	data := make([]float32, len(values))
	copy(data, values)
	return tensor.New(tensor.WithShape(g.Shape()...), tensor.WithBacking(data)), nil
}
