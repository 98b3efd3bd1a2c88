package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
	"github.com/Brownie44l1/aushadhi-api/internal/knowledge"
	"github.com/Brownie44l1/aushadhi-api/internal/model"
	"github.com/Brownie44l1/aushadhi-api/internal/pipeline"
)

// Options tunes request handling.
type Options struct {
	MaxUploadBytes int64
	RequestTimeout time.Duration
	Logger         *zap.SugaredLogger
}

type Handler struct {
	pipeline       *pipeline.Pipeline
	maxUploadBytes int64
	requestTimeout time.Duration
	logger         *zap.SugaredLogger
}

// PredictionRequest carries a raw NHWC image already scaled into [0, 1].
type PredictionRequest struct {
	Image []float32 `json:"image" binding:"required"`
}

// URLRequest names an image to fetch.
type URLRequest struct {
	URL string `json:"url" binding:"required"`
}

func NewHandler(p *pipeline.Pipeline, opts Options) *Handler {
	h := &Handler{
		pipeline:       p,
		maxUploadBytes: opts.MaxUploadBytes,
		requestTimeout: opts.RequestTimeout,
		logger:         opts.Logger,
	}
	if h.maxUploadBytes <= 0 {
		h.maxUploadBytes = 10 << 20
	}
	if h.requestTimeout <= 0 {
		h.requestTimeout = 30 * time.Second
	}
	if h.logger == nil {
		h.logger = zap.NewNop().Sugar()
	}
	return h
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) Labels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": h.pipeline.Catalog().Labels()})
}

// Predict accepts the raw tensor values, skipping image decoding.
func (h *Handler) Predict(c *gin.Context) {
	var req PredictionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	g := h.pipeline.Geometry()
	if len(req.Image) != g.Size() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("Expected %d values, got %d", g.Size(), len(req.Image)),
		})
		return
	}
	input, err := imaging.FromValues(req.Image, g)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()
	result, err := h.pipeline.PredictTensor(ctx, input)
	h.respond(c, result, err)
}

// PredictFromImage accepts a multipart upload in the "image" field.
func (h *Handler) PredictFromImage(c *gin.Context) {
	// the limit leaves room for multipart framing around the file itself
	limit := h.maxUploadBytes + 1<<20
	if c.Request.ContentLength > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	header, err := c.FormFile("image")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No image file provided. Use 'image' as the form field name"})
		return
	}
	if header.Size > h.maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
		return
	}

	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read uploaded file"})
		return
	}
	defer file.Close()

	h.logger.Debugw("received upload", "filename", header.Filename, "bytes", header.Size)

	ctx, cancel := h.requestContext(c)
	defer cancel()
	result, err := h.pipeline.PredictReader(ctx, file)
	h.respond(c, result, err)
}

// PredictFromURL fetches the image named in the JSON body.
func (h *Handler) PredictFromURL(c *gin.Context) {
	var req URLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}
	if !imaging.IsURL(req.URL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url must be http or https"})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()
	result, err := h.pipeline.Predict(ctx, req.URL)
	h.respond(c, result, err)
}

func (h *Handler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.requestTimeout)
}

func (h *Handler) respond(c *gin.Context, result *pipeline.Result, err error) {
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			h.logger.Errorw("prediction failed", "error", err)
		} else {
			h.logger.Infow("prediction rejected", "status", status, "error", err)
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, imaging.ErrImageLoad),
		errors.Is(err, imaging.ErrUnsupportedGeometry),
		errors.Is(err, model.ErrInputShape):
		return http.StatusBadRequest
	case errors.Is(err, knowledge.ErrUnknownLabel):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
