// Package config loads service settings from config.yaml, .env and the
// environment, in increasing priority.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/Brownie44l1/aushadhi-api/internal/imaging"
)

// ServerConfig configures the demo HTTP server.
type ServerConfig struct {
	Port               string `yaml:"port"`
	MaxUploadMB        int    `yaml:"max_upload_mb"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
}

// ModelConfig locates the exported classifier.
type ModelConfig struct {
	Path              string `yaml:"path"`
	MetadataPath      string `yaml:"metadata_path"`
	SharedLibraryPath string `yaml:"shared_library_path"`
}

// DatasetConfig says where the label catalog comes from. Dir wins when set;
// LabelsFile lets a server start without the dataset mounted.
type DatasetConfig struct {
	Dir        string `yaml:"dir"`
	LabelsFile string `yaml:"labels_file"`
}

// ImageConfig configures preprocessing.
type ImageConfig struct {
	Height           int `yaml:"height"`
	Width            int `yaml:"width"`
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs"`
	MaxMB            int `yaml:"max_mb"`
}

// KnowledgeConfig optionally replaces the built-in plant descriptions.
type KnowledgeConfig struct {
	Path string `yaml:"path"`
}

// InferenceConfig tunes result shaping.
type InferenceConfig struct {
	TopK int `yaml:"top_k"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	Server    ServerConfig    `yaml:"server"`
	Model     ModelConfig     `yaml:"model"`
	Dataset   DatasetConfig   `yaml:"dataset"`
	Image     ImageConfig     `yaml:"image"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Inference InferenceConfig `yaml:"inference"`
	Log       LogConfig       `yaml:"log"`
}

// Geometry is the configured preprocessing geometry.
func (c *AppConfig) Geometry() imaging.Geometry {
	return imaging.Geometry{Height: c.Image.Height, Width: c.Image.Width}
}

// RequestTimeout bounds one HTTP prediction.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutSecs) * time.Second
}

// FetchTimeout bounds one image download.
func (c *AppConfig) FetchTimeout() time.Duration {
	return time.Duration(c.Image.FetchTimeoutSecs) * time.Second
}

// Load reads path, falling back to defaults when it does not exist, then
// applies .env and environment overrides.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parsing %q", path)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, err
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "loading .env")
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	applyConfigDefaults(cfg)
	return cfg, cfg.Validate()
}

// Save writes cfg as YAML, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks settings that would otherwise fail later at startup.
func (c *AppConfig) Validate() error {
	if err := c.Geometry().Validate(); err != nil {
		return errors.Wrap(err, "image")
	}
	if c.Dataset.Dir == "" && c.Dataset.LabelsFile == "" {
		return errors.New("dataset.dir or dataset.labels_file is required")
	}
	if c.Model.Path == "" || c.Model.MetadataPath == "" {
		return errors.New("model.path and model.metadata_path are required")
	}
	return nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{Port: "8080", MaxUploadMB: 10, RequestTimeoutSecs: 30},
		Model: ModelConfig{
			Path:         filepath.Join("models", "aushadhi.onnx"),
			MetadataPath: filepath.Join("models", "model_metadata.json"),
		},
		Dataset:   DatasetConfig{LabelsFile: filepath.Join("models", "labels.txt")},
		Image:     ImageConfig{Height: 128, Width: 128, FetchTimeoutSecs: 15, MaxMB: 10},
		Inference: InferenceConfig{TopK: 3},
		Log:       LogConfig{Level: "info"},
	}
}

// applyConfigDefaults fills zero values a partial config file left behind.
func applyConfigDefaults(cfg *AppConfig) {
	def := defaultConfig()
	if cfg.Server.Port == "" {
		cfg.Server.Port = def.Server.Port
	}
	if cfg.Server.MaxUploadMB <= 0 {
		cfg.Server.MaxUploadMB = def.Server.MaxUploadMB
	}
	if cfg.Server.RequestTimeoutSecs <= 0 {
		cfg.Server.RequestTimeoutSecs = def.Server.RequestTimeoutSecs
	}
	if cfg.Image.FetchTimeoutSecs <= 0 {
		cfg.Image.FetchTimeoutSecs = def.Image.FetchTimeoutSecs
	}
	if cfg.Image.MaxMB <= 0 {
		cfg.Image.MaxMB = def.Image.MaxMB
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
}

func applyEnv(cfg *AppConfig) error {
	strs := map[string]*string{
		"PORT":                   &cfg.Server.Port,
		"AUSHADHI_MODEL_PATH":    &cfg.Model.Path,
		"AUSHADHI_METADATA_PATH": &cfg.Model.MetadataPath,
		"AUSHADHI_DATASET_DIR":   &cfg.Dataset.Dir,
		"AUSHADHI_LABELS_FILE":   &cfg.Dataset.LabelsFile,
		"AUSHADHI_KNOWLEDGE":     &cfg.Knowledge.Path,
		"ONNXRUNTIME_LIB":        &cfg.Model.SharedLibraryPath,
		"AUSHADHI_LOG_LEVEL":     &cfg.Log.Level,
	}
	for key, dst := range strs {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	if v, ok := os.LookupEnv("AUSHADHI_IMAGE_SIZE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "AUSHADHI_IMAGE_SIZE")
		}
		cfg.Image.Height, cfg.Image.Width = n, n
	}
	if v, ok := os.LookupEnv("AUSHADHI_TOP_K"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrap(err, "AUSHADHI_TOP_K")
		}
		cfg.Inference.TopK = n
	}
	return nil
}
