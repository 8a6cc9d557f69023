// Package config loads the service configuration from YAML and the environment.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultMaxUploadBytes is the largest accepted image upload.
const DefaultMaxUploadBytes = 10 << 20

// Config is the full service configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Model  ModelConfig  `yaml:"model"`
	Log    LogConfig    `yaml:"log"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	CORS           bool          `yaml:"cors"`
	StaticDir      string        `yaml:"static_dir"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// ModelConfig selects the classifier.
type ModelConfig struct {
	Variant        string  `yaml:"variant"`
	Backend        string  `yaml:"backend"`
	Dir            string  `yaml:"dir"`
	ModelFile      string  `yaml:"model_file"`
	MetadataFile   string  `yaml:"metadata_file"`
	WeightsFile    string  `yaml:"weights_file"`
	Device         string  `yaml:"device"`
	Threshold      float64 `yaml:"threshold"`
	AllowUntrained bool    `yaml:"allow_untrained"`
	ORTLibrary     string  `yaml:"ort_library"`
}

// LogConfig configures logrus.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           5000,
			CORS:           true,
			MaxUploadBytes: DefaultMaxUploadBytes,
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   60 * time.Second,
		},
		Model: ModelConfig{
			Variant:   string(model.VariantBinaryCNN),
			Dir:       filepath.Join(ProjectRoot(), "models"),
			Device:    string(model.DeviceAuto),
			Threshold: model.DefaultThreshold,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// ProjectRoot returns the working directory, or the repository root when the
// binary is started from cmd/server.
func ProjectRoot() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	if filepath.Base(wd) == "server" && filepath.Base(filepath.Dir(wd)) == "cmd" {
		return filepath.Join(wd, "..", "..")
	}
	return wd
}

// Load reads the YAML file at path over the defaults and applies the
// environment overrides. An empty path skips the file.
//
// Arguments:
//   - path: Path to the YAML config file, may be empty.
//
// Returns:
//   - Config: The validated configuration.
//   - error: An error if the file is unreadable or a value is invalid.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, errors.Wrap(err, "failed to read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid PORT %q", v)
		}
		c.Server.Port = port
	}
	overrides := map[string]*string{
		"XRAY_MODEL_DIR": &c.Model.Dir,
		"XRAY_VARIANT":   &c.Model.Variant,
		"XRAY_BACKEND":   &c.Model.Backend,
		"XRAY_DEVICE":    &c.Model.Device,
		"XRAY_LOG_LEVEL": &c.Log.Level,
	}
	for key, field := range overrides {
		if v, ok := lookup(key); ok && v != "" {
			*field = v
		}
	}
	return nil
}

// Validate checks the values that can be checked without loading a model.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Server.MaxUploadBytes <= 0 {
		return errors.Errorf("max_upload_bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	switch model.Variant(c.Model.Variant) {
	case model.VariantBinaryCNN, model.VariantImageNetHeuristic:
	default:
		return errors.Errorf("unknown model variant %q", c.Model.Variant)
	}
	// An empty backend lets the model package pick one for the variant.
	switch model.Backend(c.Model.Backend) {
	case "", model.BackendNative, model.BackendONNX:
	default:
		return errors.Errorf("unknown model backend %q", c.Model.Backend)
	}
	if _, err := model.ParseDevice(c.Model.Device); err != nil {
		return err
	}
	if c.Model.Threshold <= 0 || c.Model.Threshold >= 1 {
		return errors.Errorf("threshold %v must be in (0, 1)", c.Model.Threshold)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log level")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Errorf("unknown log format %q", c.Log.Format)
	}
	return nil
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}

// ToModelConfig converts the model section for model.New.
func (m ModelConfig) ToModelConfig(logger logrus.FieldLogger) model.Config {
	device, _ := model.ParseDevice(m.Device)
	return model.Config{
		Variant:           model.Variant(m.Variant),
		Backend:           model.Backend(m.Backend),
		Dir:               m.Dir,
		ModelFile:         m.ModelFile,
		MetadataFile:      m.MetadataFile,
		WeightsFile:       m.WeightsFile,
		Device:            device,
		Threshold:         m.Threshold,
		AllowUntrained:    m.AllowUntrained,
		SharedLibraryPath: m.ORTLibrary,
		Logger:            logger,
	}
}

// NewLogger builds a logrus logger from the log section.
func (l LogConfig) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(l.Level); err == nil {
		logger.SetLevel(level)
	}
	if strings.EqualFold(l.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
