package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, int64(10<<20), cfg.Server.MaxUploadBytes)
	assert.Equal(t, "binary-cnn", cfg.Model.Variant)
	assert.Empty(t, cfg.Model.Backend)
	assert.Equal(t, "auto", cfg.Model.Device)
	assert.Equal(t, 0.5, cfg.Model.Threshold)
	assert.Equal(t, "models", filepath.Base(cfg.Model.Dir))
	assert.Equal(t, ":5000", cfg.Server.Addr())
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 8080
  static_dir: ./frontend/build
  read_timeout: 5s
model:
  variant: imagenet-heuristic
  backend: onnx
  dir: /srv/models
  device: cpu
log:
  level: debug
  format: json
`)
	clearEnv(t)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "./frontend/build", cfg.Server.StaticDir)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "imagenet-heuristic", cfg.Model.Variant)
	assert.Equal(t, 0.5, cfg.Model.Threshold)

	mc := cfg.Model.ToModelConfig(logrus.New())
	assert.Equal(t, model.VariantImageNetHeuristic, mc.Variant)
	assert.Equal(t, model.BackendONNX, mc.Backend)
	assert.Equal(t, model.DeviceCPU, mc.Device)
	assert.Equal(t, "/srv/models", mc.Dir)

	logger := cfg.Log.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logger.Formatter)
}

func clearEnv(t *testing.T) {
	for _, key := range []string{"PORT", "XRAY_MODEL_DIR", "XRAY_VARIANT", "XRAY_BACKEND", "XRAY_DEVICE", "XRAY_LOG_LEVEL"} {
		t.Setenv(key, "")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("XRAY_MODEL_DIR", "/data/models")
	t.Setenv("XRAY_BACKEND", "onnx")
	t.Setenv("XRAY_DEVICE", "cuda")
	t.Setenv("XRAY_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/data/models", cfg.Model.Dir)
	assert.Equal(t, "onnx", cfg.Model.Backend)
	assert.Equal(t, "cuda", cfg.Model.Device)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		content string
	}{
		{"bad yaml", "server: [port"},
		{"bad port", "server:\n  port: 70000"},
		{"bad variant", "model:\n  variant: resnet"},
		{"bad backend", "model:\n  backend: tflite"},
		{"bad device", "model:\n  device: tpu"},
		{"bad threshold", "model:\n  threshold: 1"},
		{"bad level", "log:\n  level: loud"},
		{"bad format", "log:\n  format: xml"},
		{"bad upload limit", "server:\n  max_upload_bytes: -1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	t.Setenv("PORT", "http")
	_, err = Load("")
	assert.Error(t, err)
}

func TestLoadVariantOnlyOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("XRAY_VARIANT", "imagenet-heuristic")
	t.Setenv("XRAY_MODEL_DIR", t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.Model.Backend)

	// The heuristic resolves to the onnx backend, which then fails on the
	// missing model file rather than on the variant/backend combination.
	_, err = model.New(cfg.Model.ToModelConfig(logrus.New()))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrWeights), "got %v", err)
	assert.False(t, errors.Is(err, model.ErrUnsupported), "got %v", err)
}
