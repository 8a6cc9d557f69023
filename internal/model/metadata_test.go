package model

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMetadataDefaults(t *testing.T) {
	md, found, err := LoadMetadata(filepath.Join(t.TempDir(), "missing.json"), VariantBinaryCNN)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "PneumoniaCNN", md.ModelType)
	assert.Equal(t, []int64{1, 3, 224, 224}, md.InputShape)
	assert.Equal(t, []int64{1, 1}, md.OutputShape)
	assert.Equal(t, []string{"Normal", "Pneumonia"}, md.Classes)
	assert.Equal(t, []int{32, 64, 128}, md.Architecture.ConvChannels)

	md, _, err = LoadMetadata("", VariantImageNetHeuristic)
	require.NoError(t, err)
	assert.Equal(t, "DenseNet121-ImageNet", md.ModelType)
	assert.Equal(t, []int{18, 19, 20}, md.HeuristicClasses)
	assert.Equal(t, []int64{1, 1000}, md.OutputShape)
}

func TestLoadMetadataFile(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "model_metadata.json", `{
		"model_type": "TinyCNN",
		"image_size": 64,
		"output_is_logit": true,
		"architecture": {"conv_channels": [8, 16], "kernel_size": 5, "hidden_units": 32}
	}`)

	md, found, err := LoadMetadata(path, VariantBinaryCNN)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "TinyCNN", md.ModelType)
	assert.Equal(t, 64, md.Preprocess.Width)
	assert.Equal(t, 64, md.Preprocess.Height)
	assert.Equal(t, []int64{1, 3, 64, 64}, md.InputShape)
	assert.True(t, md.OutputIsLogit)
	assert.Equal(t, Architecture{ConvChannels: []int{8, 16}, KernelSize: 5, HiddenUnits: 32}, md.Architecture)
}

func TestLoadMetadataPreprocessOverride(t *testing.T) {
	path := writeFile(t, t.TempDir(), "md.json", `{
		"preprocess": {"width": 300, "height": 200, "layout": "nhwc", "normalization": "zero_one"},
		"output_shape": [1, 1000]
	}`)

	md, _, err := LoadMetadata(path, VariantImageNetHeuristic)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 200, 300, 3}, md.InputShape)
	assert.Equal(t, preprocess.NormalizeZeroOne, md.Preprocess.Normalization)
	assert.Equal(t, preprocess.InterpolationBilinear, md.Preprocess.Interpolation)
}

func TestLoadMetadataErrors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		variant Variant
		target  error
	}{
		{"bad json", `{"model_type":`, VariantBinaryCNN, nil},
		{"binary with many outputs", `{"output_shape": [1, 2]}`, VariantBinaryCNN, ErrUnsupported},
		{"heuristic index out of range", `{"output_shape": [1, 10], "heuristic_classes": [18]}`, VariantImageNetHeuristic, ErrUnsupported},
		{"unknown layout", `{"preprocess": {"layout": "planar"}}`, VariantBinaryCNN, nil},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, fmt.Sprintf("case%d.json", i), tt.content)
			_, _, err := LoadMetadata(path, tt.variant)
			require.Error(t, err)
			if tt.target != nil {
				assert.True(t, errors.Is(err, tt.target), "got %v", err)
			}
		})
	}
}
