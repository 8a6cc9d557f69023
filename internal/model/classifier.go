// Package model - Chest X-ray classifiers and the runtimes that execute them.
package model

import (
	"context"
	"image"
	"path/filepath"

	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Classifier labels a chest X-ray as Normal or Pneumonia.
type Classifier interface {
	// Predict runs one forward pass on img.
	Predict(ctx context.Context, img image.Image) (*Prediction, error)
	// Info describes the loaded model.
	Info() Info
	// Close releases the model resources.
	Close() error
}

// Default file names looked up in Config.Dir.
const (
	DefaultMetadataFile  = "model_metadata.json"
	DefaultWeightsFile   = "pneumonia_cnn.npz"
	DefaultCNNModelFile  = "pneumonia_cnn.onnx"
	DefaultImageNetModel = "densenet121.onnx"
)

// Config selects and locates a classifier.
type Config struct {
	Variant Variant
	Backend Backend
	// Dir is the model directory; relative file names resolve against it.
	Dir          string
	ModelFile    string
	MetadataFile string
	WeightsFile  string
	Device       Device
	Threshold    float64
	// AllowUntrained lets the native CNN start with random weights when the
	// weights file is missing.
	AllowUntrained bool
	// SharedLibraryPath overrides the ONNX Runtime library location.
	SharedLibraryPath string
	Logger            logrus.FieldLogger
}

// withDefaults fills empty fields and resolves relative paths.
func (c Config) withDefaults() Config {
	if c.Variant == "" {
		c.Variant = VariantBinaryCNN
	}
	if c.Backend == "" {
		if c.Variant == VariantImageNetHeuristic {
			c.Backend = BackendONNX
		} else {
			c.Backend = BackendNative
		}
	}
	if c.Device == "" {
		c.Device = DeviceAuto
	}
	if c.Threshold == 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MetadataFile == "" {
		c.MetadataFile = DefaultMetadataFile
	}
	if c.WeightsFile == "" {
		c.WeightsFile = DefaultWeightsFile
	}
	if c.ModelFile == "" {
		if c.Variant == VariantImageNetHeuristic {
			c.ModelFile = DefaultImageNetModel
		} else {
			c.ModelFile = DefaultCNNModelFile
		}
	}
	c.MetadataFile = c.resolve(c.MetadataFile)
	c.WeightsFile = c.resolve(c.WeightsFile)
	c.ModelFile = c.resolve(c.ModelFile)
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	return c
}

func (c Config) resolve(name string) string {
	if name == "" || filepath.IsAbs(name) || c.Dir == "" {
		return name
	}
	return filepath.Join(c.Dir, name)
}

// New builds the classifier described by cfg. The returned classifier owns
// native resources and must be closed.
//
// Arguments:
//   - cfg: The variant, backend and file locations.
//
// Returns:
//   - Classifier: The loaded classifier.
//   - error: ErrUnsupported for invalid combinations, or a load error.
func New(cfg Config) (Classifier, error) {
	cfg = cfg.withDefaults()
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		return nil, errors.Wrapf(ErrUnsupported, "threshold %v must be in (0, 1)", cfg.Threshold)
	}

	md, found, err := LoadMetadata(cfg.MetadataFile, cfg.Variant)
	if err != nil {
		return nil, err
	}
	log := cfg.Logger.WithFields(logrus.Fields{
		"variant": cfg.Variant,
		"backend": cfg.Backend,
	})
	if !found {
		log.WithField("path", cfg.MetadataFile).Debug("metadata file not found, using defaults")
	}

	switch {
	case cfg.Variant == VariantBinaryCNN && cfg.Backend == BackendNative:
		return newCNNClassifier(cfg, md)
	case cfg.Variant == VariantBinaryCNN && cfg.Backend == BackendONNX,
		cfg.Variant == VariantImageNetHeuristic && cfg.Backend == BackendONNX:
		return newONNXClassifier(cfg, md)
	case cfg.Variant == VariantImageNetHeuristic:
		return nil, errors.Wrapf(ErrUnsupported, "variant %s requires the %s backend", cfg.Variant, BackendONNX)
	default:
		return nil, errors.Wrapf(ErrUnsupported, "variant %q with backend %q", cfg.Variant, cfg.Backend)
	}
}

// PredictPneumonia loads the image at path and classifies it.
//
// Arguments:
//   - ctx: Cancels the call before the forward pass starts.
//   - c: The classifier.
//   - path: Path to a JPEG or PNG chest X-ray.
//
// Returns:
//   - *Prediction: Label, confidence percentage and optional raw score.
//   - error: ErrImageNotFound, ErrImageDecode, ErrInference, or a context error.
func PredictPneumonia(ctx context.Context, c Classifier, path string) (*Prediction, error) {
	img, _, err := preprocess.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return c.Predict(ctx, img)
}

func inputSize(cfg preprocess.Config) []int {
	return []int{cfg.Height, cfg.Width}
}
