package model

import (
	"context"
	"image"
	"os"
	"sync"

	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// The ONNX Runtime environment is process-wide; sessions share it.
var (
	envMu   sync.Mutex
	envRefs int
)

func acquireEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if envRefs == 0 {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return errors.Wrap(err, "failed to initialize ONNX environment")
		}
	}
	envRefs++
	return nil
}

func releaseEnvironment() {
	envMu.Lock()
	defer envMu.Unlock()
	envRefs--
	if envRefs == 0 {
		ort.DestroyEnvironment()
	}
}

// onnxClassifier runs an exported model through ONNX Runtime. Both variants
// share it; the variant only changes how the output is read.
type onnxClassifier struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	pre          *preprocess.Preprocessor
	metadata     Metadata
	variant      Variant
	threshold    float64
	device       Device
	log          logrus.FieldLogger
}

func newONNXClassifier(cfg Config, md Metadata) (*onnxClassifier, error) {
	if _, err := os.Stat(cfg.ModelFile); err != nil {
		return nil, errors.Wrapf(ErrWeights, "model file %s: %v", cfg.ModelFile, err)
	}

	pre, err := preprocess.New(md.Preprocess)
	if err != nil {
		return nil, err
	}

	if err := acquireEnvironment(cfg.SharedLibraryPath); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(md.InputShape...))
	if err != nil {
		releaseEnvironment()
		return nil, errors.Wrap(err, "failed to create input tensor")
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(md.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		releaseEnvironment()
		return nil, errors.Wrap(err, "failed to create output tensor")
	}

	c := &onnxClassifier{
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		pre:          pre,
		metadata:     md,
		variant:      cfg.Variant,
		threshold:    cfg.Threshold,
		log:          cfg.Logger.WithField("model", cfg.ModelFile),
	}

	var lastErr error
	for _, device := range cfg.Device.candidates() {
		session, err := c.openSession(cfg.ModelFile, device)
		if err != nil {
			lastErr = err
			c.log.WithError(err).WithField("device", device).Warn("execution provider unavailable")
			continue
		}
		c.session = session
		c.device = device
		break
	}
	if c.session == nil {
		c.Close()
		return nil, errors.Wrap(lastErr, "failed to create ONNX session")
	}

	c.log.WithFields(logrus.Fields{
		"device":      c.device,
		"input_shape": md.InputShape,
		"classes":     md.Classes,
	}).Info("ONNX model loaded")
	return c, nil
}

func (c *onnxClassifier) openSession(modelPath string, device Device) (*ort.AdvancedSession, error) {
	options, err := sessionOptions(device)
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	return ort.NewAdvancedSession(modelPath,
		[]string{c.metadata.InputName}, []string{c.metadata.OutputName},
		[]ort.ArbitraryTensor{c.inputTensor}, []ort.ArbitraryTensor{c.outputTensor},
		options)
}

// Predict implements Classifier.
func (c *onnxClassifier) Predict(ctx context.Context, img image.Image) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil, ErrClosed
	}

	if err := c.pre.Into(img, c.inputTensor.GetData()); err != nil {
		return nil, err
	}
	if err := c.session.Run(); err != nil {
		return nil, errors.Wrap(ErrInference, err.Error())
	}

	pred, idx, err := decodeOutput(c.variant, c.metadata, c.threshold, c.outputTensor.GetData())
	if err != nil {
		return nil, err
	}
	if idx >= 0 {
		c.log.WithFields(logrus.Fields{
			"argmax":     idx,
			"confidence": pred.Confidence,
		}).Debug("imagenet heuristic")
	}
	return pred, nil
}

// decodeOutput turns the raw output tensor into a Prediction. The returned
// index is the heuristic argmax, or -1 for the binary head.
func decodeOutput(variant Variant, md Metadata, threshold float64, output []float32) (*Prediction, int, error) {
	if variant == VariantImageNetHeuristic {
		return HeuristicDecision(output, md.HeuristicClasses)
	}

	if len(output) == 0 {
		return nil, -1, errors.Wrap(ErrInference, "empty model output")
	}
	p := output[0]
	if md.OutputIsLogit {
		p = Sigmoid(p)
	}
	pred, err := BinaryDecision(p, threshold)
	return pred, -1, err
}

// Info implements Classifier.
func (c *onnxClassifier) Info() Info {
	return Info{
		ModelType:     c.metadata.ModelType,
		Device:        string(c.device),
		WeightsLoaded: c.device != "",
		InputSize:     inputSize(c.pre.Config()),
		Classes:       append([]string(nil), Classes...),
	}
}

// Close implements Classifier.
func (c *onnxClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inputTensor == nil && c.outputTensor == nil && c.session == nil {
		return nil
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
		c.inputTensor = nil
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
		c.outputTensor = nil
	}
	var err error
	if c.session != nil {
		err = c.session.Destroy()
		c.session = nil
	}
	releaseEnvironment()
	return err
}
