package model

import (
	"context"
	"fmt"
	"image"
	"os"
	"sync"

	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// cnnClassifier executes the binary CNN as a gorgonia graph. The graph and
// its tape machine are built once; forward passes are serialised.
type cnnClassifier struct {
	mu            sync.Mutex
	g             *G.ExprGraph
	input         *G.Node
	output        *G.Node
	vm            G.VM
	pre           *preprocess.Preprocessor
	metadata      Metadata
	threshold     float64
	weightsLoaded bool
	log           logrus.FieldLogger
}

func newCNNClassifier(cfg Config, md Metadata) (*cnnClassifier, error) {
	if cfg.Device != DeviceAuto && cfg.Device != DeviceCPU {
		return nil, errors.Wrapf(ErrUnsupported, "native backend runs on cpu, not %s", cfg.Device)
	}
	if md.Preprocess.Layout != preprocess.LayoutNCHW {
		return nil, errors.Wrapf(ErrUnsupported, "native backend needs %s input, got %s", preprocess.LayoutNCHW, md.Preprocess.Layout)
	}
	pre, err := preprocess.New(md.Preprocess)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger.WithField("weights", cfg.WeightsFile)

	var weights Weights
	switch _, statErr := os.Stat(cfg.WeightsFile); {
	case statErr == nil:
		weights, err = LoadWeights(cfg.WeightsFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load weights")
		}
	case os.IsNotExist(statErr) && cfg.AllowUntrained:
		log.Warn("weights file not found, using untrained weights")
	default:
		return nil, errors.Wrapf(ErrWeights, "weights file %s: %v", cfg.WeightsFile, statErr)
	}

	g := G.NewGraph()
	input, output, err := buildCNN(g, md.Architecture, pre.Config(), weights)
	if err != nil {
		return nil, err
	}

	c := &cnnClassifier{
		g:             g,
		input:         input,
		output:        output,
		vm:            G.NewTapeMachine(g),
		pre:           pre,
		metadata:      md,
		threshold:     cfg.Threshold,
		weightsLoaded: weights != nil,
		log:           log,
	}
	log.WithFields(logrus.Fields{
		"architecture":   md.Architecture,
		"input_size":     inputSize(pre.Config()),
		"weights_loaded": c.weightsLoaded,
	}).Info("CNN model loaded")
	return c, nil
}

// buildCNN assembles conv/relu/pool blocks followed by two dense layers and a
// sigmoid. With nil weights the parameters are Glorot-initialised.
//
// Arguments:
//   - g: The graph to build into.
//   - arch: The layer configuration.
//   - pre: The input configuration (NCHW, 3 channels).
//   - weights: The trained tensors, or nil.
//
// Returns:
//   - *G.Node: The input placeholder of shape (1, 3, H, W).
//   - *G.Node: The (1, 1) probability output.
//   - error: ErrWeights for missing or mis-shaped tensors, ErrUnsupported for
//     an architecture that does not fit the input.
func buildCNN(g *G.ExprGraph, arch Architecture, pre preprocess.Config, weights Weights) (*G.Node, *G.Node, error) {
	if len(arch.ConvChannels) == 0 || arch.KernelSize <= 0 || arch.KernelSize%2 == 0 || arch.HiddenUnits <= 0 {
		return nil, nil, errors.Wrapf(ErrUnsupported, "invalid architecture %+v", arch)
	}

	b := &graphBuilder{g: g, weights: weights}
	input := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(1, preprocess.Channels, pre.Height, pre.Width), G.WithName("input"))

	k := arch.KernelSize
	h, w, inCh := pre.Height, pre.Width, preprocess.Channels
	x := input
	for i, outCh := range arch.ConvChannels {
		prefix := fmt.Sprintf("conv%d", i+1)
		filter := b.param(prefix+".weight", tensor.Shape{outCh, inCh, k, k}, nil, G.GlorotU(1))
		bias := b.param(prefix+".bias", tensor.Shape{outCh}, tensor.Shape{1, outCh, 1, 1}, G.Zeroes())
		if b.err != nil {
			return nil, nil, b.err
		}

		conv, err := G.Conv2d(x, filter, tensor.Shape{k, k}, []int{k / 2, k / 2}, []int{1, 1}, []int{1, 1})
		if err != nil {
			return nil, nil, errors.Wrapf(err, "%s conv", prefix)
		}
		if conv, err = G.BroadcastAdd(conv, bias, nil, []byte{2, 3}); err != nil {
			return nil, nil, errors.Wrapf(err, "%s bias", prefix)
		}
		if conv, err = G.Rectify(conv); err != nil {
			return nil, nil, errors.Wrapf(err, "%s relu", prefix)
		}
		if x, err = G.MaxPool2D(conv, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2}); err != nil {
			return nil, nil, errors.Wrapf(err, "%s pool", prefix)
		}

		h, w, inCh = h/2, w/2, outCh
		if h == 0 || w == 0 {
			return nil, nil, errors.Wrapf(ErrUnsupported, "input %dx%d too small for %d pooling stages",
				pre.Height, pre.Width, len(arch.ConvChannels))
		}
	}

	flat := inCh * h * w
	x, err := G.Reshape(x, tensor.Shape{1, flat})
	if err != nil {
		return nil, nil, errors.Wrap(err, "flatten")
	}

	hidden, err := b.dense(x, "fc1", flat, arch.HiddenUnits)
	if err != nil {
		return nil, nil, err
	}
	if hidden, err = G.Rectify(hidden); err != nil {
		return nil, nil, errors.Wrap(err, "fc1 relu")
	}
	logit, err := b.dense(hidden, "fc2", arch.HiddenUnits, 1)
	if err != nil {
		return nil, nil, err
	}
	prob, err := G.Sigmoid(logit)
	if err != nil {
		return nil, nil, errors.Wrap(err, "sigmoid")
	}
	return input, prob, nil
}

// graphBuilder creates parameter nodes, remembering the first error.
type graphBuilder struct {
	g       *G.ExprGraph
	weights Weights
	err     error
}

// param creates the node for a named parameter. stored is the state_dict
// shape; graph, when set, is the shape used inside the graph.
func (b *graphBuilder) param(name string, stored, graph tensor.Shape, init G.InitWFn) *G.Node {
	if b.err != nil {
		return nil
	}
	if graph == nil {
		graph = stored
	}
	opts := []G.NodeConsOpt{G.WithShape(graph...), G.WithName(name)}
	if b.weights == nil {
		opts = append(opts, G.WithInit(init))
	} else {
		t, err := b.weights.take(name, stored, graph)
		if err != nil {
			b.err = err
			return nil
		}
		opts = append(opts, G.WithValue(t))
	}
	return G.NewTensor(b.g, tensor.Float32, len(graph), opts...)
}

// dense applies a PyTorch style Linear layer: x·Wᵀ + b.
func (b *graphBuilder) dense(x *G.Node, prefix string, in, out int) (*G.Node, error) {
	weight := b.param(prefix+".weight", tensor.Shape{out, in}, nil, G.GlorotU(1))
	bias := b.param(prefix+".bias", tensor.Shape{out}, tensor.Shape{1, out}, G.Zeroes())
	if b.err != nil {
		return nil, b.err
	}
	wt, err := G.Transpose(weight)
	if err != nil {
		return nil, errors.Wrapf(err, "%s transpose", prefix)
	}
	y, err := G.Mul(x, wt)
	if err != nil {
		return nil, errors.Wrapf(err, "%s matmul", prefix)
	}
	if y, err = G.Add(y, bias); err != nil {
		return nil, errors.Wrapf(err, "%s bias", prefix)
	}
	return y, nil
}

// Predict implements Classifier.
func (c *cnnClassifier) Predict(ctx context.Context, img image.Image) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := c.pre.Tensor(img)
	if err != nil {
		return nil, err
	}
	cfg := c.pre.Config()
	in := tensor.New(tensor.WithShape(1, preprocess.Channels, cfg.Height, cfg.Width), tensor.WithBacking(data))

	p, err := c.forward(in)
	if err != nil {
		return nil, err
	}
	return BinaryDecision(p, c.threshold)
}

func (c *cnnClassifier) forward(in tensor.Tensor) (float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vm == nil {
		return 0, ErrClosed
	}
	defer c.vm.Reset()

	if err := G.Let(c.input, in); err != nil {
		return 0, errors.Wrap(ErrInference, err.Error())
	}
	if err := c.vm.RunAll(); err != nil {
		return 0, errors.Wrap(ErrInference, err.Error())
	}
	return scalar(c.output.Value())
}

func scalar(v G.Value) (float32, error) {
	if v == nil {
		return 0, errors.Wrap(ErrInference, "graph produced no output")
	}
	switch data := v.Data().(type) {
	case float32:
		return data, nil
	case []float32:
		if len(data) == 0 {
			return 0, errors.Wrap(ErrInference, "empty output tensor")
		}
		return data[0], nil
	default:
		return 0, errors.Wrapf(ErrInference, "unexpected output type %T", data)
	}
}

// Info implements Classifier.
func (c *cnnClassifier) Info() Info {
	return Info{
		ModelType:     c.metadata.ModelType,
		Device:        string(DeviceCPU),
		WeightsLoaded: c.weightsLoaded,
		InputSize:     inputSize(c.pre.Config()),
		Classes:       append([]string(nil), Classes...),
	}
}

// Close implements Classifier.
func (c *cnnClassifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.vm == nil {
		return nil
	}
	err := c.vm.Close()
	c.vm = nil
	return err
}
