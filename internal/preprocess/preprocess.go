// Package preprocess - Fixed resize/normalize pipeline that turns an X-ray into a model tensor.
package preprocess

import (
	"image"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
)

// Normalization defines how 8-bit pixel values are mapped to floats.
type Normalization string

const (
	// NormalizeZeroOne scales pixel values to [0, 1].
	NormalizeZeroOne Normalization = "zero_one"
	// NormalizeMinusOneOne scales pixel values to [-1, 1].
	NormalizeMinusOneOne Normalization = "minus_one_one"
	// NormalizeImageNet scales to [0, 1] and then standardizes per channel
	// with the ImageNet mean and std (torch-style preprocessing).
	NormalizeImageNet Normalization = "imagenet"
)

// Layout is the memory ordering of the produced tensor.
type Layout string

const (
	// LayoutNCHW is batch, channel, height, width.
	LayoutNCHW Layout = "nchw"
	// LayoutNHWC is batch, height, width, channel.
	LayoutNHWC Layout = "nhwc"
)

// Interpolation selects the resampling filter used when resizing.
type Interpolation string

const (
	InterpolationNearest  Interpolation = "nearest"
	InterpolationBilinear Interpolation = "bilinear"
	InterpolationBicubic  Interpolation = "bicubic"
	InterpolationLanczos  Interpolation = "lanczos"
)

// Channels is the number of channels every tensor carries. Grayscale
// radiographs are expanded to RGB.
const Channels = 3

var (
	imageNetMean = [Channels]float32{0.485, 0.456, 0.406}
	imageNetStd  = [Channels]float32{0.229, 0.224, 0.225}
)

// Config describes the preprocessing expected by a model.
type Config struct {
	// Width is the model input width.
	Width int `json:"width" yaml:"width"`
	// Height is the model input height.
	Height int `json:"height" yaml:"height"`
	// Normalization is the pixel normalization preset.
	Normalization Normalization `json:"normalization" yaml:"normalization"`
	// Layout is the tensor memory layout.
	Layout Layout `json:"layout" yaml:"layout"`
	// Interpolation is the resize filter.
	Interpolation Interpolation `json:"interpolation" yaml:"interpolation"`
}

// DefaultConfig returns the 224x224 NCHW ImageNet preset shared by both variants.
func DefaultConfig() Config {
	return Config{
		Width:         224,
		Height:        224,
		Normalization: NormalizeImageNet,
		Layout:        LayoutNCHW,
		Interpolation: InterpolationBilinear,
	}
}

// Validate checks the configuration and fills empty fields with defaults.
//
// Returns:
//   - error: An error if a field holds an unknown value.
func (c *Config) Validate() error {
	def := DefaultConfig()
	if c.Width == 0 {
		c.Width = def.Width
	}
	if c.Height == 0 {
		c.Height = def.Height
	}
	if c.Width < 0 || c.Height < 0 {
		return errors.Errorf("invalid input size %dx%d", c.Width, c.Height)
	}
	switch c.Normalization {
	case "":
		c.Normalization = def.Normalization
	case NormalizeZeroOne, NormalizeMinusOneOne, NormalizeImageNet:
	default:
		return errors.Errorf("unknown normalization %q", c.Normalization)
	}
	switch c.Layout {
	case "":
		c.Layout = def.Layout
	case LayoutNCHW, LayoutNHWC:
	default:
		return errors.Errorf("unknown layout %q", c.Layout)
	}
	switch c.Interpolation {
	case "":
		c.Interpolation = def.Interpolation
	case InterpolationNearest, InterpolationBilinear, InterpolationBicubic, InterpolationLanczos:
	default:
		return errors.Errorf("unknown interpolation %q", c.Interpolation)
	}
	return nil
}

// Shape returns the batched tensor shape for the configured layout.
func (c Config) Shape() []int64 {
	if c.Layout == LayoutNHWC {
		return []int64{1, int64(c.Height), int64(c.Width), Channels}
	}
	return []int64{1, Channels, int64(c.Height), int64(c.Width)}
}

// Size returns the number of float32 values in one preprocessed image.
func (c Config) Size() int {
	return Channels * c.Width * c.Height
}

// Preprocessor resizes and normalizes images into float32 tensors.
type Preprocessor struct {
	config Config
}

// New creates a Preprocessor, validating the configuration first.
//
// Arguments:
//   - config: The preprocessing configuration.
//
// Returns:
//   - *Preprocessor: The preprocessor.
//   - error: An error if the configuration is invalid.
func New(config Config) (*Preprocessor, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid preprocess config")
	}
	return &Preprocessor{config: config}, nil
}

// Config returns the validated configuration.
func (p *Preprocessor) Config() Config {
	return p.config
}

// Tensor converts img into a freshly allocated tensor.
func (p *Preprocessor) Tensor(img image.Image) ([]float32, error) {
	dst := make([]float32, p.config.Size())
	if err := p.Into(img, dst); err != nil {
		return nil, err
	}
	return dst, nil
}

// Into writes the preprocessed image into dst, which must hold exactly
// Config.Size() values.
//
// Arguments:
//   - img: The decoded source image.
//   - dst: The destination buffer, typically the backing slice of an input tensor.
//
// Returns:
//   - error: ErrInputShape if dst has the wrong length.
func (p *Preprocessor) Into(img image.Image, dst []float32) error {
	if img == nil || img.Bounds().Empty() {
		return errors.Wrap(ErrImageDecode, "image is empty")
	}
	if len(dst) != p.config.Size() {
		return errors.Wrapf(ErrInputShape, "destination holds %d floats, needs %d", len(dst), p.config.Size())
	}

	width, height := p.config.Width, p.config.Height
	resized := resize.Resize(uint(width), uint(height), img, p.filter())
	bounds := resized.Bounds()
	plane := width * height

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := resized.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			px := [Channels]float32{
				float32(r>>8) / 255.0,
				float32(g>>8) / 255.0,
				float32(b>>8) / 255.0,
			}
			i := y*width + x
			for c := 0; c < Channels; c++ {
				v := p.normalize(px[c], c)
				if p.config.Layout == LayoutNHWC {
					dst[i*Channels+c] = v
				} else {
					dst[c*plane+i] = v
				}
			}
		}
	}
	return nil
}

func (p *Preprocessor) normalize(v float32, channel int) float32 {
	switch p.config.Normalization {
	case NormalizeMinusOneOne:
		return v*2 - 1
	case NormalizeImageNet:
		return (v - imageNetMean[channel]) / imageNetStd[channel]
	default:
		return v
	}
}

func (p *Preprocessor) filter() resize.InterpolationFunction {
	switch p.config.Interpolation {
	case InterpolationNearest:
		return resize.NearestNeighbor
	case InterpolationBicubic:
		return resize.Bicubic
	case InterpolationLanczos:
		return resize.Lanczos3
	default:
		return resize.Bilinear
	}
}
