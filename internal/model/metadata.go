package model

import (
	"encoding/json"
	"os"

	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/pkg/errors"
)

// DefaultMetadata returns the metadata used when no metadata file ships with
// the model.
func DefaultMetadata(variant Variant) Metadata {
	pre := preprocess.DefaultConfig()
	md := Metadata{
		InputName:  "input",
		OutputName: "output",
		Classes:    append([]string(nil), Classes...),
		ImageSize:  pre.Width,
		Preprocess: pre,
	}
	switch variant {
	case VariantImageNetHeuristic:
		md.ModelType = "DenseNet121-ImageNet"
		md.OutputShape = []int64{1, 1000}
		md.HeuristicClasses = append([]int(nil), DefaultHeuristicClasses...)
	default:
		md.ModelType = "PneumoniaCNN"
		md.OutputShape = []int64{1, 1}
		md.Architecture = Architecture{
			ConvChannels: []int{32, 64, 128},
			KernelSize:   3,
			HiddenUnits:  512,
		}
	}
	md.InputShape = pre.Shape()
	return md
}

// LoadMetadata reads the metadata JSON at path on top of the variant defaults.
// A missing file is not an error; the defaults are returned as-is.
//
// Arguments:
//   - path: Path to the metadata JSON file, may be empty.
//   - variant: The model variant whose defaults are used.
//
// Returns:
//   - Metadata: The merged, validated metadata.
//   - bool: Whether a metadata file was read.
//   - error: An error if the file is unreadable or invalid.
func LoadMetadata(path string, variant Variant) (Metadata, bool, error) {
	md := DefaultMetadata(variant)
	found := false

	if path != "" {
		raw, err := os.ReadFile(path)
		switch {
		case err == nil:
			def := md
			if err := json.Unmarshal(raw, &md); err != nil {
				return Metadata{}, false, errors.Wrap(err, "failed to parse metadata")
			}
			// image_size alone resizes the default square input.
			if md.ImageSize != def.ImageSize &&
				md.Preprocess.Width == def.Preprocess.Width &&
				md.Preprocess.Height == def.Preprocess.Height {
				md.Preprocess.Width, md.Preprocess.Height = md.ImageSize, md.ImageSize
			}
			found = true
		case os.IsNotExist(err):
		default:
			return Metadata{}, false, errors.Wrap(err, "failed to read metadata")
		}
	}

	if err := md.normalize(variant); err != nil {
		return Metadata{}, found, err
	}
	return md, found, nil
}

// normalize fills derived fields and checks the metadata is usable.
func (m *Metadata) normalize(variant Variant) error {
	if err := m.Preprocess.Validate(); err != nil {
		return errors.Wrap(err, "metadata")
	}
	m.ImageSize = m.Preprocess.Width
	m.InputShape = m.Preprocess.Shape()
	if m.InputName == "" {
		m.InputName = "input"
	}
	if m.OutputName == "" {
		m.OutputName = "output"
	}
	if len(m.Classes) == 0 {
		m.Classes = append([]string(nil), Classes...)
	}
	if len(m.OutputShape) == 0 {
		return errors.Wrap(ErrUnsupported, "metadata has no output shape")
	}

	switch variant {
	case VariantBinaryCNN:
		if outputSize(m.OutputShape) != 1 {
			return errors.Wrapf(ErrUnsupported, "binary model must have one output, got shape %v", m.OutputShape)
		}
	case VariantImageNetHeuristic:
		if len(m.HeuristicClasses) == 0 {
			m.HeuristicClasses = append([]int(nil), DefaultHeuristicClasses...)
		}
		n := outputSize(m.OutputShape)
		for _, c := range m.HeuristicClasses {
			if c < 0 || int64(c) >= n {
				return errors.Wrapf(ErrUnsupported, "heuristic class %d outside output of size %d", c, n)
			}
		}
	}
	return nil
}

func outputSize(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}
