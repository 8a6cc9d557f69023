package model

import "github.com/Brownie44l1/xray-api/internal/preprocess"

// Diagnosis is the categorical output of a classifier.
type Diagnosis string

const (
	DiagnosisNormal    Diagnosis = "Normal"
	DiagnosisPneumonia Diagnosis = "Pneumonia"
)

// Classes lists the labels every classifier reports, in output order.
var Classes = []string{string(DiagnosisNormal), string(DiagnosisPneumonia)}

// Variant selects which classification approach is used.
type Variant string

const (
	// VariantBinaryCNN is the dedicated single-output convolutional network.
	VariantBinaryCNN Variant = "binary-cnn"
	// VariantImageNetHeuristic is a generic ImageNet classifier with a class-index rule.
	VariantImageNetHeuristic Variant = "imagenet-heuristic"
)

// Backend selects the runtime that executes the network.
type Backend string

const (
	// BackendNative runs the network as a pure Go computation graph.
	BackendNative Backend = "native"
	// BackendONNX runs an exported ONNX model through ONNX Runtime.
	BackendONNX Backend = "onnx"
)

// Architecture describes the layers of the binary CNN.
type Architecture struct {
	// ConvChannels holds the output channels of each conv/relu/pool block.
	ConvChannels []int `json:"conv_channels" yaml:"conv_channels"`
	// KernelSize is the square convolution kernel size.
	KernelSize int `json:"kernel_size" yaml:"kernel_size"`
	// HiddenUnits is the width of the fully connected layer before the output.
	HiddenUnits int `json:"hidden_units" yaml:"hidden_units"`
}

// Metadata is the description shipped next to a model file.
type Metadata struct {
	ModelType   string   `json:"model_type"`
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	InputName   string   `json:"input_name"`
	OutputName  string   `json:"output_name"`
	Classes     []string `json:"classes"`
	ImageSize   int      `json:"image_size"`
	// OutputIsLogit is set when the binary model ends before its sigmoid.
	OutputIsLogit bool              `json:"output_is_logit"`
	Preprocess    preprocess.Config `json:"preprocess"`
	Architecture  Architecture      `json:"architecture"`
	// HeuristicClasses are the ImageNet indices mapped to Pneumonia.
	HeuristicClasses []int `json:"heuristic_classes"`
}

// Prediction is the result of classifying one image.
type Prediction struct {
	Label      Diagnosis `json:"diagnosis" yaml:"diagnosis"`
	Confidence float64   `json:"confidence" yaml:"confidence"`
	// RawScore is the sigmoid probability, nil for the heuristic variant.
	RawScore *float64 `json:"raw_score" yaml:"raw_score"`
}

// Info describes the loaded model.
type Info struct {
	ModelType     string   `json:"model_type" yaml:"model_type"`
	Device        string   `json:"device" yaml:"device"`
	WeightsLoaded bool     `json:"weights_loaded" yaml:"weights_loaded"`
	InputSize     []int    `json:"input_size" yaml:"input_size"`
	Classes       []string `json:"classes" yaml:"classes"`
}

// Map returns the info as a plain mapping keyed by the JSON field names.
func (i Info) Map() map[string]interface{} {
	return map[string]interface{}{
		"model_type":     i.ModelType,
		"device":         i.Device,
		"weights_loaded": i.WeightsLoaded,
		"input_size":     i.InputSize,
		"classes":        i.Classes,
	}
}
