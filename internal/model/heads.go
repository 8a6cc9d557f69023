package model

import (
	"github.com/chewxy/math32"
	"github.com/pkg/errors"
)

const (
	// DefaultThreshold is the sigmoid cut-off above which a scan is Pneumonia.
	DefaultThreshold = 0.5

	heuristicPneumoniaConfidence = 85.0
	heuristicNormalConfidence    = 90.0
)

// DefaultHeuristicClasses are the ImageNet indices the heuristic maps to Pneumonia.
var DefaultHeuristicClasses = []int{18, 19, 20}

// Sigmoid maps a logit to a probability.
func Sigmoid(x float32) float32 {
	return 1 / (1 + math32.Exp(-x))
}

// Softmax converts logits to probabilities. The input is not modified.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	_, maxVal := Argmax(logits)
	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - maxVal)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index and value of the largest score. Ties resolve to
// the lowest index.
func Argmax(scores []float32) (int, float32) {
	maxIdx, maxVal := 0, scores[0]
	for i, v := range scores {
		if v > maxVal {
			maxIdx, maxVal = i, v
		}
	}
	return maxIdx, maxVal
}

// BinaryDecision turns a sigmoid probability into a Prediction.
//
// Arguments:
//   - p: The probability of Pneumonia, in [0, 1].
//   - threshold: Probabilities strictly above it are Pneumonia.
//
// Returns:
//   - *Prediction: Label, confidence percentage and the raw probability.
//   - error: ErrInference if p is NaN or outside [0, 1].
func BinaryDecision(p float32, threshold float64) (*Prediction, error) {
	if math32.IsNaN(p) || p < 0 || p > 1 {
		return nil, errors.Wrapf(ErrInference, "probability %v out of range", p)
	}
	raw := float64(p)
	pred := &Prediction{RawScore: &raw}
	if raw > threshold {
		pred.Label = DiagnosisPneumonia
		pred.Confidence = raw * 100
	} else {
		pred.Label = DiagnosisNormal
		pred.Confidence = (1 - raw) * 100
	}
	return pred, nil
}

// HeuristicDecision applies the ImageNet class-index rule: an argmax inside
// pneumoniaClasses yields Pneumonia at 85%, anything else Normal at 90%.
//
// Arguments:
//   - scores: The ImageNet class scores (logits or probabilities).
//   - pneumoniaClasses: The indices mapped to Pneumonia.
//
// Returns:
//   - *Prediction: The prediction, without a raw score.
//   - int: The argmax class index.
//   - error: ErrInference if scores is empty.
func HeuristicDecision(scores []float32, pneumoniaClasses []int) (*Prediction, int, error) {
	if len(scores) == 0 {
		return nil, -1, errors.Wrap(ErrInference, "empty class scores")
	}
	idx, _ := Argmax(scores)
	for _, c := range pneumoniaClasses {
		if idx == c {
			return &Prediction{Label: DiagnosisPneumonia, Confidence: heuristicPneumoniaConfidence}, idx, nil
		}
	}
	return &Prediction{Label: DiagnosisNormal, Confidence: heuristicNormalConfidence}, idx, nil
}
