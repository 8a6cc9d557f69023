package model

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeOutput(t *testing.T) {
	logits := DefaultMetadata(VariantBinaryCNN)
	logits.OutputIsLogit = true
	probs := DefaultMetadata(VariantBinaryCNN)

	scores := make([]float32, 1000)
	scores[19] = 4
	heuristic := DefaultMetadata(VariantImageNetHeuristic)

	tests := []struct {
		name       string
		variant    Variant
		md         Metadata
		output     []float32
		label      Diagnosis
		confidence float64
		idx        int
		raw        bool
	}{
		{"logit zero", VariantBinaryCNN, logits, []float32{0}, DiagnosisNormal, 50, -1, true},
		{"positive logit", VariantBinaryCNN, logits, []float32{3}, DiagnosisPneumonia, 95.2574, -1, true},
		{"negative logit", VariantBinaryCNN, logits, []float32{-2}, DiagnosisNormal, 88.0797, -1, true},
		{"probability", VariantBinaryCNN, probs, []float32{0.9}, DiagnosisPneumonia, 90, -1, true},
		{"heuristic pneumonia", VariantImageNetHeuristic, heuristic, scores, DiagnosisPneumonia, 85, 19, false},
		{"heuristic normal", VariantImageNetHeuristic, heuristic, make([]float32, 1000), DiagnosisNormal, 90, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, idx, err := decodeOutput(tt.variant, tt.md, DefaultThreshold, tt.output)
			require.NoError(t, err)
			assert.Equal(t, tt.label, pred.Label)
			assert.InDelta(t, tt.confidence, pred.Confidence, 1e-3)
			assert.Equal(t, tt.idx, idx)
			assert.Equal(t, tt.raw, pred.RawScore != nil)
		})
	}
}

func TestDecodeOutputErrors(t *testing.T) {
	probs := DefaultMetadata(VariantBinaryCNN)

	_, _, err := decodeOutput(VariantBinaryCNN, probs, DefaultThreshold, nil)
	assert.True(t, errors.Is(err, ErrInference), "got %v", err)

	_, _, err = decodeOutput(VariantImageNetHeuristic, DefaultMetadata(VariantImageNetHeuristic), DefaultThreshold, nil)
	assert.True(t, errors.Is(err, ErrInference), "got %v", err)

	// A raw output outside [0, 1] means the model was exported without its
	// sigmoid and the metadata does not say so.
	_, _, err = decodeOutput(VariantBinaryCNN, probs, DefaultThreshold, []float32{2.5})
	assert.True(t, errors.Is(err, ErrInference), "got %v", err)
}
