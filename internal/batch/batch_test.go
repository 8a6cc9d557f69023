package batch

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// widthClassifier labels images wider than 10 pixels as Pneumonia.
type widthClassifier struct {
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	mu       sync.Mutex
	seen     int
}

func (w *widthClassifier) Predict(ctx context.Context, img image.Image) (*model.Prediction, error) {
	n := w.inFlight.Add(1)
	defer w.inFlight.Add(-1)
	for {
		peak := w.peak.Load()
		if n <= peak || w.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(w.delay)

	w.mu.Lock()
	w.seen++
	w.mu.Unlock()

	if img.Bounds().Dx() > 10 {
		return model.BinaryDecision(0.9, model.DefaultThreshold)
	}
	return model.BinaryDecision(0.2, model.DefaultThreshold)
}

func (w *widthClassifier) Info() model.Info { return model.Info{} }
func (w *widthClassifier) Close() error     { return nil }

func writePNG(t *testing.T, dir, name string, width int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, width, 8))))
	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	paths := []string{
		writePNG(t, dir, "wide.png", 20),
		writePNG(t, dir, "narrow.png", 4),
		filepath.Join(dir, "missing.png"),
		writePNG(t, dir, "wide2.png", 32),
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.png"), []byte("nope"), 0o644))
	paths = append(paths, filepath.Join(dir, "broken.png"))

	c := &widthClassifier{}
	results, err := Run(context.Background(), c, paths, 2)
	require.NoError(t, err)
	require.Len(t, results, len(paths))

	for i, r := range results {
		assert.Equal(t, paths[i], r.Path)
	}
	assert.Equal(t, model.DiagnosisPneumonia, results[0].Prediction.Label)
	assert.Equal(t, model.DiagnosisNormal, results[1].Prediction.Label)
	assert.Nil(t, results[2].Prediction)
	assert.True(t, errors.Is(results[2].Err(), model.ErrImageNotFound))
	assert.NotEmpty(t, results[2].Error)
	assert.True(t, errors.Is(results[4].Err(), model.ErrImageDecode))

	assert.Equal(t, map[string]int{"Pneumonia": 2, "Normal": 1, "error": 2}, Summary(results))
	assert.Equal(t, 3, c.seen)
}

func TestRunRespectsConcurrency(t *testing.T) {
	dir := t.TempDir()
	var paths []string
	for i := 0; i < 12; i++ {
		paths = append(paths, writePNG(t, dir, fmt.Sprintf("scan%02d.png", i), 16))
	}

	c := &widthClassifier{delay: 5 * time.Millisecond}
	results, err := Run(context.Background(), c, paths, 3)
	require.NoError(t, err)
	assert.Len(t, results, 12)
	assert.LessOrEqual(t, c.peak.Load(), int32(3))
	assert.Equal(t, 12, c.seen)
}

func TestRunCancelled(t *testing.T) {
	dir := t.TempDir()
	paths := []string{writePNG(t, dir, "a.png", 16), writePNG(t, dir, "b.png", 16)}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := Run(ctx, &widthClassifier{}, paths, 1)
	assert.True(t, errors.Is(err, context.Canceled), "got %v", err)
	require.Len(t, results, 2)
	assert.Equal(t, paths[1], results[1].Path)
}
