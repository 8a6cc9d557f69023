// Package batch classifies many X-ray files with bounded concurrency.
package batch

import (
	"context"
	"runtime"

	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome for one input file. Exactly one of Prediction and
// Error is set.
type Result struct {
	Path       string            `json:"path" yaml:"path"`
	Prediction *model.Prediction `json:"prediction,omitempty" yaml:"prediction,omitempty"`
	Error      string            `json:"error,omitempty" yaml:"error,omitempty"`
	err        error
}

// Err returns the error behind Error.
func (r Result) Err() error {
	return r.err
}

// Run classifies every path and returns the results in input order.
// A failure on one image is recorded in its Result; only cancellation of ctx
// stops the batch.
//
// Arguments:
//   - ctx: Stops scheduling new images when cancelled.
//   - c: The classifier, shared by all workers.
//   - paths: The image files.
//   - concurrency: Maximum images in flight; <= 0 uses GOMAXPROCS.
//
// Returns:
//   - []Result: One result per path.
//   - error: The context error if the batch was cancelled.
func Run(ctx context.Context, c model.Classifier, paths []string, concurrency int) ([]Result, error) {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(paths))
	for i, path := range paths {
		results[i].Path = path
	}
	errGrp, gCtx := errgroup.WithContext(ctx)
	errGrp.SetLimit(concurrency)

	for i, path := range paths {
		if gCtx.Err() != nil {
			break
		}
		i, path := i, path
		errGrp.Go(func() error {
			if err := gCtx.Err(); err != nil {
				return err
			}
			pred, err := model.PredictPneumonia(gCtx, c, path)
			results[i] = Result{Path: path, Prediction: pred}
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				results[i] = Result{Path: path, Error: err.Error(), err: err}
			}
			return nil
		})
	}

	if err := errGrp.Wait(); err != nil {
		return results, errors.Wrap(err, "batch cancelled")
	}
	if err := ctx.Err(); err != nil {
		return results, errors.Wrap(err, "batch cancelled")
	}
	return results, nil
}

// Summary counts results per diagnosis, with failures under "error".
func Summary(results []Result) map[string]int {
	counts := make(map[string]int)
	for _, r := range results {
		if r.Prediction == nil {
			counts["error"]++
			continue
		}
		counts[string(r.Prediction.Label)]++
	}
	return counts
}
