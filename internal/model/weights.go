package model

import (
	"archive/zip"
	"io"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

// Weights maps state_dict style names ("conv1.weight") to tensors.
type Weights map[string]*tensor.Dense

// LoadWeights reads a NumPy .npz archive, the format produced by
// numpy.savez on a PyTorch state_dict.
//
// Arguments:
//   - path: Path to the .npz file.
//
// Returns:
//   - Weights: The tensors keyed by entry name without the .npy suffix.
//   - error: ErrWeights if an entry is not a readable .npy array.
func LoadWeights(path string) (Weights, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(ErrWeights, "open %s: %v", path, err)
	}
	defer zr.Close()

	weights := make(Weights, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(ErrWeights, "open %s: %v", f.Name, err)
		}
		t, err := readNpy(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrapf(ErrWeights, "read %s: %v", f.Name, err)
		}
		weights[strings.TrimSuffix(f.Name, ".npy")] = t
	}
	return weights, nil
}

func readNpy(r io.Reader) (*tensor.Dense, error) {
	t := new(tensor.Dense)
	if err := t.ReadNpy(r); err != nil {
		return nil, err
	}
	return t, nil
}

// SaveWeights writes w as a .npz archive to out.
func SaveWeights(out io.Writer, w Weights) error {
	zw := zip.NewWriter(out)
	for name, t := range w {
		entry, err := zw.Create(name + ".npy")
		if err != nil {
			return errors.Wrapf(err, "create %s", name)
		}
		if err := t.WriteNpy(entry); err != nil {
			return errors.Wrapf(err, "write %s", name)
		}
	}
	return zw.Close()
}

// take returns the named float32 tensor after checking it has the expected
// shape, then reshapes it to the layout the graph needs.
func (w Weights) take(name string, stored, graph tensor.Shape) (*tensor.Dense, error) {
	t, ok := w[name]
	if !ok {
		return nil, errors.Wrapf(ErrWeights, "missing tensor %q", name)
	}
	if t.Dtype() != tensor.Float32 {
		return nil, errors.Wrapf(ErrWeights, "tensor %q has dtype %v, want float32", name, t.Dtype())
	}
	if !sameShape(t.Shape(), stored) {
		return nil, errors.Wrapf(ErrWeights, "tensor %q has shape %v, want %v", name, t.Shape(), stored)
	}
	if !sameShape(graph, stored) {
		if err := t.Reshape(graph...); err != nil {
			return nil, errors.Wrapf(ErrWeights, "reshape %q: %v", name, err)
		}
	}
	return t, nil
}

// sameShape compares dimensions exactly. tensor.Shape.Eq treats (n) and
// (1, n) as equal.
func sameShape(a, b tensor.Shape) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
