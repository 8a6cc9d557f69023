package preprocess

import (
	"bytes"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"

	"github.com/pkg/errors"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrImageNotFound is returned when the image path does not exist.
	ErrImageNotFound = errors.New("image not found")
	// ErrImageDecode is returned when the bytes are not a supported image.
	ErrImageDecode = errors.New("image could not be decoded")
	// ErrInputShape is returned when a tensor buffer does not match the model input.
	ErrInputShape = errors.New("input shape mismatch")
)

// LoadFile opens and decodes the image at path.
//
// Arguments:
//   - path: Path to a JPEG, PNG, BMP, TIFF or WebP file.
//
// Returns:
//   - image.Image: The decoded image.
//   - string: The detected format name.
//   - error: ErrImageNotFound or ErrImageDecode, wrapped with the path.
func LoadFile(path string) (image.Image, string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, "", errors.Wrap(ErrImageNotFound, path)
		}
		return nil, "", errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", errors.Wrapf(err, "stat %s", path)
	}
	if info.IsDir() {
		return nil, "", errors.Wrapf(ErrImageNotFound, "%s is a directory", path)
	}

	img, format, err := Decode(f)
	if err != nil {
		return nil, "", errors.Wrap(err, path)
	}
	return img, format, nil
}

// MaxPixels bounds the declared width*height of a decoded image. Radiographs
// rarely exceed 4k x 4k.
const MaxPixels = 64 << 20

// Decode decodes an image from r, rejecting images larger than MaxPixels.
func Decode(r io.Reader) (image.Image, string, error) {
	return DecodeLimit(r, MaxPixels)
}

// DecodeLimit decodes an image from r after checking its header declares at
// most maxPixels pixels. maxPixels <= 0 disables the check.
//
// Arguments:
//   - r: The encoded image.
//   - maxPixels: The largest accepted width*height.
//
// Returns:
//   - image.Image: The decoded image.
//   - string: The detected format name.
//   - error: ErrImageDecode for undecodable or oversized images.
func DecodeLimit(r io.Reader, maxPixels int64) (image.Image, string, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return nil, "", errors.Wrap(ErrImageDecode, err.Error())
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, "", errors.Wrapf(ErrImageDecode, "invalid size %dx%d", cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > maxPixels {
		return nil, "", errors.Wrapf(ErrImageDecode, "image %dx%d exceeds %d pixels", cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return nil, "", errors.Wrap(ErrImageDecode, err.Error())
	}
	return img, format, nil
}
