package model

import (
	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/pkg/errors"
)

var (
	ErrImageNotFound = preprocess.ErrImageNotFound
	ErrImageDecode   = preprocess.ErrImageDecode
	ErrInputShape    = preprocess.ErrInputShape

	ErrInference   = errors.New("inference failed")
	ErrWeights     = errors.New("invalid model weights")
	ErrUnsupported = errors.New("unsupported model configuration")
	ErrClosed      = errors.New("classifier is closed")
)

// IsClientError reports whether err was caused by the caller's input rather
// than by the model or runtime.
func IsClientError(err error) bool {
	return errors.Is(err, ErrImageNotFound) ||
		errors.Is(err, ErrImageDecode) ||
		errors.Is(err, ErrInputShape)
}
