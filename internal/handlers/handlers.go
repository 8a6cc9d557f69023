package handlers

import (
	"context"
	"net/http"

	"github.com/Brownie44l1/xray-api/internal/model"
	"github.com/Brownie44l1/xray-api/internal/preprocess"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Form field names accepted for the uploaded image. "file" is what the web
// front end sends.
var uploadFields = []string{"file", "image"}

// AnalyzeResponse is the body returned for a classified upload.
type AnalyzeResponse struct {
	model.Prediction
	RequestID string `json:"request_id"`
}

// ErrorResponse is the body returned for a failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

type Handler struct {
	classifier     model.Classifier
	maxUploadBytes int64
	log            logrus.FieldLogger
}

func NewHandler(classifier model.Classifier, maxUploadBytes int64, log logrus.FieldLogger) *Handler {
	return &Handler{
		classifier:     classifier,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func (h *Handler) ModelInfo(c *gin.Context) {
	c.JSON(http.StatusOK, h.classifier.Info().Map())
}

// Analyze classifies a chest X-ray uploaded as multipart form data.
func (h *Handler) Analyze(c *gin.Context) {
	log := h.requestLog(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes)
	if err := c.Request.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, http.StatusRequestEntityTooLarge, "Image exceeds the upload limit")
			return
		}
		h.fail(c, http.StatusBadRequest, "Failed to parse form")
		return
	}

	var fieldErr error
	for _, field := range uploadFields {
		header, err := c.FormFile(field)
		if err != nil {
			fieldErr = err
			continue
		}

		file, err := header.Open()
		if err != nil {
			h.fail(c, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}
		defer file.Close()

		log = log.WithFields(logrus.Fields{"filename": header.Filename, "size": header.Size})
		img, format, err := preprocess.Decode(file)
		if err != nil {
			log.WithError(err).Info("rejected upload")
			h.fail(c, http.StatusBadRequest, "Invalid image format. Supported: JPEG, PNG, BMP, TIFF, WebP")
			return
		}
		log = log.WithFields(logrus.Fields{
			"format": format,
			"width":  img.Bounds().Dx(),
			"height": img.Bounds().Dy(),
		})

		pred, err := h.classifier.Predict(c.Request.Context(), img)
		if err != nil {
			h.predictionFailed(c, log, err)
			return
		}

		log.WithFields(logrus.Fields{
			"diagnosis":  pred.Label,
			"confidence": pred.Confidence,
		}).Info("prediction")
		c.JSON(http.StatusOK, AnalyzeResponse{Prediction: *pred, RequestID: RequestID(c)})
		return
	}

	log.WithError(fieldErr).Debug("no image field")
	h.fail(c, http.StatusBadRequest, "No image file provided. Use 'file' as the form field name")
}

func (h *Handler) predictionFailed(c *gin.Context, log logrus.FieldLogger, err error) {
	switch {
	case model.IsClientError(err):
		log.WithError(err).Info("rejected image")
		h.fail(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.WithError(err).Warn("prediction cancelled")
		h.fail(c, http.StatusServiceUnavailable, "Prediction cancelled")
	default:
		log.WithError(err).Error("prediction error")
		h.fail(c, http.StatusInternalServerError, "Prediction failed")
	}
}

func (h *Handler) fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, RequestID: RequestID(c)})
}

func (h *Handler) requestLog(c *gin.Context) logrus.FieldLogger {
	return h.log.WithFields(logrus.Fields{
		"request_id": RequestID(c),
		"path":       c.FullPath(),
	})
}
