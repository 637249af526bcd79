package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-gate/internal/constants"
	"github.com/kozaktomas/face-gate/internal/fingerprint"
	"github.com/kozaktomas/face-gate/internal/pipeline"
)

// Client-facing messages for malformed uploads.
const (
	errMissingImage = "an image file is required in the \"image\" field"
	errEmptyImage   = "the uploaded image is empty"
	errInvalidForm  = "failed to parse multipart form"
)

// sanitizeForLog removes newlines and carriage returns to prevent log injection.
func sanitizeForLog(s string) string {
	return strings.NewReplacer("\n", "", "\r", "").Replace(s)
}

// respondJSON sends a JSON response.
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// respondError sends an error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck handles the health check endpoint.
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Greeting answers the API root.
func Greeting(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Hello from face-gate",
	})
}

// NotFound answers unknown routes.
func NotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "not found")
}

// MethodNotAllowed answers known routes called with the wrong method.
func MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// uploadError is a client mistake in the multipart request itself.
type uploadError struct {
	message string
}

func (e *uploadError) Error() string { return e.message }

// readUpload reads the image part of a multipart request.
func readUpload(w http.ResponseWriter, r *http.Request) (pipeline.Upload, error) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
	if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
		return pipeline.Upload{}, &uploadError{message: errInvalidForm}
	}
	file, header, err := r.FormFile(constants.UploadFormField)
	if err != nil {
		return pipeline.Upload{}, &uploadError{message: errMissingImage}
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return pipeline.Upload{}, fmt.Errorf("reading upload: %w", err)
	}
	if len(data) == 0 {
		return pipeline.Upload{}, &uploadError{message: errEmptyImage}
	}
	return pipeline.Upload{
		Data:     data,
		Hash:     fingerprint.ContentHash(data),
		Filename: header.Filename,
	}, nil
}

// rejectionStatus maps a pipeline outcome to an HTTP status and client message.
func rejectionStatus(err error) (int, string) {
	var upErr *uploadError
	if errors.As(err, &upErr) {
		return http.StatusBadRequest, upErr.message
	}
	var rej *pipeline.Rejection
	if errors.As(err, &rej) {
		switch rej.Kind {
		case pipeline.KindIdentityConflict:
			return http.StatusConflict, rej.Message
		case pipeline.KindUnexpected:
			return http.StatusInternalServerError, rej.Message
		default:
			return http.StatusBadRequest, rej.Message
		}
	}
	return http.StatusInternalServerError, constants.GenericErrorMessage
}

// conflictLabel returns the identity an identity-conflict rejection names.
func conflictLabel(err error) string {
	var rej *pipeline.Rejection
	if errors.As(err, &rej) {
		return rej.Label
	}
	return ""
}
