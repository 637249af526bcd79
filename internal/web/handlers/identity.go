package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-gate/internal/pipeline"
)

// IdentityHandler serves enrollment and identification.
type IdentityHandler struct {
	pipeline *pipeline.Pipeline
	log      *slog.Logger
}

// NewIdentityHandler creates a new identity handler.
func NewIdentityHandler(p *pipeline.Pipeline, logger *slog.Logger) *IdentityHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityHandler{
		pipeline: p,
		log:      logger.With("module", "web"),
	}
}

// AssessResponse is the enrollment answer.
type AssessResponse struct {
	IsImageValid bool   `json:"is_image_valid"`
	Message      string `json:"message,omitempty"`
}

// ConflictResponse names the identity an image already belongs to.
type ConflictResponse struct {
	Label string `json:"label"`
}

// IdentifyResponse is the identification answer. Message carries the label
// on success and the reason otherwise.
type IdentifyResponse struct {
	Identified bool   `json:"identified"`
	Message    string `json:"message"`
	Similarity int    `json:"similarity,omitempty"`
}

// AssessImageQuality enrolls the uploaded image under the user in the path.
func (h *IdentityHandler) AssessImageQuality(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		respondJSON(w, http.StatusBadRequest, AssessResponse{Message: "user_id is required"})
		return
	}

	up, err := readUpload(w, r)
	if err != nil {
		h.fail(w, "AssessImageQuality", err, func(msg string) any {
			return AssessResponse{Message: msg}
		})
		return
	}
	up.UserID = userID

	res, err := h.pipeline.Enroll(r.Context(), up)
	if err != nil {
		h.fail(w, "AssessImageQuality", err, func(msg string) any {
			return AssessResponse{Message: msg}
		})
		return
	}

	h.log.Info("enrollment processed",
		"user_id", sanitizeForLog(userID),
		"usable", res.Usable,
		"image_path", res.ImagePath)
	respondJSON(w, http.StatusOK, AssessResponse{IsImageValid: res.Usable})
}

// Identify matches the uploaded image against every enrolled identity.
func (h *IdentityHandler) Identify(w http.ResponseWriter, r *http.Request) {
	up, err := readUpload(w, r)
	if err != nil {
		h.fail(w, "Identify", err, func(msg string) any {
			return IdentifyResponse{Message: msg}
		})
		return
	}

	res, err := h.pipeline.Identify(r.Context(), up)
	if err != nil {
		h.fail(w, "Identify", err, func(msg string) any {
			return IdentifyResponse{Message: msg}
		})
		return
	}

	h.log.Info("identified",
		"label", res.Label,
		"similarity", res.Similarity,
		"ingested", res.Ingested)
	respondJSON(w, http.StatusOK, IdentifyResponse{
		Identified: true,
		Message:    res.Label,
		Similarity: res.Similarity,
	})
}

// fail writes the error answer for err. Conflicts carry the existing label.
func (h *IdentityHandler) fail(w http.ResponseWriter, fn string, err error, body func(string) any) {
	status, msg := rejectionStatus(err)
	if status == http.StatusConflict {
		respondJSON(w, status, ConflictResponse{Label: conflictLabel(err)})
		return
	}
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "func", fn, "error", err)
	}
	respondJSON(w, status, body(msg))
}
