package pipeline

import (
	"fmt"

	"github.com/kozaktomas/face-gate/internal/constants"
)

// Kind classifies why a request was rejected.
type Kind string

const (
	KindDuplicateImage   Kind = "duplicate_image"
	KindFaceDetection    Kind = "face_detection"
	KindEmptyIndex       Kind = "empty_index"
	KindIdentityConflict Kind = "identity_conflict"
	KindNotIdentified    Kind = "not_identified"
	KindUnexpected       Kind = "unexpected"
)

// Client-facing messages.
const (
	msgDuplicate     = "The image provided is a duplicate of a previously saved image"
	msgEmptyIndex    = "No faces have been enrolled yet"
	msgNotIdentified = "Unable to identify the face"
)

// Rejection is the structured outcome of a request the pipeline refused.
// Message is safe to return to the client; for KindUnexpected the real
// cause is only logged.
type Rejection struct {
	Kind    Kind
	Message string
	Label   string // existing identity, set for KindIdentityConflict
	cause   error
}

func (r *Rejection) Error() string {
	if r.cause != nil {
		return fmt.Sprintf("%s: %s: %v", r.Kind, r.Message, r.cause)
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

func (r *Rejection) Unwrap() error { return r.cause }

func reject(kind Kind, message string) *Rejection {
	return &Rejection{Kind: kind, Message: message}
}

func conflict(label string) *Rejection {
	return &Rejection{
		Kind:    KindIdentityConflict,
		Message: fmt.Sprintf("This face is already enrolled as %q", label),
		Label:   label,
	}
}

func unexpected(cause error) *Rejection {
	return &Rejection{Kind: KindUnexpected, Message: constants.GenericErrorMessage, cause: cause}
}
