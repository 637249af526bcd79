// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Upload constants
const (
	// MaxUploadSize is the largest accepted image upload in bytes
	MaxUploadSize = 20 << 20

	// UploadFormField is the multipart field carrying the image
	UploadFormField = "image"
)

// Processing constants
const (
	// MaxImageSize is the maximum dimension (width or height) for image processing
	MaxImageSize = 1920

	// QualityCropSize is the side of the square face crop used for lighting checks
	QualityCropSize = 224

	// WorkerPoolSize is the default number of parallel oracle calls for bulk enrollment
	WorkerPoolSize = 4

	// MirrorPushTimeout bounds a single mirror write in seconds
	MirrorPushTimeout = 10
)

// Message constants
const (
	// GenericErrorMessage is returned to clients for any unexpected failure
	GenericErrorMessage = "An unexpected error occurred. Please try again later."
)
