package fingerprint

import (
	"image"
	"math"
	"sort"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/constants"
)

// Reasons reported to the client when an image fails the quality policy.
const (
	reasonUnreadable  = "Failed to process image"
	reasonMultiple    = "Multiple faces of similar size detected. Please provide an image with a single dominant face."
	reasonTooSmall    = "The detected face is too small (low resolution)."
	reasonNoEyes      = "Failed to detect essential facial features (left and right eyes) in the image. Please ensure your face is clearly visible, well-lit, and facing the camera."
	reasonTilted      = "Face is too tilted. Please provide a near-frontal face for accurate processing."
	reasonBadLighting = "Image lighting is not acceptable"
)

// duplicateIoU is the overlap above which two detections are the same face.
const duplicateIoU = 0.6

// Landmark order follows the detector: left eye, right eye, nose, mouth corners.
const (
	leftEye         = 0
	rightEye        = 1
	minEyeLandmarks = 2
)

// QualityError reports an image the face pipeline cannot use. Reason is
// safe to show to the person submitting the photo.
type QualityError struct {
	Reason string
}

func (e *QualityError) Error() string { return e.Reason }

// largestFirst returns the detections sorted by descending box area.
func largestFirst(faces []FaceDetection) []FaceDetection {
	sorted := make([]FaceDetection, len(faces))
	copy(sorted, faces)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Area() > sorted[j].Area() })
	return sorted
}

// boxIoU returns the intersection over union of two [x1, y1, x2, y2] boxes.
func boxIoU(a, b [4]float64) float64 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])
	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// dropDuplicates removes detections that overlap an earlier, larger one by
// more than duplicateIoU. The detector sometimes reports one face twice.
func dropDuplicates(sorted []FaceDetection) []FaceDetection {
	kept := sorted[:0:0]
	for _, f := range sorted {
		dup := false
		for i := range kept {
			if boxIoU(kept[i].Box(), f.Box()) > duplicateIoU {
				dup = true
				break
			}
		}
		if !dup {
			kept = append(kept, f)
		}
	}
	return kept
}

// tiltDegrees returns the eye-line angle of the face, or false without eye landmarks.
func tiltDegrees(f *FaceDetection) (float64, bool) {
	if len(f.Landmarks) < minEyeLandmarks ||
		len(f.Landmarks[leftEye]) < 2 || len(f.Landmarks[rightEye]) < 2 {
		return 0, false
	}
	dx := f.Landmarks[rightEye][0] - f.Landmarks[leftEye][0]
	dy := f.Landmarks[rightEye][1] - f.Landmarks[leftEye][1]
	return math.Atan2(dy, dx) * 180 / math.Pi, true
}

// checkQuality selects the dominant face and applies the policy to it. It
// returns a *QualityError for images that cannot be used at all; a face that
// passes every check but scores below MinQuality is returned normally and
// judged by the caller.
func checkQuality(q config.QualityConfig, faces []FaceDetection, img image.Image) (FaceDetection, float64, error) {
	sorted := dropDuplicates(largestFirst(faces))
	chosen := sorted[0]

	if len(sorted) > 1 && sorted[1].Area() >= q.SimilarFaceRatio*chosen.Area() {
		return FaceDetection{}, 0, &QualityError{Reason: reasonMultiple}
	}
	if chosen.Area() < q.MinFaceArea {
		return FaceDetection{}, 0, &QualityError{Reason: reasonTooSmall}
	}

	angle, ok := tiltDegrees(&chosen)
	if !ok {
		return FaceDetection{}, 0, &QualityError{Reason: reasonNoEyes}
	}
	if math.Abs(angle) > q.MaxTiltDegrees {
		return FaceDetection{}, 0, &QualityError{Reason: reasonTilted}
	}

	brightness, ok := meanBrightness(img, chosen.Box(), constants.QualityCropSize)
	if !ok {
		return FaceDetection{}, 0, &QualityError{Reason: reasonTooSmall}
	}
	if brightness < q.MinBrightness || brightness > q.MaxBrightness {
		return FaceDetection{}, 0, &QualityError{Reason: reasonBadLighting}
	}

	return chosen, brightness, nil
}
