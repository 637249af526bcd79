package fingerprint

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kozaktomas/face-gate/internal/config"
	"github.com/kozaktomas/face-gate/internal/constants"
)

// ErrNoFace is returned when the detector finds no face in the image.
var ErrNoFace = errors.New("No faces detected in image") //nolint:staticcheck // message is shown to clients as-is

// Assessment is the outcome of a quality check on an enrollment photo.
type Assessment struct {
	Usable     bool      // face passed every check and scored at least MinQuality
	Score      float64   // quality (or detector) score of the chosen face
	Brightness float64   // mean luma of the face crop
	Embedding  []float32 // unit-length embedding of the chosen face
}

// Oracle turns an image into a face embedding. Assess additionally applies
// the quality policy used for enrollment.
type Oracle interface {
	Assess(ctx context.Context, imageData []byte) (Assessment, error)
	Embed(ctx context.Context, imageData []byte) ([]float32, error)
}

// FaceOracle implements Oracle on top of the face embedding server.
type FaceOracle struct {
	client  *FaceClient
	quality config.QualityConfig
	dim     int
}

// NewFaceOracle creates an oracle that expects embeddings of width dim.
func NewFaceOracle(client *FaceClient, quality config.QualityConfig, dim int) *FaceOracle {
	return &FaceOracle{client: client, quality: quality, dim: dim}
}

// detect decodes and downscales the image, then asks the server for faces.
func (o *FaceOracle) detect(ctx context.Context, imageData []byte) (image.Image, []FaceDetection, error) {
	img, err := decodeImage(imageData)
	if err != nil {
		return nil, nil, &QualityError{Reason: reasonUnreadable}
	}
	img, payload, err := downscale(img, imageData, constants.MaxImageSize)
	if err != nil {
		return nil, nil, err
	}

	resp, err := o.client.DetectFaces(ctx, payload)
	if err != nil {
		return nil, nil, fmt.Errorf("detecting faces: %w", err)
	}
	if len(resp.Faces) == 0 {
		return nil, nil, ErrNoFace
	}
	return img, resp.Faces, nil
}

// embedding validates and normalises a face's embedding.
func (o *FaceOracle) embedding(f *FaceDetection) ([]float32, error) {
	if len(f.Embedding) != o.dim {
		return nil, fmt.Errorf("face embedding has %d dimensions, expected %d", len(f.Embedding), o.dim)
	}
	return Normalize(f.Embedding), nil
}

// Assess checks an enrollment photo against the quality policy.
func (o *FaceOracle) Assess(ctx context.Context, imageData []byte) (Assessment, error) {
	img, faces, err := o.detect(ctx, imageData)
	if err != nil {
		return Assessment{}, err
	}

	chosen, brightness, err := checkQuality(o.quality, faces, img)
	if err != nil {
		return Assessment{}, err
	}

	emb, err := o.embedding(&chosen)
	if err != nil {
		return Assessment{}, err
	}

	score := chosen.Score()
	return Assessment{
		Usable:     score >= o.quality.MinQuality,
		Score:      score,
		Brightness: brightness,
		Embedding:  emb,
	}, nil
}

// Embed returns the embedding of the largest face without quality checks.
func (o *FaceOracle) Embed(ctx context.Context, imageData []byte) ([]float32, error) {
	_, faces, err := o.detect(ctx, imageData)
	if err != nil {
		return nil, err
	}
	chosen := largestFirst(faces)[0]
	return o.embedding(&chosen)
}
