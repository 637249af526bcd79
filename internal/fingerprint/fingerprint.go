package fingerprint

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"math"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

// normEpsilon keeps Normalize finite for a zero vector.
const normEpsilon = 1e-10

// ContentHash returns the hex SHA-256 digest of the raw upload bytes.
// Byte-identical uploads share a hash; a re-encoded image does not.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Normalize returns v scaled to unit L2 norm.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum) + normEpsilon

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// decodeImage decodes any registered format (jpeg, png, gif, bmp, webp).
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// fitWithin returns width and height scaled to fit maxSize, keeping aspect ratio.
func fitWithin(width, height, maxSize int) (int, int) {
	if width <= maxSize && height <= maxSize {
		return width, height
	}
	if width > height {
		return maxSize, max(1, int(float64(height)*float64(maxSize)/float64(width)))
	}
	return max(1, int(float64(width)*float64(maxSize)/float64(height))), maxSize
}

// downscale fits img within maxSize. It returns the image to analyse and the
// bytes to send to the oracle; both are the input when no resize is needed.
func downscale(img image.Image, data []byte, maxSize int) (image.Image, []byte, error) {
	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), maxSize)
	if width == bounds.Dx() && height == bounds.Dy() {
		return img, data, nil
	}

	resized := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90}); err != nil {
		return nil, nil, fmt.Errorf("failed to encode resized image: %w", err)
	}
	return resized, buf.Bytes(), nil
}

// meanBrightness crops the face box, scales it to size x size and returns the
// mean luma (0-255). ok is false when the box does not overlap the image.
func meanBrightness(img image.Image, box [4]float64, size int) (float64, bool) {
	rect := image.Rect(
		int(math.Floor(box[0])), int(math.Floor(box[1])),
		int(math.Ceil(box[2])), int(math.Ceil(box[3])),
	).Intersect(img.Bounds())
	if rect.Empty() {
		return 0, false
	}

	crop := image.NewGray(image.Rect(0, 0, size, size))
	draw.ApproxBiLinear.Scale(crop, crop.Bounds(), img, rect, draw.Src, nil)

	var sum float64
	for _, p := range crop.Pix {
		sum += float64(p)
	}
	return sum / float64(len(crop.Pix)), true
}
