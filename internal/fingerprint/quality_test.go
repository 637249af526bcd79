package fingerprint

import (
	"errors"
	"image/color"
	"math"
	"testing"

	"github.com/kozaktomas/face-gate/internal/config"
)

func defaultQuality() config.QualityConfig {
	return config.QualityConfig{
		SimilarFaceRatio: 0.8,
		MinFaceArea:      10000,
		MaxTiltDegrees:   20,
		MinBrightness:    50,
		MaxBrightness:    205,
		MinQuality:       0.5,
	}
}

// face builds a detection with a square box and level eyes.
func face(x, y, size float64) FaceDetection {
	return FaceDetection{
		BBox:      []float64{x, y, x + size, y + size},
		DetScore:  0.9,
		Embedding: []float32{1, 0, 0, 0},
		Landmarks: [][]float64{
			{x + size*0.3, y + size*0.4},
			{x + size*0.7, y + size*0.4},
		},
	}
}

func TestFaceDetection_Geometry(t *testing.T) {
	f := face(10, 20, 100)
	if f.Area() != 10000 {
		t.Errorf("Area() = %v; want 10000", f.Area())
	}
	bad := FaceDetection{BBox: []float64{1, 2}}
	if bad.Area() != 0 {
		t.Errorf("malformed box area = %v; want 0", bad.Area())
	}

	q := 0.42
	f.Quality = &q
	if f.Score() != 0.42 {
		t.Errorf("Score() = %v; want quality 0.42", f.Score())
	}
}

func TestTiltDegrees(t *testing.T) {
	tests := []struct {
		name   string
		eyes   [][]float64
		want   float64
		wantOK bool
	}{
		{"level", [][]float64{{0, 0}, {10, 0}}, 0, true},
		{"45 degrees", [][]float64{{0, 0}, {10, 10}}, 45, true},
		{"negative", [][]float64{{0, 10}, {10, 0}}, -45, true},
		{"missing", nil, 0, false},
		{"one eye", [][]float64{{0, 0}}, 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := FaceDetection{Landmarks: tc.eyes}
			got, ok := tiltDegrees(&f)
			if ok != tc.wantOK {
				t.Fatalf("ok = %v; want %v", ok, tc.wantOK)
			}
			if ok && (got-tc.want > 1e-9 || tc.want-got > 1e-9) {
				t.Errorf("tiltDegrees = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestBoxIoU(t *testing.T) {
	tests := []struct {
		name string
		a, b [4]float64
		want float64
	}{
		{"identical", [4]float64{0, 0, 10, 10}, [4]float64{0, 0, 10, 10}, 1},
		{"disjoint", [4]float64{0, 0, 10, 10}, [4]float64{20, 20, 30, 30}, 0},
		{"touching", [4]float64{0, 0, 10, 10}, [4]float64{10, 0, 20, 10}, 0},
		{"half overlap", [4]float64{0, 0, 10, 10}, [4]float64{5, 0, 15, 10}, 50.0 / 150.0},
		{"degenerate", [4]float64{0, 0, 0, 0}, [4]float64{0, 0, 0, 0}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := boxIoU(tc.a, tc.b); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("boxIoU = %v; want %v", got, tc.want)
			}
		})
	}
}

func TestDropDuplicates(t *testing.T) {
	faces := largestFirst([]FaceDetection{face(52, 52, 196), face(50, 50, 200), face(300, 300, 80)})
	kept := dropDuplicates(faces)
	if len(kept) != 2 {
		t.Fatalf("kept %d faces; want 2", len(kept))
	}
	if kept[0].Area() != 40000 || kept[1].Area() != 6400 {
		t.Errorf("kept areas %v, %v", kept[0].Area(), kept[1].Area())
	}
}

func TestCheckQuality(t *testing.T) {
	gray := createTestImage(400, 400, color.Gray{Y: 128})
	dark := createTestImage(400, 400, color.Gray{Y: 20})

	tilted := face(50, 50, 200)
	tilted.Landmarks = [][]float64{{100, 100}, {200, 200}}

	noEyes := face(50, 50, 200)
	noEyes.Landmarks = nil

	tests := []struct {
		name       string
		faces      []FaceDetection
		dark       bool
		wantReason string
	}{
		{"single good face", []FaceDetection{face(50, 50, 200)}, false, ""},
		{"dominant face with a small one", []FaceDetection{face(300, 300, 60), face(50, 50, 200)}, false, ""},
		{"two similar faces", []FaceDetection{face(0, 0, 190), face(200, 200, 200)}, false, reasonMultiple},
		{"same face detected twice", []FaceDetection{face(55, 55, 190), face(50, 50, 200)}, false, ""},
		{"face too small", []FaceDetection{face(10, 10, 90)}, false, reasonTooSmall},
		{"no eye landmarks", []FaceDetection{noEyes}, false, reasonNoEyes},
		{"tilted", []FaceDetection{tilted}, false, reasonTilted},
		{"too dark", []FaceDetection{face(50, 50, 200)}, true, reasonBadLighting},
		{"box outside image", []FaceDetection{face(1000, 1000, 200)}, false, reasonTooSmall},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			img := gray
			if tc.dark {
				img = dark
			}
			chosen, brightness, err := checkQuality(defaultQuality(), tc.faces, img)

			if tc.wantReason == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if chosen.Area() != 40000 {
					t.Errorf("chose face with area %v; want the 200x200 face", chosen.Area())
				}
				if brightness < 120 || brightness > 136 {
					t.Errorf("brightness = %.1f; want about 128", brightness)
				}
				return
			}

			var qe *QualityError
			if !errors.As(err, &qe) {
				t.Fatalf("error = %v; want QualityError", err)
			}
			if qe.Reason != tc.wantReason {
				t.Errorf("reason = %q; want %q", qe.Reason, tc.wantReason)
			}
		})
	}
}
