package face

import (
	"image"
	"image/color"
	"testing"
)

// gradient builds a deterministic non-uniform test image.
func gradient(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8(((x + y) * 255) / (w + h)),
				A: 255,
			})
		}
	}
	return img
}

type fixedDetector struct {
	region Region
	ok     bool
}

func (d fixedDetector) DetectFace(image.Image) (Region, bool) { return d.region, d.ok }

func TestCenterCrop(t *testing.T) {
	cases := []struct {
		w, h, want int
	}{
		{200, 100, 100},
		{100, 200, 100},
		{150, 150, 150},
	}
	for _, tc := range cases {
		out := CenterCrop(gradient(tc.w, tc.h))
		b := out.Bounds()
		if b.Dx() != tc.want || b.Dy() != tc.want {
			t.Errorf("CenterCrop(%dx%d) = %dx%d, want %dx%d square",
				tc.w, tc.h, b.Dx(), b.Dy(), tc.want, tc.want)
		}
	}
}

func TestCropFaceDetected(t *testing.T) {
	img := gradient(200, 200)
	det := fixedDetector{region: Region{MidX: 100, MidY: 100, EyeDistance: 20}, ok: true}
	out, detected := CropFace(img, det)
	if !detected {
		t.Fatal("expected detected crop")
	}
	b := out.Bounds()
	// box is 2*1.2*eyeDist wide and 2*1.6*eyeDist tall
	if b.Dx() != 48 || b.Dy() != 64 {
		t.Errorf("crop = %dx%d, want 48x64", b.Dx(), b.Dy())
	}
}

func TestCropFaceClampsToBounds(t *testing.T) {
	img := gradient(100, 100)
	det := fixedDetector{region: Region{MidX: 5, MidY: 5, EyeDistance: 30}, ok: true}
	out, detected := CropFace(img, det)
	if !detected {
		t.Fatal("expected detected crop")
	}
	b := out.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 || b.Dx() > 100 || b.Dy() > 100 {
		t.Errorf("clamped crop out of range: %dx%d", b.Dx(), b.Dy())
	}
}

func TestCropFaceFallsBack(t *testing.T) {
	img := gradient(120, 80)
	for name, det := range map[string]Detector{
		"nil detector":  nil,
		"null detector": NullDetector{},
		"zero eye dist": fixedDetector{region: Region{MidX: 60, MidY: 40}, ok: true},
	} {
		out, detected := CropFace(img, det)
		if detected {
			t.Errorf("%s: detected = true, want fallback", name)
		}
		b := out.Bounds()
		if b.Dx() != 80 || b.Dy() != 80 {
			t.Errorf("%s: fallback crop = %dx%d, want centered 80x80", name, b.Dx(), b.Dy())
		}
	}
}

func TestResizeDimensions(t *testing.T) {
	out := Resize(gradient(37, 61), 112, 112)
	b := out.Bounds()
	if b.Dx() != 112 || b.Dy() != 112 {
		t.Fatalf("resized to %dx%d, want 112x112", b.Dx(), b.Dy())
	}
}

func TestMirrorInvolution(t *testing.T) {
	img := gradient(31, 17)
	twice := Mirror(Mirror(img))
	b := img.Bounds()
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if img.RGBAAt(x, y) != twice.RGBAAt(x, y) {
				t.Fatalf("pixel (%d,%d) changed after double mirror", x, y)
			}
		}
	}
}

func TestTensorShapeAndRange(t *testing.T) {
	img := gradient(112, 112)
	tensor := Tensor(img)
	if len(tensor) != 112*112*3 {
		t.Fatalf("tensor length %d, want %d", len(tensor), 112*112*3)
	}
	for i, v := range tensor {
		if v < -1.0 || v > 1.0 {
			t.Fatalf("tensor[%d] = %v outside [-1, 1]", i, v)
		}
	}
}

func TestTensorNormalization(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 0, G: 128, B: 255, A: 255})
	tensor := Tensor(img)
	want := []float32{(0 - 127.5) / 128, (128 - 127.5) / 128, (255 - 127.5) / 128}
	for i := range want {
		if tensor[i] != want[i] {
			t.Errorf("channel %d = %v, want %v", i, tensor[i], want[i])
		}
	}
}
