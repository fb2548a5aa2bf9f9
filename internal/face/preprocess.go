package face

import (
	"image"
	"image/color"
	"math"
)

// Region is a detected face, reported as the eye-to-eye midpoint and the
// distance between the eyes.
type Region struct {
	MidX        float64
	MidY        float64
	EyeDistance float64
}

// Detector finds the primary face in an image. Implementations wrap whatever
// platform detector is available; NullDetector stands in when none is.
type Detector interface {
	DetectFace(img image.Image) (Region, bool)
}

// NullDetector never detects a face, so preprocessing always takes the
// centered-crop fallback.
type NullDetector struct{}

func (NullDetector) DetectFace(image.Image) (Region, bool) { return Region{}, false }

// CropFace extracts the face region: the eye midpoint expanded by ±1.2×
// eye distance horizontally and ±1.6× vertically, clamped to image bounds.
// When detection fails the fallback is a centered square crop; the second
// return reports which path was taken.
func CropFace(img image.Image, det Detector) (image.Image, bool) {
	if det != nil {
		if r, ok := det.DetectFace(img); ok && r.EyeDistance > 0 {
			b := img.Bounds()
			left := int(math.Round(r.MidX - 1.2*r.EyeDistance))
			right := int(math.Round(r.MidX + 1.2*r.EyeDistance))
			top := int(math.Round(r.MidY - 1.6*r.EyeDistance))
			bottom := int(math.Round(r.MidY + 1.6*r.EyeDistance))
			rect := image.Rect(left, top, right, bottom).Intersect(b)
			if rect.Dx() > 0 && rect.Dy() > 0 {
				return crop(img, rect), true
			}
		}
	}
	return CenterCrop(img), false
}

// CenterCrop returns the largest centered square of the image.
func CenterCrop(img image.Image) image.Image {
	b := img.Bounds()
	size := b.Dx()
	if b.Dy() < size {
		size = b.Dy()
	}
	x := b.Min.X + (b.Dx()-size)/2
	y := b.Min.Y + (b.Dy()-size)/2
	return crop(img, image.Rect(x, y, x+size, y+size))
}

// Resize scales the image to w x h with bilinear sampling.
func Resize(img image.Image, w, h int) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if b.Dx() == 0 || b.Dy() == 0 || w == 0 || h == 0 {
		return out
	}
	sx := float64(b.Dx()) / float64(w)
	sy := float64(b.Dy()) / float64(h)
	for y := 0; y < h; y++ {
		fy := (float64(y)+0.5)*sy - 0.5
		y0 := int(math.Floor(fy))
		wy := fy - float64(y0)
		for x := 0; x < w; x++ {
			fx := (float64(x)+0.5)*sx - 0.5
			x0 := int(math.Floor(fx))
			wx := fx - float64(x0)

			c00 := rgbAt(img, b, x0, y0)
			c10 := rgbAt(img, b, x0+1, y0)
			c01 := rgbAt(img, b, x0, y0+1)
			c11 := rgbAt(img, b, x0+1, y0+1)

			var px [3]uint8
			for i := 0; i < 3; i++ {
				top := float64(c00[i])*(1-wx) + float64(c10[i])*wx
				bot := float64(c01[i])*(1-wx) + float64(c11[i])*wx
				px[i] = uint8(math.Round(top*(1-wy) + bot*wy))
			}
			out.SetRGBA(x, y, color.RGBA{R: px[0], G: px[1], B: px[2], A: 255})
		}
	}
	return out
}

// Mirror flips the image horizontally, for test-time augmentation.
func Mirror(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(b.Dx()-1-x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// Tensor converts an image to a row-major RGB float32 tensor with each
// channel normalized to [-1, 1] via (pixel - 127.5) / 128.
func Tensor(img *image.RGBA) []float32 {
	b := img.Bounds()
	out := make([]float32, 0, b.Dx()*b.Dy()*3)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := img.RGBAAt(x, y)
			out = append(out,
				(float32(c.R)-127.5)/128.0,
				(float32(c.G)-127.5)/128.0,
				(float32(c.B)-127.5)/128.0)
		}
	}
	return out
}

// Preprocess runs the full single-image pipeline: face crop (or centered
// fallback), resize to the model input, normalize. The bool reports whether
// a face was actually detected.
func Preprocess(img image.Image, det Detector, w, h int) ([]float32, bool) {
	cropped, detected := CropFace(img, det)
	return Tensor(Resize(cropped, w, h)), detected
}

func crop(img image.Image, rect image.Rectangle) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	for y := 0; y < rect.Dy(); y++ {
		for x := 0; x < rect.Dx(); x++ {
			out.Set(x, y, img.At(rect.Min.X+x, rect.Min.Y+y))
		}
	}
	return out
}

func rgbAt(img image.Image, b image.Rectangle, x, y int) [3]uint8 {
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}
	if x > b.Dx()-1 {
		x = b.Dx() - 1
	}
	if y > b.Dy()-1 {
		y = b.Dy() - 1
	}
	r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
	return [3]uint8{uint8(r >> 8), uint8(g >> 8), uint8(bl >> 8)}
}
