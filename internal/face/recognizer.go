package face

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"
)

// Defaults for the similarity calibration. These came over from the system
// this replaces without published false-accept/false-reject data, so they
// are plain configuration, not verified security thresholds.
const (
	DefaultAlpha     = 13.9
	DefaultCenter    = 0.30
	DefaultThreshold = 0.7
)

// Result is the outcome of one similarity evaluation.
type Result struct {
	Similarity float64
	// Pairwise reports whether the twin-model path produced the score.
	Pairwise bool
	// LowConfidence is set when face detection failed on both images and the
	// centered-crop fallback was used, or when the model could not run and
	// the score fell closed to zero.
	LowConfidence bool
}

// Recognizer scores the similarity of two face images.
type Recognizer struct {
	model     Model
	detector  Detector
	alpha     float64
	center    float64
	threshold float64
}

// NewRecognizer builds a recognizer around a model and detector. A nil
// model is legal and makes every evaluation fail closed with similarity 0.
func NewRecognizer(model Model, det Detector, alpha, center, threshold float64) *Recognizer {
	if alpha == 0 {
		alpha = DefaultAlpha
	}
	if center == 0 {
		center = DefaultCenter
	}
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if det == nil {
		det = NullDetector{}
	}
	return &Recognizer{model: model, detector: det, alpha: alpha, center: center, threshold: threshold}
}

// Threshold returns the match decision boundary.
func (r *Recognizer) Threshold() float64 { return r.threshold }

// Similarity scores a probe image against a reference. A broken or missing
// model, or a missing image, never fails open: the score is 0 and the result
// is flagged.
func (r *Recognizer) Similarity(ctx context.Context, ref, probe image.Image) Result {
	if r.model == nil || ref == nil || probe == nil {
		return Result{Similarity: 0, LowConfidence: true}
	}
	if r.model.InputCount() >= 2 {
		return r.pairwise(ctx, ref, probe)
	}
	return r.singleTower(ctx, ref, probe)
}

// Match reports whether a similarity passes the threshold.
func (r *Recognizer) Match(similarity float64) bool {
	return similarity >= r.threshold
}

// Embed produces the test-time-augmented, L2-normalized embedding of one
// image: the model runs on the image and its horizontal mirror and the raw
// outputs are averaged. Only valid for single-tower models.
func (r *Recognizer) Embed(ctx context.Context, img image.Image) ([]float32, bool, error) {
	if r.model == nil {
		return nil, false, fmt.Errorf("no model loaded")
	}
	if img == nil {
		return nil, false, fmt.Errorf("no image")
	}
	if r.model.InputCount() >= 2 {
		return nil, false, fmt.Errorf("pairwise model has no embedding output")
	}
	w, h := r.model.InputWidth(), r.model.InputHeight()
	tensor, detected := Preprocess(img, r.detector, w, h)
	mirrored, _ := Preprocess(Mirror(img), r.detector, w, h)

	straight, err := r.model.Invoke(ctx, tensor)
	if err != nil {
		return nil, detected, err
	}
	flipped, err := r.model.Invoke(ctx, mirrored)
	if err != nil {
		return nil, detected, err
	}
	emb := average(straight, flipped)
	normalizeL2(emb)
	return emb, detected, nil
}

func (r *Recognizer) singleTower(ctx context.Context, ref, probe image.Image) Result {
	e1, refDetected, err := r.Embed(ctx, ref)
	if err != nil {
		log.Printf("face embed (reference) failed, scoring closed: %v", err)
		return Result{Similarity: 0, LowConfidence: true}
	}
	e2, probeDetected, err := r.Embed(ctx, probe)
	if err != nil {
		log.Printf("face embed (probe) failed, scoring closed: %v", err)
		return Result{Similarity: 0, LowConfidence: true}
	}
	cos := dot(e1, e2)
	sim := sigmoid(r.alpha * (cos - r.center))
	return Result{
		Similarity:    sim,
		LowConfidence: !refDetected && !probeDetected,
	}
}

func (r *Recognizer) pairwise(ctx context.Context, ref, probe image.Image) Result {
	w, h := r.model.InputWidth(), r.model.InputHeight()
	refTensor, refDetected := Preprocess(ref, r.detector, w, h)
	probeTensor, probeDetected := Preprocess(probe, r.detector, w, h)
	out, err := r.model.Invoke(ctx, refTensor, probeTensor)
	if err != nil || len(out) == 0 {
		log.Printf("pairwise model invoke failed, scoring closed: %v", err)
		return Result{Similarity: 0, Pairwise: true, LowConfidence: true}
	}
	return Result{
		Similarity:    float64(out[0]),
		Pairwise:      true,
		LowConfidence: !refDetected && !probeDetected,
	}
}

// CosineSimilarity is the dot product of two unit-norm vectors.
func CosineSimilarity(a, b []float32) float64 {
	return dot(a, b)
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var s float64
	for i := 0; i < n; i++ {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}

func average(a, b []float32) []float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = 0.5 * (a[i] + b[i])
	}
	return out
}

func normalizeL2(v []float32) {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
}
