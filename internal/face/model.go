package face

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Model abstracts the inference runtime. A single-tower model takes one
// image tensor and returns an embedding; a pairwise (twin) model takes two
// and returns a one-element similarity tensor. The shape is detected from
// InputCount, never configured separately.
type Model interface {
	InputCount() int
	InputWidth() int
	InputHeight() int
	OutputDim() int
	Invoke(ctx context.Context, inputs ...[]float32) ([]float32, error)
}

// HTTPModel runs tensors through a remote inference runtime.
type HTTPModel struct {
	baseURL string
	http    *http.Client

	inputCount  int
	inputWidth  int
	inputHeight int
	outputDim   int
}

type modelInfo struct {
	ModelName   string `json:"model_name"`
	InputCount  int    `json:"input_count"`
	InputWidth  int    `json:"input_width"`
	InputHeight int    `json:"input_height"`
	OutputDim   int    `json:"output_dim"`
}

// NewHTTPModel loads model metadata from the runtime. The name selects which
// artifact the runtime serves. Load failure is returned to the caller, who
// must treat the face gate as fail-closed.
func NewHTTPModel(ctx context.Context, baseURL, modelName string) (*HTTPModel, error) {
	m := &HTTPModel{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/models/"+modelName, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model runtime unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model load failed %s: %s", resp.Status, string(b))
	}
	var info modelInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode model info: %w", err)
	}
	m.inputCount = info.InputCount
	m.inputWidth = info.InputWidth
	m.inputHeight = info.InputHeight
	m.outputDim = info.OutputDim
	if m.inputCount < 1 {
		m.inputCount = 1
	}
	if m.inputWidth <= 0 {
		m.inputWidth = 112
	}
	if m.inputHeight <= 0 {
		m.inputHeight = 112
	}
	if m.outputDim <= 0 {
		m.outputDim = 128
	}
	return m, nil
}

func (m *HTTPModel) InputCount() int  { return m.inputCount }
func (m *HTTPModel) InputWidth() int  { return m.inputWidth }
func (m *HTTPModel) InputHeight() int { return m.inputHeight }
func (m *HTTPModel) OutputDim() int   { return m.outputDim }

// Invoke sends the input tensors to the runtime and returns the raw output.
func (m *HTTPModel) Invoke(ctx context.Context, inputs ...[]float32) ([]float32, error) {
	payload, err := json.Marshal(map[string]any{"inputs": inputs})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/v1/invoke", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := m.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("model invoke failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("model invoke error %s: %s", resp.Status, string(b))
	}
	var out struct {
		Outputs []float32 `json:"outputs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if len(out.Outputs) == 0 {
		return nil, fmt.Errorf("model returned empty output")
	}
	return out.Outputs, nil
}

// StubModel is a deterministic single-tower model for dev and tests. It
// bucket-pools the input tensor into a fixed-length vector, so identical
// images produce identical embeddings.
type StubModel struct {
	Width  int
	Height int
	Dim    int
}

// NewStubModel returns a stub with the common 112x112 input and a
// 128-dimensional output.
func NewStubModel() *StubModel {
	return &StubModel{Width: 112, Height: 112, Dim: 128}
}

func (s *StubModel) InputCount() int  { return 1 }
func (s *StubModel) InputWidth() int  { return s.Width }
func (s *StubModel) InputHeight() int { return s.Height }
func (s *StubModel) OutputDim() int   { return s.Dim }

func (s *StubModel) Invoke(_ context.Context, inputs ...[]float32) ([]float32, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("stub model expects 1 input, got %d", len(inputs))
	}
	in := inputs[0]
	out := make([]float32, s.Dim)
	if len(in) == 0 {
		return out, nil
	}
	for i, v := range in {
		out[i%s.Dim] += v
	}
	return out, nil
}
