package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/bunsilmul/chaja/pkg/utils"
)

// HTTPGateway talks to the model server over HTTP: POST {text} to the embed
// endpoint, multipart image to the caption endpoint.
type HTTPGateway struct {
	embedURL   string
	captionURL string
	dimensions int
	client     *http.Client
}

// NewHTTPGateway creates a gateway client. timeout bounds a single call;
// zero means 60 seconds.
func NewHTTPGateway(embedURL, captionURL string, dimensions int, timeout time.Duration) (*HTTPGateway, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding: dimensions must be positive")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPGateway{
		embedURL:   embedURL,
		captionURL: captionURL,
		dimensions: dimensions,
		client:     &http.Client{Timeout: timeout},
	}, nil
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests an embedding for text. The returned vector is normalized to
// unit length so inner product equals cosine similarity.
func (g *HTTPGateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.embedURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) != g.dimensions {
		return nil, fmt.Errorf("%w: got %d, expected %d", ErrDimensionMismatch, len(out.Embedding), g.dimensions)
	}
	utils.NormalizeL2(out.Embedding)
	return out.Embedding, nil
}

type captionResponse struct {
	Caption string `json:"caption"`
}

// Caption requests a description of the image.
func (g *HTTPGateway) Caption(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyInput
	}
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "image")
	if err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.captionURL, &buf)
	if err != nil {
		return "", fmt.Errorf("build caption request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("caption request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("caption request returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out captionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode caption response: %w", err)
	}
	return strings.TrimSpace(out.Caption), nil
}

// Dimensions returns the configured embedding dimension.
func (g *HTTPGateway) Dimensions() int {
	return g.dimensions
}

// Close is a no-op; the HTTP client holds no resources needing release.
func (g *HTTPGateway) Close() error {
	return nil
}
