package renderer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"time"

	"go-cert-verifier/internal/align"
	"go-cert-verifier/pkg/models"
)

// renderRequest is the wire format sent to the external render engine.
type renderRequest struct {
	Fields map[string]string   `json:"fields"`
	Params models.RenderParams `json:"params"`
}

// HTTPRenderer invokes an external certificate rendering service over HTTP.
// The service must be deterministic for the same fields and params; a
// non-deterministic renderer undermines the refinement loop.
type HTTPRenderer struct {
	client   *http.Client
	endpoint string
}

// NewHTTPRenderer creates a renderer client for the given endpoint.
func NewHTTPRenderer(endpoint string, timeout time.Duration) *HTTPRenderer {
	transport := &http.Transport{
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &HTTPRenderer{
		endpoint: endpoint,
		client: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
	}
}

// Render posts the fields and render parameters to the render service and
// decodes the image it returns. 5xx responses and transport errors are
// retried up to 3 times; 4xx responses fail immediately.
func (r *HTTPRenderer) Render(ctx context.Context, fields map[string]string, params models.RenderParams) (image.Image, error) {
	body, err := json.Marshal(renderRequest{Fields: fields, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("invalid renderer endpoint: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "image/png, image/jpeg")

		resp, err := r.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusOK {
			img, _, err := image.Decode(resp.Body)
			resp.Body.Close()
			if err != nil {
				return nil, fmt.Errorf("decode rendered image: %w", err)
			}
			return img, nil
		}

		resp.Body.Close()
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, fmt.Errorf("render service rejected request: status code %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("render service error: status code %d", resp.StatusCode)
	}

	return nil, fmt.Errorf("render failed after 3 attempts: %w", lastErr)
}

// RenderFunc adapts the client to the verifier's callback signature.
func (r *HTTPRenderer) RenderFunc() align.RenderFunc {
	return func(ctx context.Context, fields map[string]string, params models.RenderParams) (image.Image, error) {
		return r.Render(ctx, fields, params)
	}
}
