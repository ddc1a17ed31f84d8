// Package sidecar implements the local provider family (object detection,
// uniform detection and menu-board OCR) against a local inference HTTP
// sidecar.
package sidecar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/heimdex/heimdex-inspect/internal/compliance"
	"github.com/heimdex/heimdex-inspect/internal/detect"
)

const (
	detectPath  = "/v1/detect"
	uniformPath = "/v1/uniform"
	ocrPath     = "/v1/ocr"
	healthPath  = "/healthz"

	maxErrorBody = 4096
)

// StatusError is a non-2xx answer from the sidecar.
type StatusError struct {
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sidecar %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx). Client errors (4xx) are
// considered permanent.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode >= 500
}

type Options struct {
	Token     string
	Timeout   time.Duration
	HealthTTL time.Duration
}

// Client talks to the inference sidecar. Calls are skipped with Unavailable
// while the health cache reports the sidecar down.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	health     *detect.HealthCache
	logger     *slog.Logger
}

func New(baseURL string, opts Options, logger *slog.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   opts.Token,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
		logger: logger,
	}
	c.health = detect.NewHealthCache(c, opts.HealthTTL, logger)
	return c
}

// Health exposes the cached sidecar health for the status endpoint.
func (c *Client) Health() *detect.HealthCache {
	return c.health
}

// Probe implements detect.Prober.
func (c *Client) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+healthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &StatusError{Path: healthPath, StatusCode: resp.StatusCode}
	}
	return nil
}

type imageRequest struct {
	Image []byte `json:"image"`
}

type wireBox struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (b *wireBox) toBox() *compliance.BoundingBox {
	if b == nil {
		return nil
	}
	return &compliance.BoundingBox{Left: b.Left, Top: b.Top, Width: b.Width, Height: b.Height}
}

type wireDetection struct {
	Class      string   `json:"class"`
	Confidence float64  `json:"confidence"`
	Box        *wireBox `json:"bbox,omitempty"`
}

type detectionsResponse struct {
	Detections []wireDetection `json:"detections"`
}

type wireTextBlock struct {
	Text       string   `json:"text"`
	Confidence float64  `json:"confidence"`
	Box        *wireBox `json:"bbox,omitempty"`
}

type ocrResponse struct {
	Blocks []wireTextBlock `json:"blocks"`
}

func (c *Client) DetectObjects(ctx context.Context, image []byte) detect.Result[detect.ObjectReport] {
	var resp detectionsResponse
	if err := c.post(ctx, detectPath, image, &resp); err != nil {
		return detect.Failed[detect.ObjectReport](err)
	}
	return detect.Ok(detect.ObjectReport{Objects: toObjects(resp.Detections)})
}

func (c *Client) DetectUniform(ctx context.Context, image []byte) detect.Result[detect.UniformReport] {
	var resp detectionsResponse
	if err := c.post(ctx, uniformPath, image, &resp); err != nil {
		return detect.Failed[detect.UniformReport](err)
	}
	return detect.Ok(detect.UniformCompliance(toObjects(resp.Detections)))
}

func (c *Client) ReadMenu(ctx context.Context, image []byte) detect.Result[detect.MenuReport] {
	var resp ocrResponse
	if err := c.post(ctx, ocrPath, image, &resp); err != nil {
		return detect.Failed[detect.MenuReport](err)
	}
	blocks := make([]detect.TextBlock, 0, len(resp.Blocks))
	for _, b := range resp.Blocks {
		blocks = append(blocks, detect.TextBlock{
			Text:       b.Text,
			Confidence: detect.NormalizeConfidence(b.Confidence),
			Box:        b.Box.toBox(),
		})
	}
	return detect.Ok(detect.MenuCompliance(blocks))
}

func toObjects(dets []wireDetection) []detect.Object {
	out := make([]detect.Object, 0, len(dets))
	for _, d := range dets {
		out = append(out, detect.Object{
			Name:       d.Class,
			Confidence: detect.NormalizeConfidence(d.Confidence),
			Box:        d.Box.toBox(),
			Source:     detect.SourceLocal,
		})
	}
	return out
}

// post sends the image to path and decodes the JSON answer into out.
// Unreachable sidecars and 503 answers are reported as detect.ErrUnavailable.
func (c *Client) post(ctx context.Context, path string, image []byte, out any) error {
	if h := c.health.Get(ctx); !h.OK {
		return fmt.Errorf("%w: sidecar unhealthy: %s", detect.ErrUnavailable, h.Err)
	}

	body, err := json.Marshal(imageRequest{Image: image})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.health.Invalidate()
		return fmt.Errorf("%w: sidecar %s: %w", detect.ErrUnavailable, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		statusErr := &StatusError{Path: path, StatusCode: resp.StatusCode, Body: string(respBody)}
		c.logger.Warn("sidecar call failed", "path", path, "status", resp.StatusCode)
		if resp.StatusCode == http.StatusServiceUnavailable {
			c.health.Invalidate()
			return fmt.Errorf("%w: %w", detect.ErrUnavailable, statusErr)
		}
		return statusErr
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// AsStatusError unwraps a sidecar status error, if any.
func AsStatusError(err error) (*StatusError, bool) {
	var se *StatusError
	ok := errors.As(err, &se)
	return se, ok
}

var (
	_ detect.ObjectDetector  = (*Client)(nil)
	_ detect.UniformDetector = (*Client)(nil)
	_ detect.MenuReader      = (*Client)(nil)
	_ detect.Prober          = (*Client)(nil)
)
