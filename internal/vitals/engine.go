package vitals

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vitalcam/vitals-server/internal/logger"
)

// Estimator is the boundary to the vital-signs estimation engine. The engine
// is opaque: a video goes in, per-face measurements come out.
type Estimator interface {
	Estimate(ctx context.Context, videoPath string, method Method, apiKey string) ([]FaceResult, error)
}

// Client talks to the estimation service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates an engine client for the given base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Estimate uploads the video and returns the engine's per-face measurements.
// Every failure is returned as an *EngineError.
func (c *Client) Estimate(ctx context.Context, videoPath string, method Method, apiKey string) ([]FaceResult, error) {
	file, err := os.Open(videoPath)
	if err != nil {
		return nil, NewEngineError(method, fmt.Errorf("open video: %w", err))
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("method", method.String()); err != nil {
		return nil, NewEngineError(method, err)
	}
	part, err := writer.CreateFormFile("video", filepath.Base(videoPath))
	if err != nil {
		return nil, NewEngineError(method, err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return nil, NewEngineError(method, fmt.Errorf("read video: %w", err))
	}
	if err := writer.Close(); err != nil {
		return nil, NewEngineError(method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/estimate", &body)
	if err != nil {
		return nil, NewEngineError(method, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	logger.Debug("Engine", "Estimating %s with method %s", filepath.Base(videoPath), method)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, NewEngineError(method, fmt.Errorf("engine unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, NewEngineError(method, decodeEngineFailure(resp))
	}

	var payload struct {
		Results []FaceResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, NewEngineError(method, fmt.Errorf("decode engine response: %w", err))
	}

	logger.Debug("Engine", "Method %s returned %d face(s)", method, len(payload.Results))
	return payload.Results, nil
}

// decodeEngineFailure extracts the engine's error message from a non-2xx
// response, falling back to the HTTP status.
func decodeEngineFailure(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(data) > 0 {
		var payload struct {
			Error   string `json:"error"`
			Detail  string `json:"detail"`
			Message string `json:"message"`
		}
		if json.Unmarshal(data, &payload) == nil {
			for _, msg := range []string{payload.Error, payload.Detail, payload.Message} {
				if msg != "" {
					return fmt.Errorf("%s", msg)
				}
			}
		}
	}
	return fmt.Errorf("engine returned %s", resp.Status)
}
