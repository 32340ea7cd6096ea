package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/vitalcam/vitals-server/internal/analysis"
	"github.com/vitalcam/vitals-server/internal/broadcaster"
	"github.com/vitalcam/vitals-server/internal/config"
	"github.com/vitalcam/vitals-server/internal/metrics"
	"github.com/vitalcam/vitals-server/internal/recorder"
	"github.com/vitalcam/vitals-server/internal/results"
	"github.com/vitalcam/vitals-server/internal/vitals"
)

type fakeEstimator struct {
	err error
}

func (f *fakeEstimator) Estimate(ctx context.Context, videoPath string, method vitals.Method, apiKey string) ([]vitals.FaceResult, error) {
	if f.err != nil {
		return nil, vitals.NewEngineError(method, f.err)
	}
	return []vitals.FaceResult{{
		VitalSigns: vitals.VitalSigns{
			HeartRate: &vitals.Scalar{Value: 70.1, Unit: "bpm"},
		},
	}}, nil
}

type fakeCamera struct {
	probeErr error
	frames   int
	block    time.Duration
}

func (c *fakeCamera) Probe() error { return c.probeErr }

func (c *fakeCamera) Capture(ctx context.Context, outputPath string, maxDuration time.Duration) (int, error) {
	select {
	case <-ctx.Done():
	case <-time.After(c.block):
	}
	return c.frames, nil
}

func newTestServer(t *testing.T, cam recorder.Camera) *httptest.Server {
	t.Helper()
	dataDir := t.TempDir()
	cfg := &config.Config{
		TmpDir:           t.TempDir(),
		CORSOrigins:      []string{"https://app.example"},
		MaxUploadSize:    100 * 1024 * 1024,
		MaxVideoDuration: 45 * time.Second,
		DataDir:          dataDir,
		VideoDir:         filepath.Join(dataDir, "videos"),
		ResultsDir:       filepath.Join(dataDir, "results"),
		DefaultMethod:    "POS",
		CameraMaxIndex:   2,
	}

	m := metrics.New()
	bcast := broadcaster.New()
	store := results.NewStore(cfg.ResultsDir)
	orch := analysis.New(&fakeEstimator{}, store, bcast, m,
		cfg.MaxUploadSize, cfg.MaxVideoDuration, cfg.DefaultAPIKey)
	rec := recorder.New(cam, bcast, orch.AnalyzeRecording, cfg.VideoDir, m)

	srv := httptest.NewServer(NewServer(cfg, orch, rec, bcast, store, m).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func decodeJSONMap(t *testing.T, body []byte) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode json: %v\nbody=%s", err, string(body))
	}
	return payload
}

func requireString(t *testing.T, value any, field string) string {
	t.Helper()
	str, ok := value.(string)
	if !ok {
		t.Fatalf("expected %s to be string, got %T", field, value)
	}
	return str
}

func requireNumber(t *testing.T, value any, field string) float64 {
	t.Helper()
	num, ok := value.(float64)
	if !ok {
		t.Fatalf("expected %s to be number, got %T", field, value)
	}
	return num
}

func requireSlice(t *testing.T, value any, field string) []any {
	t.Helper()
	s, ok := value.([]any)
	if !ok {
		t.Fatalf("expected %s to be array, got %T", field, value)
	}
	return s
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, decodeJSONMap(t, body)
}

func postForm(t *testing.T, url string, form map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	values := make([]string, 0, len(form))
	for k, v := range form {
		values = append(values, k+"="+v)
	}
	resp, err := http.Post(url, "application/x-www-form-urlencoded",
		strings.NewReader(strings.Join(values, "&")))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, decodeJSONMap(t, body)
}

func uploadVideo(t *testing.T, url, fileName string, fields map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = writer.WriteField(k, v)
	}
	if fileName != "" {
		part, err := writer.CreateFormFile("video", fileName)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		_, _ = part.Write([]byte("fake video payload"))
	}
	_ = writer.Close()

	resp, err := http.Post(url+"/api/process-video", writer.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("POST /api/process-video: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	_ = resp.Body.Close()
	return resp, decodeJSONMap(t, body)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, payload := get(t, srv.URL+"/health")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := requireString(t, payload["status"], "status"); got != "healthy" {
		t.Fatalf("status = %q", got)
	}
	requireNumber(t, payload["timestamp"], "timestamp")
}

func TestMethodCatalog(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, payload := get(t, srv.URL+"/api/methods")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	methods := requireSlice(t, payload["methods"], "methods")
	if len(methods) != 4 {
		t.Fatalf("got %d methods, want 4", len(methods))
	}
	first, ok := methods[0].(map[string]any)
	if !ok {
		t.Fatalf("methods[0] = %T", methods[0])
	}
	if requireString(t, first["name"], "name") != "VITALLENS" {
		t.Fatalf("first method = %v", first["name"])
	}
	if first["requires_api_key"] != true || first["supports_respiration"] != true {
		t.Fatalf("VITALLENS capabilities = %v", first)
	}
	if requireNumber(t, first["min_duration_seconds"], "min_duration_seconds") != 10 {
		t.Fatalf("VITALLENS min duration = %v", first["min_duration_seconds"])
	}
}

func TestProcessVideoValidation(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	t.Run("missing file", func(t *testing.T) {
		resp, payload := uploadVideo(t, srv.URL, "", map[string]string{"method": "POS"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		requireString(t, payload["error"], "error")
	})

	t.Run("unsupported extension", func(t *testing.T) {
		resp, payload := uploadVideo(t, srv.URL, "notes.txt", map[string]string{"method": "POS"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		msg := requireString(t, payload["error"], "error")
		if !strings.Contains(msg, "unsupported video format") {
			t.Fatalf("error = %q", msg)
		}
	})

	t.Run("no method", func(t *testing.T) {
		resp, _ := uploadVideo(t, srv.URL, "clip.mp4", nil)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("unknown method", func(t *testing.T) {
		resp, _ := uploadVideo(t, srv.URL, "clip.mp4", map[string]string{"method": "ICA"})
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})

	t.Run("wrong http method", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/api/process-video")
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Fatalf("status = %d", resp.StatusCode)
		}
	})
}

func TestWebcamLifecycle(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 150})

	resp, payload := postForm(t, srv.URL+"/api/webcam/start", map[string]string{
		"method": "POS", "duration": "5",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d: %v", resp.StatusCode, payload)
	}
	if requireString(t, payload["status"], "status") != "recording" {
		t.Fatalf("start payload = %v", payload)
	}
	sessionID := requireString(t, payload["session_id"], "session_id")

	// Wait for the capture goroutine to complete and pick up the outcome.
	deadline := time.Now().Add(3 * time.Second)
	var outcome map[string]any
	for {
		resp, payload = get(t, srv.URL+"/api/webcam/status")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status status = %d", resp.StatusCode)
		}
		if payload["recording"] != true {
			if raw, ok := payload["outcome"].(map[string]any); ok {
				outcome = raw
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("no terminal outcome, last payload: %v", payload)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if requireString(t, outcome["state"], "outcome.state") != "completed" {
		t.Fatalf("outcome = %v", outcome)
	}
	if requireString(t, outcome["session_id"], "outcome.session_id") != sessionID {
		t.Fatalf("outcome session = %v, want %s", outcome["session_id"], sessionID)
	}

	// The outcome is delivered once; the next poll reports idle.
	_, payload = get(t, srv.URL+"/api/webcam/status")
	if requireString(t, payload["state"], "state") != "idle" {
		t.Fatalf("post-outcome state = %v", payload["state"])
	}
}

func TestWebcamStartConflict(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10, block: time.Minute})

	resp, _ := postForm(t, srv.URL+"/api/webcam/start", map[string]string{"duration": "10"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first start status = %d", resp.StatusCode)
	}

	resp, payload := postForm(t, srv.URL+"/api/webcam/start", map[string]string{"duration": "10"})
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second start status = %d, want 409", resp.StatusCode)
	}
	requireString(t, payload["error"], "error")

	resp, payload = postForm(t, srv.URL+"/api/webcam/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop status = %d", resp.StatusCode)
	}
	if requireString(t, payload["state"], "state") != "stopping" {
		t.Fatalf("stop payload = %v", payload)
	}
}

func TestWebcamStartDefaults(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, payload := postForm(t, srv.URL+"/api/webcam/start", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start status = %d: %v", resp.StatusCode, payload)
	}
	if requireString(t, payload["method"], "method") != "POS" {
		t.Fatalf("default method = %v", payload["method"])
	}
	if requireNumber(t, payload["duration_seconds"], "duration_seconds") != 10 {
		t.Fatalf("default duration = %v", payload["duration_seconds"])
	}
}

func TestWebcamStartValidation(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, _ := postForm(t, srv.URL+"/api/webcam/start", map[string]string{"duration": "2"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("short duration status = %d", resp.StatusCode)
	}

	resp, _ = postForm(t, srv.URL+"/api/webcam/start", map[string]string{"duration": "nope"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad duration status = %d", resp.StatusCode)
	}

	resp, _ = postForm(t, srv.URL+"/api/webcam/start", map[string]string{
		"method": "VITALLENS", "duration": "15",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing api key status = %d", resp.StatusCode)
	}
}

func TestWebcamStartWithoutCamera(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{probeErr: vitals.ErrDeviceUnavailable})

	resp, _ := postForm(t, srv.URL+"/api/webcam/start", map[string]string{"duration": "10"})
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestStopWhileIdle(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, payload := postForm(t, srv.URL+"/api/webcam/stop", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if requireString(t, payload["state"], "state") != "idle" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestResultsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, payload := get(t, srv.URL+"/api/results")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if got := requireSlice(t, payload["results"], "results"); len(got) != 0 {
		t.Fatalf("results = %v", got)
	}

	resp, _ = get(t, srv.URL+"/api/results?source=bogus")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bogus source status = %d", resp.StatusCode)
	}
}

func TestCORSHeaders(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/api/methods", nil)
	req.Header.Set("Origin", "https://app.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("preflight status = %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://app.example" {
		t.Fatalf("allow-origin = %q", got)
	}

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/health", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("unexpected allow-origin %q for disallowed origin", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if !bytes.Contains(body, []byte("vitals_recording_active")) {
		t.Fatalf("metrics exposition missing vitals gauges:\n%s", body)
	}
}

func TestIndexPage(t *testing.T) {
	srv := newTestServer(t, &fakeCamera{frames: 10})

	resp, err := http.Get(srv.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content-type = %q", ct)
	}
	if !bytes.Contains(body, []byte("Vital Signs")) {
		t.Fatal("index page missing title")
	}

	resp, err = http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown path status = %d", resp.StatusCode)
	}
}

func TestWriteJSONFallbackIsValidJSON(t *testing.T) {
	rr := httptest.NewRecorder()
	// NaN cannot be marshalled, forcing the encoder's fallback path.
	writeJSON(rr, math.NaN())

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("fallback body is not valid JSON: %v (%s)", err, rr.Body.String())
	}
	if msg, ok := body["error"].(string); !ok || msg == "" {
		t.Fatalf("fallback body = %q, want an error field", rr.Body.String())
	}
}
