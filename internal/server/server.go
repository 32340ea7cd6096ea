package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vitalcam/vitals-server/internal/analysis"
	"github.com/vitalcam/vitals-server/internal/broadcaster"
	"github.com/vitalcam/vitals-server/internal/config"
	"github.com/vitalcam/vitals-server/internal/logger"
	"github.com/vitalcam/vitals-server/internal/metrics"
	"github.com/vitalcam/vitals-server/internal/recorder"
	"github.com/vitalcam/vitals-server/internal/results"
	"github.com/vitalcam/vitals-server/internal/sysinfo"
	"github.com/vitalcam/vitals-server/internal/vitals"
)

// Server wires the HTTP surface to the analysis pipeline.
type Server struct {
	cfg          *config.Config
	orchestrator *analysis.Orchestrator
	recorder     *recorder.Recorder
	bcast        *broadcaster.Broadcaster
	store        *results.Store
	metrics      *metrics.Metrics
}

// NewServer returns a configured API server.
func NewServer(cfg *config.Config, orch *analysis.Orchestrator, rec *recorder.Recorder,
	bcast *broadcaster.Broadcaster, store *results.Store, m *metrics.Metrics) *Server {
	return &Server{
		cfg:          cfg,
		orchestrator: orch,
		recorder:     rec,
		bcast:        bcast,
		store:        store,
		metrics:      m,
	}
}

// Handler exposes the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/methods", s.handleMethods)
	mux.HandleFunc("/api/process-video", s.handleProcessVideo)
	mux.HandleFunc("/api/webcam/start", s.handleWebcamStart)
	mux.HandleFunc("/api/webcam/stop", s.handleWebcamStop)
	mux.HandleFunc("/api/webcam/status", s.handleWebcamStatus)
	mux.HandleFunc("/ws/status", s.handleStatusSocket)
	mux.HandleFunc("/api/results", s.handleResults)
	mux.HandleFunc("/api/system", s.handleSystem)
	mux.Handle("/metrics", s.metrics.Handler())

	return s.corsMiddleware(mux)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(indexHTML))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":    "healthy",
		"timestamp": float64(time.Now().Unix()),
	})
}

func (s *Server) handleMethods(w http.ResponseWriter, r *http.Request) {
	catalog := make([]map[string]any, 0, len(vitals.Methods()))
	for _, m := range vitals.Methods() {
		catalog = append(catalog, map[string]any{
			"name":                 m.String(),
			"requires_api_key":     m.RequiresAPIKey(),
			"supports_respiration": m.SupportsRespiration(),
			"min_duration_seconds": m.MinVideoDuration().Seconds(),
		})
	}
	writeJSON(w, map[string]any{"methods": catalog, "default": s.cfg.DefaultMethod})
}

func (s *Server) handleProcessVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Slack on top of the limit so a too-large file is reported as such
	// instead of as a truncated form.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.metrics.UploadsRejected.Add(1)
		writeError(w, fmt.Errorf("%w: upload exceeds size limit", vitals.ErrTooLarge))
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing video file", vitals.ErrInvalidParameter))
		return
	}
	defer file.Close()

	if err := s.orchestrator.ValidateUpload(header.Filename, header.Size); err != nil {
		writeError(w, err)
		return
	}

	methods, err := parseMethods(r)
	if err != nil {
		writeError(w, err)
		return
	}

	tmpPath, err := s.saveUpload(file, header.Filename)
	if err != nil {
		logger.Error("Server", "Could not stage upload: %v", err)
		writeError(w, err)
		return
	}
	defer os.Remove(tmpPath)

	report, err := s.orchestrator.AnalyzeUpload(r.Context(), tmpPath, header.Filename,
		methods, r.FormValue("api_key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

// saveUpload stages the uploaded file in the temp directory. The caller
// removes it when analysis is done.
func (s *Server) saveUpload(file io.Reader, fileName string) (string, error) {
	if err := os.MkdirAll(s.cfg.TmpDir, 0o755); err != nil {
		return "", fmt.Errorf("create temp directory: %w", err)
	}
	tmp, err := os.CreateTemp(s.cfg.TmpDir, "upload_*"+filepath.Ext(fileName))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, file); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write temp file: %w", err)
	}
	return tmp.Name(), nil
}

// parseMethods reads the requested methods from either a repeated/comma
// separated "methods" field or a single "method" field.
func parseMethods(r *http.Request) ([]vitals.Method, error) {
	var raw []string
	for _, field := range r.Form["methods"] {
		raw = append(raw, strings.Split(field, ",")...)
	}
	if len(raw) == 0 && r.FormValue("method") != "" {
		raw = []string{r.FormValue("method")}
	}

	methods := make([]vitals.Method, 0, len(raw))
	for _, name := range raw {
		if strings.TrimSpace(name) == "" {
			continue
		}
		m, err := vitals.ParseMethod(name)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no estimation method given", vitals.ErrInvalidParameter)
	}
	return methods, nil
}

func (s *Server) handleWebcamStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	methodName := r.FormValue("method")
	if methodName == "" {
		methodName = s.cfg.DefaultMethod
	}
	method, err := vitals.ParseMethod(methodName)
	if err != nil {
		writeError(w, err)
		return
	}

	duration := s.cfg.DefaultDuration
	if duration == 0 {
		duration = 10 * time.Second
	}
	if v := r.FormValue("duration"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, fmt.Errorf("%w: duration %q is not a number", vitals.ErrInvalidParameter, v))
			return
		}
		duration = time.Duration(seconds) * time.Second
	}

	apiKey := r.FormValue("api_key")
	if method.RequiresAPIKey() && apiKey == "" {
		apiKey = s.cfg.DefaultAPIKey
	}

	sess, err := s.recorder.Start(method, apiKey, duration)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, map[string]any{
		"status":           "recording",
		"session_id":       sess.ID,
		"method":           sess.Method.String(),
		"duration_seconds": duration.Seconds(),
	})
}

func (s *Server) handleWebcamStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state := s.recorder.Stop()
	writeJSON(w, map[string]any{"state": state})
}

func (s *Server) handleWebcamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.recorder.Status())
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	source := results.Source(r.URL.Query().Get("source"))
	if source == "" {
		source = results.SourceUpload
	}
	if source != results.SourceUpload && source != results.SourceWebcam {
		writeError(w, fmt.Errorf("%w: unknown source %q", vitals.ErrInvalidParameter, source))
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, fmt.Errorf("%w: invalid limit %q", vitals.ErrInvalidParameter, v))
			return
		}
		limit = n
	}

	records, err := s.store.List(source, limit)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []results.Record{}
	}
	writeJSON(w, map[string]any{"source": source, "results": records})
}

func (s *Server) handleSystem(w http.ResponseWriter, r *http.Request) {
	snap, err := sysinfo.Collect(s.cfg.CameraMaxIndex)
	if err != nil {
		writeJSONWithStatus(w, map[string]any{"error": err.Error()}, http.StatusInternalServerError)
		return
	}
	writeJSON(w, snap)
}

// corsMiddleware applies the configured allowed origins and answers
// preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.CORSOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// writeError maps pipeline errors onto HTTP statuses: validation failures
// are 400, a busy recorder is 409, a missing camera 503, anything else
// (engine included) 500. The body is always {"error": ...}.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, vitals.ErrInvalidParameter),
		errors.Is(err, vitals.ErrUnsupportedFormat),
		errors.Is(err, vitals.ErrTooLarge),
		errors.Is(err, vitals.ErrInsufficientDuration):
		status = http.StatusBadRequest
	case errors.Is(err, vitals.ErrRecordingActive):
		status = http.StatusConflict
	case errors.Is(err, vitals.ErrDeviceUnavailable):
		status = http.StatusServiceUnavailable
	}
	writeJSONWithStatus(w, map[string]any{"error": err.Error()}, status)
}

func writeJSON(w http.ResponseWriter, payload any) {
	writeJSONWithStatus(w, payload, http.StatusOK)
}

func writeJSONWithStatus(w http.ResponseWriter, payload any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		// Encode buffers the whole document before writing, so nothing has
		// reached the client yet. The fallback must stay valid JSON, so the
		// error text is marshalled rather than interpolated.
		fallback, _ := json.Marshal(map[string]string{"error": err.Error()})
		_, _ = w.Write(fallback)
	}
}
