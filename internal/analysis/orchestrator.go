package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vitalcam/vitals-server/internal/broadcaster"
	"github.com/vitalcam/vitals-server/internal/logger"
	"github.com/vitalcam/vitals-server/internal/metrics"
	"github.com/vitalcam/vitals-server/internal/recorder"
	"github.com/vitalcam/vitals-server/internal/results"
	"github.com/vitalcam/vitals-server/internal/vitals"
	"github.com/vitalcam/vitals-server/pkg/ffmpeg"
)

// Video extensions accepted for upload.
var allowedExtensions = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".webm": true,
}

// MethodResult is the outcome of one estimation method.
type MethodResult struct {
	Method     string              `json:"method"`
	Faces      []vitals.FaceResult `json:"faces,omitempty"`
	Summary    string              `json:"summary,omitempty"`
	ResultFile string              `json:"result_file,omitempty"`
	Error      string              `json:"error,omitempty"`
}

// Report aggregates the per-method results of one analysis run.
type Report struct {
	Status          string         `json:"status"`
	DurationSeconds float64        `json:"duration_seconds,omitempty"`
	Results         []MethodResult `json:"results"`
	Errors          []string       `json:"errors,omitempty"`
}

// Orchestrator runs the analysis pipelines for uploaded videos and webcam
// captures: validate, probe, estimate per method, persist, broadcast.
type Orchestrator struct {
	estimator     vitals.Estimator
	store         *results.Store
	bcast         *broadcaster.Broadcaster
	metrics       *metrics.Metrics
	maxUploadSize int64
	maxDuration   time.Duration
	defaultAPIKey string

	// probe reads a video's duration; swapped out in tests.
	probe func(ctx context.Context, videoPath string) (time.Duration, error)
}

func New(estimator vitals.Estimator, store *results.Store, bcast *broadcaster.Broadcaster,
	m *metrics.Metrics, maxUploadSize int64, maxDuration time.Duration, defaultAPIKey string) *Orchestrator {
	return &Orchestrator{
		estimator:     estimator,
		store:         store,
		bcast:         bcast,
		metrics:       m,
		maxUploadSize: maxUploadSize,
		maxDuration:   maxDuration,
		defaultAPIKey: defaultAPIKey,
		probe:         ffmpeg.ProbeDuration,
	}
}

// ValidateUpload rejects files by extension and size before anything is
// broadcast or written.
func (o *Orchestrator) ValidateUpload(fileName string, size int64) error {
	ext := strings.ToLower(filepath.Ext(fileName))
	if !allowedExtensions[ext] {
		o.metrics.UploadsRejected.Add(1)
		return fmt.Errorf("%w: %q (allowed: mp4, avi, mov, mkv, webm)", vitals.ErrUnsupportedFormat, ext)
	}
	if size > o.maxUploadSize {
		o.metrics.UploadsRejected.Add(1)
		return fmt.Errorf("%w: %d bytes exceeds limit of %d", vitals.ErrTooLarge, size, o.maxUploadSize)
	}
	return nil
}

// resolveAPIKey falls back to the configured default for methods that need one.
func (o *Orchestrator) resolveAPIKey(method vitals.Method, apiKey string) (string, error) {
	if !method.RequiresAPIKey() {
		return "", nil
	}
	if apiKey == "" {
		apiKey = o.defaultAPIKey
	}
	if apiKey == "" {
		return "", fmt.Errorf("%w: %s requires an API key", vitals.ErrInvalidParameter, method)
	}
	return apiKey, nil
}

// AnalyzeUpload runs the upload pipeline on an already-saved video file.
// Validation failures return an error before any engine work; per-method
// engine failures are collected in the report and do not abort the remaining
// methods.
func (o *Orchestrator) AnalyzeUpload(ctx context.Context, videoPath, fileName string,
	methods []vitals.Method, apiKey string) (*Report, error) {

	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: no estimation method given", vitals.ErrInvalidParameter)
	}
	methods = vitals.DedupeMethods(methods)

	// API keys must resolve for every requested method before any broadcast.
	keys := make(map[vitals.Method]string, len(methods))
	for _, m := range methods {
		key, err := o.resolveAPIKey(m, apiKey)
		if err != nil {
			return nil, err
		}
		keys[m] = key
	}

	o.bcast.Broadcast(broadcaster.Message{
		Channel: broadcaster.ChannelUpload,
		Stage:   broadcaster.StageQueued,
		Message: fmt.Sprintf("Video %s queued for analysis", fileName),
		File:    fileName,
	})
	o.metrics.UploadAnalyses.Add(1)

	duration, err := o.probe(ctx, videoPath)
	if err != nil {
		o.broadcastUploadError(fileName, "Video format compatibility issue detected. Try converting to MP4.")
		return nil, fmt.Errorf("%w: could not read video duration", vitals.ErrUnsupportedFormat)
	}
	if duration > o.maxDuration {
		o.broadcastUploadError(fileName, fmt.Sprintf("Video too long: maximum is %v", o.maxDuration))
		return nil, fmt.Errorf("%w: video is %.1fs, maximum is %v",
			vitals.ErrInvalidParameter, duration.Seconds(), o.maxDuration)
	}

	// Methods whose minimum the video cannot satisfy are rejected up front.
	// If none survive, the whole request fails without an engine call.
	runnable := make([]vitals.Method, 0, len(methods))
	report := &Report{Status: "completed", DurationSeconds: duration.Seconds()}
	for _, m := range methods {
		if duration < m.MinVideoDuration() {
			msg := fmt.Sprintf("%s needs at least %v of video, got %.1fs",
				m, m.MinVideoDuration(), duration.Seconds())
			report.Results = append(report.Results, MethodResult{Method: m.String(), Error: msg})
			report.Errors = append(report.Errors, msg)
			continue
		}
		runnable = append(runnable, m)
	}
	if len(runnable) == 0 {
		o.broadcastUploadError(fileName, "Video too short for the selected methods")
		return nil, fmt.Errorf("%w: %.1fs", vitals.ErrInsufficientDuration, duration.Seconds())
	}

	for _, m := range runnable {
		o.bcast.Broadcast(broadcaster.Message{
			Channel: broadcaster.ChannelUpload,
			Stage:   broadcaster.StageStart,
			Message: fmt.Sprintf("Analyzing with %s...", m),
			Method:  m.String(),
			File:    fileName,
		})

		res := o.runMethod(ctx, videoPath, fileName, results.SourceUpload, m, keys[m])
		report.Results = append(report.Results, res)
		if res.Error != "" {
			report.Errors = append(report.Errors, res.Error)
			o.broadcastUploadError(fileName, res.Error)
			continue
		}
		o.bcast.Broadcast(broadcaster.Message{
			Channel: broadcaster.ChannelUpload,
			Stage:   broadcaster.StageComplete,
			Message: res.Summary,
			Method:  m.String(),
			File:    fileName,
		})
	}

	if len(report.Errors) > 0 {
		report.Status = "completed_with_errors"
		if len(report.Errors) == len(report.Results) {
			report.Status = "failed"
		}
	}
	return report, nil
}

// AnalyzeRecording processes a finished webcam capture. It is wired as the
// recorder's AnalyzeFunc. The capture file is removed once the engine has
// seen it, regardless of outcome. Errors never propagate; they become the
// outcome's message.
func (o *Orchestrator) AnalyzeRecording(ctx context.Context, sess *recorder.Session) recorder.Outcome {
	defer os.Remove(sess.OutputPath)
	o.metrics.WebcamAnalyses.Add(1)

	apiKey, err := o.resolveAPIKey(sess.Method, sess.APIKey)
	if err != nil {
		o.metrics.AnalysisFailures.Add(1)
		return recorder.Outcome{State: recorder.StateFailed, Message: err.Error()}
	}

	res := o.runMethod(ctx, sess.OutputPath, filepath.Base(sess.OutputPath),
		results.SourceWebcam, sess.Method, apiKey)
	if res.Error != "" {
		return recorder.Outcome{State: recorder.StateFailed, Message: res.Error}
	}

	o.bcast.Broadcast(broadcaster.Message{
		Channel: broadcaster.ChannelWebcam,
		Stage:   broadcaster.StageComplete,
		Message: res.Summary,
		Method:  sess.Method.String(),
	})
	return recorder.Outcome{
		State:   recorder.StateCompleted,
		Message: res.Summary,
		Results: []MethodResult{res},
	}
}

// runMethod performs one engine call and persists the result.
func (o *Orchestrator) runMethod(ctx context.Context, videoPath, fileName string,
	source results.Source, method vitals.Method, apiKey string) MethodResult {

	faces, err := o.estimator.Estimate(ctx, videoPath, method, apiKey)
	if err != nil {
		o.metrics.EngineErrors.Add(1)
		o.metrics.AnalysisFailures.Add(1)
		var engineErr *vitals.EngineError
		msg := err.Error()
		if errors.As(err, &engineErr) {
			msg = engineErr.Message
		}
		logger.Error("Analysis", "%s on %s failed: %v", method, fileName, err)
		return MethodResult{Method: method.String(), Error: msg}
	}

	res := MethodResult{
		Method:  method.String(),
		Faces:   faces,
		Summary: Summarize(method, faces),
	}

	path, err := o.store.Save(results.Record{
		VideoSource: source,
		VideoPath:   fileName,
		Method:      method.String(),
		RawResult:   faces,
		Summary:     res.Summary,
	})
	if err != nil {
		// The measurement is still returned; only persistence failed.
		logger.Warn("Analysis", "Could not persist %s result: %v", method, err)
	} else {
		res.ResultFile = filepath.Base(path)
	}
	return res
}

// Summarize renders a one-line reading like
// "POS • HR 72.4 bpm • RR 15.8 rpm" from the first detected face.
func Summarize(method vitals.Method, faces []vitals.FaceResult) string {
	parts := []string{method.String()}
	if len(faces) == 0 {
		return strings.Join(append(parts, "no face detected"), " • ")
	}
	vs := faces[0].VitalSigns
	if vs.HeartRate != nil {
		parts = append(parts, fmt.Sprintf("HR %.1f bpm", vs.HeartRate.Value))
	}
	if vs.RespiratoryRate != nil {
		parts = append(parts, fmt.Sprintf("RR %.1f rpm", vs.RespiratoryRate.Value))
	}
	return strings.Join(parts, " • ")
}

func (o *Orchestrator) broadcastUploadError(fileName, message string) {
	o.metrics.AnalysisFailures.Add(1)
	o.bcast.Broadcast(broadcaster.Message{
		Channel: broadcaster.ChannelUpload,
		Stage:   broadcaster.StageError,
		Message: message,
		File:    fileName,
	})
}
