package recorder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vitalcam/vitals-server/internal/broadcaster"
	"github.com/vitalcam/vitals-server/internal/logger"
	"github.com/vitalcam/vitals-server/internal/metrics"
	"github.com/vitalcam/vitals-server/internal/vitals"
)

// State is the webcam session lifecycle.
type State string

const (
	StateIdle      State = "idle"
	StateCapturing State = "capturing"
	StateStopping  State = "stopping"
	StateCompleted State = "completed"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Duration bounds for a webcam recording request.
const (
	MinRecordingDuration = 5 * time.Second
	MaxRecordingDuration = 60 * time.Second
)

// Session is one webcam capture-and-analyze run.
type Session struct {
	ID         string        `json:"session_id"`
	Method     vitals.Method `json:"method"`
	APIKey     string        `json:"-"`
	Duration   time.Duration `json:"-"`
	OutputPath string        `json:"-"`
	StartedAt  time.Time     `json:"started_at"`
	FrameCount int           `json:"frame_count,omitempty"`
}

// Outcome is the terminal report of a finished session. It is handed to
// Status exactly once and then discarded.
type Outcome struct {
	SessionID string `json:"session_id"`
	State     State  `json:"state"`
	Message   string `json:"message,omitempty"`
	Results   any    `json:"results,omitempty"`
}

// AnalyzeFunc processes a finished capture. It receives the session with
// FrameCount and OutputPath populated and returns the terminal outcome.
type AnalyzeFunc func(ctx context.Context, sess *Session) Outcome

// Recorder owns the single webcam session slot. Start is an atomic
// check-and-set: a second Start while a session is active fails without
// touching the running one.
type Recorder struct {
	camera   Camera
	bcast    *broadcaster.Broadcaster
	analyze  AnalyzeFunc
	videoDir string
	metrics  *metrics.Metrics

	mu          sync.Mutex
	session     *Session
	cancel      context.CancelFunc
	stopped     bool
	lastOutcome *Outcome
}

func New(camera Camera, bcast *broadcaster.Broadcaster, analyze AnalyzeFunc, videoDir string, m *metrics.Metrics) *Recorder {
	return &Recorder{
		camera:   camera,
		bcast:    bcast,
		analyze:  analyze,
		videoDir: videoDir,
		metrics:  m,
	}
}

// Start begins a webcam capture session. An already-running session always
// wins: the busy check comes before any parameter validation, and the lock is
// held until the slot is taken so two starts cannot race past each other.
func (r *Recorder) Start(method vitals.Method, apiKey string, duration time.Duration) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		return nil, vitals.ErrRecordingActive
	}

	if duration < MinRecordingDuration || duration > MaxRecordingDuration {
		return nil, fmt.Errorf("%w: duration must be between %v and %v",
			vitals.ErrInvalidParameter, MinRecordingDuration, MaxRecordingDuration)
	}
	if duration < method.MinVideoDuration() {
		return nil, fmt.Errorf("%w: %s needs at least %v",
			vitals.ErrInsufficientDuration, method, method.MinVideoDuration())
	}
	if method.RequiresAPIKey() && apiKey == "" {
		return nil, fmt.Errorf("%w: %s requires an API key", vitals.ErrInvalidParameter, method)
	}
	if err := r.camera.Probe(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(r.videoDir, 0o755); err != nil {
		return nil, fmt.Errorf("create video directory: %w", err)
	}

	now := time.Now()
	sess := &Session{
		ID:         uuid.NewString(),
		Method:     method,
		APIKey:     apiKey,
		Duration:   duration,
		OutputPath: filepath.Join(r.videoDir, fmt.Sprintf("vitals_webcam_%s.mp4", now.Format("20060102_150405"))),
		StartedAt:  now,
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.session = sess
	r.cancel = cancel
	r.stopped = false
	r.lastOutcome = nil
	r.metrics.RecordingsTotal.Add(1)
	r.metrics.RecordingActive.Store(1)

	logger.Info("Recorder", "Session %s started (%s, %v)", sess.ID, method, duration)
	go r.run(ctx, sess)
	return sess, nil
}

// Stop cancels the running capture. Analysis of the frames captured so far
// still proceeds. Calling Stop while idle is a no-op that reports idle.
func (r *Recorder) Stop() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session == nil {
		return StateIdle
	}
	if !r.stopped {
		r.stopped = true
		r.cancel()
		logger.Info("Recorder", "Session %s stop requested", r.session.ID)
	}
	return StateStopping
}

// StatusResponse is what /api/webcam/status reports.
type StatusResponse struct {
	Recording bool     `json:"recording"`
	State     State    `json:"state"`
	Session   *Session `json:"session,omitempty"`
	ElapsedS  float64  `json:"elapsed_seconds,omitempty"`
	Outcome   *Outcome `json:"outcome,omitempty"`
}

// Status reports the current session, or the terminal outcome of the last
// one. A terminal outcome is returned exactly once; subsequent calls report
// idle.
func (r *Recorder) Status() StatusResponse {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session != nil {
		state := StateCapturing
		if r.stopped {
			state = StateStopping
		}
		return StatusResponse{
			Recording: true,
			State:     state,
			Session:   r.session,
			ElapsedS:  time.Since(r.session.StartedAt).Seconds(),
		}
	}
	if out := r.lastOutcome; out != nil {
		r.lastOutcome = nil
		return StatusResponse{State: out.State, Outcome: out}
	}
	return StatusResponse{State: StateIdle}
}

// Recording reports whether a session is active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session != nil
}

func (r *Recorder) run(ctx context.Context, sess *Session) {
	r.bcast.Broadcast(broadcaster.Message{
		Channel: broadcaster.ChannelWebcam,
		Stage:   broadcaster.StageStart,
		Message: fmt.Sprintf("Recording started (%v, %s)", sess.Duration, sess.Method),
		Method:  sess.Method.String(),
	})

	frames, err := r.camera.Capture(ctx, sess.OutputPath, sess.Duration)

	// Capture has returned, so the camera is released before any terminal
	// state becomes observable.
	r.mu.Lock()
	wasStopped := r.stopped
	r.mu.Unlock()

	if err != nil {
		r.finish(sess, Outcome{
			SessionID: sess.ID,
			State:     StateFailed,
			Message:   vitals.HumanizeEngineMessage(err.Error()),
		}, true)
		os.Remove(sess.OutputPath)
		return
	}

	sess.FrameCount = frames
	r.bcast.Broadcast(broadcaster.Message{
		Channel: broadcaster.ChannelWebcam,
		Stage:   broadcaster.StageCaptured,
		Message: fmt.Sprintf("Captured %d frames, analyzing...", frames),
		Method:  sess.Method.String(),
	})

	outcome := r.analyze(context.Background(), sess)
	outcome.SessionID = sess.ID
	if wasStopped && outcome.State == StateCompleted {
		outcome.State = StateStopped
	}
	r.finish(sess, outcome, outcome.State == StateFailed)
}

func (r *Recorder) finish(sess *Session, outcome Outcome, failed bool) {
	if failed {
		r.bcast.Broadcast(broadcaster.Message{
			Channel: broadcaster.ChannelWebcam,
			Stage:   broadcaster.StageError,
			Message: outcome.Message,
			Method:  sess.Method.String(),
		})
	}

	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.lastOutcome = &outcome
	r.session = nil
	r.cancel = nil
	r.stopped = false
	r.metrics.RecordingActive.Store(0)
	r.mu.Unlock()

	logger.Info("Recorder", "Session %s finished: %s", sess.ID, outcome.State)
}
