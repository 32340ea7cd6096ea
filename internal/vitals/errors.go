package vitals

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for every failure the pipeline can report. Handlers match
// these with errors.Is to pick a response status.
var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrRecordingActive      = errors.New("recording already in progress")
	ErrDeviceUnavailable    = errors.New("unable to open webcam device")
	ErrCaptureEmpty         = errors.New("no frames captured")
	ErrUnsupportedFormat    = errors.New("unsupported video format")
	ErrTooLarge             = errors.New("video file too large")
	ErrInsufficientDuration = errors.New("video too short for the selected method")
)

// EngineError wraps any failure from the estimation engine (authentication,
// network, signal quality) while preserving the engine's own message.
type EngineError struct {
	Method  Method
	Message string
	Err     error
}

func (e *EngineError) Error() string {
	if e.Method != "" {
		return fmt.Sprintf("engine error (%s): %s", e.Method, e.Message)
	}
	return fmt.Sprintf("engine error: %s", e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// NewEngineError builds an EngineError with a human-friendly message.
func NewEngineError(method Method, err error) *EngineError {
	return &EngineError{
		Method:  method,
		Message: HumanizeEngineMessage(err.Error()),
		Err:     err,
	}
}

// HumanizeEngineMessage rewrites known engine failure patterns into guidance
// a user can act on. Unknown messages pass through untouched.
func HumanizeEngineMessage(message string) string {
	switch {
	case strings.Contains(message, "No face detected"):
		return "No face detected. Please ensure the face is clearly visible with adequate lighting."
	case strings.Contains(message, "Problem probing video"):
		return "Video format compatibility issue detected. Try converting to MP4."
	case strings.Contains(message, "API") && strings.Contains(message, "key"):
		return "API key error or quota exceeded. Please verify your VitalLens API settings."
	case strings.Contains(message, "signal quality"):
		return "Signal quality too low. Record a longer, steadier video with better lighting."
	}
	return message
}
