package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// CheckInstallation verifies if FFmpeg is installed and accessible
func CheckInstallation() error {
	cmd := exec.Command("ffmpeg", "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg is not installed or not in PATH: %w", err)
	}
	return nil
}

// ProbeDuration returns the container duration of a video file.
func ProbeDuration(ctx context.Context, videoPath string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to probe video duration: %w", err)
	}

	return ParseDuration(string(output))
}

// ParseDuration converts ffprobe's duration output (seconds as a decimal
// string) into a time.Duration.
func ParseDuration(output string) (time.Duration, error) {
	trimmed := strings.TrimSpace(output)
	seconds, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe duration %q: %w", trimmed, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// CountFrames returns the number of video frames in a file.
func CountFrames(ctx context.Context, videoPath string) (int, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-count_packets",
		"-show_entries", "stream=nb_read_packets",
		"-of", "default=noprint_wrappers=1:nokey=1",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("failed to count frames: %w", err)
	}

	frames, err := strconv.Atoi(strings.TrimSpace(string(output)))
	if err != nil {
		return 0, fmt.Errorf("unexpected ffprobe frame count %q: %w", strings.TrimSpace(string(output)), err)
	}
	return frames, nil
}

// CaptureCmd builds an ffmpeg command that records from a V4L2 device into an
// MP4 file for up to maxDuration. Cancelling ctx sends SIGINT so ffmpeg can
// finalize the container instead of leaving a truncated file.
func CaptureCmd(ctx context.Context, device, outputPath string, maxDuration time.Duration, fps int) *exec.Cmd {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(fps),
		"-i", device,
		"-t", strconv.FormatFloat(maxDuration.Seconds(), 'f', 1, 64),
		"-vf", "hflip",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = 3 * time.Second
	return cmd
}
