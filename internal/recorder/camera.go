package recorder

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/vitalcam/vitals-server/internal/logger"
	"github.com/vitalcam/vitals-server/internal/vitals"
	"github.com/vitalcam/vitals-server/pkg/ffmpeg"
)

// Camera captures a video clip to a file. Probe checks that a device is
// available without opening it. Capture blocks until the clip is finished or
// ctx is cancelled; a cancelled capture still finalizes the file with
// whatever frames were recorded so far.
type Camera interface {
	Probe() error
	Capture(ctx context.Context, outputPath string, maxDuration time.Duration) (frames int, err error)
}

// V4L2Camera records from a Video4Linux device through ffmpeg.
type V4L2Camera struct {
	MaxIndex int
	FPS      int
}

// Probe reports whether any capture device exists.
func (c *V4L2Camera) Probe() error {
	_, err := c.findDevice()
	return err
}

// Capture finds the first usable device, records into outputPath and returns
// the number of frames written.
func (c *V4L2Camera) Capture(ctx context.Context, outputPath string, maxDuration time.Duration) (int, error) {
	device, err := c.findDevice()
	if err != nil {
		return 0, err
	}
	logger.Info("Camera", "Recording from %s for up to %s", device, maxDuration)

	cmd := ffmpeg.CaptureCmd(ctx, device, outputPath, maxDuration, c.FPS)
	if err := cmd.Run(); err != nil && ctx.Err() == nil {
		return 0, fmt.Errorf("%w: %v", vitals.ErrDeviceUnavailable, err)
	}

	frames, err := ffmpeg.CountFrames(context.Background(), outputPath)
	if err != nil || frames == 0 {
		return 0, vitals.ErrCaptureEmpty
	}
	return frames, nil
}

// findDevice probes /dev/video0..N and returns the first that exists.
func (c *V4L2Camera) findDevice() (string, error) {
	for i := 0; i <= c.MaxIndex; i++ {
		device := fmt.Sprintf("/dev/video%d", i)
		if _, err := os.Stat(device); err == nil {
			return device, nil
		}
	}
	return "", vitals.ErrDeviceUnavailable
}
