// Package camera captures JPEG snapshots for the robot /image endpoint.
package camera

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/nfnt/resize"
	zlog "github.com/rs/zerolog/log"
)

var commandContext = exec.CommandContext

// ErrNoCommand is returned when no capture command is configured.
var ErrNoCommand = errors.New("no capture command configured")

// Capturer produces one JPEG frame per call.
type Capturer interface {
	Capture(ctx context.Context) ([]byte, error)
}

// CommandCapturer runs an external command that writes a JPEG to stdout,
// e.g. "fswebcam -q --no-banner -". When the capture fails and a reset
// command is configured, the reset runs and the capture is retried once.
type CommandCapturer struct {
	command []string
	reset   []string
	width   int

	mu sync.Mutex // one capture at a time; the device is exclusive
}

// NewCommandCapturer parses command and reset as whitespace separated
// argument lists. width > 0 rescales frames to that width.
func NewCommandCapturer(command, reset string, width int) (*CommandCapturer, error) {
	c := &CommandCapturer{
		command: strings.Fields(command),
		reset:   strings.Fields(reset),
		width:   width,
	}
	if len(c.command) == 0 {
		return nil, ErrNoCommand
	}
	return c, nil
}

// Capture returns one JPEG frame.
func (c *CommandCapturer) Capture(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	frame, err := c.run(ctx, c.command)
	if err != nil && len(c.reset) > 0 {
		zlog.Warn().Err(err).Msg("camera: capture failed, resetting device")
		if _, rerr := c.run(ctx, c.reset); rerr != nil {
			return nil, errors.Wrapf(err, "capture (reset also failed: %v)", rerr)
		}
		frame, err = c.run(ctx, c.command)
	}
	if err != nil {
		return nil, errors.Wrap(err, "capture")
	}
	if !isJPEG(frame) {
		return nil, errors.New("capture: command did not produce a JPEG")
	}
	if c.width > 0 {
		return Resize(frame, c.width)
	}
	return frame, nil
}

func (c *CommandCapturer) run(ctx context.Context, args []string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := commandContext(ctx, args[0], args[1:]...) //nolint:gosec
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, errors.Wrapf(err, "%s: %s", args[0], msg)
		}
		return nil, errors.Wrap(err, args[0])
	}
	return stdout.Bytes(), nil
}

func isJPEG(b []byte) bool {
	return len(b) >= 2 && b[0] == 0xff && b[1] == 0xd8
}

// TestPattern renders a synthetic frame: colour bars and a moving marker
// so consecutive snapshots differ.
type TestPattern struct {
	Width, Height int
	now           func() time.Time
}

// NewTestPattern returns a pattern of the given size.
func NewTestPattern(width, height int) *TestPattern {
	return &TestPattern{Width: width, Height: height, now: time.Now}
}

var bars = []color.RGBA{
	{192, 192, 192, 255}, {192, 192, 0, 255}, {0, 192, 192, 255}, {0, 192, 0, 255},
	{192, 0, 192, 255}, {192, 0, 0, 255}, {0, 0, 192, 255},
}

// Capture encodes one frame.
func (p *TestPattern) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w, h := max(p.Width, len(bars)), max(p.Height, 8)
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	barWidth := w / len(bars)
	for x := 0; x < w; x++ {
		c := bars[min(x/max(barWidth, 1), len(bars)-1)]
		for y := 0; y < h; y++ {
			img.SetRGBA(x, y, c)
		}
	}

	// marker sweeps across the bottom once per minute
	sec := p.now().Second()
	mx := sec * (w - 8) / 59
	for x := mx; x < mx+8 && x < w; x++ {
		for y := h - 8; y < h; y++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, errors.Wrap(err, "encode test pattern")
	}
	return buf.Bytes(), nil
}

// Resize scales a JPEG to width pixels, keeping the aspect ratio. Frames
// already at or below width are returned unchanged.
func Resize(frame []byte, width int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, errors.Wrap(err, "decode frame")
	}
	if width <= 0 || img.Bounds().Dx() <= width {
		return frame, nil
	}

	resized := resize.Resize(uint(width), 0, img, resize.Lanczos3) //nolint:gosec // width is positive
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 85}); err != nil {
		return nil, errors.Wrap(err, "encode frame")
	}
	return buf.Bytes(), nil
}
