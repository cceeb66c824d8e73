// Package screen provides platform-agnostic screen capture
package screen

import (
	"context"
	"errors"
	"image"
	"image/draw"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/corona10/goimagehash"

	apperrors "github.com/GriffinCanCode/autocapture/internal/errors"
)

// UnchangedDistance is the largest perceptual-hash distance still treated as the same screen.
const UnchangedDistance = 2

// Frame is one full-screen capture normalized to RGBA.
type Frame struct {
	Image      *image.RGBA
	CapturedAt time.Time
	Hash       *goimagehash.ImageHash
	// Distance is the Hamming distance to the previous frame, -1 for the first frame.
	Distance int
}

// Changed reports whether the frame differs visibly from its predecessor.
func (f Frame) Changed() bool {
	return f.Distance < 0 || f.Distance > UnchangedDistance
}

// HashString renders the perceptual hash, or "" if none was computed.
func (f Frame) HashString() string {
	if f.Hash == nil {
		return ""
	}
	return f.Hash.ToString()
}

// Capturer captures the primary display.
type Capturer interface {
	Capture(ctx context.Context) (Frame, error)
	Close()
}

// backend implements platform-specific raw capture
type backend interface {
	name() string
	captureRaw(ctx context.Context) (image.Image, error)
	cleanup()
}

// baseCapturer tries each backend in order and tracks the previous frame hash.
type baseCapturer struct {
	backends []backend
	tempDir  string
	now      func() time.Time

	mu       sync.Mutex
	lastHash *goimagehash.ImageHash
}

func newBase(tempDir string, backends ...backend) *baseCapturer {
	return &baseCapturer{backends: backends, tempDir: tempDir, now: time.Now}
}

func (c *baseCapturer) Capture(ctx context.Context) (Frame, error) {
	var errs []error
	for _, b := range c.backends {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}
		img, err := b.captureRaw(ctx)
		if err != nil {
			slog.Debug("capture backend failed", "backend", b.name(), "error", err)
			errs = append(errs, err)
			continue
		}
		return c.frame(img), nil
	}
	if len(errs) == 0 {
		errs = append(errs, errors.New("no capture backend available"))
	}
	return Frame{}, apperrors.Wrap(errors.Join(errs...), apperrors.CodeCaptureFailed, "screen capture failed")
}

func (c *baseCapturer) frame(img image.Image) Frame {
	f := Frame{Image: toRGBA(img), CapturedAt: c.now(), Distance: -1}

	hash, err := goimagehash.PerceptionHash(f.Image)
	if err != nil {
		slog.Debug("perceptual hash failed", "error", err)
		return f
	}
	f.Hash = hash

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastHash != nil {
		if dist, err := c.lastHash.Distance(hash); err == nil {
			f.Distance = dist
		}
	}
	c.lastHash = hash
	return f
}

func (c *baseCapturer) Close() {
	for _, b := range c.backends {
		b.cleanup()
	}
	if c.tempDir != "" {
		os.RemoveAll(c.tempDir)
	}
}

// toRGBA converts any image to a zero-origin RGBA raster, dropping alpha-only
// and paletted color models.
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func newTempDir() string {
	tmpDir, err := os.MkdirTemp("", "autocapture-screen-*")
	if err != nil {
		slog.Error("failed to create temp dir", "error", err)
		return ""
	}
	return tmpDir
}
