package screen

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/kbinani/screenshot"
)

var errNoDisplay = errors.New("no active displays found")

// displayBackend grabs a display directly through the native windowing API.
type displayBackend struct{ index int }

func (d displayBackend) name() string { return "display" }

func (d displayBackend) captureRaw(_ context.Context) (image.Image, error) {
	if screenshot.NumActiveDisplays() <= d.index {
		return nil, errNoDisplay
	}
	bounds := screenshot.GetDisplayBounds(d.index)
	img, err := screenshot.CaptureRect(bounds)
	if err != nil {
		return nil, fmt.Errorf("capture display %d: %w", d.index, err)
	}
	return img, nil
}

func (d displayBackend) cleanup() {}
