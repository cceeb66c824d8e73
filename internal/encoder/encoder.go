// Package encoder produces the JPEG bytes uploaded for each capture.
package encoder

import (
	"bytes"
	"image"
	"image/jpeg"

	apperrors "github.com/GriffinCanCode/autocapture/internal/errors"
)

// Quality bounds for the size-reduction loop.
const (
	QualityStep  = 10
	QualityFloor = 10
)

// Result is one encoding.
type Result struct {
	Data    []byte
	Quality int
	// MetCeiling is false when even the floor quality exceeds the size
	// ceiling; Data then holds that oversize floor encoding.
	MetCeiling bool
}

// Size returns the encoded length in bytes.
func (r Result) Size() int { return len(r.Data) }

// Options controls one Encode call.
type Options struct {
	Quality  int   // starting quality, clamped to 1..100
	MaxBytes int64 // 0 disables the ceiling
	Compress bool  // when false the starting quality is used as is
}

// Encode writes img as JPEG, lowering quality by QualityStep until the
// output fits MaxBytes or QualityFloor has been tried.
func Encode(img image.Image, opts Options) (Result, error) {
	quality := clamp(opts.Quality)
	var buf bytes.Buffer

	for {
		buf.Reset()
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return Result{}, apperrors.Wrapf(err, apperrors.CodeEncodeFailed, "encode jpeg at quality %d", quality)
		}

		fits := opts.MaxBytes <= 0 || int64(buf.Len()) <= opts.MaxBytes
		if fits || !opts.Compress || quality <= QualityFloor {
			return Result{
				Data:       bytes.Clone(buf.Bytes()),
				Quality:    quality,
				MetCeiling: fits,
			}, nil
		}
		quality = max(quality-QualityStep, QualityFloor)
	}
}

func clamp(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}
