// Package archive keeps a local JPEG copy of each capture.
package archive

import (
	"bufio"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	apperrors "github.com/GriffinCanCode/autocapture/internal/errors"
)

// TimestampLayout is the capture time embedded in archived filenames.
const TimestampLayout = "20060102_150405"

// Filename names the archived copy of capture index in session.
func Filename(session string, index int64, at time.Time) string {
	return fmt.Sprintf("auto_%s_%06d_%s.jpg", session, index, at.Format(TimestampLayout))
}

// Saver writes captures at the configured quality.
type Saver struct {
	dir     string
	quality int
	now     func() time.Time
}

// New creates a Saver rooted at dir, creating it if needed.
func New(dir string, quality int) (*Saver, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, apperrors.Wrapf(err, apperrors.CodeArchiveFailed, "create archive dir %s", dir)
	}
	return &Saver{dir: dir, quality: quality, now: time.Now}, nil
}

// Dir returns the archive directory.
func (s *Saver) Dir() string { return s.dir }

// Save writes img and returns the file path. A partially written file is removed.
func (s *Saver) Save(img image.Image, session string, index int64) (string, error) {
	path := filepath.Join(s.dir, Filename(session, index, s.now()))

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeArchiveFailed, "create archive file").
			WithMetadata("path", path)
	}

	w := bufio.NewWriter(f)
	err = jpeg.Encode(w, img, &jpeg.Options{Quality: s.quality})
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", apperrors.Wrap(err, apperrors.CodeArchiveFailed, "write archive file").
			WithMetadata("path", path)
	}

	if info, statErr := os.Stat(path); statErr == nil {
		slog.Debug("saved locally", "path", path, "size", humanize.Bytes(uint64(info.Size())))
	}
	return path, nil
}
