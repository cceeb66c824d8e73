//go:build linux || darwin

package screen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // JPEG decoder
	_ "image/png"  // PNG decoder
	"os"
	"os/exec"
	"path/filepath"
)

// toolCommand builds the argv for a screenshot CLI writing to out.
type toolCommand struct {
	bin  string
	args func(out string) []string
}

// toolBackend shells out to the first installed screenshot CLI.
type toolBackend struct {
	tempDir string
	tools   []toolCommand
}

func (t *toolBackend) name() string { return "tool" }

func (t *toolBackend) captureRaw(ctx context.Context) (image.Image, error) {
	if t.tempDir == "" {
		return nil, errors.New("no temp dir for screenshot tool")
	}
	tool, ok := t.lookup()
	if !ok {
		return nil, errors.New("no screenshot tool found")
	}
	tmpFile := filepath.Join(t.tempDir, "screenshot.png")
	defer os.Remove(tmpFile)

	cmd := exec.CommandContext(ctx, tool.bin, tool.args(tmpFile)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", tool.bin, err, bytes.TrimSpace(stderr.Bytes()))
	}

	f, err := os.Open(tmpFile)
	if err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return img, nil
}

func (t *toolBackend) lookup() (toolCommand, bool) {
	for _, tool := range t.tools {
		if _, err := exec.LookPath(tool.bin); err == nil {
			return tool, true
		}
	}
	return toolCommand{}, false
}

func (t *toolBackend) cleanup() {}
