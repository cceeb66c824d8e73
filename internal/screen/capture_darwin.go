//go:build darwin

package screen

// New creates a platform-specific screen capturer
func New() Capturer {
	tmpDir := newTempDir()
	return newBase(tmpDir,
		displayBackend{index: 0},
		// -x: no sound, -m: main display only
		&toolBackend{tempDir: tmpDir, tools: []toolCommand{
			{bin: "screencapture", args: func(out string) []string { return []string{"-x", "-t", "png", "-m", out} }},
		}},
	)
}
