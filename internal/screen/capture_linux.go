//go:build linux

package screen

// New creates a platform-specific screen capturer
func New() Capturer {
	tmpDir := newTempDir()
	return newBase(tmpDir,
		displayBackend{index: 0},
		&toolBackend{tempDir: tmpDir, tools: []toolCommand{
			{bin: "gnome-screenshot", args: func(out string) []string { return []string{"-f", out} }},
			{bin: "scrot", args: func(out string) []string { return []string{"-o", out} }},
			{bin: "grim", args: func(out string) []string { return []string{out} }},
		}},
	)
}
