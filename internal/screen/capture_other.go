//go:build !linux && !darwin

package screen

// New creates a platform-specific screen capturer
func New() Capturer {
	return newBase("", displayBackend{index: 0})
}
