//go:build !darwin

package permissions

// EnsureMicrophone is a no-op on non-macOS platforms; the OS reports
// denial when the stream is opened.
func EnsureMicrophone() error {
	return nil
}

// EnsureAccessibility is a no-op on non-macOS platforms.
func EnsureAccessibility() error {
	return nil
}
