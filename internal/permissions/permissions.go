package permissions

import "errors"

var (
	ErrMicrophonePending   = errors.New("microphone permission requested, retry once granted")
	ErrMicrophoneDenied    = errors.New("microphone permission not granted")
	ErrAccessibilityDenied = errors.New("accessibility permission not granted (System Settings → Privacy & Security → Accessibility)")
)
