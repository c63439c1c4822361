//go:build darwin

package permissions

/*
#cgo LDFLAGS: -framework AVFoundation -framework Cocoa
#import <AVFoundation/AVFoundation.h>
#import <Cocoa/Cocoa.h>

int microphoneStatus() {
    return (int)[AVCaptureDevice authorizationStatusForMediaType:AVMediaTypeAudio];
}

void requestMicrophone() {
    [AVCaptureDevice requestAccessForMediaType:AVMediaTypeAudio completionHandler:^(BOOL granted) {}];
}

int accessibilityTrusted() {
    NSDictionary *options = @{(__bridge id)kAXTrustedCheckOptionPrompt: @YES};
    return AXIsProcessTrustedWithOptions((__bridge CFDictionaryRef)options) ? 1 : 0;
}
*/
import "C"

const (
	statusNotDetermined = 0
	statusRestricted    = 1
	statusDenied        = 2
	statusAuthorized    = 3
)

// EnsureMicrophone fails unless the user has granted microphone access. An
// undecided status triggers the system prompt; the answer arrives
// asynchronously, so the caller retries on the next capture request.
func EnsureMicrophone() error {
	switch int(C.microphoneStatus()) {
	case statusAuthorized:
		return nil
	case statusNotDetermined:
		C.requestMicrophone()
		return ErrMicrophonePending
	default:
		return ErrMicrophoneDenied
	}
}

// EnsureAccessibility checks the trust needed for global hotkeys, prompting
// if it is missing.
func EnsureAccessibility() error {
	if C.accessibilityTrusted() == 1 {
		return nil
	}
	return ErrAccessibilityDenied
}
