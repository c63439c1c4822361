package inject

import "context"

// Injector hands recognized text to the rest of the desktop
type Injector interface {
	Deliver(ctx context.Context, text string) error
}
