package inject

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
)

var ErrClipboardUnavailable = errors.New("no clipboard utility available")

type clipboardInjector struct {
	write func(string) error
}

// New creates an injector that places final results on the system clipboard
func New() Injector {
	return &clipboardInjector{write: clipboard.WriteAll}
}

func (c *clipboardInjector) Deliver(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if clipboard.Unsupported {
		return ErrClipboardUnavailable
	}
	if err := c.write(text); err != nil {
		return fmt.Errorf("failed to write clipboard: %w", err)
	}
	return nil
}
