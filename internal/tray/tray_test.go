package tray

import (
	"errors"
	"testing"

	"github.com/petems/asr-tray/internal/app"
	"github.com/petems/asr-tray/internal/config"
	"github.com/rs/zerolog"
)

func TestControlsFor(t *testing.T) {
	tests := []struct {
		name  string
		state app.State
		want  controls
	}{
		{
			name:  "disconnected",
			state: app.StateDisconnected,
			want:  controls{connect: true},
		},
		{
			name:  "connected",
			state: app.StateConnected,
			want:  controls{disconnect: true, start: true, end: true},
		},
		{
			name:  "capturing",
			state: app.StateCapturing,
			want:  controls{disconnect: true, stop: true, end: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := controlsFor(tt.state); got != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestEmojiForState(t *testing.T) {
	if emojiForState(app.StateCapturing) == emojiForState(app.StateConnected) {
		t.Error("capturing and connected should look different")
	}
	if emojiForState(app.StateDisconnected) == emojiForState(app.StateConnected) {
		t.Error("disconnected and connected should look different")
	}
}

func TestModeTitle(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{config.ModeToggle, "Mode: Toggle"},
		{config.ModePushToTalk, "Mode: Push-to-Talk"},
		{"", "Mode: Push-to-Talk"},
	}

	for _, tt := range tests {
		if got := modeTitle(tt.mode); got != tt.want {
			t.Errorf("modeTitle(%q) = %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{"short", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"long", "hello world", 6, "hello…"},
		{"multibyte", "héllo wörld", 4, "hél…"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := truncate(tt.in, tt.n); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

// Updates before the menu exists are kept and applied later.
func TestUpdatesBeforeReady(t *testing.T) {
	u := New(nil, config.Default(), zerolog.Nop(), "dev", "unknown")

	u.SetState(app.StateConnected)
	u.SetPartial("hel")
	u.SetFinal("hello")
	u.ReportError(errors.New("boom"))

	if u.state != app.StateConnected {
		t.Errorf("expected state kept, got %s", u.state)
	}
	if u.partial != "hel" || u.final != "hello" {
		t.Errorf("expected transcript kept, got %q / %q", u.partial, u.final)
	}
	if u.lastErr != "boom" {
		t.Errorf("expected error kept, got %q", u.lastErr)
	}

	u.SetState(app.StateDisconnected)
	if u.partial != "" {
		t.Errorf("expected partial cleared on disconnect, got %q", u.partial)
	}
	if u.final != "hello" {
		t.Errorf("expected final kept on disconnect, got %q", u.final)
	}
}
