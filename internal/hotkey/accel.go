package hotkey

import (
	"fmt"
	"strings"
)

type Modifier uint8

const (
	ModCtrl Modifier = 1 << iota
	ModAlt
	ModShift
	ModSuper
)

// Accelerator is a parsed shortcut such as "Ctrl+Alt+Space".
type Accelerator struct {
	Key       string // normalized: lowercase letter/digit, or a named key like "space", "f5"
	Modifiers Modifier
}

var modifierNames = map[string]Modifier{
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"opt":     ModAlt,
	"shift":   ModShift,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"win":     ModSuper,
	"meta":    ModSuper,
}

var namedKeys = map[string]string{
	"space":  "space",
	"enter":  "return",
	"return": "return",
	"tab":    "tab",
	"esc":    "escape",
	"escape": "escape",
}

// ParseAccelerator parses "Mod+Mod+Key". Exactly one non-modifier key is
// required; names are case-insensitive.
func ParseAccelerator(accel string) (Accelerator, error) {
	var a Accelerator
	if strings.TrimSpace(accel) == "" {
		return a, fmt.Errorf("empty hotkey")
	}

	for _, part := range strings.Split(accel, "+") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			return a, fmt.Errorf("invalid hotkey %q: empty component", accel)
		}

		if mod, ok := modifierNames[name]; ok {
			a.Modifiers |= mod
			continue
		}

		key, ok := normalizeKey(name)
		if !ok {
			return a, fmt.Errorf("invalid hotkey %q: unknown key %q", accel, part)
		}
		if a.Key != "" {
			return a, fmt.Errorf("invalid hotkey %q: more than one key", accel)
		}
		a.Key = key
	}

	if a.Key == "" {
		return a, fmt.Errorf("invalid hotkey %q: no key", accel)
	}
	return a, nil
}

func normalizeKey(name string) (string, bool) {
	if key, ok := namedKeys[name]; ok {
		return key, true
	}
	if len(name) == 1 && (name[0] >= 'a' && name[0] <= 'z' || name[0] >= '0' && name[0] <= '9') {
		return name, true
	}
	if len(name) >= 2 && name[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(name[1:], "%d", &n); err == nil && n >= 1 && n <= 12 && fmt.Sprint(n) == name[1:] {
			return name, true
		}
	}
	return "", false
}

// x11Keysym returns the X keysym name for the key.
func (a Accelerator) x11Keysym() string {
	switch {
	case a.Key == "return":
		return "Return"
	case a.Key == "tab":
		return "Tab"
	case a.Key == "escape":
		return "Escape"
	case len(a.Key) > 1 && a.Key[0] == 'f':
		return "F" + a.Key[1:]
	default:
		return a.Key
	}
}
