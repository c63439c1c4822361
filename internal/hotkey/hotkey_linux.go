//go:build linux

package hotkey

/*
#cgo pkg-config: x11
#include <X11/Xlib.h>
#include <X11/keysym.h>
#include <stdlib.h>

static Display* display = NULL;

static int ensureDisplay() {
    if (display == NULL) {
        display = XOpenDisplay(NULL);
    }
    return display != NULL;
}

// Returns the grabbed keycode, or 0 on failure.
static int grabKey(const char* keysymName, unsigned int modifiers) {
    if (!ensureDisplay()) return 0;

    KeySym sym = XStringToKeysym(keysymName);
    if (sym == NoSymbol) return 0;
    KeyCode code = XKeysymToKeycode(display, sym);
    if (code == 0) return 0;

    Window root = DefaultRootWindow(display);
    // Grab with and without NumLock/CapsLock so the shortcut works either way
    unsigned int extras[] = {0, Mod2Mask, LockMask, Mod2Mask | LockMask};
    for (int i = 0; i < 4; i++) {
        XGrabKey(display, code, modifiers | extras[i], root, False, GrabModeAsync, GrabModeAsync);
    }
    XSelectInput(display, root, KeyPressMask | KeyReleaseMask);
    XSync(display, False);
    return code;
}

static void ungrabKey(int code, unsigned int modifiers) {
    if (display == NULL) return;
    Window root = DefaultRootWindow(display);
    unsigned int extras[] = {0, Mod2Mask, LockMask, Mod2Mask | LockMask};
    for (int i = 0; i < 4; i++) {
        XUngrabKey(display, code, modifiers | extras[i], root);
    }
    XSync(display, False);
}

static int nextEvent(int* keycode, int* pressed) {
    if (display == NULL) return 0;
    while (XPending(display) > 0) {
        XEvent event;
        XNextEvent(display, &event);
        if (event.type == KeyPress || event.type == KeyRelease) {
            *keycode = event.xkey.keycode;
            *pressed = (event.type == KeyPress) ? 1 : 0;
            return 1;
        }
    }
    return 0;
}
*/
import "C"

import (
	"fmt"
	"sync"
	"time"
	"unsafe"
)

type binding struct {
	keycode   int
	modifiers uint
	callback  func(bool)
}

type linuxManager struct {
	mu       sync.Mutex
	bindings map[string]binding
	stop     chan struct{}
}

// New creates a new Linux hotkey manager using X11
func New() (Manager, error) {
	mgr := &linuxManager{
		bindings: make(map[string]binding),
		stop:     make(chan struct{}),
	}

	go mgr.eventLoop()

	return mgr, nil
}

func x11Modifiers(m Modifier) uint {
	var mask uint
	if m&ModShift != 0 {
		mask |= C.ShiftMask
	}
	if m&ModCtrl != 0 {
		mask |= C.ControlMask
	}
	if m&ModAlt != 0 {
		mask |= C.Mod1Mask
	}
	if m&ModSuper != 0 {
		mask |= C.Mod4Mask
	}
	return mask
}

func (m *linuxManager) Register(accel string, callback func(pressed bool)) error {
	parsed, err := ParseAccelerator(accel)
	if err != nil {
		return err
	}

	name := C.CString(parsed.x11Keysym())
	defer C.free(unsafe.Pointer(name))

	mods := x11Modifiers(parsed.Modifiers)
	code := int(C.grabKey(name, C.uint(mods)))
	if code == 0 {
		return fmt.Errorf("failed to grab key %s", accel)
	}

	m.mu.Lock()
	m.bindings[accel] = binding{keycode: code, modifiers: mods, callback: callback}
	m.mu.Unlock()
	return nil
}

func (m *linuxManager) eventLoop() {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			var keycode, pressed C.int
			for C.nextEvent(&keycode, &pressed) != 0 {
				m.dispatch(int(keycode), pressed == 1)
			}
		}
	}
}

func (m *linuxManager) dispatch(keycode int, pressed bool) {
	m.mu.Lock()
	var callbacks []func(bool)
	for _, b := range m.bindings {
		if b.keycode == keycode {
			callbacks = append(callbacks, b.callback)
		}
	}
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(pressed)
	}
}

func (m *linuxManager) Unregister(accel string) error {
	m.mu.Lock()
	b, ok := m.bindings[accel]
	delete(m.bindings, accel)
	m.mu.Unlock()

	if ok {
		C.ungrabKey(C.int(b.keycode), C.uint(b.modifiers))
	}
	return nil
}

func (m *linuxManager) Close() error {
	close(m.stop)
	return nil
}
