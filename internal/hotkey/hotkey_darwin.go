//go:build darwin

package hotkey

/*
#cgo LDFLAGS: -framework Carbon
#include <Carbon/Carbon.h>

extern void goHotkeyCallback(int id, int pressed);

static EventHandlerRef handlerRef = NULL;

static OSStatus hotkeyHandler(EventHandlerCallRef nextHandler, EventRef theEvent, void* userData) {
    EventHotKeyID hkID;
    GetEventParameter(theEvent, kEventParamDirectObject, typeEventHotKeyID, NULL, sizeof(hkID), NULL, &hkID);
    int pressed = (GetEventKind(theEvent) == kEventHotKeyPressed) ? 1 : 0;
    goHotkeyCallback((int)hkID.id, pressed);
    return noErr;
}

static int installHandler() {
    if (handlerRef != NULL) return 1;
    EventTypeSpec eventTypes[2];
    eventTypes[0].eventClass = kEventClassKeyboard;
    eventTypes[0].eventKind = kEventHotKeyPressed;
    eventTypes[1].eventClass = kEventClassKeyboard;
    eventTypes[1].eventKind = kEventHotKeyReleased;
    return InstallApplicationEventHandler(NewEventHandlerUPP(hotkeyHandler), 2, eventTypes, NULL, &handlerRef) == noErr;
}

static EventHotKeyRef registerHotkey(UInt32 keyCode, UInt32 modifiers, UInt32 id) {
    EventHotKeyRef ref = NULL;
    EventHotKeyID hkID;
    hkID.signature = 'asrt';
    hkID.id = id;
    if (RegisterEventHotKey(keyCode, modifiers, hkID, GetApplicationEventTarget(), 0, &ref) != noErr) {
        return NULL;
    }
    return ref;
}

static void unregisterHotkey(EventHotKeyRef ref) {
    UnregisterEventHotKey(ref);
}
*/
import "C"

import (
	"fmt"
	"sync"
)

// ANSI virtual key codes from HIToolbox/Events.h
var carbonKeyCodes = map[string]uint32{
	"a": 0, "s": 1, "d": 2, "f": 3, "h": 4, "g": 5, "z": 6, "x": 7, "c": 8, "v": 9,
	"b": 11, "q": 12, "w": 13, "e": 14, "r": 15, "y": 16, "t": 17,
	"1": 18, "2": 19, "3": 20, "4": 21, "6": 22, "5": 23, "9": 25, "7": 26, "8": 28, "0": 29,
	"o": 31, "u": 32, "i": 34, "p": 35, "l": 37, "j": 38, "k": 40, "n": 45, "m": 46,
	"return": 36, "tab": 48, "space": 49, "escape": 53,
	"f1": 122, "f2": 120, "f3": 99, "f4": 118, "f5": 96, "f6": 97,
	"f7": 98, "f8": 100, "f9": 101, "f10": 109, "f11": 103, "f12": 111,
}

func carbonModifiers(m Modifier) uint32 {
	var mask uint32
	if m&ModSuper != 0 {
		mask |= 0x0100 // cmdKey
	}
	if m&ModShift != 0 {
		mask |= 0x0200 // shiftKey
	}
	if m&ModAlt != 0 {
		mask |= 0x0800 // optionKey
	}
	if m&ModCtrl != 0 {
		mask |= 0x1000 // controlKey
	}
	return mask
}

type darwinBinding struct {
	id       uint32
	ref      C.EventHotKeyRef
	callback func(bool)
}

type darwinManager struct {
	mu       sync.Mutex
	nextID   uint32
	bindings map[string]*darwinBinding
}

// Carbon delivers events through a C callback with no user context
var (
	globalMu      sync.Mutex
	globalManager *darwinManager
)

// New creates a new macOS hotkey manager using Carbon
func New() (Manager, error) {
	if C.installHandler() == 0 {
		return nil, fmt.Errorf("failed to install hotkey handler")
	}
	mgr := &darwinManager{bindings: make(map[string]*darwinBinding)}

	globalMu.Lock()
	globalManager = mgr
	globalMu.Unlock()

	return mgr, nil
}

//export goHotkeyCallback
func goHotkeyCallback(id C.int, pressed C.int) {
	globalMu.Lock()
	mgr := globalManager
	globalMu.Unlock()
	if mgr == nil {
		return
	}

	mgr.mu.Lock()
	var cb func(bool)
	for _, b := range mgr.bindings {
		if b.id == uint32(id) {
			cb = b.callback
		}
	}
	mgr.mu.Unlock()

	if cb != nil {
		cb(pressed == 1)
	}
}

func (m *darwinManager) Register(accel string, callback func(pressed bool)) error {
	parsed, err := ParseAccelerator(accel)
	if err != nil {
		return err
	}
	keyCode, ok := carbonKeyCodes[parsed.Key]
	if !ok {
		return fmt.Errorf("no key code for %q", parsed.Key)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextID++
	ref := C.registerHotkey(C.UInt32(keyCode), C.UInt32(carbonModifiers(parsed.Modifiers)), C.UInt32(m.nextID))
	if ref == nil {
		return fmt.Errorf("failed to register hotkey %s", accel)
	}
	m.bindings[accel] = &darwinBinding{id: m.nextID, ref: ref, callback: callback}
	return nil
}

func (m *darwinManager) Unregister(accel string) error {
	m.mu.Lock()
	b, ok := m.bindings[accel]
	delete(m.bindings, accel)
	m.mu.Unlock()

	if ok {
		C.unregisterHotkey(b.ref)
	}
	return nil
}

func (m *darwinManager) Close() error {
	m.mu.Lock()
	for accel, b := range m.bindings {
		C.unregisterHotkey(b.ref)
		delete(m.bindings, accel)
	}
	m.mu.Unlock()

	globalMu.Lock()
	if globalManager == m {
		globalManager = nil
	}
	globalMu.Unlock()
	return nil
}
