package hotkey

import (
	"fmt"
	"strings"
)

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

type Modifier uint8

const (
	ModShift Modifier = 1 << iota
	ModCtrl
	ModAlt
	ModSuper
)

// Accelerator is a parsed key combination such as "Ctrl+Shift+C".
type Accelerator struct {
	Mods Modifier
	// Key is the canonical key name: an upper-case letter, a digit, or one of
	// Space, Enter, Tab, Escape, F1..F12.
	Key string
}

func (a Accelerator) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{ModCtrl, "Ctrl"}, {ModAlt, "Alt"}, {ModShift, "Shift"}, {ModSuper, "Super"}} {
		if a.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, a.Key), "+")
}

var modifierNames = map[string]Modifier{
	"shift":   ModShift,
	"ctrl":    ModCtrl,
	"control": ModCtrl,
	"alt":     ModAlt,
	"option":  ModAlt,
	"super":   ModSuper,
	"cmd":     ModSuper,
	"command": ModSuper,
	"meta":    ModSuper,
}

var namedKeys = map[string]string{
	"space":  "Space",
	"enter":  "Enter",
	"return": "Enter",
	"tab":    "Tab",
	"esc":    "Escape",
	"escape": "Escape",
}

// ParseAccelerator parses strings like "Alt+Space" or "cmd+shift+4".
// Exactly one non-modifier key is required.
func ParseAccelerator(s string) (Accelerator, error) {
	var a Accelerator
	for _, part := range strings.Split(s, "+") {
		p := strings.ToLower(strings.TrimSpace(part))
		if p == "" {
			return Accelerator{}, fmt.Errorf("invalid accelerator %q", s)
		}
		if m, ok := modifierNames[p]; ok {
			a.Mods |= m
			continue
		}
		if a.Key != "" {
			return Accelerator{}, fmt.Errorf("accelerator %q has more than one key", s)
		}
		key, ok := canonicalKey(p)
		if !ok {
			return Accelerator{}, fmt.Errorf("unknown key %q in accelerator %q", part, s)
		}
		a.Key = key
	}
	if a.Key == "" {
		return Accelerator{}, fmt.Errorf("accelerator %q has no key", s)
	}
	return a, nil
}

func canonicalKey(p string) (string, bool) {
	if k, ok := namedKeys[p]; ok {
		return k, true
	}
	if len(p) == 1 && (p[0] >= 'a' && p[0] <= 'z' || p[0] >= '0' && p[0] <= '9') {
		return strings.ToUpper(p), true
	}
	if len(p) >= 2 && p[0] == 'f' {
		var n int
		if _, err := fmt.Sscanf(p[1:], "%d", &n); err == nil && n >= 1 && n <= 12 && fmt.Sprint(n) == p[1:] {
			return fmt.Sprintf("F%d", n), true
		}
	}
	return "", false
}

// X11 modifier masks (ShiftMask, ControlMask, Mod1Mask, Mod4Mask).
func x11Modifiers(m Modifier) int {
	mask := 0
	if m&ModShift != 0 {
		mask |= 1
	}
	if m&ModCtrl != 0 {
		mask |= 4
	}
	if m&ModAlt != 0 {
		mask |= 8
	}
	if m&ModSuper != 0 {
		mask |= 64
	}
	return mask
}

// x11KeysymName returns the name XStringToKeysym understands.
func x11KeysymName(key string) string {
	switch key {
	case "Space":
		return "space"
	case "Enter":
		return "Return"
	case "Tab", "Escape":
		return key
	}
	if len(key) == 1 {
		return strings.ToLower(key)
	}
	return key
}

// Carbon modifier flags (cmdKey, shiftKey, optionKey, controlKey).
func carbonModifiers(m Modifier) uint32 {
	var flags uint32
	if m&ModSuper != 0 {
		flags |= 0x100
	}
	if m&ModShift != 0 {
		flags |= 0x200
	}
	if m&ModAlt != 0 {
		flags |= 0x800
	}
	if m&ModCtrl != 0 {
		flags |= 0x1000
	}
	return flags
}

// Carbon virtual key codes (kVK_*) for the US layout.
var carbonKeyCodes = map[string]uint32{
	"A": 0x00, "S": 0x01, "D": 0x02, "F": 0x03, "H": 0x04, "G": 0x05, "Z": 0x06,
	"X": 0x07, "C": 0x08, "V": 0x09, "B": 0x0B, "Q": 0x0C, "W": 0x0D, "E": 0x0E,
	"R": 0x0F, "Y": 0x10, "T": 0x11, "O": 0x1F, "U": 0x20, "I": 0x22, "P": 0x23,
	"L": 0x25, "J": 0x26, "K": 0x28, "N": 0x2D, "M": 0x2E,
	"1": 0x12, "2": 0x13, "3": 0x14, "4": 0x15, "6": 0x16, "5": 0x17, "9": 0x19,
	"7": 0x1A, "8": 0x1C, "0": 0x1D,
	"Enter": 0x24, "Tab": 0x30, "Space": 0x31, "Escape": 0x35,
	"F1": 0x7A, "F2": 0x78, "F3": 0x63, "F4": 0x76, "F5": 0x60, "F6": 0x61,
	"F7": 0x62, "F8": 0x64, "F9": 0x65, "F10": 0x6D, "F11": 0x67, "F12": 0x6F,
}

func carbonKeyCode(key string) (uint32, bool) {
	code, ok := carbonKeyCodes[key]
	return code, ok
}
