// Package audio handles capture devices and raw sample streams.
package audio

import (
	"log/slog"
	"strings"
	"sync"
	"unicode"

	apperr "github.com/meetscribe/platform/internal/errors"
)

// Device describes one capture/playback device from the platform inventory.
type Device struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	InputChannels  int    `json:"input_channels"`
	OutputChannels int    `json:"output_channels"`
	DefaultInput   bool   `json:"default_input"`
	DefaultOutput  bool   `json:"default_output"`
	Bluetooth      bool   `json:"bluetooth"`
	Virtual        bool   `json:"virtual"`
}

// Type returns a coarse tag for health snapshots.
func (d Device) Type() string {
	switch {
	case d.Virtual:
		return "virtual"
	case d.Bluetooth:
		return "bluetooth"
	case d.DefaultInput:
		return "default"
	default:
		return "input"
	}
}

// classify fills the name-heuristic flags on a device.
func classify(d *Device) {
	name := strings.ToLower(d.Name)
	d.Virtual = containsAny(name, virtualKeywords)
	d.Bluetooth = containsAny(name, bluetoothKeywords) || hasToken(name, bluetoothTokens)
}

func containsAny(name string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

func hasToken(name string, tokens []string) bool {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, f := range fields {
		for _, t := range tokens {
			if f == t {
				return true
			}
		}
	}
	return false
}

// Inventory caches the device list and applies the input selection policy:
// explicit selection wins, then a virtual/loopback device, then the platform
// default input, then the first device exposing input channels.
type Inventory struct {
	backend  Backend
	excluded []string

	mu       sync.RWMutex
	devices  []Device
	selected string // explicitly selected device id, empty when automatic
}

// NewInventory creates an inventory over the backend. Call Refresh before use.
func NewInventory(backend Backend, excluded []string) *Inventory {
	return &Inventory{backend: backend, excluded: excluded}
}

// Refresh re-queries the backend and re-applies classification.
func (v *Inventory) Refresh() error {
	devices, err := v.backend.Devices()
	if err != nil {
		return apperr.Wrap(err, apperr.DeviceError, "device enumeration failed")
	}

	kept := make([]Device, 0, len(devices))
	for _, d := range devices {
		if v.isExcluded(d.Name) {
			continue
		}
		classify(&d)
		kept = append(kept, d)
	}

	v.mu.Lock()
	v.devices = kept
	// Explicit selection survives a refresh only while the device exists.
	if v.selected != "" {
		if _, ok := findInput(kept, v.selected); !ok {
			slog.Warn("selected input device disappeared", "device", v.selected)
			v.selected = ""
		}
	}
	v.mu.Unlock()

	if mic, ok := v.SelectedInput(); ok {
		slog.Info("input device selected", "device", mic.Name, "type", mic.Type())
	} else {
		slog.Warn("no input devices detected")
	}
	return nil
}

func (v *Inventory) isExcluded(name string) bool {
	lower := strings.ToLower(name)
	for _, ex := range v.excluded {
		if strings.Contains(lower, strings.ToLower(ex)) {
			return true
		}
	}
	return false
}

// All returns every known device.
func (v *Inventory) All() []Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]Device, len(v.devices))
	copy(out, v.devices)
	return out
}

// Inputs returns devices exposing input channels.
func (v *Inventory) Inputs() []Device {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []Device
	for _, d := range v.devices {
		if d.InputChannels > 0 {
			out = append(out, d)
		}
	}
	return out
}

// Select pins an explicit input device for future sessions.
func (v *Inventory) Select(id string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := findInput(v.devices, id); !ok {
		return apperr.Newf(apperr.DeviceError, "invalid input device id: %s", id)
	}
	v.selected = id
	return nil
}

// SelectedInput resolves the selection policy to a concrete device.
func (v *Inventory) SelectedInput() (Device, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.selected != "" {
		if d, ok := findInput(v.devices, v.selected); ok {
			return d, true
		}
	}
	if d, ok := v.systemLocked(); ok {
		return d, true
	}
	for _, d := range v.devices {
		if d.DefaultInput && d.InputChannels > 0 {
			return d, true
		}
	}
	for _, d := range v.devices {
		if d.InputChannels > 0 {
			return d, true
		}
	}
	return Device{}, false
}

// SystemDevice returns the detected virtual/loopback capture device, if any.
func (v *Inventory) SystemDevice() (Device, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.systemLocked()
}

func (v *Inventory) systemLocked() (Device, bool) {
	for _, d := range v.devices {
		if d.Virtual && d.InputChannels > 0 {
			return d, true
		}
	}
	return Device{}, false
}

// SystemAudioAvailable reports whether system-audio capture can be attempted.
func (v *Inventory) SystemAudioAvailable() bool {
	_, ok := v.SystemDevice()
	return ok
}

func findInput(devices []Device, id string) (Device, bool) {
	for _, d := range devices {
		if d.ID == id && d.InputChannels > 0 {
			return d, true
		}
	}
	return Device{}, false
}
