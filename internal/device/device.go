// Package device is the boundary to the emulated Android device. Everything
// above it deals in images and absolute pixel coordinates; everything below
// is adb plumbing.
package device

import (
	"errors"
	"image"
)

// ErrUnresponsive marks transport-level failures: adb calls failing or the
// target process being gone. It triggers the watchdog restart path.
var ErrUnresponsive = errors.New("device unresponsive")

// Device is the single serialized input/output resource the engine drives.
// Coordinates are always absolute pixels.
type Device interface {
	Screenshot() (image.Image, error)
	ScreenSize() (width, height int, err error)
	Tap(x, y int) error
	Swipe(x1, y1, x2, y2, durationMs int) error
	Back() error
	IsRunning(pkg string) bool
	Launch(pkg string) error
	Quit(pkg string) error
}
