package device

import (
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// ADB drives a device through the adb binary. Screenshots use the raw
// screencap wire format (width, height, pixel format header followed by
// RGBA data) to avoid a PNG round trip per frame.
type ADB struct {
	binary string
	serial string
	log    *slog.Logger

	width, height int // cached from the last screencap
}

// NewADB builds an ADB-backed device. serial may be empty when only one
// device is attached.
func NewADB(binary, serial string, log *slog.Logger) *ADB {
	return &ADB{binary: binary, serial: serial, log: log.With("component", "adb")}
}

// Connect issues `adb connect host:port`, used when the emulator exposes a
// TCP endpoint that must be attached before the run.
func (a *ADB) Connect(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	out, err := a.run("connect", addr)
	if err != nil {
		return fmt.Errorf("adb connect %s: %w", addr, err)
	}
	if strings.Contains(string(out), "failed") {
		return fmt.Errorf("adb connect %s: %s: %w", addr, strings.TrimSpace(string(out)), ErrUnresponsive)
	}
	a.log.Info("adb connected", "addr", addr)
	return nil
}

func (a *ADB) run(args ...string) ([]byte, error) {
	full := args
	if a.serial != "" {
		full = append([]string{"-s", a.serial}, args...)
	}
	out, err := exec.Command(a.binary, full...).Output()
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w: %w", a.binary, strings.Join(args, " "), ErrUnresponsive, err)
	}
	return out, nil
}

func (a *ADB) shell(parts ...string) ([]byte, error) {
	return a.run(append([]string{"shell"}, parts...)...)
}

// Screenshot captures one frame via `exec-out screencap` and parses the raw
// header into an NRGBA image backed by the returned buffer.
func (a *ADB) Screenshot() (image.Image, error) {
	raw, err := a.run("exec-out", "screencap")
	if err != nil {
		return nil, err
	}
	if len(raw) < 12 {
		return nil, fmt.Errorf("screencap: short read (%d bytes): %w", len(raw), ErrUnresponsive)
	}
	w := int(binary.LittleEndian.Uint32(raw[0:4]))
	h := int(binary.LittleEndian.Uint32(raw[4:8]))

	// Newer Android versions emit a 16-byte header (extra colorspace word).
	pix := raw[12:]
	if len(pix) != w*h*4 && len(raw) >= 16 && len(raw)-16 == w*h*4 {
		pix = raw[16:]
	}
	if w <= 0 || h <= 0 || len(pix) < w*h*4 {
		return nil, fmt.Errorf("screencap: bad frame %dx%d (%d bytes): %w", w, h, len(pix), ErrUnresponsive)
	}

	a.width, a.height = w, h
	return &image.NRGBA{
		Pix:    pix[:w*h*4],
		Stride: w * 4,
		Rect:   image.Rect(0, 0, w, h),
	}, nil
}

// ScreenSize returns the device resolution, capturing one frame if no
// screencap has been taken yet.
func (a *ADB) ScreenSize() (int, int, error) {
	if a.width > 0 && a.height > 0 {
		return a.width, a.height, nil
	}
	if _, err := a.Screenshot(); err != nil {
		return 0, 0, err
	}
	return a.width, a.height, nil
}

func (a *ADB) Tap(x, y int) error {
	_, err := a.shell("input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	return err
}

func (a *ADB) Swipe(x1, y1, x2, y2, durationMs int) error {
	_, err := a.shell("input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1),
		strconv.Itoa(x2), strconv.Itoa(y2),
		strconv.Itoa(durationMs))
	return err
}

func (a *ADB) Back() error {
	_, err := a.shell("input", "keyevent", "KEYCODE_BACK")
	return err
}

// IsRunning reports whether the package has a live process on the device.
func (a *ADB) IsRunning(pkg string) bool {
	out, err := a.shell("pidof", pkg)
	return err == nil && strings.TrimSpace(string(out)) != ""
}

// Launch starts the app's launcher activity.
func (a *ADB) Launch(pkg string) error {
	_, err := a.shell("monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	return err
}

// Quit force-stops the app.
func (a *ADB) Quit(pkg string) error {
	_, err := a.shell("am", "force-stop", pkg)
	return err
}
