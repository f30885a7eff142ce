// Package ocr extracts short, single-line strings (player names, alliance
// tags) from screenshot regions. Recognition is best-effort by design: an
// empty result means "cannot determine" and callers must fall back to their
// conservative default, it is never an error that crosses task boundaries.
package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strconv"
	"strings"
	"unicode"

	"github.com/otiai10/gosseract/v2"
)

// Reader wraps a Tesseract client tuned for single-line UI text.
type Reader struct {
	client *gosseract.Client
	log    *slog.Logger
}

// NewReader creates a reader with the configured page segmentation and
// engine modes.
func NewReader(pageSegMode, engineMode int, log *slog.Logger) (*Reader, error) {
	client := gosseract.NewClient()
	if err := client.SetPageSegMode(gosseract.PageSegMode(pageSegMode)); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set page seg mode: %w", err)
	}
	if err := client.SetVariable(gosseract.SettableVariable("tessedit_ocr_engine_mode"), strconv.Itoa(engineMode)); err != nil {
		client.Close()
		return nil, fmt.Errorf("ocr: set engine mode: %w", err)
	}
	return &Reader{client: client, log: log.With("component", "ocr")}, nil
}

// Close releases the Tesseract client.
func (r *Reader) Close() error { return r.client.Close() }

// Read recognizes text inside region, trying each language hint in order and
// returning the first non-empty result. All hints failing yields "" with a
// nil error; only engine-level faults are returned as errors.
func (r *Reader) Read(img image.Image, region image.Rectangle, hints []string) (string, error) {
	crop := cropRegion(img, region)
	if crop == nil {
		return "", nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, crop); err != nil {
		return "", fmt.Errorf("ocr: encode region: %w", err)
	}

	if len(hints) == 0 {
		hints = []string{"eng"}
	}
	for _, lang := range hints {
		if err := r.client.SetLanguage(lang); err != nil {
			return "", fmt.Errorf("ocr: set language %s: %w", lang, err)
		}
		if err := r.client.SetImageFromBytes(buf.Bytes()); err != nil {
			return "", fmt.Errorf("ocr: set image: %w", err)
		}
		text, err := r.client.Text()
		if err != nil {
			return "", fmt.Errorf("ocr: recognize (%s): %w", lang, err)
		}
		if clean := Sanitize(text); clean != "" {
			r.log.Debug("recognized text", "lang", lang, "text", clean)
			return clean, nil
		}
	}
	r.log.Debug("no language hint produced text", "hints", hints)
	return "", nil
}

// cropRegion clamps region to the image and returns the sub-image, or nil
// when nothing remains.
func cropRegion(img image.Image, region image.Rectangle) image.Image {
	if region.Empty() {
		return img
	}
	clamped := region.Intersect(img.Bounds())
	if clamped.Empty() {
		return nil
	}
	type subImager interface {
		SubImage(image.Rectangle) image.Image
	}
	if s, ok := img.(subImager); ok {
		return s.SubImage(clamped)
	}
	out := image.NewNRGBA(image.Rect(0, 0, clamped.Dx(), clamped.Dy()))
	for y := 0; y < clamped.Dy(); y++ {
		for x := 0; x < clamped.Dx(); x++ {
			out.Set(x, y, img.At(clamped.Min.X+x, clamped.Min.Y+y))
		}
	}
	return out
}

// Sanitize collapses recognizer output to a single trimmed line, dropping
// control runes Tesseract sometimes emits around short strings.
func Sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}
