// Package vision owns the template assets and the fuzzy matcher that locates
// them inside live screenshots.
package vision

import (
	"fmt"
	"image"
	_ "image/png" // register PNG decoder for image.Decode
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/nfnt/resize"
)

// Template is one reference image with its match threshold. Immutable after
// the library is loaded.
type Template struct {
	Name      string
	Image     *image.NRGBA
	Threshold float64
}

// Library is a pure lookup table of templates keyed by name.
type Library struct {
	defaultThreshold float64
	templates        map[string]*Template
}

// NewLibrary creates an empty library. Templates with a zero threshold
// inherit defaultThreshold.
func NewLibrary(defaultThreshold float64) *Library {
	return &Library{
		defaultThreshold: defaultThreshold,
		templates:        make(map[string]*Template),
	}
}

// LoadFile decodes a PNG asset and registers it under name.
func (l *Library) LoadFile(name, path string, threshold float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("template %s: %w", name, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return fmt.Errorf("template %s: decode %s: %w", name, filepath.Base(path), err)
	}
	l.Register(name, img, threshold)
	return nil
}

// Register adds an in-memory image as a template. Used by tests and the
// matchcheck tool alongside file loading.
func (l *Library) Register(name string, img image.Image, threshold float64) {
	if threshold == 0 {
		threshold = l.defaultThreshold
	}
	l.templates[name] = &Template{
		Name:      name,
		Image:     toNRGBA(img),
		Threshold: threshold,
	}
}

// Get returns the named template.
func (l *Library) Get(name string) (*Template, bool) {
	t, ok := l.templates[name]
	return t, ok
}

// Names returns all template names, sorted.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.templates))
	for n := range l.templates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ScaleTo rescales every template from the reference resolution the assets
// were captured at to the live device resolution. No-op when they match.
func (l *Library) ScaleTo(refW, refH, curW, curH int) {
	if refW == 0 || refH == 0 || (refW == curW && refH == curH) {
		return
	}
	fx := float64(curW) / float64(refW)
	fy := float64(curH) / float64(refH)
	for _, t := range l.templates {
		b := t.Image.Bounds()
		w := uint(math.Round(float64(b.Dx()) * fx))
		h := uint(math.Round(float64(b.Dy()) * fy))
		if w == 0 || h == 0 {
			continue
		}
		t.Image = toNRGBA(resize.Resize(w, h, t.Image, resize.Lanczos3))
	}
}

// toNRGBA normalizes any image to NRGBA so the matcher can walk raw pixels.
func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	out := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}
