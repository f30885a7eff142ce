package vision

import (
	"fmt"
	"image"
	"sort"
)

// MatchResult reports the best location of one template inside a screenshot.
// Found is true iff Confidence reached the template's threshold.
type MatchResult struct {
	Name       string
	Bounds     image.Rectangle
	Confidence float64
	Found      bool
}

// Center returns the midpoint of the matched region.
func (m MatchResult) Center() image.Point {
	return image.Point{
		X: m.Bounds.Min.X + m.Bounds.Dx()/2,
		Y: m.Bounds.Min.Y + m.Bounds.Dy()/2,
	}
}

// Matcher slides templates over screenshots and scores each position by
// summed squared RGB difference, normalized to a [0,1] confidence.
// Transparent template pixels are wildcards. Matching is deterministic for
// identical inputs and has no side effects.
type Matcher struct {
	lib *Library
}

func NewMatcher(lib *Library) *Matcher {
	return &Matcher{lib: lib}
}

// Library exposes the underlying template table.
func (m *Matcher) Library() *Library { return m.lib }

// Has reports whether a template is registered. Optional probes (templates a
// routine can work without) are guarded with this.
func (m *Matcher) Has(name string) bool {
	_, ok := m.lib.Get(name)
	return ok
}

// Match finds the single best position of the named template within the
// screenshot, or within region when it is non-empty. A template absent from
// the frame is reported as Found=false, never as an error.
func (m *Matcher) Match(img image.Image, name string, region image.Rectangle) (MatchResult, error) {
	t, ok := m.lib.Get(name)
	if !ok {
		return MatchResult{}, fmt.Errorf("vision: unknown template %q", name)
	}

	screen := toNRGBA(img)
	area := searchArea(screen, t.Image, region)
	if area.Empty() {
		return MatchResult{Name: name}, nil
	}

	tw, th := t.Image.Bounds().Dx(), t.Image.Bounds().Dy()
	maxDiff := opaqueBudget(t.Image)
	if maxDiff == 0 {
		return MatchResult{Name: name}, nil
	}

	best := maxDiff + 1
	bx, by := -1, -1
	for y := area.Min.Y; y <= area.Max.Y-th; y++ {
		for x := area.Min.X; x <= area.Max.X-tw; x++ {
			d := diffAt(screen, t.Image, x, y, best)
			if d < best {
				best = d
				bx, by = x, y
			}
		}
	}
	if bx < 0 {
		return MatchResult{Name: name}, nil
	}

	conf := 1 - float64(best)/float64(maxDiff)
	return MatchResult{
		Name:       name,
		Bounds:     image.Rect(bx, by, bx+tw, by+th),
		Confidence: conf,
		Found:      conf >= t.Threshold,
	}, nil
}

// MatchAll returns every non-overlapping position where the named template
// clears its threshold, sorted top-to-bottom then left-to-right. Overlap is
// resolved greedily in scan order: a position touching an already accepted
// hit on either axis is skipped.
func (m *Matcher) MatchAll(img image.Image, name string, region image.Rectangle) ([]MatchResult, error) {
	t, ok := m.lib.Get(name)
	if !ok {
		return nil, fmt.Errorf("vision: unknown template %q", name)
	}

	screen := toNRGBA(img)
	area := searchArea(screen, t.Image, region)
	if area.Empty() {
		return nil, nil
	}

	tw, th := t.Image.Bounds().Dx(), t.Image.Bounds().Dy()
	maxDiff := opaqueBudget(t.Image)
	if maxDiff == 0 {
		return nil, nil
	}
	// Any position whose diff stays within this budget clears the threshold.
	limit := int64(float64(maxDiff) * (1 - t.Threshold))

	var out []MatchResult
	for y := area.Min.Y; y <= area.Max.Y-th; y++ {
		for x := area.Min.X; x <= area.Max.X-tw; x++ {
			bounds := image.Rect(x, y, x+tw, y+th)
			if overlapsAny(bounds, out) {
				continue
			}
			d := diffAt(screen, t.Image, x, y, limit+1)
			if d > limit {
				continue
			}
			out = append(out, MatchResult{
				Name:       name,
				Bounds:     bounds,
				Confidence: 1 - float64(d)/float64(maxDiff),
				Found:      true,
			})
			x += tw - 1 // the row to the right is covered by this hit
		}
	}
	sortMatches(out)
	return out, nil
}

// overlapsAny reports whether a candidate position intersects an already
// accepted hit on either axis.
func overlapsAny(r image.Rectangle, accepted []MatchResult) bool {
	for _, m := range accepted {
		if r.Overlaps(m.Bounds) {
			return true
		}
	}
	return false
}

func sortMatches(ms []MatchResult) {
	// Y first, then X: list rows read top to bottom.
	sort.Slice(ms, func(i, j int) bool {
		a, b := ms[i].Bounds.Min, ms[j].Bounds.Min
		if a.Y != b.Y {
			return a.Y < b.Y
		}
		return a.X < b.X
	})
}

func searchArea(screen, tmpl *image.NRGBA, region image.Rectangle) image.Rectangle {
	area := screen.Bounds()
	if !region.Empty() {
		area = area.Intersect(region)
	}
	if area.Dx() < tmpl.Bounds().Dx() || area.Dy() < tmpl.Bounds().Dy() {
		return image.Rectangle{}
	}
	return area
}

// opaqueBudget is the worst possible squared diff over the template's
// non-transparent pixels.
func opaqueBudget(tmpl *image.NRGBA) int64 {
	b := tmpl.Bounds()
	var n int64
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if tmpl.Pix[tmpl.PixOffset(b.Min.X+x, b.Min.Y+y)+3] > 0 {
				n++
			}
		}
	}
	return n * 3 * 255 * 255
}

func sq(a, b uint8) int64 {
	d := int64(a) - int64(b)
	return d * d
}

// diffAt accumulates squared RGB differences at one offset, bailing out as
// soon as the running total reaches limit.
func diffAt(screen, tmpl *image.NRGBA, offX, offY int, limit int64) int64 {
	tb := tmpl.Bounds()
	var diff int64
	for y := 0; y < tb.Dy(); y++ {
		for x := 0; x < tb.Dx(); x++ {
			ti := tmpl.PixOffset(tb.Min.X+x, tb.Min.Y+y)
			if tmpl.Pix[ti+3] == 0 {
				continue // transparent template pixel acts as wildcard
			}
			si := screen.PixOffset(offX+x, offY+y)
			diff += sq(screen.Pix[si+0], tmpl.Pix[ti+0])
			diff += sq(screen.Pix[si+1], tmpl.Pix[ti+1])
			diff += sq(screen.Pix[si+2], tmpl.Pix[ti+2])
			if diff >= limit {
				return diff
			}
		}
	}
	return diff
}
