package engine

import (
	"image"
	"log/slog"
	"strings"

	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/vision"
)

// Matcher locates templates in screenshots. *vision.Matcher satisfies it;
// tests substitute scripted fakes.
type Matcher interface {
	Match(img image.Image, name string, region image.Rectangle) (vision.MatchResult, error)
	MatchAll(img image.Image, name string, region image.Rectangle) ([]vision.MatchResult, error)
	Has(name string) bool
}

// TextReader extracts text from a screenshot region. *ocr.Reader satisfies it.
type TextReader interface {
	Read(img image.Image, region image.Rectangle, hints []string) (string, error)
}

// Applicant is one row of the applicant list as read off the screen.
// Alliance is empty when the tag could not be determined.
type Applicant struct {
	Name     string
	Alliance string
}

// Resolver classifies screenshots into screen states and pulls structured
// data out of them.
type Resolver struct {
	matcher Matcher
	reader  TextReader
	ocr     config.OCRSettings
	offset  config.Offset
	log     *slog.Logger
}

func NewResolver(m Matcher, r TextReader, cfg *config.Config, log *slog.Logger) *Resolver {
	return &Resolver{
		matcher: m,
		reader:  r,
		ocr:     cfg.OCR,
		offset:  cfg.ApplicantOffset,
		log:     log,
	}
}

// probes are checked in order and the first hit wins. Anchors unique to the
// deeper screens come first: the home anchor stays visible behind several
// overlays, so it must be probed last.
var probes = []struct {
	template string
	state    ScreenState
}{
	{"applicant_list", StateApplicantList},
	{"secretary_menu", StateSecretaryMenu},
	{"treasure_panel", StateTreasurePanel},
	{"alliance_panel", StateAlliancePanel},
	{"profile_anchor", StateProfile},
	{"home_anchor", StateHome},
}

// Resolve classifies a screenshot. StateUnknown means no anchor matched,
// which is an answer, not an error.
func (r *Resolver) Resolve(img image.Image) ScreenState {
	for _, p := range probes {
		m, err := r.matcher.Match(img, p.template, image.Rectangle{})
		if err != nil {
			r.log.Warn("state probe failed", "template", p.template, "error", err)
			continue
		}
		if m.Found {
			return p.state
		}
	}
	return StateUnknown
}

// ExtractApplicant reads the name row belonging to an accept button. The row
// text renders as "[TAG] Name"; rows of tagless applicants carry no brackets.
// OCR failure on a row is not an error, it yields an empty Applicant and the
// caller decides conservatively.
func (r *Resolver) ExtractApplicant(img image.Image, acceptBounds image.Rectangle) Applicant {
	region := r.applicantRegion(img.Bounds(), acceptBounds)
	text, err := r.reader.Read(img, region, r.ocr.Hints("applicant_name"))
	if err != nil {
		r.log.Warn("applicant ocr failed", "error", err)
		return Applicant{}
	}
	name, tag := SplitAllianceTag(text)
	if tag == "" {
		// Tags are plain latin even when names are not; a latin-tuned pass
		// often recovers the brackets the mixed-script pass mangled.
		retry, err := r.reader.Read(img, region, r.ocr.Hints("alliance_tag"))
		if err == nil {
			_, tag = SplitAllianceTag(retry)
		}
	}
	return Applicant{Name: name, Alliance: tag}
}

// applicantRegion derives the text row from the accept button's bounds. The
// row sits left of the button, past the portrait icon.
func (r *Resolver) applicantRegion(bounds, accept image.Rectangle) image.Rectangle {
	left := accept.Min.X - 3*r.offset.X
	if left < bounds.Min.X {
		left = bounds.Min.X
	}
	top := accept.Min.Y - r.offset.Y
	if top < bounds.Min.Y {
		top = bounds.Min.Y
	}
	bottom := accept.Max.Y + r.offset.Y
	if bottom > bounds.Max.Y {
		bottom = bounds.Max.Y
	}
	return image.Rect(left, top, accept.Min.X, bottom)
}

// SplitAllianceTag splits "[TAG] Name" into its parts. The tag is uppercased
// with interior spaces removed; text without a bracketed prefix comes back
// whole as the name.
func SplitAllianceTag(text string) (name, tag string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		return text, ""
	}
	end := strings.Index(text, "]")
	if end < 0 {
		return text, ""
	}
	tag = strings.ToUpper(strings.ReplaceAll(text[1:end], " ", ""))
	name = strings.TrimSpace(text[end+1:])
	return name, tag
}
