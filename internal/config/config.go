// Package config owns the process-wide configuration: loaded once at startup,
// validated fully, immutable for the lifetime of a run. Anything malformed is
// a fatal ConfigError and the run does not begin.
package config

import (
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigError reports a malformed or missing configuration key.
type ConfigError struct {
	Key string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func errKey(key, format string, args ...interface{}) *ConfigError {
	return &ConfigError{Key: key, Err: fmt.Errorf(format, args...)}
}

// Config is the root of the configuration file.
type Config struct {
	Emulator          Emulator      `yaml:"emulator"`
	ADB               ADB           `yaml:"adb"`
	App               App           `yaml:"app"`
	SleepMultiplier   float64       `yaml:"sleep_multiplier"`
	MaxRetries        int           `yaml:"max_retries"`
	MaxHomeAttempts   int           `yaml:"max_home_attempts"`
	RetryDelay        float64       `yaml:"retry_delay"` // seconds
	ApplicantOffset   Offset        `yaml:"applicant_offset"`
	Intervals         Intervals     `yaml:",inline"`
	ScreenshotQuality int           `yaml:"screenshot_quality"`
	MatchThreshold    float64       `yaml:"match_threshold"`
	AutoRemove        AutoRemove    `yaml:"auto_remove"`
	UIElements        UIElements    `yaml:"ui_elements"`
	Timings           Timings       `yaml:"timings"`
	Randomization     Randomization `yaml:"randomization"`
	OCR               OCRSettings   `yaml:"ocr_settings"`
	ControlList       ControlList   `yaml:"control_list"`
	Templates         Templates     `yaml:"templates"`
	Discord           Discord       `yaml:"discord"`
	ArmsRace          ArmsRace      `yaml:"arms_race"`
	StatePath         string        `yaml:"state_path"`
	LogFile           string        `yaml:"log_file"`
	LogLevel          string        `yaml:"log_level"`
}

// Emulator describes the host-side emulator process.
type Emulator struct {
	ProcessName    string  `yaml:"process_name"`
	RestartCommand string  `yaml:"restart_command"`
	StartDelay     float64 `yaml:"start_delay"` // seconds
}

// ADB configures the transport to the emulated device.
type ADB struct {
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	Binary            string `yaml:"binary"`
	Device            string `yaml:"device"`
	EnforceConnection bool   `yaml:"enforce_connection"`
}

// App identifies the target application on the device.
type App struct {
	Package string `yaml:"package"`
}

// Offset is a pixel offset pair used for proximity checks.
type Offset struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// Intervals holds per-task scheduling intervals in seconds, inlined into the
// document root as top-level keys. A nil interval disables the task entirely.
type Intervals struct {
	Secretary        *int `yaml:"secretary_interval"`
	AutoRemove       *int `yaml:"auto_remove_interval"`
	CollectResources *int `yaml:"collect_resources_interval"`
	DonateAlliance   *int `yaml:"donate_alliance_interval"`
	TreasureExchange *int `yaml:"treasure_exchange_interval"`
	DigWatch         *int `yaml:"dig_watch_interval"`
}

// AutoRemove configures expiry-driven rotation of administrative titles.
// A nil duration means that title is never auto-removed.
type AutoRemove struct {
	Active bool            `yaml:"active"`
	Titles map[string]*int `yaml:"titles"` // title -> expiry seconds
}

// Position is a screen coordinate expressed either as a percentage of the
// screen dimension or as absolute pixels. Percentages are resolved against
// the live screen size at the point of use, never baked in early.
type Position struct {
	X, Y    float64
	Percent bool
}

// Resolve converts the position to absolute pixels for a w x h screen.
func (p Position) Resolve(w, h int) image.Point {
	if !p.Percent {
		return image.Point{X: int(p.X), Y: int(p.Y)}
	}
	return image.Point{
		X: int(float64(w) * p.X / 100),
		Y: int(float64(h) * p.Y / 100),
	}
}

// rawPosition is the YAML form: coordinates are strings like "50%" or "120".
type rawPosition struct {
	X string `yaml:"x"`
	Y string `yaml:"y"`
}

func parseCoord(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if strings.HasSuffix(s, "%") {
		v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		return v, true, err
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, false, err
}

// UnmarshalYAML parses the "x: 50%, y: 91%" form used by ui_elements.
func (p *Position) UnmarshalYAML(value *yaml.Node) error {
	var raw rawPosition
	if err := value.Decode(&raw); err != nil {
		return err
	}
	x, xp, err := parseCoord(raw.X)
	if err != nil {
		return fmt.Errorf("bad x coordinate %q: %w", raw.X, err)
	}
	y, yp, err := parseCoord(raw.Y)
	if err != nil {
		return fmt.Errorf("bad y coordinate %q: %w", raw.Y, err)
	}
	if xp != yp {
		return fmt.Errorf("mixed percent/pixel coordinates %q/%q", raw.X, raw.Y)
	}
	p.X, p.Y, p.Percent = x, y, xp
	return nil
}

// SwipeProfile describes the reference swipe gesture, percent-based.
type SwipeProfile struct {
	Start      Position `yaml:"start"`
	End        Position `yaml:"end"`
	DurationMs int      `yaml:"duration_ms"`
}

// UIElements maps named tap targets to positions, plus the swipe profile.
type UIElements struct {
	Points map[string]Position `yaml:"points"`
	Swipe  SwipeProfile        `yaml:"swipe"`
}

// Point returns the named element position.
func (u UIElements) Point(name string) (Position, bool) {
	p, ok := u.Points[name]
	return p, ok
}

// Timings holds the named delays and timeouts, in seconds.
type Timings struct {
	TapDelay      float64 `yaml:"tap_delay"`
	SettleTime    float64 `yaml:"settle_time"`
	MenuAnimation float64 `yaml:"menu_animation"`
	ListTimeout   float64 `yaml:"list_timeout"`
	NavTimeout    float64 `yaml:"nav_timeout"`
	LaunchWait    float64 `yaml:"launch_wait"`
	PollInterval  float64 `yaml:"poll_interval"`
	WatchdogPoll  float64 `yaml:"watchdog_poll"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (t Timings) TapDelayD() time.Duration      { return seconds(t.TapDelay) }
func (t Timings) SettleTimeD() time.Duration    { return seconds(t.SettleTime) }
func (t Timings) MenuAnimationD() time.Duration { return seconds(t.MenuAnimation) }
func (t Timings) ListTimeoutD() time.Duration   { return seconds(t.ListTimeout) }
func (t Timings) NavTimeoutD() time.Duration    { return seconds(t.NavTimeout) }
func (t Timings) LaunchWaitD() time.Duration    { return seconds(t.LaunchWait) }
func (t Timings) PollIntervalD() time.Duration  { return seconds(t.PollInterval) }
func (t Timings) WatchdogPollD() time.Duration  { return seconds(t.WatchdogPoll) }

// Randomization bounds the humanized jitter applied to schedules and inputs.
type Randomization struct {
	CriticalJitter        float64 `yaml:"critical_jitter"`         // seconds radius
	NormalJitter          float64 `yaml:"normal_jitter"`           // seconds radius
	TapRadius             int     `yaml:"tap_radius"`              // pixels
	SwipeDurationVariance float64 `yaml:"swipe_duration_variance"` // fraction of duration
}

func (r Randomization) CriticalJitterD() time.Duration { return seconds(r.CriticalJitter) }
func (r Randomization) NormalJitterD() time.Duration   { return seconds(r.NormalJitter) }

// OCRSettings configures the text reader.
type OCRSettings struct {
	PageSegMode int                 `yaml:"page_seg_mode"`
	EngineMode  int                 `yaml:"engine_mode"`
	Languages   map[string][]string `yaml:"languages"` // purpose -> ordered hints
}

// Hints returns the ordered language hints for one OCR purpose.
func (o OCRSettings) Hints(purpose string) []string {
	return o.Languages[purpose]
}

// ControlList holds the alliance-tag whitelist and blacklist.
type ControlList struct {
	Whitelist []string `yaml:"whitelist"`
	Blacklist []string `yaml:"blacklist"`
}

// TemplateDef describes a single template asset.
type TemplateDef struct {
	Path      string  `yaml:"path"`
	Threshold float64 `yaml:"threshold"` // 0 inherits the global default
}

// Templates is the template catalogue plus the resolution the assets were
// captured at.
type Templates struct {
	Dir             string                 `yaml:"dir"`
	ReferenceWidth  int                    `yaml:"reference_width"`
	ReferenceHeight int                    `yaml:"reference_height"`
	Defs            map[string]TemplateDef `yaml:"defs"`
}

// MessageTemplate is one outbound notification content template.
type MessageTemplate struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
	Color int    `yaml:"color"`
}

// Discord configures outbound chat notifications.
type Discord struct {
	WebhookURL string                     `yaml:"webhook_url"`
	Messages   map[string]MessageTemplate `yaml:"messages"`
}

// ArmsRace maps the repeating 24-hour phase cycle and which phases each
// administrative title boosts.
type ArmsRace struct {
	Phases      []string            `yaml:"phases"`
	TitlePhases map[string][]string `yaml:"title_phases"`
}

// Known administrative titles. Template names like "title_strategy" and
// "vacant_strategy" derive from these.
var KnownTitles = []string{
	"strategy", "security", "development", "science",
	"interior", "military", "administrative",
}

// Templates the engine cannot run without. Probes, affordances and
// verification anchors referenced by name from the resolver and routines.
var requiredTemplates = []string{
	"home_anchor", "profile_anchor", "secretary_menu",
	"applicant_list", "empty_list", "full_list",
	"list", "accept", "reject", "confirm", "confirm_blue",
	"appoint", "dismiss", "has_applicant",
	"alliance_panel", "treasure_panel",
	"claim", "donate", "exchange", "dig",
}

// Load reads, parses and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Key: path, Err: err}
	}
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, &ConfigError{Key: path, Err: err}
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.SleepMultiplier == 0 {
		c.SleepMultiplier = 1.0
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.MaxHomeAttempts == 0 {
		c.MaxHomeAttempts = 10
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = 5
	}
	if c.MatchThreshold == 0 {
		c.MatchThreshold = 0.90
	}
	if c.ScreenshotQuality == 0 {
		c.ScreenshotQuality = 85
	}
	if c.ADB.Binary == "" {
		c.ADB.Binary = "adb"
	}
	if c.ApplicantOffset == (Offset{}) {
		c.ApplicantOffset = Offset{X: 150, Y: 50}
	}
	if c.Timings.PollInterval == 0 {
		c.Timings.PollInterval = 0.5
	}
	if c.Timings.WatchdogPoll == 0 {
		c.Timings.WatchdogPoll = 30
	}
	if c.Timings.NavTimeout == 0 {
		c.Timings.NavTimeout = 30
	}
	if c.Timings.LaunchWait == 0 {
		c.Timings.LaunchWait = 120
	}
	if c.StatePath == "" {
		c.StatePath = "warden.db"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks every cross-reference and bound the run depends on.
func (c *Config) Validate() error {
	if c.App.Package == "" {
		return errKey("app.package", "required")
	}
	if c.Emulator.ProcessName == "" {
		return errKey("emulator.process_name", "required")
	}
	if c.Emulator.RestartCommand == "" {
		return errKey("emulator.restart_command", "required")
	}
	if c.MatchThreshold <= 0 || c.MatchThreshold > 1 {
		return errKey("match_threshold", "must be in (0,1], got %v", c.MatchThreshold)
	}
	if c.Templates.Dir == "" {
		return errKey("templates.dir", "required")
	}
	for name, def := range c.Templates.Defs {
		if def.Path == "" {
			return errKey("templates.defs."+name, "missing path")
		}
		if def.Threshold < 0 || def.Threshold > 1 {
			return errKey("templates.defs."+name, "threshold must be in [0,1], got %v", def.Threshold)
		}
	}
	for _, name := range requiredTemplates {
		if _, ok := c.Templates.Defs[name]; !ok {
			return errKey("templates.defs", "required template %q not defined", name)
		}
	}
	for name, p := range c.UIElements.Points {
		if p.Percent && (p.X < 0 || p.X > 100 || p.Y < 0 || p.Y > 100) {
			return errKey("ui_elements.points."+name, "percent coordinates must be in [0,100]")
		}
	}
	for _, name := range []string{"profile", "capitol", "alliance", "treasures"} {
		if _, ok := c.UIElements.Points[name]; !ok {
			return errKey("ui_elements.points", "required element %q not defined", name)
		}
	}
	for title := range c.AutoRemove.Titles {
		if !knownTitle(title) {
			return errKey("auto_remove.titles", "unknown title %q", title)
		}
	}
	if len(c.ArmsRace.Phases) == 0 {
		return errKey("arms_race.phases", "at least one phase required")
	}
	phases := make(map[string]bool, len(c.ArmsRace.Phases))
	for _, ph := range c.ArmsRace.Phases {
		if phases[ph] {
			return errKey("arms_race.phases", "duplicate phase %q", ph)
		}
		phases[ph] = true
	}
	for title, phs := range c.ArmsRace.TitlePhases {
		if !knownTitle(title) {
			return errKey("arms_race.title_phases", "unknown title %q", title)
		}
		for _, ph := range phs {
			if !phases[ph] {
				return errKey("arms_race.title_phases."+title, "unknown phase %q", ph)
			}
		}
	}
	if c.Randomization.TapRadius < 0 {
		return errKey("randomization.tap_radius", "must be >= 0")
	}
	if c.Randomization.SwipeDurationVariance < 0 || c.Randomization.SwipeDurationVariance >= 1 {
		return errKey("randomization.swipe_duration_variance", "must be in [0,1)")
	}
	return nil
}

func knownTitle(title string) bool {
	for _, t := range KnownTitles {
		if t == title {
			return true
		}
	}
	return false
}

// RetryDelayD returns the scheduler base retry delay.
func (c *Config) RetryDelayD() time.Duration { return seconds(c.RetryDelay) }

// StartDelayD returns the emulator start delay.
func (e Emulator) StartDelayD() time.Duration { return seconds(e.StartDelay) }
