// matchcheck scores configured templates against a saved screenshot. It is
// the offline tuning loop for template thresholds: grab a frame with
// `adb exec-out screencap -p > frame.png`, then run
//
//	matchcheck -c config.yaml frame.png [template ...]
//
// With no template names every configured template is scored.
package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/vision"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:   "matchcheck screenshot.png [template ...]",
		Short: "Score templates against a saved screenshot",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, args[0], args[1:])
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath, screenPath string, names []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	screen, err := loadPNG(screenPath)
	if err != nil {
		return fmt.Errorf("loading screenshot: %w", err)
	}

	lib := vision.NewLibrary(cfg.MatchThreshold)
	if len(names) == 0 {
		for name := range cfg.Templates.Defs {
			names = append(names, name)
		}
	}
	for _, name := range names {
		def, ok := cfg.Templates.Defs[name]
		if !ok {
			return fmt.Errorf("template %q not in config", name)
		}
		if err := lib.LoadFile(name, filepath.Join(cfg.Templates.Dir, def.Path), def.Threshold); err != nil {
			return err
		}
	}
	lib.ScaleTo(cfg.Templates.ReferenceWidth, cfg.Templates.ReferenceHeight,
		screen.Bounds().Dx(), screen.Bounds().Dy())

	matcher := vision.NewMatcher(lib)
	fmt.Printf("screen %dx%d, default threshold %.2f\n\n",
		screen.Bounds().Dx(), screen.Bounds().Dy(), cfg.MatchThreshold)

	for _, name := range names {
		m, err := matcher.Match(screen, name, image.Rectangle{})
		if err != nil {
			return err
		}
		verdict := "miss"
		if m.Found {
			verdict = "HIT "
		}
		fmt.Printf("%s  %-24s confidence %.4f", verdict, name, m.Confidence)
		if m.Found {
			fmt.Printf("  at %v", m.Bounds)
			all, err := matcher.MatchAll(screen, name, image.Rectangle{})
			if err == nil && len(all) > 1 {
				fmt.Printf("  (%d hits total)", len(all))
			}
		}
		fmt.Println()
	}
	return nil
}

func loadPNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}
