package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

type Markers struct {
	Length int    `toml:"length"`
	Label  string `toml:"label"`
}

type Diff struct {
	IndentHeuristic bool `toml:"indent-heuristic"`
}

// Duration reads TOML strings such as "90s" or "2m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Proposal struct {
	Command               string   `toml:"command"`
	Args                  []string `toml:"args"`
	Prompt                string   `toml:"prompt"`
	Timeout               Duration `toml:"timeout"`
	EnsureTrailingNewline bool     `toml:"ensure-trailing-newline"`
}

type Theme struct {
	Foreground           string `toml:"foreground"`
	Background           string `toml:"background"`
	IncomingForeground   string `toml:"incoming-foreground"`
	IncomingBackground   string `toml:"incoming-background"`
	OriginalForeground   string `toml:"original-foreground"`
	OriginalBackground   string `toml:"original-background"`
	MarkerForeground     string `toml:"marker-foreground"`
	MarkerBackground     string `toml:"marker-background"`
	ActiveMarker         string `toml:"active-marker"`
	StatuslineForeground string `toml:"statusline-foreground"`
	StatuslineBackground string `toml:"statusline-background"`
}

// Review holds the resolver colours. Name selects theme/<name>.toml under the config
// directory; keys set directly in [review] win over the theme file.
type Review struct {
	Name string `toml:"theme"`
	Theme
}

type Log struct {
	Debug bool `toml:"debug"`
}

type Config struct {
	Markers  Markers  `toml:"markers"`
	Diff     Diff     `toml:"diff"`
	Proposal Proposal `toml:"proposal"`
	Review   Review   `toml:"review"`
	Log      Log      `toml:"log"`
}

func Default() Config {
	return Config{
		Markers: Markers{
			Length: 72,
			Label:  "incoming",
		},
		Diff: Diff{
			IndentHeuristic: true,
		},
		Proposal: Proposal{
			Timeout:               Duration{2 * time.Minute},
			EnsureTrailingNewline: true,
		},
		Review: Review{
			Theme: Theme{
				Foreground:           "#B3B1AD",
				Background:           "#0A0E14",
				IncomingForeground:   "#BAE67E",
				IncomingBackground:   "#1B2B1B",
				OriginalForeground:   "#F29668",
				OriginalBackground:   "#2B1B1B",
				MarkerForeground:     "#5C6773",
				MarkerBackground:     "#0A0E14",
				ActiveMarker:         "#E6B450",
				StatuslineForeground: "#B3B1AD",
				StatuslineBackground: "#0F1419",
			},
		},
	}
}

// Load reads config.toml from the config directory over Default. A missing file is not an
// error.
func Load() (Config, error) {
	cfg := Default()
	path, err := ConfigPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	return Parse(cfg, string(data))
}

// Parse overlays the TOML document data onto cfg.
func Parse(cfg Config, data string) (Config, error) {
	var user struct {
		Markers  Markers  `toml:"markers"`
		Diff     Diff     `toml:"diff"`
		Proposal Proposal `toml:"proposal"`
		Review   Review   `toml:"review"`
		Log      Log      `toml:"log"`
	}
	md, err := toml.Decode(data, &user)
	if err != nil {
		return cfg, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	if user.Markers.Length > 0 {
		cfg.Markers.Length = user.Markers.Length
	}
	if md.IsDefined("markers", "label") {
		cfg.Markers.Label = user.Markers.Label
	}
	if md.IsDefined("diff", "indent-heuristic") {
		cfg.Diff.IndentHeuristic = user.Diff.IndentHeuristic
	}
	if user.Proposal.Command != "" {
		cfg.Proposal.Command = user.Proposal.Command
	}
	if user.Proposal.Args != nil {
		cfg.Proposal.Args = user.Proposal.Args
	}
	if user.Proposal.Prompt != "" {
		cfg.Proposal.Prompt = user.Proposal.Prompt
	}
	if user.Proposal.Timeout.Duration > 0 {
		cfg.Proposal.Timeout = user.Proposal.Timeout
	}
	if md.IsDefined("proposal", "ensure-trailing-newline") {
		cfg.Proposal.EnsureTrailingNewline = user.Proposal.EnsureTrailingNewline
	}
	if user.Review.Name != "" {
		cfg.Review.Name = user.Review.Name
		theme, err := LoadTheme(user.Review.Name)
		if err != nil {
			return cfg, err
		}
		mergeTheme(&cfg.Review.Theme, theme)
	}
	mergeTheme(&cfg.Review.Theme, user.Review.Theme)
	if user.Log.Debug {
		cfg.Log.Debug = true
	}
	return cfg, nil
}

func mergeTheme(dst *Theme, src Theme) {
	set := func(dst *string, src string) {
		if src != "" {
			*dst = src
		}
	}
	set(&dst.Foreground, src.Foreground)
	set(&dst.Background, src.Background)
	set(&dst.IncomingForeground, src.IncomingForeground)
	set(&dst.IncomingBackground, src.IncomingBackground)
	set(&dst.OriginalForeground, src.OriginalForeground)
	set(&dst.OriginalBackground, src.OriginalBackground)
	set(&dst.MarkerForeground, src.MarkerForeground)
	set(&dst.MarkerBackground, src.MarkerBackground)
	set(&dst.ActiveMarker, src.ActiveMarker)
	set(&dst.StatuslineForeground, src.StatuslineForeground)
	set(&dst.StatuslineBackground, src.StatuslineBackground)
}

func ThemePath(name string) (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "theme", name+".toml"), nil
}

// LoadTheme reads theme/<name>.toml, either bare keys or wrapped in a [theme] table.
func LoadTheme(name string) (Theme, error) {
	path, err := ThemePath(name)
	if err != nil {
		return Theme{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, err
	}
	var wrap struct {
		Theme *Theme `toml:"theme"`
	}
	if _, err := toml.Decode(string(data), &wrap); err == nil && wrap.Theme != nil {
		return *wrap.Theme, nil
	}
	var t Theme
	if _, err := toml.Decode(string(data), &t); err != nil {
		return Theme{}, err
	}
	return t, nil
}

func ConfigDir() (string, error) {
	if v := os.Getenv("FUZZYPASTE_CONFIG_HOME"); v != "" {
		return filepath.Clean(v), nil
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "fuzzypaste"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "fuzzypaste"), nil
}

func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}
