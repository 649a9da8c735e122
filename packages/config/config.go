// Package config loads cellgraph workbooks: the engine settings and the
// documents with their cells, from TOML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

const (
	KindArticle = "article"
	KindSheet   = "sheet"
)

// defaults for settings a workbook leaves out
const (
	DefaultCycleInterval     = 50 * time.Millisecond
	DefaultAnalysisCacheSize = 256
	DefaultRunTimeout        = 30 * time.Second
	DefaultSheetRows         = 100
	DefaultSheetCols         = 26
	DefaultLanguage          = "mini"
)

// environment variables overriding the [engine] table
const (
	EnvCycleInterval     = "CELLGRAPH_CYCLE_INTERVAL"
	EnvAnalysisCacheSize = "CELLGRAPH_ANALYSIS_CACHE_SIZE"
	EnvAutorun           = "CELLGRAPH_AUTORUN"
	EnvRunTimeout        = "CELLGRAPH_RUN_TIMEOUT"
)

// Config is a workbook
type Config struct {
	Engine    EngineConfig     `toml:"engine"`
	Documents []DocumentConfig `toml:"document"`
}

// EngineConfig holds the scheduling settings
type EngineConfig struct {
	// CycleInterval is the tick of the watch loop
	CycleInterval Duration `toml:"cycle_interval"`

	// AnalysisCacheSize bounds the analysis cache, 0 disables it
	AnalysisCacheSize int `toml:"analysis_cache_size"`

	// Autorun is the default of documents that do not set their own
	Autorun bool `toml:"autorun"`

	// RunTimeout bounds a single run to idle
	RunTimeout Duration `toml:"run_timeout"`
}

// DocumentConfig describes an article or a sheet
type DocumentConfig struct {
	Name     string       `toml:"name"`
	Kind     string       `toml:"kind"`
	Language string       `toml:"language,omitempty"`
	Autorun  *bool        `toml:"autorun,omitempty"`
	Rows     int          `toml:"rows,omitempty"`
	Cols     int          `toml:"cols,omitempty"`
	Cells    []CellConfig `toml:"cell"`
}

// CellConfig is one cell. Address places sheet cells, SideEffects orders
// article cells.
type CellConfig struct {
	Source      string `toml:"source"`
	Address     string `toml:"address,omitempty"`
	SideEffects bool   `toml:"side_effects,omitempty"`
	Autorun     *bool  `toml:"autorun,omitempty"`
}

// Duration is a time.Duration written as "50ms" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// AutorunOf returns the autorun setting of a document
func (c *Config) AutorunOf(doc DocumentConfig) bool {
	if doc.Autorun != nil {
		return *doc.Autorun
	}
	return c.Engine.Autorun
}

// Load reads a workbook, fills in defaults, applies overrides from the
// environment and from a .env file next to the workbook, and validates the
// result
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	dotenv, err := godotenv.Read(filepath.Join(filepath.Dir(path), ".env"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}
	lookup := func(key string) string {
		return firstNonEmpty(strings.TrimSpace(os.Getenv(key)), strings.TrimSpace(dotenv[key]))
	}
	if err := cfg.applyOverrides(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workbook %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a workbook and fills in defaults. it does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %q", undecoded[0].String())
	}

	if !md.IsDefined("engine", "cycle_interval") {
		cfg.Engine.CycleInterval.Duration = DefaultCycleInterval
	}
	if !md.IsDefined("engine", "analysis_cache_size") {
		cfg.Engine.AnalysisCacheSize = DefaultAnalysisCacheSize
	}
	if !md.IsDefined("engine", "autorun") {
		cfg.Engine.Autorun = true
	}
	if !md.IsDefined("engine", "run_timeout") {
		cfg.Engine.RunTimeout.Duration = DefaultRunTimeout
	}
	for i := range cfg.Documents {
		doc := &cfg.Documents[i]
		doc.Kind = strings.ToLower(firstNonEmpty(doc.Kind, KindArticle))
		doc.Language = firstNonEmpty(doc.Language, DefaultLanguage)
		if doc.Kind == KindSheet {
			if doc.Rows == 0 {
				doc.Rows = DefaultSheetRows
			}
			if doc.Cols == 0 {
				doc.Cols = DefaultSheetCols
			}
		}
	}
	return &cfg, nil
}

// applyOverrides replaces engine settings with non-empty values of lookup
func (c *Config) applyOverrides(lookup func(string) string) error {
	if v := lookup(EnvCycleInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCycleInterval, err)
		}
		c.Engine.CycleInterval.Duration = d
	}
	if v := lookup(EnvAnalysisCacheSize); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAnalysisCacheSize, err)
		}
		c.Engine.AnalysisCacheSize = n
	}
	if v := lookup(EnvAutorun); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvAutorun, err)
		}
		c.Engine.Autorun = b
	}
	if v := lookup(EnvRunTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvRunTimeout, err)
		}
		c.Engine.RunTimeout.Duration = d
	}
	return nil
}

// Validate reports every problem of the workbook at once
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.CycleInterval.Duration <= 0 {
		errs = append(errs, fmt.Errorf("engine: cycle_interval must be positive, got %s", c.Engine.CycleInterval))
	}
	if c.Engine.AnalysisCacheSize < 0 {
		errs = append(errs, fmt.Errorf("engine: analysis_cache_size must not be negative, got %d", c.Engine.AnalysisCacheSize))
	}
	if c.Engine.RunTimeout.Duration < 0 {
		errs = append(errs, fmt.Errorf("engine: run_timeout must not be negative, got %s", c.Engine.RunTimeout))
	}

	names := make(map[string]struct{}, len(c.Documents))
	for i, doc := range c.Documents {
		label := fmt.Sprintf("document %d", i+1)
		if doc.Name != "" {
			label = fmt.Sprintf("document %q", doc.Name)
		}
		switch {
		case strings.TrimSpace(doc.Name) == "":
			errs = append(errs, fmt.Errorf("%s: missing name", label))
		case strings.ContainsAny(doc.Name, "!'"):
			errs = append(errs, fmt.Errorf("%s: name must not contain ! or '", label))
		default:
			if _, dup := names[doc.Name]; dup {
				errs = append(errs, fmt.Errorf("%s: duplicate name", label))
			}
			names[doc.Name] = struct{}{}
		}

		switch doc.Kind {
		case KindArticle:
			for j, cfg := range doc.Cells {
				if cfg.Address != "" {
					errs = append(errs, fmt.Errorf("%s: cell %d: articles do not take addresses", label, j+1))
				}
			}
		case KindSheet:
			errs = append(errs, validateSheet(label, doc)...)
		default:
			errs = append(errs, fmt.Errorf("%s: unknown kind %q", label, doc.Kind))
		}
	}
	return errors.Join(errs...)
}

func validateSheet(label string, doc DocumentConfig) []error {
	var errs []error
	if doc.Rows <= 0 || doc.Cols <= 0 {
		errs = append(errs, fmt.Errorf("%s: size %dx%d", label, doc.Rows, doc.Cols))
	}
	taken := make(map[string]int, len(doc.Cells))
	for j, cfg := range doc.Cells {
		row, col, ok := cell.ParseAddress(strings.TrimSpace(cfg.Address))
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("%s: cell %d: bad address %q", label, j+1, cfg.Address))
			continue
		case row >= doc.Rows || col >= doc.Cols:
			errs = append(errs, fmt.Errorf("%s: cell %d: %s is outside %dx%d", label, j+1, cfg.Address, doc.Rows, doc.Cols))
			continue
		}
		address := cell.Address(row, col)
		if first, dup := taken[address]; dup {
			errs = append(errs, fmt.Errorf("%s: cell %d: %s already set by cell %d", label, j+1, address, first))
			continue
		}
		taken[address] = j + 1
	}
	return errs
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
