// Package config loads pdfredact settings: defaults, then an optional YAML
// file, then PDFREDACT_* environment variables (a .env file is read first when
// present), then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "PDFREDACT_"

type Config struct {
	Threshold   float64 `yaml:"threshold"`
	DPI         float64 `yaml:"dpi"`
	Fill        string  `yaml:"fill"`
	Concurrency int     `yaml:"concurrency"`
	// OutputDir holds results; empty writes next to each input.
	OutputDir string `yaml:"output_dir"`

	Snapshot   SnapshotConfig   `yaml:"snapshot"`
	Audit      AuditConfig      `yaml:"audit"`
	Classifier ClassifierConfig `yaml:"classifier"`
	OCR        OCRConfig        `yaml:"ocr"`
	Log        LogConfig        `yaml:"log"`

	MetricsAddr string `yaml:"metrics_addr"`
}

type SnapshotConfig struct {
	// Backend is file, memory or redis.
	Backend       string        `yaml:"backend"`
	Dir           string        `yaml:"dir"`
	TTL           time.Duration `yaml:"ttl"`
	SweepSchedule string        `yaml:"sweep_schedule"`
	Redis         RedisConfig   `yaml:"redis"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type AuditConfig struct {
	// Mode is omit or sealed.
	Mode   string `yaml:"mode"`
	Secret string `yaml:"secret"`
}

type ClassifierConfig struct {
	Rules       bool          `yaml:"rules"`
	NERURL      string        `yaml:"ner_url"`
	NERTimeout  time.Duration `yaml:"ner_timeout"`
	NERFailOpen bool          `yaml:"ner_fail_open"`
	Script      string        `yaml:"script"`
}

type OCRConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Languages     []string `yaml:"languages"`
	DPI           int      `yaml:"dpi"`
	MinConfidence float64  `yaml:"min_confidence"`
	PageSegMode   int      `yaml:"psm"`
	CharWhitelist string   `yaml:"char_whitelist"`
}

type LogConfig struct {
	Environment string `yaml:"environment"`
	Level       string `yaml:"level"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Threshold:   0.8,
		DPI:         150,
		Fill:        "#000000",
		Concurrency: 4,
		Snapshot: SnapshotConfig{
			Backend:       "file",
			Dir:           "snapshots",
			TTL:           30 * 24 * time.Hour,
			SweepSchedule: "@daily",
			Redis:         RedisConfig{Addr: "localhost:6379", Prefix: "pdfredact:snapshot:"},
		},
		Audit:      AuditConfig{Mode: "omit"},
		Classifier: ClassifierConfig{Rules: true, NERTimeout: 10 * time.Second},
		OCR:        OCRConfig{Enabled: true, Languages: []string{"eng"}, DPI: 300, MinConfidence: 0.3, PageSegMode: 11},
		Log:        LogConfig{Environment: "development", Level: "info"},
	}
}

// Load reads path (skipped when empty), then .env and the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := decodeYAML(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type envVar struct {
	name string
	set  func(cfg *Config, v string) error
}

func str(dst func(*Config) *string) func(*Config, string) error {
	return func(c *Config, v string) error { *dst(c) = v; return nil }
}

func boolean(dst func(*Config) *bool) func(*Config, string) error {
	return func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst(c) = b
		return nil
	}
}

func integer(dst func(*Config) *int) func(*Config, string) error {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst(c) = n
		return nil
	}
}

func float(dst func(*Config) *float64) func(*Config, string) error {
	return func(c *Config, v string) error {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return err
		}
		*dst(c) = f
		return nil
	}
}

func duration(dst func(*Config) *time.Duration) func(*Config, string) error {
	return func(c *Config, v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst(c) = d
		return nil
	}
}

var envVars = []envVar{
	{"THRESHOLD", float(func(c *Config) *float64 { return &c.Threshold })},
	{"DPI", float(func(c *Config) *float64 { return &c.DPI })},
	{"FILL", str(func(c *Config) *string { return &c.Fill })},
	{"CONCURRENCY", integer(func(c *Config) *int { return &c.Concurrency })},
	{"OUTPUT_DIR", str(func(c *Config) *string { return &c.OutputDir })},
	{"SNAPSHOT_BACKEND", str(func(c *Config) *string { return &c.Snapshot.Backend })},
	{"SNAPSHOT_DIR", str(func(c *Config) *string { return &c.Snapshot.Dir })},
	{"SNAPSHOT_TTL", duration(func(c *Config) *time.Duration { return &c.Snapshot.TTL })},
	{"SWEEP_SCHEDULE", str(func(c *Config) *string { return &c.Snapshot.SweepSchedule })},
	{"REDIS_ADDR", str(func(c *Config) *string { return &c.Snapshot.Redis.Addr })},
	{"REDIS_PASSWORD", str(func(c *Config) *string { return &c.Snapshot.Redis.Password })},
	{"REDIS_DB", integer(func(c *Config) *int { return &c.Snapshot.Redis.DB })},
	{"REDIS_PREFIX", str(func(c *Config) *string { return &c.Snapshot.Redis.Prefix })},
	{"AUDIT_MODE", str(func(c *Config) *string { return &c.Audit.Mode })},
	{"AUDIT_SECRET", str(func(c *Config) *string { return &c.Audit.Secret })},
	{"RULES", boolean(func(c *Config) *bool { return &c.Classifier.Rules })},
	{"NER_URL", str(func(c *Config) *string { return &c.Classifier.NERURL })},
	{"NER_TIMEOUT", duration(func(c *Config) *time.Duration { return &c.Classifier.NERTimeout })},
	{"NER_FAIL_OPEN", boolean(func(c *Config) *bool { return &c.Classifier.NERFailOpen })},
	{"SCRIPT", str(func(c *Config) *string { return &c.Classifier.Script })},
	{"OCR", boolean(func(c *Config) *bool { return &c.OCR.Enabled })},
	{"OCR_LANGUAGES", func(c *Config, v string) error {
		c.OCR.Languages = splitList(v)
		return nil
	}},
	{"OCR_DPI", integer(func(c *Config) *int { return &c.OCR.DPI })},
	{"OCR_MIN_CONFIDENCE", float(func(c *Config) *float64 { return &c.OCR.MinConfidence })},
	{"OCR_PSM", integer(func(c *Config) *int { return &c.OCR.PageSegMode })},
	{"OCR_CHAR_WHITELIST", str(func(c *Config) *string { return &c.OCR.CharWhitelist })},
	{"LOG_ENV", str(func(c *Config) *string { return &c.Log.Environment })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Log.Level })},
	{"METRICS_ADDR", str(func(c *Config) *string { return &c.MetricsAddr })},
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(EnvPrefix + ev.name)
		if !ok {
			continue
		}
		if err := ev.set(cfg, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, ev.name, err)
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '+' }) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks ranges and cross-field requirements.
func (c *Config) Validate() error {
	var errs *multierror.Error
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = multierror.Append(errs, fmt.Errorf("threshold %v outside [0,1]", c.Threshold))
	}
	if c.DPI < 36 || c.DPI > 1200 {
		errs = multierror.Append(errs, fmt.Errorf("dpi %v outside [36,1200]", c.DPI))
	}
	if _, err := c.FillColor(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if c.Concurrency < 1 {
		errs = multierror.Append(errs, errors.New("concurrency must be positive"))
	}
	switch c.Snapshot.Backend {
	case "file":
		if c.Snapshot.Dir == "" {
			errs = multierror.Append(errs, errors.New("snapshot.dir is required for the file backend"))
		}
	case "memory":
	case "redis":
		if c.Snapshot.Redis.Addr == "" {
			errs = multierror.Append(errs, errors.New("snapshot.redis.addr is required for the redis backend"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown snapshot backend %q", c.Snapshot.Backend))
	}
	if c.Snapshot.TTL < 0 {
		errs = multierror.Append(errs, errors.New("snapshot.ttl must not be negative"))
	}
	switch c.Audit.Mode {
	case "omit":
	case "sealed":
		if len(c.Audit.Secret) < 16 {
			errs = multierror.Append(errs, errors.New("audit.secret must hold at least 16 bytes in sealed mode"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown audit mode %q", c.Audit.Mode))
	}
	if !c.Classifier.Rules && c.Classifier.NERURL == "" && c.Classifier.Script == "" {
		errs = multierror.Append(errs, errors.New("no classifier enabled"))
	}
	if c.OCR.MinConfidence < 0 || c.OCR.MinConfidence > 1 {
		errs = multierror.Append(errs, fmt.Errorf("ocr.min_confidence %v outside [0,1]", c.OCR.MinConfidence))
	}
	if c.OCR.PageSegMode < 0 || c.OCR.PageSegMode > 13 {
		errs = multierror.Append(errs, fmt.Errorf("ocr.psm %d outside [0,13]", c.OCR.PageSegMode))
	}
	if c.OCR.Enabled && (c.OCR.DPI < 72 || c.OCR.DPI > 1200) {
		errs = multierror.Append(errs, fmt.Errorf("ocr.dpi %d outside [72,1200]", c.OCR.DPI))
	}
	return errs.ErrorOrNil()
}

// FillColor parses Fill as #rrggbb.
func (c *Config) FillColor() (color.NRGBA, error) {
	s := strings.TrimPrefix(c.Fill, "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("fill %q is not #rrggbb", c.Fill)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("fill %q is not #rrggbb", c.Fill)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}
