// Package config loads the pipeline configuration.
//
// Values are layered: struct defaults, then an optional YAML file, then
// ETL_-prefixed environment variables (ETL_S3__REGION sets s3.region).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"duck-etl/internal/domain"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "ETL_"

// ConfigPathEnvVar names the variable holding the config file path when
// --config is not given.
const ConfigPathEnvVar = "ETL_CONFIG"

// Config is the complete pipeline configuration.
type Config struct {
	InputRoot   string `koanf:"input_root" validate:"required"`
	OutputRoot  string `koanf:"output_root" validate:"required"`
	Country     string `koanf:"country" validate:"required"`
	EpochOrigin string `koanf:"epoch_origin" validate:"required,datetime=2006-01-02"`
	Workers     int    `koanf:"workers" validate:"gte=0"`

	Sources SourcesConfig `koanf:"sources"`
	Facts   FactsConfig   `koanf:"facts"`
	DuckDB  DuckDBConfig  `koanf:"duckdb"`
	S3      S3Config      `koanf:"s3"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
	Ledger  LedgerConfig  `koanf:"ledger"`
}

// SourcesConfig lists the raw inputs of the first three stages.
type SourcesConfig struct {
	Demographics SourceConfig `koanf:"demographics"`
	Airports     SourceConfig `koanf:"airports"`
	Immigration  SourceConfig `koanf:"immigration"`
}

// SourceConfig describes one tabular input. A relative path is resolved
// against the input root.
type SourceConfig struct {
	Path      string `koanf:"path" validate:"required"`
	Format    string `koanf:"format" validate:"oneof=csv json parquet"`
	Delimiter string `koanf:"delimiter" validate:"required_if=Format csv,max=1"`
	Header    bool   `koanf:"header"`
}

// FactsConfig configures fact assembly.
type FactsConfig struct {
	// ReferencePath is the dimension the events are joined to. Empty means
	// <output_root>/songs.
	ReferencePath    string       `koanf:"reference_path"`
	Events           SourceConfig `koanf:"events"`
	EventFilter      FilterConfig `koanf:"event_filter"`
	EventKey         string       `koanf:"event_key" validate:"required"`
	ReferenceKey     string       `koanf:"reference_key" validate:"required"`
	TimestampColumn  string       `koanf:"timestamp_column" validate:"required"`
	EventColumns     []string     `koanf:"event_columns" validate:"dive,required"`
	ReferenceColumns []string     `koanf:"reference_columns" validate:"dive,required"`
	OutputTable      string       `koanf:"output_table" validate:"required"`
	IDColumn         string       `koanf:"id_column" validate:"required"`
	Mode             string       `koanf:"mode" validate:"oneof=overwrite append"`
}

// FilterConfig is an optional equality pre-filter. It is disabled when
// Column is empty.
type FilterConfig struct {
	Column string `koanf:"column"`
	Equals string `koanf:"equals" validate:"required_with=Column"`
}

// DuckDBConfig configures the DuckDB session.
type DuckDBConfig struct {
	Path        string `koanf:"path"`
	Threads     int    `koanf:"threads" validate:"gte=0"`
	MemoryLimit string `koanf:"memory_limit"`
}

// S3Config holds object-store credentials. When Bucket is set, relative
// roots are resolved inside that bucket.
type S3Config struct {
	KeyID    string `koanf:"key_id"`
	Secret   string `koanf:"secret"`
	Endpoint string `koanf:"endpoint"`
	Region   string `koanf:"region"`
	URLStyle string `koanf:"url_style" validate:"oneof=path vhost"`
	Bucket   string `koanf:"bucket"`
}

// LogConfig selects log verbosity and encoding.
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

// MetricsConfig selects where run metrics are exported.
type MetricsConfig struct {
	Textfile       string `koanf:"textfile"`
	PushgatewayURL string `koanf:"pushgateway_url" validate:"omitempty,url"`
	Job            string `koanf:"job"`
}

// LedgerConfig locates the SQLite run ledger.
type LedgerConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		InputRoot:   ".",
		OutputRoot:  "Output",
		Country:     "US",
		EpochOrigin: "1960-01-01",
		Sources: SourcesConfig{
			Demographics: SourceConfig{Path: "us-cities-demographics.csv", Format: "csv", Delimiter: ";", Header: true},
			Airports:     SourceConfig{Path: "airport-codes_csv.csv", Format: "csv", Delimiter: ",", Header: true},
			Immigration:  SourceConfig{Path: "immigration_data_sample.csv", Format: "csv", Delimiter: ",", Header: true},
		},
		Facts: FactsConfig{
			Events:           SourceConfig{Path: "log_data/**/*.json", Format: "json"},
			EventFilter:      FilterConfig{Column: "page", Equals: "NextSong"},
			EventKey:         "song",
			ReferenceKey:     "title",
			TimestampColumn:  "ts",
			EventColumns:     []string{"userId", "level", "sessionId", "location", "userAgent"},
			ReferenceColumns: []string{"song_id", "artist_id"},
			OutputTable:      "songplays",
			IDColumn:         "songplay_id",
			Mode:             string(domain.ModeOverwrite),
		},
		S3:      S3Config{URLStyle: "path"},
		Log:     LogConfig{Level: "info", Format: "json"},
		Metrics: MetricsConfig{Job: "etl"},
		Ledger:  LedgerConfig{Path: ".etl/ledger.sqlite"},
	}
}

// Load builds the configuration from defaults, the YAML file at path (or
// $ETL_CONFIG when path is empty) and the environment, then validates it.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = os.Getenv(ConfigPathEnvVar)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	if err := splitListKeys(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// envKey maps ETL_FACTS__EVENT_KEY to facts.event_key.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if s == "config" {
		return ""
	}
	return strings.ReplaceAll(s, "__", ".")
}

// listKeys are the keys that arrive as comma-separated strings from the
// environment.
var listKeys = []string{"facts.event_columns", "facts.reference_columns"}

func splitListKeys(k *koanf.Koanf) error {
	for _, key := range listKeys {
		v, ok := k.Get(key).(string)
		if !ok {
			continue
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if err := k.Set(key, out); err != nil {
			return fmt.Errorf("set %s: %w", key, err)
		}
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks struct constraints and the cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return domain.ErrValidation("invalid config: %v", err)
	}
	if c.Facts.IDColumn == c.Facts.TimestampColumn {
		return domain.ErrValidation("invalid config: facts.id_column must differ from facts.timestamp_column")
	}
	seen := map[string]bool{}
	for _, col := range outputColumns(c.Facts) {
		if seen[col] {
			return domain.ErrValidation("invalid config: fact column %q appears more than once", col)
		}
		seen[col] = true
	}
	if c.UsesS3() && c.S3.Region == "" && c.S3.Endpoint == "" {
		return domain.ErrValidation("invalid config: s3.region or s3.endpoint is required for s3:// roots")
	}
	return nil
}

func outputColumns(f FactsConfig) []string {
	cols := []string{f.IDColumn, "start_time"}
	cols = append(cols, f.EventColumns...)
	cols = append(cols, f.ReferenceColumns...)
	return append(cols, "year", "month")
}

// Origin returns the parsed epoch origin.
func (c *Config) Origin() time.Time {
	t, _ := time.Parse(time.DateOnly, c.EpochOrigin)
	return t
}

// ResolvedInputRoot returns the input root, placed in the S3 bucket when
// one is configured and the root is relative.
func (c *Config) ResolvedInputRoot() string { return c.resolveRoot(c.InputRoot) }

// ResolvedOutputRoot is ResolvedInputRoot for the output root.
func (c *Config) ResolvedOutputRoot() string { return c.resolveRoot(c.OutputRoot) }

func (c *Config) resolveRoot(root string) string {
	if c.S3.Bucket == "" || IsRemote(root) || filepath.IsAbs(root) {
		return root
	}
	rel := strings.Trim(filepath.ToSlash(filepath.Clean(root)), "/")
	if rel == "." || rel == "" {
		return "s3://" + c.S3.Bucket
	}
	return "s3://" + c.S3.Bucket + "/" + rel
}

// SourcePath resolves a source path against the input root.
func (c *Config) SourcePath(p string) string {
	return Join(c.ResolvedInputRoot(), p)
}

// ReferencePath returns the fact-assembly reference table location.
func (c *Config) ReferencePath() string {
	if c.Facts.ReferencePath != "" {
		return Join(c.ResolvedOutputRoot(), c.Facts.ReferencePath)
	}
	return Join(c.ResolvedOutputRoot(), "songs")
}

// StagingDir is where partition files are encoded before publishing. Local
// output stays on the output filesystem so publishing is a rename.
func (c *Config) StagingDir() string {
	if out := c.ResolvedOutputRoot(); !IsRemote(out) {
		return filepath.Join(out, "_staging")
	}
	return filepath.Join(os.TempDir(), "etl-staging")
}

// UsesS3 reports whether either root lives in S3.
func (c *Config) UsesS3() bool {
	for _, p := range []string{c.ResolvedInputRoot(), c.ResolvedOutputRoot()} {
		if strings.HasPrefix(p, "s3://") || strings.HasPrefix(p, "s3a://") {
			return true
		}
	}
	return false
}

// IsRemote reports whether p is a URL rather than a local path.
func IsRemote(p string) bool { return strings.Contains(p, "://") }

// Join resolves p against root unless p is already absolute or remote.
func Join(root, p string) string {
	if IsRemote(p) || filepath.IsAbs(p) {
		return p
	}
	if IsRemote(root) {
		return strings.TrimRight(root, "/") + "/" + strings.TrimLeft(filepath.ToSlash(p), "/")
	}
	return filepath.Join(root, p)
}
