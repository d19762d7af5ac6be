package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"dw2rc/internal/converter"
	"dw2rc/internal/domain"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	OutDir       string                             `yaml:"out_dir"`
	Source       SourceConfig                       `yaml:"source"`
	Converters   map[string]converter.CommandConfig `yaml:"converters"`
	Conversion   Conversion                         `yaml:"conversion"`
	Checkpoint   Checkpoint                         `yaml:"checkpoint"`
	Languages    Languages                          `yaml:"languages"`
	Remote       Remote                             `yaml:"remote"`
	Upload       Upload                             `yaml:"upload"`
	Git          Git                                `yaml:"git"`
	Archive      Archive                            `yaml:"archive"`
	MetricsAddr  string                             `yaml:"metrics_addr"`
	LogLevel     string                             `yaml:"log_level"`
	ShowProgress bool                               `yaml:"show_progress"`
}

// SourceConfig describes the repository listing
type SourceConfig struct {
	URL            string        `yaml:"url"`
	TokenFile      string        `yaml:"token_file"`
	RepoPrefix     string        `yaml:"repo_prefix"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// Conversion controls the migration state machine
type Conversion struct {
	RetryFailures bool          `yaml:"retry_failures"`
	Quiet         bool          `yaml:"quiet"`
	Timeout       time.Duration `yaml:"timeout"`
	Types         []string      `yaml:"types"`
}

// Checkpoint selects where the batch results map lives
type Checkpoint struct {
	Backend string `yaml:"backend"`
	// Path defaults to results.json (or results.db) under out_dir
	Path string `yaml:"path"`
}

// Languages configures the language catalog and which languages are run
type Languages struct {
	Catalog   string        `yaml:"catalog"`
	ValidList string        `yaml:"valid_list"`
	Filter    []string      `yaml:"filter"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Remote is the git host receiving converted repositories
type Remote struct {
	BaseURL   string        `yaml:"base_url"`
	Org       string        `yaml:"org"`
	Token     string        `yaml:"token"`
	TokenFile string        `yaml:"token_file"`
	CloneBase string        `yaml:"clone_base"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Upload controls the upload reconciler
type Upload struct {
	RetryOnError   bool     `yaml:"retry_on_error"`
	RepairManifest bool     `yaml:"repair_manifest"`
	Types          []string `yaml:"types"`
}

// Git configures git subprocesses
type Git struct {
	Timeout     time.Duration `yaml:"timeout"`
	AuthorName  string        `yaml:"author_name"`
	AuthorEmail string        `yaml:"author_email"`
}

// Archive configures the S3-compatible mirror of converted repositories
type Archive struct {
	Endpoint       string `yaml:"endpoint"`
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Secure         bool   `yaml:"secure"`
	Bucket         string `yaml:"bucket"`
	Prefix         string `yaml:"prefix"`
	Concurrency    int    `yaml:"concurrency"`
	Retries        int    `yaml:"retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
	SkipExisting   bool   `yaml:"skip_existing"`
	DryRun         bool   `yaml:"dry_run"`
}

// Default returns the configuration used when no file or flag says otherwise
func Default() *Config {
	return &Config{
		OutDir: "./ConvertedDokuWiki",
		Source: SourceConfig{
			URL:            "https://api.github.com/users/Door43/repos",
			TokenFile:      "github_api_token",
			RepoPrefix:     "d43-",
			Timeout:        30 * time.Second,
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
		},
		Conversion: Conversion{
			Timeout: 30 * time.Minute,
			Types:   []string{"obs", "tq", "tn"},
		},
		Checkpoint: Checkpoint{Backend: "json"},
		Languages: Languages{
			Catalog:   "https://td.unfoldingword.org/exports/langnames.json",
			ValidList: "valid_repo_list.txt",
			Timeout:   time.Minute,
		},
		Remote: Remote{
			BaseURL:   "https://git.door43.org",
			Org:       "DokuWiki",
			TokenFile: "gogs_api_token",
			Timeout:   30 * time.Second,
		},
		Upload: Upload{
			RepairManifest: true,
			Types:          []string{"obs", "tq", "tn"},
		},
		Git: Git{
			Timeout:     10 * time.Minute,
			AuthorName:  "dw2rc",
			AuthorEmail: "dw2rc@localhost",
		},
		Archive: Archive{
			Prefix:         "converted",
			Concurrency:    8,
			Retries:        5,
			RetryBackoffMs: 500,
			SkipExisting:   true,
		},
		LogLevel:     "info",
		ShowProgress: true,
	}
}

// Load loads configuration from file and command line flags. A .env file
// in the working directory is loaded first and ${VAR} references in the
// config file are expanded from the environment.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil {
		if err := loadFromFlags(cfg, flags); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg.resolve()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	expanded := os.ExpandEnv(string(data))
	return yaml.Unmarshal([]byte(expanded), cfg)
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) error {
	var errs []error
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	list := func(name string, dst *[]string) {
		if flags.Changed(name) {
			v, err := flags.GetStringSlice(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("log-level", &cfg.LogLevel)
	str("out-dir", &cfg.OutDir)
	str("metrics-addr", &cfg.MetricsAddr)
	boolean("show-progress", &cfg.ShowProgress)

	boolean("retry-failures", &cfg.Conversion.RetryFailures)
	boolean("quiet", &cfg.Conversion.Quiet)
	list("type", &cfg.Conversion.Types)
	if flags.Changed("timeout") {
		v, err := flags.GetDuration("timeout")
		errs = append(errs, err)
		cfg.Conversion.Timeout = v
	}

	str("checkpoint-backend", &cfg.Checkpoint.Backend)
	str("checkpoint", &cfg.Checkpoint.Path)

	list("lang", &cfg.Languages.Filter)
	str("catalog", &cfg.Languages.Catalog)
	str("valid-list", &cfg.Languages.ValidList)

	str("org", &cfg.Remote.Org)
	str("remote-url", &cfg.Remote.BaseURL)
	boolean("retry-on-error", &cfg.Upload.RetryOnError)
	boolean("repair-manifest", &cfg.Upload.RepairManifest)
	list("upload-type", &cfg.Upload.Types)

	str("endpoint", &cfg.Archive.Endpoint)
	str("bucket", &cfg.Archive.Bucket)
	str("prefix", &cfg.Archive.Prefix)
	boolean("dry-run", &cfg.Archive.DryRun)
	if flags.Changed("concurrency") {
		v, err := flags.GetInt("concurrency")
		errs = append(errs, err)
		cfg.Archive.Concurrency = v
	}

	return errors.Join(errs...)
}

// resolve fills values derived from other settings
func (c *Config) resolve() {
	if c.Checkpoint.Path == "" {
		name := "results.json"
		if c.Checkpoint.Backend == "sqlite" {
			name = "results.db"
		}
		c.Checkpoint.Path = filepath.Join(c.OutDir, name)
	}
	c.Remote.BaseURL = strings.TrimRight(c.Remote.BaseURL, "/")
}

var bucketName = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]*[a-z0-9]$`)

func (c *Config) validate() error {
	errs := validation.Errors{
		"out_dir":             validation.Validate(c.OutDir, validation.Required),
		"conversion.types":    validation.Validate(c.Conversion.Types, validation.By(resourceTypes)),
		"upload.types":        validation.Validate(c.Upload.Types, validation.By(resourceTypes)),
		"checkpoint.backend":  validation.Validate(c.Checkpoint.Backend, validation.Required, validation.In("json", "sqlite").Error("must be json or sqlite")),
		"conversion.timeout":  validation.Validate(c.Conversion.Timeout, validation.Min(time.Duration(0)).Error("must not be negative")),
		"source.url":          validation.Validate(c.Source.URL, validation.Required, is.URL),
		"remote.base_url":     validation.Validate(c.Remote.BaseURL, validation.Required, is.URL),
		"remote.org":          validation.Validate(c.Remote.Org, validation.Required),
		"archive.concurrency": validation.Validate(c.Archive.Concurrency, validation.Required.Error("must be positive"), validation.Min(1).Error("must be positive")),
		"archive.retries":     validation.Validate(c.Archive.Retries, validation.Required.Error("must be positive"), validation.Min(1).Error("must be positive")),
		"log_level":           validation.Validate(c.LogLevel, validation.Required, validation.In("debug", "info", "warn", "error").Error("must be one of debug, info, warn, error")),
	}
	for name, cc := range c.Converters {
		errs["converters."+name] = validation.Validate(cc)
	}
	return errs.Filter()
}

func resourceTypes(value any) error {
	_, err := parseTypes(value.([]string))
	return err
}

// ValidateArchive checks the settings only the archive command needs
func (c *Config) ValidateArchive() error {
	if c.Archive.DryRun {
		return nil
	}
	return validation.Errors{
		"archive.endpoint":   validation.Validate(c.Archive.Endpoint, validation.Required),
		"archive.access_key": validation.Validate(c.Archive.AccessKey, validation.Required),
		"archive.secret_key": validation.Validate(c.Archive.SecretKey, validation.Required),
		"archive.bucket": validation.Validate(c.Archive.Bucket,
			validation.Required,
			validation.Length(3, 63),
			validation.Match(bucketName).Error("must be lower case letters, digits, dots or hyphens"),
		),
	}.Filter()
}

// ConversionTypes returns the configured conversion order
func (c *Config) ConversionTypes() ([]domain.ResourceType, error) {
	return parseTypes(c.Conversion.Types)
}

// UploadTypes returns the resource types the reconciler uploads
func (c *Config) UploadTypes() ([]domain.ResourceType, error) {
	return parseTypes(c.Upload.Types)
}

// Converter returns the command for a resource type
func (c *Config) Converter(t domain.ResourceType) (converter.CommandConfig, bool) {
	cc, ok := c.Converters[string(t)]
	return cc, ok
}

// RemoteToken returns the hosting API token, reading token_file when no
// token is set inline
func (c *Config) RemoteToken() (string, error) {
	if c.Remote.Token != "" {
		return c.Remote.Token, nil
	}
	if c.Remote.TokenFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.Remote.TokenFile)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read remote token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func parseTypes(names []string) ([]domain.ResourceType, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one resource type is required")
	}
	seen := make(map[domain.ResourceType]bool, len(names))
	types := make([]domain.ResourceType, 0, len(names))
	for _, n := range names {
		t, err := domain.ParseResourceType(n)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			return nil, fmt.Errorf("resource type %q listed twice", n)
		}
		seen[t] = true
		types = append(types, t)
	}
	return types, nil
}
