package mirror

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultUserAgent = "topomirror/1.0 (+https://github.com/mirrorctl/topomirror)"
	defaultTimeout   = 10 * time.Minute
)

// Run-level failure policies.
const (
	OnFailureContinue = "continue"
	OnFailureAbort    = "abort"
)

type tomlDuration struct {
	time.Duration
}

func (d *tomlDuration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	if parsed < 0 {
		return errors.New("negative duration: " + string(text))
	}
	d.Duration = parsed
	return nil
}

// SignatureConfig enables detached PGP signature verification of the
// manifest before it is read.
type SignatureConfig struct {
	Path       string `toml:"path"`
	PGPKeyPath string `toml:"pgp_key_path"`
}

// Check validates the signature configuration.
func (sc *SignatureConfig) Check() error {
	if sc.Path == "" {
		return errors.New("signature.path is not set")
	}
	if sc.PGPKeyPath == "" {
		return errors.New("signature.pgp_key_path is not set")
	}
	for _, p := range []string{sc.Path, sc.PGPKeyPath} {
		if !filepath.IsAbs(p) {
			return errors.New("signature paths must be absolute: " + p)
		}
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return errors.New("signature file does not exist: " + p)
		} else if err != nil {
			return errors.New("cannot access signature file: " + err.Error())
		}
	}
	return nil
}

// LogConfig represents slog configuration options
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Apply configures the global slog logger based on the configuration
func (logConfig *LogConfig) Apply() error {
	var level slog.Level
	switch strings.ToLower(logConfig.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return errors.New("invalid log level: " + logConfig.Level)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(logConfig.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "plain", "", "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return errors.New("invalid log format: " + logConfig.Format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

// Config is a struct to read TOML configurations.
//
// Use https://github.com/BurntSushi/toml as follows:
//
//	config := mirror.NewConfig()
//	md, err := toml.DecodeFile("/path/to/topomirror.toml", config)
//	if err != nil {
//	    ...
//	}
type Config struct {
	Manifest  string           `toml:"manifest"`
	Dir       string           `toml:"dir"`
	UserAgent string           `toml:"user_agent"`
	Timeout   tomlDuration     `toml:"timeout"`
	OnFailure string           `toml:"on_failure"`
	Progress  bool             `toml:"progress"`
	Log       LogConfig        `toml:"log"`
	Signature *SignatureConfig `toml:"signature,omitempty"`
}

// Check validates the configuration.
func (c *Config) Check() error {
	if c.Dir == "" {
		return errors.New("dir is not set")
	}
	if !filepath.IsAbs(c.Dir) {
		return errors.New("dir must be an absolute path")
	}
	if c.Manifest == "" {
		return errors.New("manifest is not set")
	}
	switch c.OnFailure {
	case OnFailureContinue, OnFailureAbort:
	default:
		return errors.New("invalid on_failure policy: " + c.OnFailure)
	}
	if c.Timeout.Duration < 0 {
		return errors.New("timeout must not be negative")
	}
	if c.Signature != nil {
		if err := c.Signature.Check(); err != nil {
			return err
		}
	}
	return nil
}

// SetTimeout overrides the per-download timeout.
func (c *Config) SetTimeout(d time.Duration) {
	c.Timeout.Duration = d
}

// HTTPConfig returns the downloader configuration.
func (c *Config) HTTPConfig() HTTPConfig {
	return HTTPConfig{
		UserAgent: c.UserAgent,
		Timeout:   c.Timeout.Duration,
		Progress:  c.Progress,
	}
}

// NewConfig creates Config with default values.
func NewConfig() *Config {
	return &Config{
		UserAgent: defaultUserAgent,
		Timeout:   tomlDuration{defaultTimeout},
		OnFailure: OnFailureContinue,
	}
}
