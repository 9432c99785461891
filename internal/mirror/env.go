package mirror

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
)

const envPrefix = "TOPOMIRROR_"

// ApplyEnvironmentVariables overrides configuration values with
// TOPOMIRROR_* environment variables that are set and non-empty.
func (c *Config) ApplyEnvironmentVariables() error {
	stringVars := map[string]*string{
		"MANIFEST":   &c.Manifest,
		"DIR":        &c.Dir,
		"USER_AGENT": &c.UserAgent,
		"ON_FAILURE": &c.OnFailure,
		"LOG_LEVEL":  &c.Log.Level,
		"LOG_FORMAT": &c.Log.Format,
	}
	for name, field := range stringVars {
		if v := os.Getenv(envPrefix + name); v != "" {
			*field = v
		}
	}

	if v := os.Getenv(envPrefix + "TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrap(err, envPrefix+"TIMEOUT")
		}
		c.SetTimeout(d)
	}

	if v := os.Getenv(envPrefix + "PROGRESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrap(err, envPrefix+"PROGRESS")
		}
		c.Progress = b
	}

	sigPath := os.Getenv(envPrefix + "SIGNATURE_PATH")
	keyPath := os.Getenv(envPrefix + "SIGNATURE_PGP_KEY_PATH")
	if sigPath != "" || keyPath != "" {
		if c.Signature == nil {
			c.Signature = &SignatureConfig{}
		}
		if sigPath != "" {
			c.Signature.Path = sigPath
		}
		if keyPath != "" {
			c.Signature.PGPKeyPath = keyPath
		}
	}
	return nil
}
