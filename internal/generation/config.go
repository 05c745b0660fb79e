package generation

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvAPIKey          = "GEMINI_API_KEY"
	EnvModel           = "GEMINI_MODEL"
	EnvTemperature     = "GEMINI_TEMPERATURE"
	EnvMaxOutputTokens = "GEMINI_MAX_OUTPUT_TOKENS"
)

const (
	DefaultModel            = "gemini-2.5-flash"
	DefaultPreferredPattern = "flash"
	DefaultTemperature      = float32(0.7)
	DefaultMaxOutputTokens  = 8192
)

// Config is the environment-level configuration of a generation client.
type Config struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// ConfigFromEnv reads Config from the process environment.
func ConfigFromEnv() (Config, error) {
	return ConfigFromLookup(os.LookupEnv)
}

// ConfigFromLookup reads Config through lookup, which has the os.LookupEnv
// signature. Malformed numeric values are errors, not silently defaulted.
func ConfigFromLookup(lookup func(string) (string, bool)) (Config, error) {
	get := func(k string) string {
		v, _ := lookup(k)
		return strings.TrimSpace(v)
	}
	cfg := Config{
		APIKey:          get(EnvAPIKey),
		Model:           get(EnvModel),
		Temperature:     DefaultTemperature,
		MaxOutputTokens: DefaultMaxOutputTokens,
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if v := get(EnvTemperature); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 || f > 2 {
			return Config{}, fmt.Errorf("%s: %q is not a temperature in [0,2]", EnvTemperature, v)
		}
		cfg.Temperature = float32(f)
	}
	if v := get(EnvMaxOutputTokens); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("%s: %q is not a positive integer", EnvMaxOutputTokens, v)
		}
		cfg.MaxOutputTokens = int32(n)
	}
	return cfg, cfg.Validate()
}

// Validate checks the fields every client needs.
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: set %s", ErrMissingCredential, EnvAPIKey)
	}
	return nil
}
