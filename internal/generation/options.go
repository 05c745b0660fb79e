package generation

import (
	"time"

	"github.com/mark3labs/specforge/internal/logging"
)

// Settings controls retry and model-selection behavior of a Client.
type Settings struct {
	MaxAttempts      uint
	BaseDelay        time.Duration
	DefaultModel     string
	PreferredPattern string
	Logger           logging.Logger
}

// Option customizes Settings.
type Option func(*Settings)

func defaultSettings() Settings {
	return Settings{
		MaxAttempts:      3,
		BaseDelay:        2 * time.Second,
		DefaultModel:     DefaultModel,
		PreferredPattern: DefaultPreferredPattern,
		Logger:           logging.NopLogger{},
	}
}

// WithMaxAttempts sets the total number of attempts per call, the first included.
func WithMaxAttempts(n uint) Option {
	return func(s *Settings) {
		if n > 0 {
			s.MaxAttempts = n
		}
	}
}

// WithBaseDelay sets the unit of the linear backoff: attempt n waits n*d.
func WithBaseDelay(d time.Duration) Option {
	return func(s *Settings) {
		if d >= 0 {
			s.BaseDelay = d
		}
	}
}

// WithDefaultModel sets the first candidate tried during auto-selection.
func WithDefaultModel(name string) Option {
	return func(s *Settings) {
		if name != "" {
			s.DefaultModel = name
		}
	}
}

// WithPreferredPattern sets the substring used as second auto-selection choice.
func WithPreferredPattern(p string) Option {
	return func(s *Settings) { s.PreferredPattern = p }
}

func WithLogger(l logging.Logger) Option {
	return func(s *Settings) { s.Logger = logging.OrNop(l) }
}
