// Package config loads CrossBar's runtime tunables from environment
// variables, following the host application's "collect every problem, then
// return one combined error" convention.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultBufferCapacity is used for subscriptions that don't specify a
	// capacity. Zero means unbounded.
	DefaultBufferCapacity = 0
	// DefaultMaxChannels bounds the number of non-system channels the hub
	// will create. Zero means unlimited.
	DefaultMaxChannels = 0
	// DefaultMaxChannelNameLength bounds channel name length.
	DefaultMaxChannelNameLength = 256
	// DefaultSystemChannelPrefix marks channels reserved for hub-internal
	// use.
	DefaultSystemChannelPrefix = "$"
	// DefaultSystemChannelBufferCapacity is the default for
	// CrossBarOptions.SystemChannelBufferCapacity.
	DefaultSystemChannelBufferCapacity = 1000
	// DefaultConflationInterval is used for subscriptions that don't specify
	// one. Zero disables conflation by default.
	DefaultConflationInterval = 0

	// DefaultLogLevel controls verbosity for the host's logs.
	DefaultLogLevel = "info"
	// DefaultLogPath is where structured logs are written.
	DefaultLogPath = "crossbar.log"
	// DefaultLogMaxSizeMB caps the size of a single log file before rotation.
	DefaultLogMaxSizeMB = 100
	// DefaultLogMaxBackups limits retained rotated log files.
	DefaultLogMaxBackups = 10
	// DefaultLogMaxAgeDays controls how long rotated log files are kept on disk.
	DefaultLogMaxAgeDays = 7
	// DefaultLogCompress toggles gzip compression for rotated log files.
	DefaultLogCompress = true

	// DefaultRecordingDir is where the demo host writes recording bundles.
	DefaultRecordingDir = "recordings"
	// DefaultRecordingMaxAgeDays bounds how long recording bundles are kept
	// before the cleaner removes them. Zero disables age-based cleanup.
	DefaultRecordingMaxAgeDays = 0
	// DefaultRecordingMaxCount bounds how many recording bundles are kept.
	// Zero disables count-based cleanup.
	DefaultRecordingMaxCount = 0
)

// Config captures all runtime tunables for the demo host binary embedding
// CrossBar.
type Config struct {
	DefaultBufferCapacity       int
	MaxChannels                 int
	MaxChannelNameLength        int
	SystemChannelPrefix         string
	SystemChannelBufferCapacity int
	DefaultConflationInterval   time.Duration
	EnableMessageTracing        bool
	EnableLifecycleTracking     bool
	EnablePublishLogging        bool

	RecordingDir         string
	RecordingMaxAgeDays  int
	RecordingMaxCount    int

	Logging LoggingConfig
}

// LoggingConfig captures structured logging configuration options.
type LoggingConfig struct {
	Level      string
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Load reads the host configuration from environment variables, applying
// sane defaults and returning a single combined error describing every
// invalid override found.
func Load() (*Config, error) {
	cfg := &Config{
		DefaultBufferCapacity:       DefaultBufferCapacity,
		MaxChannels:                 DefaultMaxChannels,
		MaxChannelNameLength:        DefaultMaxChannelNameLength,
		SystemChannelPrefix:         getString("CROSSBAR_SYSTEM_PREFIX", DefaultSystemChannelPrefix),
		SystemChannelBufferCapacity: DefaultSystemChannelBufferCapacity,
		DefaultConflationInterval:   DefaultConflationInterval,
		EnableMessageTracing:        false,
		EnableLifecycleTracking:     false,
		EnablePublishLogging:        false,
		RecordingDir:                getString("CROSSBAR_RECORDING_DIR", DefaultRecordingDir),
		RecordingMaxAgeDays:         DefaultRecordingMaxAgeDays,
		RecordingMaxCount:           DefaultRecordingMaxCount,
		Logging: LoggingConfig{
			Level:      strings.TrimSpace(getString("CROSSBAR_LOG_LEVEL", DefaultLogLevel)),
			Path:       strings.TrimSpace(getString("CROSSBAR_LOG_PATH", DefaultLogPath)),
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
			Compress:   DefaultLogCompress,
		},
	}

	var problems []string

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_DEFAULT_BUFFER_CAPACITY")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_DEFAULT_BUFFER_CAPACITY must be a non-negative integer, got %q", raw))
		} else {
			cfg.DefaultBufferCapacity = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_MAX_CHANNELS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_MAX_CHANNELS must be a non-negative integer, got %q", raw))
		} else {
			cfg.MaxChannels = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_MAX_CHANNEL_NAME_LENGTH")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_MAX_CHANNEL_NAME_LENGTH must be a positive integer, got %q", raw))
		} else {
			cfg.MaxChannelNameLength = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_SYSTEM_BUFFER_CAPACITY")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_SYSTEM_BUFFER_CAPACITY must be a positive integer, got %q", raw))
		} else {
			cfg.SystemChannelBufferCapacity = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_DEFAULT_CONFLATION_INTERVAL")); raw != "" {
		duration, err := time.ParseDuration(raw)
		if err != nil || duration < 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_DEFAULT_CONFLATION_INTERVAL must be a non-negative duration, got %q", raw))
		} else {
			cfg.DefaultConflationInterval = duration
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_ENABLE_MESSAGE_TRACING")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CROSSBAR_ENABLE_MESSAGE_TRACING must be a boolean value, got %q", raw))
		} else {
			cfg.EnableMessageTracing = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_ENABLE_LIFECYCLE_TRACKING")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CROSSBAR_ENABLE_LIFECYCLE_TRACKING must be a boolean value, got %q", raw))
		} else {
			cfg.EnableLifecycleTracking = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_ENABLE_PUBLISH_LOGGING")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CROSSBAR_ENABLE_PUBLISH_LOGGING must be a boolean value, got %q", raw))
		} else {
			cfg.EnablePublishLogging = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_RECORDING_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_RECORDING_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.RecordingMaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_RECORDING_MAX_COUNT")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_RECORDING_MAX_COUNT must be a non-negative integer, got %q", raw))
		} else {
			cfg.RecordingMaxCount = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_LOG_MAX_SIZE_MB")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_LOG_MAX_SIZE_MB must be a positive integer, got %q", raw))
		} else {
			cfg.Logging.MaxSizeMB = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_LOG_MAX_BACKUPS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_LOG_MAX_BACKUPS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxBackups = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_LOG_MAX_AGE_DAYS")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value < 0 {
			problems = append(problems, fmt.Sprintf("CROSSBAR_LOG_MAX_AGE_DAYS must be a non-negative integer, got %q", raw))
		} else {
			cfg.Logging.MaxAgeDays = value
		}
	}

	if raw := strings.TrimSpace(os.Getenv("CROSSBAR_LOG_COMPRESS")); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("CROSSBAR_LOG_COMPRESS must be a boolean value, got %q", raw))
		} else {
			cfg.Logging.Compress = value
		}
	}

	if strings.TrimSpace(cfg.SystemChannelPrefix) == "" {
		problems = append(problems, "CROSSBAR_SYSTEM_PREFIX must be non-empty")
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf(strings.Join(problems, "; "))
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
