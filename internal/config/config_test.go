package config

import (
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"CROSSBAR_SYSTEM_PREFIX",
		"CROSSBAR_RECORDING_DIR",
		"CROSSBAR_DEFAULT_BUFFER_CAPACITY",
		"CROSSBAR_MAX_CHANNELS",
		"CROSSBAR_MAX_CHANNEL_NAME_LENGTH",
		"CROSSBAR_SYSTEM_BUFFER_CAPACITY",
		"CROSSBAR_DEFAULT_CONFLATION_INTERVAL",
		"CROSSBAR_ENABLE_MESSAGE_TRACING",
		"CROSSBAR_ENABLE_LIFECYCLE_TRACKING",
		"CROSSBAR_ENABLE_PUBLISH_LOGGING",
		"CROSSBAR_RECORDING_MAX_AGE_DAYS",
		"CROSSBAR_RECORDING_MAX_COUNT",
		"CROSSBAR_LOG_LEVEL",
		"CROSSBAR_LOG_PATH",
		"CROSSBAR_LOG_MAX_SIZE_MB",
		"CROSSBAR_LOG_MAX_BACKUPS",
		"CROSSBAR_LOG_MAX_AGE_DAYS",
		"CROSSBAR_LOG_COMPRESS",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.SystemChannelPrefix != DefaultSystemChannelPrefix {
		t.Fatalf("expected default system prefix %q, got %q", DefaultSystemChannelPrefix, cfg.SystemChannelPrefix)
	}
	if cfg.MaxChannels != DefaultMaxChannels {
		t.Fatalf("expected default max channels %d, got %d", DefaultMaxChannels, cfg.MaxChannels)
	}
	if cfg.MaxChannelNameLength != DefaultMaxChannelNameLength {
		t.Fatalf("expected default max channel name length %d, got %d", DefaultMaxChannelNameLength, cfg.MaxChannelNameLength)
	}
	if cfg.SystemChannelBufferCapacity != DefaultSystemChannelBufferCapacity {
		t.Fatalf("expected default system buffer capacity %d, got %d", DefaultSystemChannelBufferCapacity, cfg.SystemChannelBufferCapacity)
	}
	if cfg.DefaultConflationInterval != DefaultConflationInterval {
		t.Fatalf("expected default conflation interval %v, got %v", DefaultConflationInterval, cfg.DefaultConflationInterval)
	}
	if cfg.EnableMessageTracing || cfg.EnableLifecycleTracking || cfg.EnablePublishLogging {
		t.Fatalf("expected all feature flags off by default")
	}
	if cfg.RecordingDir != DefaultRecordingDir {
		t.Fatalf("expected default recording dir %q, got %q", DefaultRecordingDir, cfg.RecordingDir)
	}
	if cfg.Logging.Level != DefaultLogLevel {
		t.Fatalf("expected default log level %q, got %q", DefaultLogLevel, cfg.Logging.Level)
	}
	if cfg.Logging.Path != DefaultLogPath {
		t.Fatalf("expected default log path %q, got %q", DefaultLogPath, cfg.Logging.Path)
	}
	if cfg.Logging.MaxSizeMB != DefaultLogMaxSizeMB {
		t.Fatalf("expected default log max size %d, got %d", DefaultLogMaxSizeMB, cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.Compress != DefaultLogCompress {
		t.Fatalf("expected default log compress %t, got %t", DefaultLogCompress, cfg.Logging.Compress)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CROSSBAR_SYSTEM_PREFIX", "__")
	t.Setenv("CROSSBAR_RECORDING_DIR", "/var/run/crossbar/recordings")
	t.Setenv("CROSSBAR_DEFAULT_BUFFER_CAPACITY", "256")
	t.Setenv("CROSSBAR_MAX_CHANNELS", "10")
	t.Setenv("CROSSBAR_MAX_CHANNEL_NAME_LENGTH", "64")
	t.Setenv("CROSSBAR_SYSTEM_BUFFER_CAPACITY", "500")
	t.Setenv("CROSSBAR_DEFAULT_CONFLATION_INTERVAL", "250ms")
	t.Setenv("CROSSBAR_ENABLE_MESSAGE_TRACING", "true")
	t.Setenv("CROSSBAR_ENABLE_LIFECYCLE_TRACKING", "true")
	t.Setenv("CROSSBAR_ENABLE_PUBLISH_LOGGING", "true")
	t.Setenv("CROSSBAR_RECORDING_MAX_AGE_DAYS", "14")
	t.Setenv("CROSSBAR_RECORDING_MAX_COUNT", "50")
	t.Setenv("CROSSBAR_LOG_LEVEL", "debug")
	t.Setenv("CROSSBAR_LOG_PATH", "/var/log/crossbar.log")
	t.Setenv("CROSSBAR_LOG_MAX_SIZE_MB", "512")
	t.Setenv("CROSSBAR_LOG_MAX_BACKUPS", "4")
	t.Setenv("CROSSBAR_LOG_MAX_AGE_DAYS", "2")
	t.Setenv("CROSSBAR_LOG_COMPRESS", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.SystemChannelPrefix != "__" {
		t.Fatalf("unexpected system prefix %q", cfg.SystemChannelPrefix)
	}
	if cfg.RecordingDir != "/var/run/crossbar/recordings" {
		t.Fatalf("unexpected recording dir %q", cfg.RecordingDir)
	}
	if cfg.DefaultBufferCapacity != 256 {
		t.Fatalf("expected overridden buffer capacity, got %d", cfg.DefaultBufferCapacity)
	}
	if cfg.MaxChannels != 10 {
		t.Fatalf("expected overridden max channels, got %d", cfg.MaxChannels)
	}
	if cfg.MaxChannelNameLength != 64 {
		t.Fatalf("expected overridden max channel name length, got %d", cfg.MaxChannelNameLength)
	}
	if cfg.SystemChannelBufferCapacity != 500 {
		t.Fatalf("expected overridden system buffer capacity, got %d", cfg.SystemChannelBufferCapacity)
	}
	if cfg.DefaultConflationInterval != 250*time.Millisecond {
		t.Fatalf("expected overridden conflation interval, got %v", cfg.DefaultConflationInterval)
	}
	if !cfg.EnableMessageTracing || !cfg.EnableLifecycleTracking || !cfg.EnablePublishLogging {
		t.Fatalf("expected all feature flags on")
	}
	if cfg.RecordingMaxAgeDays != 14 || cfg.RecordingMaxCount != 50 {
		t.Fatalf("unexpected recording retention cfg=%+v", cfg)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("expected overridden log level debug, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.MaxSizeMB != 512 {
		t.Fatalf("expected log max size 512, got %d", cfg.Logging.MaxSizeMB)
	}
	if cfg.Logging.Compress {
		t.Fatalf("expected log compression disabled")
	}
}

func TestLoadReturnsValidationErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CROSSBAR_DEFAULT_BUFFER_CAPACITY", "-1")
	t.Setenv("CROSSBAR_MAX_CHANNELS", "-1")
	t.Setenv("CROSSBAR_MAX_CHANNEL_NAME_LENGTH", "0")
	t.Setenv("CROSSBAR_SYSTEM_BUFFER_CAPACITY", "0")
	t.Setenv("CROSSBAR_DEFAULT_CONFLATION_INTERVAL", "notaduration")
	t.Setenv("CROSSBAR_ENABLE_MESSAGE_TRACING", "notabool")
	t.Setenv("CROSSBAR_LOG_MAX_SIZE_MB", "-1")
	t.Setenv("CROSSBAR_LOG_COMPRESS", "notabool")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error from invalid configuration, got nil")
	}

	for _, want := range []string{
		"CROSSBAR_DEFAULT_BUFFER_CAPACITY",
		"CROSSBAR_MAX_CHANNELS",
		"CROSSBAR_MAX_CHANNEL_NAME_LENGTH",
		"CROSSBAR_SYSTEM_BUFFER_CAPACITY",
		"CROSSBAR_DEFAULT_CONFLATION_INTERVAL",
		"CROSSBAR_ENABLE_MESSAGE_TRACING",
		"CROSSBAR_LOG_MAX_SIZE_MB",
		"CROSSBAR_LOG_COMPRESS",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("expected error to mention %s, got %q", want, err.Error())
		}
	}
}

func TestLoadAllowsUnlimitedChannels(t *testing.T) {
	clearEnv(t)
	t.Setenv("CROSSBAR_MAX_CHANNELS", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}
	if cfg.MaxChannels != 0 {
		t.Fatalf("expected zero to disable limit, got %d", cfg.MaxChannels)
	}
}
