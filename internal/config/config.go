package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/gripnet/grip/internal/errs"
	"github.com/gripnet/grip/pkg/logger"
)

// Required keys. Each must be present and hold an integer.
const (
	KeyDNSThreads           = "dns.number-of-dns-threads"
	KeyCallbacksPerFrame    = "queue.callbacks-per-frame"
	KeyDelayBetweenAttempts = "queue.microseconds-delay-between-attempts"
)

// Config holds all configuration values for the module and its reference host
type Config struct {
	DNSThreads           int           // worker concurrency hint, > 0
	CallbacksPerFrame    int           // drain limit per host tick, >= 0
	DelayBetweenAttempts time.Duration // sleep after every drain attempt
	RequestTimeout       time.Duration // per-request bound, 0 disables

	Log   LogConfig
	Host  HostConfig
	Admin AdminConfig
}

// LogConfig defines logger settings
type LogConfig struct {
	Level            string
	Format           string // console or json
	Output           string // stdout, stderr or file path
	RotateMaxSizeMB  int
	RotateMaxBackups int
	RotateMaxAgeDays int
}

// HostConfig drives the reference host loop in cmd/gripd
type HostConfig struct {
	TickInterval    time.Duration
	ShutdownTimeout time.Duration
}

// AdminConfig controls the optional health/metrics server
type AdminConfig struct {
	Enabled bool
	Port    int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("queue.request-timeout-seconds", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.rotate-max-size-mb", 100)
	v.SetDefault("log.rotate-max-backups", 3)
	v.SetDefault("log.rotate-max-age-days", 7)
	v.SetDefault("host.tick-interval-ms", 16)
	v.SetDefault("host.shutdown-timeout-seconds", 5)
	v.SetDefault("admin.enabled", false)
	v.SetDefault("admin.port", 9150)
}

// Load reads the INI configuration file at path.
// Missing or non-integer required keys fail with an initialization error; the
// module must not start partially configured.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, errs.Initialization("load config", "can't parse/open grip config "+path, err)
	}

	cfg, err := fromViper(v)
	if err != nil {
		return nil, err
	}

	logger.Info("Configuration loaded successfully from %s", v.ConfigFileUsed())
	logger.Info("  %s: %d", KeyDNSThreads, cfg.DNSThreads)
	logger.Info("  %s: %d", KeyCallbacksPerFrame, cfg.CallbacksPerFrame)
	logger.Info("  %s: %d", KeyDelayBetweenAttempts, cfg.DelayBetweenAttempts.Microseconds())
	logger.Info("  queue.request-timeout-seconds: %v", cfg.RequestTimeout)
	logger.Info("  host.tick-interval-ms: %v", cfg.Host.TickInterval)
	logger.Info("  admin.enabled: %v (port %d)", cfg.Admin.Enabled, cfg.Admin.Port)

	return cfg, nil
}

// FromValues builds a Config from a flat key/value map using the same keys and
// validation as Load.
func FromValues(values map[string]any) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	for k, val := range values {
		v.Set(k, val)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	dnsThreads, err := requiredInt(v, KeyDNSThreads)
	if err != nil {
		return nil, err
	}
	if dnsThreads <= 0 {
		return nil, errs.Initialization("load config", fmt.Sprintf("%q must be > 0, got %d", KeyDNSThreads, dnsThreads), nil)
	}

	perFrame, err := requiredInt(v, KeyCallbacksPerFrame)
	if err != nil {
		return nil, err
	}
	if perFrame < 0 {
		return nil, errs.Initialization("load config", fmt.Sprintf("%q must be >= 0, got %d", KeyCallbacksPerFrame, perFrame), nil)
	}

	delay, err := requiredInt(v, KeyDelayBetweenAttempts)
	if err != nil {
		return nil, err
	}
	if delay < 0 {
		return nil, errs.Initialization("load config", fmt.Sprintf("%q must be >= 0, got %d", KeyDelayBetweenAttempts, delay), nil)
	}

	cfg := &Config{
		DNSThreads:           dnsThreads,
		CallbacksPerFrame:    perFrame,
		DelayBetweenAttempts: time.Duration(delay) * time.Microsecond,
		RequestTimeout:       time.Duration(v.GetInt("queue.request-timeout-seconds")) * time.Second,
		Log: LogConfig{
			Level:            v.GetString("log.level"),
			Format:           v.GetString("log.format"),
			Output:           v.GetString("log.output"),
			RotateMaxSizeMB:  v.GetInt("log.rotate-max-size-mb"),
			RotateMaxBackups: v.GetInt("log.rotate-max-backups"),
			RotateMaxAgeDays: v.GetInt("log.rotate-max-age-days"),
		},
		Host: HostConfig{
			TickInterval:    time.Duration(v.GetInt("host.tick-interval-ms")) * time.Millisecond,
			ShutdownTimeout: time.Duration(v.GetInt("host.shutdown-timeout-seconds")) * time.Second,
		},
		Admin: AdminConfig{
			Enabled: v.GetBool("admin.enabled"),
			Port:    v.GetInt("admin.port"),
		},
	}

	if cfg.Host.TickInterval <= 0 {
		logger.Warn("host.tick-interval-ms <= 0 (%v), defaulting to 16ms", cfg.Host.TickInterval)
		cfg.Host.TickInterval = 16 * time.Millisecond
	}

	return cfg, nil
}

func requiredInt(v *viper.Viper, key string) (int, error) {
	if !v.IsSet(key) {
		return 0, errs.Initialization("load config", fmt.Sprintf("missing %q key in the grip config", key), nil)
	}
	var (
		n   int
		err error
	)
	// INI values arrive as text and are read as plain decimal; cast would
	// guess the base from a 0 or 0x prefix.
	if s, ok := v.Get(key).(string); ok {
		var n64 int64
		n64, err = strconv.ParseInt(strings.TrimSpace(s), 10, 0)
		n = int(n64)
	} else {
		n, err = cast.ToIntE(v.Get(key))
	}
	if err != nil {
		return 0, errs.Initialization("load config", fmt.Sprintf("%q is not an integer: %v", key, v.Get(key)), err)
	}
	return n, nil
}
