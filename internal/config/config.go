package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultDirName  = ".telspool"
	DefaultLogLevel = "debug"

	DefaultMaxSizeBytes      int64 = 50 * 1024 * 1024
	DefaultLeasePeriod             = Duration(time.Minute)
	DefaultMaintenancePeriod       = Duration(time.Minute)
	DefaultRetentionPeriod         = Duration(48 * time.Hour)
	DefaultWriteTimeout            = Duration(time.Minute)

	configFileName           = ".telspool.toml"
	configDirEnvKey          = "TELSPOOL_CONFIG_DIR"
	trustProjectConfigEnvKey = "TELSPOOL_TRUST_PROJECT_CONFIG"
	dirEnvKey                = "TELSPOOL_DIR"
	maxSizeEnvKey            = "TELSPOOL_MAX_SIZE_BYTES"
	journalEnvKey            = "TELSPOOL_JOURNAL"
)

// Duration is a time.Duration written as a Go duration string ("90s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MaintenanceConfig controls the background sweep.
type MaintenanceConfig struct {
	Period       Duration `toml:"period"`
	Retention    Duration `toml:"retention"`
	WriteTimeout Duration `toml:"write_timeout"`
}

// Config defines runtime configuration for telspool.
type Config struct {
	Dir                      string            `toml:"dir"`
	LogLevel                 string            `toml:"log_level"`
	MaxSizeBytes             int64             `toml:"max_size_bytes"`
	LeasePeriod              Duration          `toml:"lease_period"`
	JournalPath              string            `toml:"journal_path"`
	MetricsAddr              string            `toml:"metrics_addr"`
	Maintenance              MaintenanceConfig `toml:"maintenance"`
	TrustedProjectConfigPath string            `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		LogLevel:     DefaultLogLevel,
		MaxSizeBytes: DefaultMaxSizeBytes,
		LeasePeriod:  DefaultLeasePeriod,
		Maintenance: MaintenanceConfig{
			Period:       DefaultMaintenancePeriod,
			Retention:    DefaultRetentionPeriod,
			WriteTimeout: DefaultWriteTimeout,
		},
	}
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"dir",
	"log_level",
	"max_size_bytes",
	"lease_period",
	"journal_path",
	"metrics_addr",
	"maintenance.period",
	"maintenance.retention",
	"maintenance.write_timeout",
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "dir":
		return c.Dir, nil
	case "log_level":
		return c.LogLevel, nil
	case "max_size_bytes":
		return strconv.FormatInt(c.MaxSizeBytes, 10), nil
	case "lease_period":
		return c.LeasePeriod.String(), nil
	case "journal_path":
		return c.JournalPath, nil
	case "metrics_addr":
		return c.MetricsAddr, nil
	case "maintenance.period":
		return c.Maintenance.Period.String(), nil
	case "maintenance.retention":
		return c.Maintenance.Retention.String(), nil
	case "maintenance.write_timeout":
		return c.Maintenance.WriteTimeout.String(), nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads config from trusted files and applies env overrides.
func Load() (*Config, error) {
	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if dir := strings.TrimSpace(os.Getenv(dirEnvKey)); dir != "" {
		cfg.Dir = dir
	}
	if raw := strings.TrimSpace(os.Getenv(maxSizeEnvKey)); raw != "" {
		if parsed, err := strconv.ParseInt(raw, 10, 64); err == nil && parsed > 0 {
			cfg.MaxSizeBytes = parsed
		}
	}
	if journal := strings.TrimSpace(os.Getenv(journalEnvKey)); journal != "" {
		cfg.JournalPath = journal
	}

	if cfg.Dir == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.Dir = filepath.Join(cwd, DefaultDirName)
		}
	}

	cfg.normalizeDefaults()

	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "max_size_bytes":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "lease_period", "maintenance.period", "maintenance.retention", "maintenance.write_timeout":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 30s or 48h", key)
		}
		return parsed.String(), nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalizeDefaults() {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.MaxSizeBytes <= 0 {
		c.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if c.LeasePeriod <= 0 {
		c.LeasePeriod = DefaultLeasePeriod
	}
	if c.Maintenance.Period <= 0 {
		c.Maintenance.Period = DefaultMaintenancePeriod
	}
	if c.Maintenance.Retention <= 0 {
		c.Maintenance.Retention = DefaultRetentionPeriod
	}
	if c.Maintenance.WriteTimeout <= 0 {
		c.Maintenance.WriteTimeout = DefaultWriteTimeout
	}
}
