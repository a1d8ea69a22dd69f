package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cocosip/locus/pkg/volume"
)

// Duration wraps time.Duration so YAML configs can use human-readable
// values like "30m" or "168h".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String returns the duration in time.Duration notation.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalYAML parses a duration from a YAML scalar.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %v", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML renders the duration in time.Duration notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// VolumeConfig describes one mounted storage volume.
type VolumeConfig struct {
	VolumeID      string `yaml:"volumeId"`
	MountPath     string `yaml:"mountPath"`
	ShardingDepth int    `yaml:"shardingDepth"`
}

// UnmarshalYAML decodes a volume entry. A volume that omits
// shardingDepth gets volume.DefaultShardingDepth; an explicit 0 keeps
// the flat layout.
func (v *VolumeConfig) UnmarshalYAML(value *yaml.Node) error {
	type plain VolumeConfig
	out := plain{ShardingDepth: volume.DefaultShardingDepth}
	if err := value.Decode(&out); err != nil {
		return err
	}
	*v = VolumeConfig(out)
	return nil
}

// RetryConfig controls the retry schedule for failed files.
type RetryConfig struct {
	MaxRetryCount      int      `yaml:"maxRetryCount"`
	InitialDelay       Duration `yaml:"initialDelay"`
	MaxDelay           Duration `yaml:"maxDelay"`
	ExponentialBackoff bool     `yaml:"exponentialBackoff"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config holds the complete pool configuration.
type Config struct {
	MetadataDirectory string `yaml:"metadataDirectory"`
	QuotaDirectory    string `yaml:"quotaDirectory"`
	TenantDirectory   string `yaml:"tenantDirectory"`

	Volumes []VolumeConfig `yaml:"volumes"`

	Retry RetryConfig `yaml:"retry"`

	ProcessingTimeout   Duration `yaml:"processingTimeout"`
	FailedRetention     Duration `yaml:"failedRetention"`
	MaintenanceInterval Duration `yaml:"maintenanceInterval"`

	EnableBackgroundMaintenance bool `yaml:"enableBackgroundMaintenance"`
	EnableOrphanSweep           bool `yaml:"enableOrphanSweep"`

	AutoCreateTenants     bool  `yaml:"autoCreateTenants"`
	DefaultTenantQuota    int64 `yaml:"defaultTenantQuota"`
	DefaultDirectoryQuota int64 `yaml:"defaultDirectoryQuota"`

	StartupHealthCheck bool     `yaml:"startupHealthCheck"`
	TenantCacheTTL     Duration `yaml:"tenantCacheTTL"`

	PreCreateTenants []string `yaml:"preCreateTenants"`

	// ListenAddress enables the metrics/health HTTP listener when set.
	ListenAddress string `yaml:"listenAddress"`

	Log LogConfig `yaml:"log"`
}

// Default returns the configuration used when no file overrides it.
func Default() Config {
	return Config{
		MetadataDirectory: "/var/lib/locus/meta",
		QuotaDirectory:    "/var/lib/locus/quota",
		TenantDirectory:   "/var/lib/locus/tenants",
		Retry: RetryConfig{
			MaxRetryCount:      3,
			InitialDelay:       Duration(5 * time.Second),
			MaxDelay:           Duration(5 * time.Minute),
			ExponentialBackoff: true,
		},
		ProcessingTimeout:           Duration(30 * time.Minute),
		FailedRetention:             Duration(7 * 24 * time.Hour),
		MaintenanceInterval:         Duration(time.Hour),
		EnableBackgroundMaintenance: true,
		EnableOrphanSweep:           false,
		AutoCreateTenants:           true,
		DefaultTenantQuota:          0,
		DefaultDirectoryQuota:       0,
		StartupHealthCheck:          true,
		TenantCacheTTL:              Duration(5 * time.Minute),
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads a YAML config file. Keys absent from the file keep their
// default values, so a minimal file only needs to list volumes.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %v", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config file: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pool cannot run with.
func (c *Config) Validate() error {
	if c.MetadataDirectory == "" {
		return fmt.Errorf("metadataDirectory is required")
	}
	if c.QuotaDirectory == "" {
		return fmt.Errorf("quotaDirectory is required")
	}
	if c.TenantDirectory == "" {
		return fmt.Errorf("tenantDirectory is required")
	}

	if len(c.Volumes) == 0 {
		return fmt.Errorf("at least one volume is required")
	}
	seen := make(map[string]bool, len(c.Volumes))
	for i, v := range c.Volumes {
		if v.VolumeID == "" {
			return fmt.Errorf("volume %d: volumeId is required", i)
		}
		if seen[v.VolumeID] {
			return fmt.Errorf("volume %d: duplicate volumeId %q", i, v.VolumeID)
		}
		seen[v.VolumeID] = true
		if v.MountPath == "" {
			return fmt.Errorf("volume %q: mountPath is required", v.VolumeID)
		}
		if v.ShardingDepth < 0 || v.ShardingDepth > 3 {
			return fmt.Errorf("volume %q: shardingDepth must be in [0,3], got %d", v.VolumeID, v.ShardingDepth)
		}
	}

	if c.Retry.MaxRetryCount < 0 {
		return fmt.Errorf("retry.maxRetryCount must be >= 0, got %d", c.Retry.MaxRetryCount)
	}
	if c.Retry.InitialDelay < 0 {
		return fmt.Errorf("retry.initialDelay must be >= 0, got %s", c.Retry.InitialDelay)
	}
	if c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry.maxDelay must be >= 0, got %s", c.Retry.MaxDelay)
	}

	if c.ProcessingTimeout < 0 {
		return fmt.Errorf("processingTimeout must be >= 0, got %s", c.ProcessingTimeout)
	}
	if c.FailedRetention < 0 {
		return fmt.Errorf("failedRetention must be >= 0, got %s", c.FailedRetention)
	}
	if c.EnableBackgroundMaintenance && c.MaintenanceInterval <= 0 {
		return fmt.Errorf("maintenanceInterval must be > 0 when background maintenance is enabled, got %s", c.MaintenanceInterval)
	}

	if c.DefaultTenantQuota < 0 {
		return fmt.Errorf("defaultTenantQuota must be >= 0, got %d", c.DefaultTenantQuota)
	}
	if c.DefaultDirectoryQuota < 0 {
		return fmt.Errorf("defaultDirectoryQuota must be >= 0, got %d", c.DefaultDirectoryQuota)
	}
	if c.TenantCacheTTL < 0 {
		return fmt.Errorf("tenantCacheTTL must be >= 0, got %s", c.TenantCacheTTL)
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}

	return nil
}
