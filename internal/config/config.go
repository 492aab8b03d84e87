// Package config loads and validates the daemon configuration from
// config.toml, with environment variable overrides applied on top.
package config

import (
	"fmt"
	"os"
	"runtime"

	"github.com/BurntSushi/toml"
)

const (
	DefaultTargetCPUUtilization = 0.85
	DefaultStabilityWaitSecs    = 10
	DefaultScanIntervalSecs     = 60
	DefaultMinBytes             = 1 << 20 // 1 MiB
	DefaultMaxSizeRatio         = 0.95
	DefaultListenAddr           = "127.0.0.1:7878"
)

type CPUConfig struct {
	// LogicalCores is auto-detected when zero.
	LogicalCores         int     `toml:"logical_cores"`
	TargetCPUUtilization float64 `toml:"target_cpu_utilization"`
}

type Av1anConfig struct {
	// Zero means derive from core count.
	WorkersPerJob     int `toml:"workers_per_job"`
	MaxConcurrentJobs int `toml:"max_concurrent_jobs"`
}

type EncoderSafetyConfig struct {
	DisallowHardwareEncoding bool `toml:"disallow_hardware_encoding"`
}

type ScanConfig struct {
	LibraryRoots      []string `toml:"library_roots"`
	StabilityWaitSecs int      `toml:"stability_wait_secs"`
	ScanIntervalSecs  int      `toml:"scan_interval_secs"`
	WriteWhySidecars  bool     `toml:"write_why_sidecars"`
}

type GatesConfig struct {
	MinBytes     int64   `toml:"min_bytes"`
	MaxSizeRatio float64 `toml:"max_size_ratio"`
	KeepOriginal bool    `toml:"keep_original"`
}

type PathsConfig struct {
	JobStateDir   string `toml:"job_state_dir"`
	TempOutputDir string `toml:"temp_output_dir"`
}

type ServerConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

type Config struct {
	CPU           CPUConfig           `toml:"cpu"`
	Av1an         Av1anConfig         `toml:"av1an"`
	EncoderSafety EncoderSafetyConfig `toml:"encoder_safety"`
	Scan          ScanConfig          `toml:"scan"`
	Gates         GatesConfig         `toml:"gates"`
	Paths         PathsConfig         `toml:"paths"`
	Server        ServerConfig        `toml:"server"`
}

// Default returns a configuration with every optional field at its
// documented default. Library roots and state paths have no sane default
// and must come from the file.
func Default() Config {
	return Config{
		CPU: CPUConfig{
			TargetCPUUtilization: DefaultTargetCPUUtilization,
		},
		EncoderSafety: EncoderSafetyConfig{
			DisallowHardwareEncoding: true,
		},
		Scan: ScanConfig{
			StabilityWaitSecs: DefaultStabilityWaitSecs,
			ScanIntervalSecs:  DefaultScanIntervalSecs,
		},
		Gates: GatesConfig{
			MinBytes:     DefaultMinBytes,
			MaxSizeRatio: DefaultMaxSizeRatio,
		},
		Server: ServerConfig{
			ListenAddr: DefaultListenAddr,
		},
	}
}

// Parse decodes TOML on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Load reads path, decodes it, and applies environment overrides.
// Validation is a separate step so tests can exercise invalid configs.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// EffectiveCores returns the configured core count, falling back to the
// machine's logical CPU count.
func (c Config) EffectiveCores() int {
	if c.CPU.LogicalCores > 0 {
		return c.CPU.LogicalCores
	}
	return runtime.NumCPU()
}

// Validate checks the invariants that make the daemon refuse to start.
func (c Config) Validate() error {
	if len(c.Scan.LibraryRoots) == 0 {
		return fmt.Errorf("config: scan.library_roots must list at least one directory")
	}
	for _, root := range c.Scan.LibraryRoots {
		if root == "" {
			return fmt.Errorf("config: scan.library_roots contains an empty path")
		}
	}
	if c.Gates.MaxSizeRatio <= 0 || c.Gates.MaxSizeRatio > 1 {
		return fmt.Errorf("config: gates.max_size_ratio must be in (0, 1], got %v", c.Gates.MaxSizeRatio)
	}
	if c.Gates.MinBytes < 0 {
		return fmt.Errorf("config: gates.min_bytes must not be negative, got %d", c.Gates.MinBytes)
	}
	if c.Paths.JobStateDir == "" {
		return fmt.Errorf("config: paths.job_state_dir is required")
	}
	if c.Paths.TempOutputDir == "" {
		return fmt.Errorf("config: paths.temp_output_dir is required")
	}
	if c.Scan.StabilityWaitSecs < 0 {
		return fmt.Errorf("config: scan.stability_wait_secs must not be negative, got %d", c.Scan.StabilityWaitSecs)
	}
	if c.Scan.ScanIntervalSecs <= 0 {
		return fmt.Errorf("config: scan.scan_interval_secs must be positive, got %d", c.Scan.ScanIntervalSecs)
	}
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr is required")
	}
	return nil
}
