package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotenv loads a .env file into the process environment before
// overrides are read. A missing file is not an error.
func LoadDotenv(path string) {
	if path == "" {
		path = ".env"
	}
	_ = godotenv.Load(path)
}

// ApplyEnvOverrides replaces config values with their environment
// counterparts when set. Unparseable values are ignored and the file
// value kept.
func (c *Config) ApplyEnvOverrides() {
	if v, ok := envInt("CPU_LOGICAL_CORES"); ok {
		c.CPU.LogicalCores = v
	}
	if v, ok := envFloat("CPU_TARGET_UTILIZATION"); ok {
		c.CPU.TargetCPUUtilization = v
	}
	if v, ok := envInt("AV1AN_WORKERS_PER_JOB"); ok {
		c.Av1an.WorkersPerJob = v
	}
	if v, ok := envInt("AV1AN_MAX_CONCURRENT_JOBS"); ok {
		c.Av1an.MaxConcurrentJobs = v
	}
	if v, ok := envBool("ENCODER_DISALLOW_HARDWARE_ENCODING"); ok {
		c.EncoderSafety.DisallowHardwareEncoding = v
	}
}

func envInt(key string) (int, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, false
	}
	return v, true
}

func envFloat(key string) (float64, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func envBool(key string) (bool, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "1", "yes":
		return true, true
	case "false", "0", "no":
		return false, true
	default:
		return false, false
	}
}
