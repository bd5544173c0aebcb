package protect

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blockseal/blockseal/internal/license"
)

// envPrefix namespaces the environment overrides (BLOCKSEAL_OUT_DIR and so
// on).
const envPrefix = "blockseal"

// Config controls one protection run. Values resolve in order: defaults,
// then the optional YAML config file, then BLOCKSEAL_* environment
// variables.
type Config struct {
	// OutDir is where the protected executable, the metadata tables and
	// License.dat live. Defaults to an out/ directory beside the input.
	OutDir string `yaml:"out_dir" envconfig:"OUT_DIR"`

	// OutName overrides the protected executable's file name. Defaults to
	// the input base name with an _out.exe suffix.
	OutName string `yaml:"out_name" envconfig:"OUT_NAME"`

	// LicensePath overrides where License.dat is read from. Defaults to
	// OutDir/License.dat.
	LicensePath string `yaml:"license_path" envconfig:"LICENSE_PATH"`

	// AnalysisPath overrides the analysis sidecar location. Empty means
	// <input>.analysis.yaml.
	AnalysisPath string `yaml:"analysis_path" envconfig:"ANALYSIS_PATH"`

	// LimitFactor is the minimum basic-block size, in bytes, considered
	// for encryption.
	LimitFactor uint64 `yaml:"limit_factor" envconfig:"LIMIT_FACTOR"`

	// Progress enables the terminal progress bar. Set by the CLI, not the
	// config file.
	Progress bool `yaml:"-" ignored:"true"`
}

// LoadConfig reads the optional YAML config file and applies BLOCKSEAL_*
// environment overrides. Callers may adjust individual fields afterwards
// and must call Finalize before use.
func LoadConfig(configPath string) (Config, error) {
	var cfg Config
	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", configPath, err)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("process environment: %w", err)
	}
	return cfg, nil
}

// Finalize fills the remaining defaults relative to the executable being
// protected.
func (c *Config) Finalize(exePath string) {
	if c.OutDir == "" {
		c.OutDir = filepath.Join(filepath.Dir(exePath), "out")
	}
	if c.OutName == "" {
		c.OutName = filepath.Base(exePath) + "_out.exe"
	}
	if c.LicensePath == "" {
		c.LicensePath = filepath.Join(c.OutDir, license.DefaultFileName)
	}
	if c.LimitFactor == 0 {
		c.LimitFactor = 1
	}
}

// OutputPath is the full path of the protected executable.
func (c Config) OutputPath() string {
	return filepath.Join(c.OutDir, c.OutName)
}
