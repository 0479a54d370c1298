package config

import (
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type Config struct {
	RootPath    string        `yaml:"root-path"`
	StagingPath string        `yaml:"staging-path"`
	Storage     StorageConfig `yaml:"storage"`
	Limits      LimitsConfig  `yaml:"limits"`
	Trash       TrashConfig   `yaml:"trash"`
	Log         string        `yaml:"log"`
	LogLevel    string        `yaml:"log-level"`
	DevMode     bool          `yaml:"dev-mode"`
}

type StorageConfig struct {
	Type   string            `yaml:"type"` // local, mindb, s3
	Config map[string]string `yaml:"config"`
}

type LimitsConfig struct {
	MaxArchiveSize int64 `yaml:"max-archive-size"` // bytes
	MaxAssetSize   int64 `yaml:"max-asset-size"`   // bytes
}

type TrashConfig struct {
	RetentionDays int `yaml:"retention-days"` // gc threshold, enforced by the scheduler
}

func LoadConfig(path string) (*Config, error) {
	// Environment overrides from .env, if one is present next to the binary.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv lets deployment environments override file settings without
// editing the yaml.
func applyEnv(cfg *Config) {
	if v := os.Getenv("DEPOT_ROOT"); v != "" {
		cfg.RootPath = v
	}
	if v := os.Getenv("DEPOT_STAGING"); v != "" {
		cfg.StagingPath = v
	}
	if v := os.Getenv("DEPOT_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("DEPOT_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}
