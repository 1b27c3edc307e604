// Package config loads the evaluation harness configuration from an optional
// YAML file, a .env file and SEGEVAL_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"seg-eval/internal/volume"
)

var logger = logrus.WithFields(logrus.Fields{
	"app":       "segeval",
	"component": "config",
})

type Config struct {
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Scoring  ScoringConfig  `mapstructure:"scoring" yaml:"scoring"`
	Runner   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	Storage  StorageConfig  `mapstructure:"storage" yaml:"storage"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Redis    RedisConfig    `mapstructure:"redis" yaml:"redis"`
	API      APIConfig      `mapstructure:"api" yaml:"api"`
}

type LoggingConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
	Level  string `mapstructure:"level" yaml:"level"`
	Source bool   `mapstructure:"source" yaml:"source"`
}

type ScoringConfig struct {
	// Spacing is the voxel size used for surface distances; it is never
	// read from the image headers.
	Spacing            []float64 `mapstructure:"spacing" yaml:"spacing"`
	CaseIDOffset       int       `mapstructure:"case_id_offset" yaml:"case_id_offset"`
	PredictionIDOffset int       `mapstructure:"prediction_id_offset" yaml:"prediction_id_offset"`
	Pairing            string    `mapstructure:"pairing" yaml:"pairing"`
	ScoresFile         string    `mapstructure:"scores_file" yaml:"scores_file"`
	ResultsFile        string    `mapstructure:"results_file" yaml:"results_file"`
	WorkDir            string    `mapstructure:"work_dir" yaml:"work_dir"`
}

type RunnerConfig struct {
	Registry         string        `mapstructure:"registry" yaml:"registry"`
	RegistryUsername string        `mapstructure:"registry_username" yaml:"registry_username"`
	RegistryPassword string        `mapstructure:"registry_password" yaml:"registry_password"`
	InputDir         string        `mapstructure:"input_dir" yaml:"input_dir"`
	OutputRoot       string        `mapstructure:"output_root" yaml:"output_root"`
	MemoryBytes      int64         `mapstructure:"memory_bytes" yaml:"memory_bytes"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RequiredArtifact string        `mapstructure:"required_artifact" yaml:"required_artifact"`
	MaxLogBytes      int64         `mapstructure:"max_log_bytes" yaml:"max_log_bytes"`
	StoreLogs        bool          `mapstructure:"store_logs" yaml:"store_logs"`
	Goldstandard     string        `mapstructure:"goldstandard" yaml:"goldstandard"`
}

type StorageConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Region    string `mapstructure:"region" yaml:"region"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

type RedisConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type APIConfig struct {
	Addr  string `mapstructure:"addr" yaml:"addr"`
	Token string `mapstructure:"token" yaml:"token"`
}

var defaults = map[string]any{
	"logging.format": "text",
	"logging.level":  "info",
	"logging.source": false,

	"scoring.spacing":              []float64{1, 1, 1},
	"scoring.case_id_offset":       6,
	"scoring.prediction_id_offset": 6,
	"scoring.pairing":              "positional",
	"scoring.scores_file":          "all_scores_seg.csv",
	"scoring.results_file":         "results.json",
	"scoring.work_dir":             "",

	"runner.registry":          "",
	"runner.registry_username": "",
	"runner.registry_password": "",
	"runner.input_dir":         "",
	"runner.output_root":       "outputs",
	"runner.memory_bytes":      int64(6 << 30),
	"runner.poll_interval":     60 * time.Second,
	"runner.required_artifact": "predictions.zip",
	"runner.max_log_bytes":     int64(50_000),
	"runner.store_logs":        true,
	"runner.goldstandard":      "",

	"storage.endpoint":   "",
	"storage.bucket":     "",
	"storage.access_key": "",
	"storage.secret_key": "",
	"storage.region":     "us-east-1",

	"database.url": "",
	"redis.addr":   "localhost:6379",
	"api.addr":     ":8000",
	"api.token":    "",
}

// Variables the services have always read, kept working alongside the
// SEGEVAL_* names.
var legacyEnv = map[string]string{
	"database.url":       "DATABASE_URL",
	"redis.addr":         "REDIS_ADDR",
	"api.token":          "API_TOKEN",
	"storage.endpoint":   "MINIO_ENDPOINT",
	"storage.bucket":     "MINIO_BUCKET",
	"storage.access_key": "MINIO_ACCESS_KEY",
	"storage.secret_key": "MINIO_SECRET_KEY",
}

// Read loads configuration. An empty path searches ./segeval.yaml and
// ./config/segeval.yaml; a missing file is not an error in that case.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err == nil {
		logger.Debug("loaded .env")
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix("SEGEVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, env := range legacyEnv {
		if err := v.BindEnv(k, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("segeval")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	if f := v.ConfigFileUsed(); f != "" {
		logger.WithField("file", f).Info("configuration file loaded")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if _, err := c.Scoring.VoxelSpacing(); err != nil {
		return fmt.Errorf("scoring.spacing: %w", err)
	}
	if c.Scoring.CaseIDOffset < 0 || c.Scoring.PredictionIDOffset < 0 {
		return errors.New("scoring case id offsets must not be negative")
	}
	if c.Runner.PollInterval <= 0 {
		return fmt.Errorf("runner.poll_interval must be positive, got %s", c.Runner.PollInterval)
	}
	return nil
}

func (s ScoringConfig) VoxelSpacing() (volume.Spacing, error) {
	if len(s.Spacing) != 3 {
		return volume.Spacing{}, fmt.Errorf("need 3 values, got %d", len(s.Spacing))
	}
	sp := volume.Spacing{s.Spacing[0], s.Spacing[1], s.Spacing[2]}
	return sp, sp.Validate()
}

// Redacted returns a copy with credentials masked.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	c.Runner.RegistryPassword = mask(c.Runner.RegistryPassword)
	c.Storage.SecretKey = mask(c.Storage.SecretKey)
	c.API.Token = mask(c.API.Token)
	c.Database.URL = mask(c.Database.URL)
	c.Scoring.Spacing = append([]float64(nil), c.Scoring.Spacing...)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() ([]byte, error) {
	return yaml.Marshal(c.Redacted())
}
