// Package config loads and validates coordinator configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/citydatalab/courtbatch/internal/batch"
)

// Config captures all coordinator configuration knobs loaded via Viper.
type Config struct {
	App     AppConfig     `mapstructure:"app"`
	Logging LoggingConfig `mapstructure:"logging"`
	Cluster ClusterConfig `mapstructure:"cluster"`
	Storage StorageConfig `mapstructure:"storage"`
	Scrape  ScrapeConfig  `mapstructure:"scrape"`
	Wait    WaitConfig    `mapstructure:"wait"`
	Ops     OpsConfig     `mapstructure:"ops"`
}

// AppConfig names the deployment and anchors local storage. Cluster and
// bucket names default to the app name when left empty.
type AppConfig struct {
	Name string `mapstructure:"name"`
	// Home is the root local paths resolve under; empty means the user's
	// home directory.
	Home string `mapstructure:"home"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ClusterConfig selects and parameterizes the compute cluster backend.
type ClusterConfig struct {
	// Provider is "ecs" or "memory".
	Provider       string   `mapstructure:"provider"`
	Name           string   `mapstructure:"name"`
	TaskFamily     string   `mapstructure:"task_family"`
	Container      string   `mapstructure:"container"`
	Region         string   `mapstructure:"region"`
	Subnets        []string `mapstructure:"subnets"`
	AssignPublicIP bool     `mapstructure:"assign_public_ip"`
}

// StorageConfig selects and parameterizes the remote storage realm.
type StorageConfig struct {
	// Provider is "s3" or "memory".
	Provider  string `mapstructure:"provider"`
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// ScrapeConfig holds the worker pacing defaults a submission starts from.
type ScrapeConfig struct {
	Partitions int    `mapstructure:"partitions"`
	Sleep      int    `mapstructure:"sleep"`
	Errors     string `mapstructure:"errors"`
	LogFreq    int    `mapstructure:"log_freq"`
	Seed       int    `mapstructure:"seed"`
	Interval   int    `mapstructure:"interval"`
	TimeLimit  int    `mapstructure:"time_limit"`
}

// WaitConfig bounds the completion barrier.
type WaitConfig struct {
	DelaySeconds int `mapstructure:"delay_seconds"`
	MaxAttempts  int `mapstructure:"max_attempts"`
}

// OpsConfig controls the health/metrics HTTP listener; port 0 disables it.
type OpsConfig struct {
	Port int `mapstructure:"port"`
}

// Load builds a Config from disk/environment. A .env file is applied
// first when present so local runs pick up credentials the same way
// deployed ones do.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("COURTBATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.applyDerivedNames()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "courtbatch")
	v.SetDefault("logging.development", true)
	v.SetDefault("cluster.provider", "ecs")
	v.SetDefault("cluster.region", "us-east-1")
	v.SetDefault("cluster.assign_public_ip", true)
	v.SetDefault("storage.provider", "s3")
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("scrape.partitions", 20)
	v.SetDefault("scrape.sleep", 2)
	v.SetDefault("scrape.errors", "ignore")
	v.SetDefault("scrape.log_freq", 50)
	v.SetDefault("scrape.seed", 42)
	v.SetDefault("scrape.interval", 1)
	v.SetDefault("scrape.time_limit", 20)
	v.SetDefault("wait.delay_seconds", 60)
	v.SetDefault("wait.max_attempts", 500)
	v.SetDefault("ops.port", 0)

	// Viper only consults COURTBATCH_* variables for keys it knows about,
	// so the remaining keys register with empty defaults.
	v.SetDefault("app.home", "")
	v.SetDefault("cluster.name", "")
	v.SetDefault("cluster.task_family", "")
	v.SetDefault("cluster.container", "")
	v.SetDefault("cluster.subnets", []string{})
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.region", "")
	v.SetDefault("storage.access_key", "")
	v.SetDefault("storage.secret_key", "")
}

// applyDerivedNames fills cluster and bucket names from the app name, the
// single knob most deployments set.
func (c *Config) applyDerivedNames() {
	if c.Cluster.Name == "" {
		c.Cluster.Name = c.App.Name + "-cluster"
	}
	if c.Cluster.TaskFamily == "" {
		c.Cluster.TaskFamily = c.App.Name
	}
	if c.Cluster.Container == "" {
		c.Cluster.Container = c.App.Name
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = c.App.Name
	}
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name must be set")
	}
	if c.Cluster.Provider != "ecs" && c.Cluster.Provider != "memory" {
		return fmt.Errorf("cluster.provider must be \"ecs\" or \"memory\"")
	}
	if c.Storage.Provider != "s3" && c.Storage.Provider != "memory" {
		return fmt.Errorf("storage.provider must be \"s3\" or \"memory\"")
	}
	if c.Scrape.Partitions <= 0 {
		return fmt.Errorf("scrape.partitions must be > 0")
	}
	if c.Scrape.Errors != string(batch.ErrorsIgnore) && c.Scrape.Errors != string(batch.ErrorsRaise) {
		return fmt.Errorf("scrape.errors must be %q or %q", batch.ErrorsIgnore, batch.ErrorsRaise)
	}
	if c.Wait.DelaySeconds <= 0 {
		return fmt.Errorf("wait.delay_seconds must be > 0")
	}
	if c.Wait.MaxAttempts <= 0 {
		return fmt.Errorf("wait.max_attempts must be > 0")
	}
	if c.Ops.Port < 0 {
		return fmt.Errorf("ops.port must not be negative")
	}
	return nil
}

// WaitDelay converts the barrier poll delay into a duration.
func (c Config) WaitDelay() time.Duration {
	return time.Duration(c.Wait.DelaySeconds) * time.Second
}

// DefaultSpec returns a JobSpec seeded with the configured scrape defaults.
func (c Config) DefaultSpec() batch.JobSpec {
	return batch.JobSpec{
		Errors:     batch.ErrorsPolicy(c.Scrape.Errors),
		Sleep:      c.Scrape.Sleep,
		LogFreq:    c.Scrape.LogFreq,
		Seed:       c.Scrape.Seed,
		Interval:   c.Scrape.Interval,
		TimeLimit:  c.Scrape.TimeLimit,
		Partitions: c.Scrape.Partitions,
	}
}
