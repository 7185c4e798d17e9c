// Package config loads tool settings from defaults, a YAML file, ISIMIP_*
// environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultFileName is looked up in the working directory when no path is given.
const DefaultFileName = "isimip.yaml"

const (
	// DefaultAllModelsConcurrency applies when every model is selected.
	DefaultAllModelsConcurrency = 5
	// DefaultConcurrency applies to an explicit model list.
	DefaultConcurrency = 1
)

// Config holds all configuration values for the application.
type Config struct {
	// Root of the {Model}/{scenario} output tree
	OutputDir string `mapstructure:"output_dir"`

	// Remote archive root, overridable for mirrors
	BaseURL string `mapstructure:"base_url"`

	// Number of work items processed at once; 0 picks 5 for "all" models and 1 otherwise
	Concurrency int `mapstructure:"concurrency"`

	// Minimum delay between two item launches; 0 disables throttling
	LaunchDelay time.Duration `mapstructure:"launch_delay"`

	// Backend for external tools: exec, docker or kubernetes
	Runtime string `mapstructure:"runtime"`

	// Container image holding cdo/ncks/Rscript for the docker and kubernetes runtimes
	RuntimeImage string `mapstructure:"runtime_image"`

	// Kubernetes runtime: namespace of the tool Jobs and the claim holding
	// the output tree, mounted at /data in every Job
	KubeNamespace   string `mapstructure:"kube_namespace"`
	KubeVolumeClaim string `mapstructure:"kube_volume_claim"`

	// Spatial subsetting engine: cdo or ncks
	CropEngine string `mapstructure:"crop_engine"`

	// Executable for the crop engine; empty uses the engine name from PATH
	CropBinary string `mapstructure:"crop_binary"`

	CropTimeout time.Duration `mapstructure:"crop_timeout"`

	// Fetch retry extension point; 0 keeps the single-attempt behaviour
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`

	// Conda environment with R + loadeR; empty or "no" disables aggregation
	CondaEnv string `mapstructure:"conda_env"`

	// Merge cropped chunks per model/scenario after the batch
	Combine bool `mapstructure:"combine"`

	// Address for the Prometheus /metrics endpoint; empty disables it
	MetricsAddr string `mapstructure:"metrics_addr"`

	// OTLP gRPC collector; empty disables tracing
	OTELEndpoint string `mapstructure:"otel_endpoint"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// flagKeys maps config keys onto the command-line flags that override them.
var flagKeys = map[string]string{
	"output_dir":        "output",
	"base_url":          "base-url",
	"concurrency":       "concurrency",
	"launch_delay":      "launch-delay",
	"runtime":           "runtime",
	"runtime_image":     "runtime-image",
	"kube_namespace":    "kube-namespace",
	"kube_volume_claim": "kube-volume-claim",
	"crop_engine":       "crop-engine",
	"crop_binary":       "crop-binary",
	"crop_timeout":      "crop-timeout",
	"retry_attempts":    "retries",
	"retry_backoff":     "retry-backoff",
	"conda_env":         "conda-env",
	"combine":           "combine",
	"metrics_addr":      "metrics-addr",
	"otel_endpoint":     "otel-endpoint",
	"log_level":         "log-level",
	"log_format":        "log-format",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("output_dir", "isimip_data")
	v.SetDefault("base_url", "")
	v.SetDefault("concurrency", 0)
	v.SetDefault("launch_delay", time.Second)
	v.SetDefault("runtime", "exec")
	v.SetDefault("runtime_image", "")
	v.SetDefault("kube_namespace", "default")
	v.SetDefault("kube_volume_claim", "")
	v.SetDefault("crop_engine", "cdo")
	v.SetDefault("crop_binary", "")
	v.SetDefault("crop_timeout", 30*time.Minute)
	v.SetDefault("retry_attempts", 0)
	v.SetDefault("retry_backoff", time.Second)
	v.SetDefault("conda_env", "")
	v.SetDefault("combine", false)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("otel_endpoint", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
}

// Load reads configuration. Precedence, lowest first: defaults, the YAML file
// at path (or ./isimip.yaml when path is empty and the file exists), ISIMIP_*
// environment variables, then flags that were set explicitly. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ISIMIP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(DefaultFileName, ".yaml"))
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
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

// Validate checks enumerations and ranges.
func (c *Config) Validate() error {
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	switch c.Runtime {
	case "exec":
	case "docker":
		if c.RuntimeImage == "" {
			return errors.New("runtime_image is required when runtime is docker")
		}
	case "kubernetes":
		if c.RuntimeImage == "" {
			return errors.New("runtime_image is required when runtime is kubernetes")
		}
		if c.KubeVolumeClaim == "" {
			return errors.New("kube_volume_claim is required when runtime is kubernetes")
		}
	default:
		return fmt.Errorf("invalid runtime %q (valid: exec, docker, kubernetes)", c.Runtime)
	}
	switch c.CropEngine {
	case "cdo", "ncks":
	default:
		return fmt.Errorf("invalid crop_engine %q (valid: cdo, ncks)", c.CropEngine)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("invalid concurrency %d", c.Concurrency)
	}
	if c.LaunchDelay < 0 {
		return fmt.Errorf("invalid launch_delay %v", c.LaunchDelay)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("invalid retry_attempts %d", c.RetryAttempts)
	}
	if c.CropTimeout < 0 {
		return fmt.Errorf("invalid crop_timeout %v", c.CropTimeout)
	}
	return nil
}

// WorkerConcurrency resolves the effective concurrency limit.
func (c *Config) WorkerConcurrency(allModels bool) int {
	if c.Concurrency > 0 {
		return c.Concurrency
	}
	if allModels {
		return DefaultAllModelsConcurrency
	}
	return DefaultConcurrency
}

// AggregationEnabled reports whether the NcML stage should run.
func (c *Config) AggregationEnabled() bool {
	env := strings.TrimSpace(c.CondaEnv)
	return env != "" && !strings.EqualFold(env, "no")
}
