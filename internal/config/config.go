// Package config loads pipeline configuration from hourglass.yaml with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hourglass-data/hourglass/internal/warehouse"
	"github.com/hourglass-data/hourglass/pkg/types"
)

// FileName is the expected config file name.
const FileName = "hourglass.yaml"

// MetricsConfig configures the optional Pushgateway flush at the end of a
// run. An empty GatewayURL disables pushing.
type MetricsConfig struct {
	GatewayURL string `yaml:"gateway_url" env:"HOURGLASS_PUSHGATEWAY_URL"`
	Job        string `yaml:"job" env:"HOURGLASS_METRICS_JOB" envDefault:"hourglass"`
}

// Config is the full pipeline configuration.
type Config struct {
	// Project is the warehouse project hosting both output datasets.
	Project string `yaml:"project" env:"HOURGLASS_PROJECT"`
	// HourlyDataset receives requestlogs_YYYYMMDD_HH tables.
	HourlyDataset string `yaml:"hourly_dataset" env:"HOURGLASS_HOURLY_DATASET"`
	// DailyDataset receives requestlogs_YYYYMMDD tables.
	DailyDataset string `yaml:"daily_dataset" env:"HOURGLASS_DAILY_DATASET"`
	// Source is the streaming source table as "project:dataset.table".
	Source string `yaml:"source" env:"HOURGLASS_SOURCE"`
	// FragmentModules are the module ids whose log lines arrive as
	// fragments and need reassembly.
	FragmentModules []string `yaml:"fragment_modules" env:"HOURGLASS_FRAGMENT_MODULES" envSeparator:","`
	// Backend selects the warehouse adapter: "bigquery" or "bqcli".
	Backend string `yaml:"backend" env:"HOURGLASS_BACKEND" envDefault:"bigquery"`
	// BQPath is the bq binary used by the bqcli backend.
	BQPath string `yaml:"bq_path" env:"HOURGLASS_BQ_PATH" envDefault:"bq"`
	// Interactive runs queries at interactive instead of batch priority.
	Interactive bool `yaml:"interactive" env:"HOURGLASS_INTERACTIVE"`
	// DryRun logs mutations instead of executing them.
	DryRun bool `yaml:"dry_run" env:"HOURGLASS_DRY_RUN"`

	Alerts  []types.AlertConfig `yaml:"alerts"`
	Metrics MetricsConfig       `yaml:"metrics"`
}

// Default returns a config with the defaults applied.
func Default() *Config {
	return &Config{
		FragmentModules: []string{"vm"},
		Backend:         "bigquery",
		BQPath:          "bq",
		Metrics:         MetricsConfig{Job: "hourglass"},
	}
}

// Load reads hourglass.yaml from dir, then applies environment overrides.
// A .env file in dir is loaded first if present. The file may be absent;
// environment variables alone can carry a full config.
func Load(dir string) (*Config, error) {
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	cfg := Default()

	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env only
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the config for completeness.
func (c *Config) Validate() error {
	var missing []string
	if c.Project == "" {
		missing = append(missing, "project")
	}
	if c.HourlyDataset == "" {
		missing = append(missing, "hourly_dataset")
	}
	if c.DailyDataset == "" {
		missing = append(missing, "daily_dataset")
	}
	if c.Source == "" {
		missing = append(missing, "source")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}

	if c.Backend != "bigquery" && c.Backend != "bqcli" {
		return fmt.Errorf("unknown backend %q (want bigquery or bqcli)", c.Backend)
	}
	if len(c.FragmentModules) == 0 {
		return fmt.Errorf("fragment_modules must not be empty")
	}
	if _, err := c.SourceRef(); err != nil {
		return err
	}

	for i, a := range c.Alerts {
		switch a.Type {
		case types.AlertConsole:
		case types.AlertWebhook:
			if a.URL == "" {
				return fmt.Errorf("alerts[%d]: webhook requires url", i)
			}
		case types.AlertFile:
			if a.Path == "" {
				return fmt.Errorf("alerts[%d]: file requires path", i)
			}
		case types.AlertSNS:
			if a.TopicARN == "" {
				return fmt.Errorf("alerts[%d]: sns requires topicArn", i)
			}
		default:
			return fmt.Errorf("alerts[%d]: unknown type %q", i, a.Type)
		}
	}
	return nil
}

// SourceRef parses Source into a TableRef. The dataset qualifier accepts
// both "project:dataset.table" and "project.dataset.table".
func (c *Config) SourceRef() (warehouse.TableRef, error) {
	s := c.Source
	var project, rest string
	if i := strings.IndexByte(s, ':'); i >= 0 {
		project, rest = s[:i], s[i+1:]
	} else if parts := strings.SplitN(s, ".", 3); len(parts) == 3 {
		project, rest = parts[0], parts[1]+"."+parts[2]
	} else {
		return warehouse.TableRef{}, fmt.Errorf("source %q: want project:dataset.table", s)
	}

	dot := strings.IndexByte(rest, '.')
	if dot < 0 {
		return warehouse.TableRef{}, fmt.Errorf("source %q: want project:dataset.table", s)
	}
	ref := warehouse.TableRef{Project: project, Dataset: rest[:dot], Table: rest[dot+1:]}
	if ref.Project == "" || ref.Dataset == "" || ref.Table == "" {
		return warehouse.TableRef{}, fmt.Errorf("source %q: want project:dataset.table", s)
	}
	return ref, nil
}
