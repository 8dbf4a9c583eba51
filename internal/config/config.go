// Package config loads linkplan.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/observability"
	"linkplan.ai/internal/plan"
)

type Config struct {
	Authority  Authority               `yaml:"authority"`
	Planner    plan.Config             `yaml:"planner"`
	Connectors []entity.Connector      `yaml:"connectors"`
	Log        observability.LogConfig `yaml:"log"`
	Storage    Storage                 `yaml:"storage"`
	Metrics    Metrics                 `yaml:"metrics"`
}

type Authority struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	HandshakeTime  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Storage struct {
	// JournalDir holds the hourly zstd JSONL transaction journal. Empty disables it.
	JournalDir string `yaml:"journal_dir"`
	// IndexPath is the sqlite attempt index. Empty disables it.
	IndexPath string `yaml:"index_path"`
}

type Metrics struct {
	Listen string `yaml:"listen"`
}

func Defaults() Config {
	return Config{
		Authority: Authority{
			URL:            "ws://127.0.0.1:8080/v1/authority",
			HandshakeTime:  5 * time.Second,
			WriteTimeout:   5 * time.Second,
			RequestTimeout: 30 * time.Second,
		},
		Planner:    plan.DefaultConfig(),
		Connectors: entity.DefaultConnectors(),
		Log:        observability.LogConfig{Level: "info", Format: "console"},
		Storage: Storage{
			JournalDir: "data/journal",
			IndexPath:  "data/index/linkplan.sqlite",
		},
	}
}

// Load reads path over Defaults. Keys missing from the file keep their
// default values.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("linkplan.yaml: %w", err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("linkplan.yaml: %w", err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.Authority.URL == "" {
		return fmt.Errorf("authority.url is required")
	}
	if err := c.Planner.Construct.Validate(); err != nil {
		return err
	}
	if c.Planner.PointTolerance < 0 {
		return fmt.Errorf("planner.point_tolerance must not be negative")
	}
	_, err := c.Catalog()
	return err
}

// Catalog builds the connector catalog the config describes.
func (c Config) Catalog() (*entity.Catalog, error) {
	return entity.NewCatalog(c.Connectors)
}
