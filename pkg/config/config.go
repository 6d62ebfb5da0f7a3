package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultListenAddr is the operator endpoint bind address.
	DefaultListenAddr = "0.0.0.0:8780"

	// DefaultTailscaleIP is the overlay address per-instance ports bind to.
	// Private overlay only, not LAN-reachable.
	DefaultTailscaleIP = "100.118.141.107"

	// BasePort is the first host port handed out to instances.
	BasePort = 19000

	// MaxInstances caps the number of records in the store.
	MaxInstances = 20

	// Image is the application image every instance runs.
	Image = "openclaw:local"

	// ContainerPort is the gateway port inside each container.
	ContainerPort = 18789

	// ReconcileInterval is the period of the background health reconciler.
	ReconcileInterval = 60 * time.Second
)

// Config holds the launcher's runtime configuration. Values come from
// defaults, then an optional YAML file, then environment variables.
type Config struct {
	ListenAddr  string `yaml:"listen_addr"`
	TailscaleIP string `yaml:"tailscale_ip"`
	// Token guards /api/ routes when non-empty.
	Token       string `yaml:"token"`
	DataDir     string `yaml:"data_dir"`
	TemplateDir string `yaml:"template_dir"`
	Image       string `yaml:"image"`
	LogLevel    string `yaml:"log_level"`
	LogJSON     bool   `yaml:"log_json"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ListenAddr:  DefaultListenAddr,
		TailscaleIP: DefaultTailscaleIP,
		DataDir:     "data",
		TemplateDir: "templates/workspace",
		Image:       Image,
		LogLevel:    "info",
		LogJSON:     true,
	}
}

// Load builds the effective configuration. path may be empty, in which case
// only defaults and the environment apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overlays the environment variables the launcher has always
// honored. They win over file values.
func (c *Config) applyEnv() {
	if v := os.Getenv("TAILSCALE_IP"); v != "" {
		c.TailscaleIP = v
	}
	if v := os.Getenv("LAUNCHER_TOKEN"); v != "" {
		c.Token = v
	}
}
