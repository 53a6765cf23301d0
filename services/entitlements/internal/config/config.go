// Package config loads the entitlements service configuration: a YAML
// file with environment overrides for the deployment-variable pieces.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Webhook struct {
	// Scheme selects the verifier: "stripe-v1" or "generic-hmac".
	Scheme string `yaml:"scheme"`
	Secret string `yaml:"secret"`
}

type Config struct {
	Addr        string             `yaml:"addr"`
	DatabaseURL string             `yaml:"database_url"`
	PolicyDir   string             `yaml:"policy_dir"`
	Webhooks    map[string]Webhook `yaml:"webhooks"`
}

func Default() Config {
	return Config{
		Addr:      ":8086",
		PolicyDir: "policies",
		Webhooks:  map[string]Webhook{},
	}
}

// Load reads the YAML file at path (optional; empty path keeps the
// defaults) and then applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("M55_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("M55_POLICY_DIR"); v != "" {
		cfg.PolicyDir = v
	}
	if cfg.Webhooks == nil {
		cfg.Webhooks = map[string]Webhook{}
	}
	return cfg, nil
}
