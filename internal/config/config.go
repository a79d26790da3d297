// Package config loads CLI configuration from ~/.enact/config.yaml
// with ENACT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix namespaces environment overrides, e.g. ENACT_LOG_LEVEL.
const envPrefix = "ENACT_"

// LogConfig controls CLI logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// SandboxSettings configure the container provider.
type SandboxSettings struct {
	Engine       string `koanf:"engine"`
	Image        string `koanf:"image"`
	Memory       string `koanf:"memory"`
	CPUs         string `koanf:"cpus"`
	AllowNetwork bool   `koanf:"allow_network"`
}

// Config is the resolved CLI configuration.
type Config struct {
	Log LogConfig `koanf:"log"`

	// TrustDir holds trusted public keys, one PEM file each.
	TrustDir string `koanf:"trust_dir"`

	// AuditDir holds the append-only audit trail.
	AuditDir string `koanf:"audit_dir"`

	// ToolsDir is searched when tools are invoked by name.
	ToolsDir string `koanf:"tools_dir"`

	// Policy names the verification policy: permissive, enterprise,
	// or paranoid.
	Policy string `koanf:"policy"`

	// Provider selects the execution environment: direct or sandbox.
	Provider string `koanf:"provider"`

	// EnvFiles are environment layers, lowest precedence first.
	EnvFiles []string `koanf:"env_files"`

	Sandbox SandboxSettings `koanf:"sandbox"`
}

// Default returns the configuration used when no file or overrides
// are present.
func Default() Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".enact")
	return Config{
		Log:      LogConfig{Level: "info", Format: "text"},
		TrustDir: filepath.Join(base, "trusted-keys"),
		AuditDir: filepath.Join(base, "audit"),
		ToolsDir: filepath.Join(base, "tools"),
		Policy:   "permissive",
		Provider: "direct",
		Sandbox: SandboxSettings{
			Engine: "docker",
			Image:  "alpine:3",
			Memory: "512m",
			CPUs:   "1",
		},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".enact", "config.yaml")
}

// Load reads the config file at path, if it exists, then applies
// ENACT_* environment overrides. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	k := koanf.New(".")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("loading config %s: %w", path, err)
			}
		}
	}

	// ENACT_SANDBOX_ENGINE becomes sandbox.engine. Keys with a single
	// segment, like ENACT_POLICY, map to top-level fields.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		for _, nested := range []string{"log_", "sandbox_"} {
			if strings.HasPrefix(key, nested) {
				return strings.TrimSuffix(nested, "_") + "." + strings.TrimPrefix(key, nested)
			}
		}
		return key
	}), nil)
	if err != nil {
		return Config{}, fmt.Errorf("loading environment overrides: %w", err)
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch c.Provider {
	case "direct", "sandbox":
	default:
		return fmt.Errorf("unknown provider %q, expected direct or sandbox", c.Provider)
	}
	switch c.Policy {
	case "permissive", "enterprise", "paranoid":
	default:
		return fmt.Errorf("unknown policy %q", c.Policy)
	}
	return nil
}
