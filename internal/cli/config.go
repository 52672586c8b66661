package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultFeaturesFile is used when no flag, variable or profile names a source.
const DefaultFeaturesFile = "features.json"

// Config represents the CLI configuration
type Config struct {
	DefaultProfile string             `yaml:"default_profile"`
	Profiles       map[string]Profile `yaml:"profiles"`
}

// Profile names where features come from: a local payload file or a
// running flagkit server. When both are set the server wins.
type Profile struct {
	FeaturesFile string `yaml:"features_file,omitempty"`
	BaseURL      string `yaml:"base_url,omitempty"`
}

// Remote reports whether evaluation goes through a server.
func (p Profile) Remote() bool { return p.BaseURL != "" }

// GetConfigPath returns the path to the config file. FLAGKIT_CONFIG
// overrides the default location.
func GetConfigPath() (string, error) {
	if p := os.Getenv("FLAGKIT_CONFIG"); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".flagkit", "config.yaml"), nil
}

// LoadConfig loads the configuration from file
func LoadConfig() (*Config, error) {
	configPath, err := GetConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{
				DefaultProfile: "local",
				Profiles:       make(map[string]Profile),
			}, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]Profile)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to file
func SaveConfig(cfg *Config) error {
	configPath, err := GetConfigPath()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ResolveProfile returns the feature source to use.
// Priority: command flags > environment variables > config file > default file.
func ResolveProfile(name, remoteFlag, featuresFlag string) (*Profile, error) {
	if remoteFlag != "" || featuresFlag != "" {
		return &Profile{BaseURL: remoteFlag, FeaturesFile: featuresFlag}, nil
	}

	envRemote := os.Getenv("FLAGKIT_REMOTE")
	envFeatures := os.Getenv("FLAGKIT_FEATURES")
	if envRemote != "" || envFeatures != "" {
		return &Profile{BaseURL: envRemote, FeaturesFile: envFeatures}, nil
	}

	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = cfg.DefaultProfile
	}
	p, ok := cfg.Profiles[name]
	if !ok {
		if name != cfg.DefaultProfile {
			return nil, fmt.Errorf("profile '%s' not found in config", name)
		}
		return &Profile{FeaturesFile: DefaultFeaturesFile}, nil
	}
	if p.BaseURL == "" && p.FeaturesFile == "" {
		return nil, fmt.Errorf("profile '%s' sets neither features_file nor base_url", name)
	}
	return &p, nil
}

// InitConfig creates a default config file
func InitConfig() error {
	cfg := &Config{
		DefaultProfile: "local",
		Profiles: map[string]Profile{
			"local": {
				FeaturesFile: DefaultFeaturesFile,
			},
			"dev": {
				BaseURL: "http://localhost:8080",
			},
		},
	}

	return SaveConfig(cfg)
}
