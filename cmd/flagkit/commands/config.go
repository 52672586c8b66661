package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TimurManjosov/flagkit/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage flagkit CLI profiles in ~/.flagkit/config.yaml.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration file",
	Long: `Create a default configuration file at ~/.flagkit/config.yaml

Example:
  flagkit config init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cli.InitConfig(); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		configPath, _ := cli.GetConfigPath()
		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created at: %s\n", configPath)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Default Profile: %s\n\n", cfg.DefaultProfile)
		fmt.Fprintln(out, "Profiles:")
		names := make([]string, 0, len(cfg.Profiles))
		for name := range cfg.Profiles {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			p := cfg.Profiles[name]
			fmt.Fprintf(out, "  %s:\n", name)
			if p.FeaturesFile != "" {
				fmt.Fprintf(out, "    features_file: %s\n", p.FeaturesFile)
			}
			if p.BaseURL != "" {
				fmt.Fprintf(out, "    base_url: %s\n", p.BaseURL)
			}
		}
		return nil
	},
}

func splitProfileKey(s string) (string, string, error) {
	name, key, ok := strings.Cut(s, ".")
	if !ok || name == "" || key == "" {
		return "", "", fmt.Errorf("invalid key format, expected 'profile.key' (e.g., 'dev.base_url')")
	}
	return name, key, nil
}

var configGetCmd = &cobra.Command{
	Use:   "get <profile.key>",
	Short: "Get a configuration value",
	Long: `Get a specific configuration value.

Examples:
  flagkit config get dev.base_url
  flagkit config get local.features_file`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		name, key, err := splitProfileKey(args[0])
		if err != nil {
			return err
		}
		p, ok := cfg.Profiles[name]
		if !ok {
			return fmt.Errorf("profile '%s' not found", name)
		}

		switch key {
		case "base_url":
			fmt.Fprintln(cmd.OutOrStdout(), p.BaseURL)
		case "features_file":
			fmt.Fprintln(cmd.OutOrStdout(), p.FeaturesFile)
		default:
			return fmt.Errorf("unknown key '%s', valid keys: base_url, features_file", key)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <profile.key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value, creating the profile if needed.

Examples:
  flagkit config set prod.base_url https://flags.example.com
  flagkit config set local.features_file ./features.json
  flagkit config set default local`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := cli.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if args[0] == "default" {
			cfg.DefaultProfile = args[1]
		} else {
			name, key, err := splitProfileKey(args[0])
			if err != nil {
				return err
			}
			p := cfg.Profiles[name]
			switch key {
			case "base_url":
				p.BaseURL = args[1]
			case "features_file":
				p.FeaturesFile = args[1]
			default:
				return fmt.Errorf("unknown key '%s', valid keys: base_url, features_file", key)
			}
			cfg.Profiles[name] = p
		}

		if err := cli.SaveConfig(cfg); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully set %s\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configSetCmd)
}
