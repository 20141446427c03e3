package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/claimgate/internal/model"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage claimgate configuration",
	Long: `Manage claimgate configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (CLAIMGATE_*, e.g. CLAIMGATE_STORAGE_DSN)
3. Config file (~/.claimgate/config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long:  `Display the configuration after defaults, config file and environment are merged. Secrets are never printed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(cmd.ErrOrStderr(), "No configuration file found (using defaults)\n\n")
		}

		// Secret fields carry yaml:"-"
		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(yamlData)
		return err
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long:  `Create ~/.claimgate/config.yaml with the built-in defaults.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("error finding home directory: %w", err)
		}
		configDir := filepath.Join(home, ".claimgate")
		configPath := filepath.Join(configDir, "config.yaml")

		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'claimgate config show' to view it, or delete it first to recreate", configPath)
		}
		if err := os.MkdirAll(configDir, 0o755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}

		yamlData, err := yaml.Marshal(model.DefaultConfig())
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}

		f, err := os.OpenFile(configPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err != nil {
			return fmt.Errorf("error creating config file: %w", err)
		}
		defer func() {
			if closeErr := f.Close(); closeErr != nil && err == nil {
				err = fmt.Errorf("close config file: %w", closeErr)
			}
		}()

		printf := func(format string, a ...any) {
			if err != nil {
				return
			}
			_, err = fmt.Fprintf(f, format, a...)
		}

		printf("# claimgate configuration\n")
		printf("#\n")
		printf("# Secrets are read from the environment only:\n")
		printf("#   CLAIMGATE_STORAGE_DSN          postgres connection string\n")
		printf("#   CLAIMGATE_IDENTITY_JWT_SECRET  HMAC secret for bearer tokens\n")
		printf("#   CLAIMGATE_SIMILARITY_API_KEY   embedding provider key\n\n")
		if err != nil {
			return err
		}
		if _, err := f.Write(yamlData); err != nil {
			return fmt.Errorf("error writing config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "✓ Created default configuration: %s\n", configPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
