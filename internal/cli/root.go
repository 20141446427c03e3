package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is set at build time
var Version = "v0.3.0"

var (
	cfgFile string
	verbose bool
	token   string
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "claimgate",
	Short: "claimgate - evidence verification and compliance gating for manuscripts",
	Long: `claimgate checks the claims in a research manuscript against the study's
analysis manifest and the cited literature, traces every verified number
back to its protocol, and refuses to export a submission package until the
study's ethics approval has been checked.

Every verification, trace and gate decision is written to an append-only,
hash-chained audit log.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "claimgate %s\n", Version)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.claimgate/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "bearer token for the jwt identity provider (or CLAIMGATE_TOKEN)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}
		viper.AddConfigPath(filepath.Join(home, ".claimgate"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// CLAIMGATE_STORAGE_DSN overrides storage.dsn, and so on
	viper.SetEnvPrefix("CLAIMGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}
