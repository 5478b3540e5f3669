package commands

import (
	"fmt"

	"github.com/dyluth/stave/internal/config"
	"github.com/dyluth/stave/internal/printer"
	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	configPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stave",
	Short: "Stave - realtime collaboration for music projects",
	Long: `Stave keeps a shared music arrangement in sync between collaborators.

Tracks, audio blocks, markers and transport controls are broadcast through a
Redis relay; projects are persisted in Redis or PostgreSQL. The CLI can
watch a project live, inspect its stored state and history, and serve a
local gateway for a UI.`,
	Version: version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute adds all child commands to the root command and runs it.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	// Silence Cobra's default error and usage printing
	// We print formatted colored errors directly in the printer package
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", config.DefaultPath, "Path to stave.yml (defaults are used if it does not exist)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with environment overrides")
}

// loadConfig reads .env then stave.yml.
func loadConfig() (*config.StaveConfig, error) {
	if err := config.LoadEnvFile(envFile); err != nil {
		return nil, printer.Error("failed to load env file", err.Error(), []string{
			fmt.Sprintf("Check the syntax of %s (KEY=value per line)", envFile),
		})
	}
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, printer.Error("invalid configuration", err.Error(), []string{
			fmt.Sprintf("Fix %s or create one with:\n  stave init", configPath),
		})
	}
	return cfg, nil
}
