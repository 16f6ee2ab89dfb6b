package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/leadcast/internal/api"
	"github.com/foxzi/leadcast/internal/app"
	"github.com/foxzi/leadcast/internal/config"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	api.Version = version
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "leadcast",
	Short: "Leadcast - campaign dispatch engine",
	Long: `Leadcast sends persona-targeted campaign emails, picks subject lines with
Thompson sampling and learns from provider delivery and click events.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the API server",
	Long:  `Start the HTTP API, webhook receiver, click tracker and optional dispatch scheduler.`,
	RunE:  runServe,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("leadcast version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (LEADCAST_* variables override it)")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, configCmd, versionCmd)
}

// loadConfig reads the config file if one was given, otherwise the environment only.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := app.New(context.Background(), cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  API:        %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Database:   %s\n", cfg.Database.Driver)
	fmt.Printf("  Stats:      %s\n", cfg.Stats.Backend)
	fmt.Printf("  Transport:  %s\n", cfg.Transport.Type)
	fmt.Printf("  AI:         %s\n", cfg.AI.Provider)
	fmt.Printf("  Public URL: %s\n", cfg.Tracking.PublicURL)
	fmt.Printf("  Webhooks:   %v\n", cfg.Webhooks.Providers)
	if cfg.Dispatch.ScheduleInterval > 0 {
		fmt.Printf("  Schedule:   every %s\n", cfg.Dispatch.ScheduleInterval)
	} else {
		fmt.Printf("  Schedule:   on demand\n")
	}
	fmt.Printf("  Quotas:     %v\n", cfg.RateLimit.Enabled)
	fmt.Printf("  Metrics:    %v\n", cfg.Metrics.Enabled)

	return nil
}
