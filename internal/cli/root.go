// Package cli implements the politikcred command line.
package cli

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"politikcred/internal/app"
	"politikcred/internal/platform/config"
	"politikcred/internal/platform/logger"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "politikcred",
	Short: "PolitikCred - promise verification and credibility scoring",
	Long: `PolitikCred ingests public actions of politicians, links them to their
campaign promises and keeps a credibility score per politician.

Configuration comes from the file given with --config and POLITIKCRED_*
environment variables. Without a database URL all state lives in memory.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging to stderr")
}

func initConfig() {
	if cfgFile != "" {
		viper.Set("config", cfgFile)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}

func newLogger(cfg config.Config) *slog.Logger {
	level := cfg.Server.LogLevel
	if verbose {
		level = "debug"
	}
	return logger.NewWithWriter(os.Stderr, level)
}

// openApp builds the dependency graph. Metrics go to a private registry
// since the CLI serves no /metrics endpoint.
func openApp(ctx context.Context) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return app.New(ctx, cfg, newLogger(cfg), app.WithRegistry(prometheus.NewRegistry()))
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
