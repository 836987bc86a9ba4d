package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hannes/role-anonymizer/src/backend/config"
)

var (
	// Version info injected via ldflags at build time
	Version = "dev"

	// Global flags
	cfgFile      string
	rulesFile    string
	detectorName string
	logLevel     string
	logFormat    string

	// cfg is resolved once per invocation in PersistentPreRunE
	cfg           *config.Config
	sentryEnabled bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rolemask",
	Short: "Replace person names in text with role placeholders",
	Long: `rolemask anonymizes free text by replacing every person name with a
placeholder describing the person's role, such as [PATIENT_NAME] or
[DOCTOR_NAME]. The role is read from the words just before the first
mention of each name.`,
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg = loaded
		setupLogging(cfg.Logging.Level, cfg.Logging.Format)

		if cfg.Sentry.DSN != "" {
			if err := sentry.Init(sentry.ClientOptions{
				Dsn:              cfg.Sentry.DSN,
				Environment:      cfg.Sentry.Environment,
				Release:          "rolemask@" + Version,
				AttachStacktrace: true,
			}); err != nil {
				return fmt.Errorf("initializing sentry: %w", err)
			}
			sentryEnabled = true
		}
		return nil
	},
}

// loadConfig resolves defaults, the config file, .env and environment, then
// explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	c := config.DefaultConfig()
	if cfgFile != "" {
		if err := config.LoadFromFile(cfgFile, c); err != nil {
			return nil, err
		}
	}
	if err := config.LoadEnv(c); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("rules") {
		c.RulesPath = rulesFile
	}
	if flags.Changed("detector") {
		c.DetectorName = detectorName
	}
	if flags.Changed("log-level") {
		c.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		c.Logging.Format = logFormat
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return c, nil
}

func setupLogging(levelName, format string) {
	level, err := zerolog.ParseLevel(levelName)
	if err != nil || levelName == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// stdout carries anonymized text, so logs always go to stderr
	if format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().
			Timestamp().
			Logger()
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "JSON config file")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "context rule YAML file (default: built-in rules)")
	rootCmd.PersistentFlags().StringVar(&detectorName, "detector", "", "name recognizer (prose_detector, regex_detector, model_detector, onnx_model_detector)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
}

// Execute runs the root command and flushes Sentry on exit
func Execute() error {
	err := rootCmd.Execute()
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
	return err
}
