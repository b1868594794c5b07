package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/centerstage/internal/config"
	"github.com/andresmejia3/centerstage/internal/logging"
	"github.com/andresmejia3/centerstage/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

const (
	// dbAnnotation on a command says whether it needs Postgres: "required" or "optional".
	dbAnnotation = "db"
	dbRequired   = "required"
	dbOptional   = "optional"
)

var (
	// DB is the shared database connection, nil when the command runs without one
	DB *store.Store
	// Cfg is the settings document loaded at startup
	Cfg *config.AppConfig
	// cfgDirty marks Cfg for saving when the command finishes
	cfgDirty bool

	dbURL      string
	configPath string
	logLevel   string
	logDir     string
	noColor    bool
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "centerstage",
	Short:         "Automatic face framing for live cameras and recorded video",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; variables may come from the environment directly.
		_ = godotenv.Load()

		if err := logging.Setup(logging.Options{Level: logLevel, LogDir: logDir, NoColor: noColor}); err != nil {
			return err
		}
		log := logging.For("cli")

		if configPath == "" {
			configPath = os.Getenv("CENTERSTAGE_CONFIG")
		}
		if configPath == "" {
			configPath = config.DefaultPath()
		}

		var err error
		Cfg, err = config.Load(configPath)
		switch {
		case errors.Is(err, config.ErrCorrupt), errors.Is(err, config.ErrInvalid):
			log.WithError(err).WithField("path", configPath).Warn("Ignoring settings file, using defaults")
		case err != nil:
			return fmt.Errorf("failed to read settings: %w", err)
		}

		return openDB(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Background: the command context is usually cancelled by now (Ctrl+C).
			DB.Close(context.Background())
		}
		if cfgDirty && Cfg != nil {
			if err := Cfg.Save(configPath); err != nil {
				logging.For("cli").WithError(err).Error("Failed to save settings")
			}
		}
	},
}

// openDB connects when the command asks for a database. Optional commands only
// connect when a URL was given, either by flag or via POSTGRES_* variables.
func openDB(cmd *cobra.Command) error {
	need := cmd.Annotations[dbAnnotation]
	if need == "" {
		return nil
	}

	url := resolveDBURL()
	if url == "" {
		if need == dbOptional {
			return nil
		}
		url = "postgres://localhost:5432/centerstage"
	}

	var err error
	DB, err = store.New(cmd.Context(), url)
	if err != nil {
		if need == dbOptional {
			logging.For("cli").WithError(err).Warn("Database unavailable, session history disabled")
			return nil
		}
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	return nil
}

// resolveDBURL prefers --db, then builds a URL from the environment.
func resolveDBURL() string {
	if dbURL != "" {
		return dbURL
	}
	host := os.Getenv("POSTGRES_HOST")
	if host == "" {
		return ""
	}
	user := os.Getenv("POSTGRES_USER")
	pass := os.Getenv("POSTGRES_PASSWORD")
	name := os.Getenv("POSTGRES_DB")
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string (default: built from POSTGRES_* variables)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default: $CENTERSTAGE_CONFIG or ~/.centerstage/config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "", "Also write rotating log files to this directory")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored log output")
}
