package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/andresmejia3/centerstage/internal/config"
	"github.com/andresmejia3/centerstage/internal/utils"
	"github.com/spf13/cobra"
)

var (
	resetConfig bool
	resetDB     bool
	resetLogs   bool
)

var resetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset system state (Settings, Database, Logs)",
	Long:        "Clears stored state. By default, it resets everything. Use flags to clear specific components.",
	Annotations: map[string]string{dbAnnotation: dbOptional},
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetConfig && !resetDB && !resetLogs {
			resetConfig = true
			resetDB = true
			resetLogs = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetConfig {
			if confirm(reader, "⚠️  Are you sure you want to restore default settings?") {
				fmt.Println("🗑️  Restoring default settings...")
				Cfg = config.Default()
				cfgDirty = true
			}
		}

		if resetDB {
			if DB == nil {
				fmt.Fprintln(os.Stderr, "⚠️  No database configured (use --db or POSTGRES_HOST), skipping.")
			} else if confirm(reader, "⚠️  Are you sure you want to DROP all session history?") {
				fmt.Println("🗑️  Clearing Database...")
				if err := DB.Reset(cmd.Context()); err != nil {
					utils.ShowError("Failed to reset database", err, nil)
					return err
				}
			}
		}

		if resetLogs {
			dir := logsDir()
			if confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete all logs in %s?", dir)) {
				fmt.Println("🗑️  Clearing Logs...")
				removeDir(dir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetConfig, "settings", false, "Restore default settings")
	resetCmd.Flags().BoolVar(&resetDB, "history", false, "Drop recorded sessions from PostgreSQL")
	resetCmd.Flags().BoolVar(&resetLogs, "logs", false, "Delete rotated log files")
	rootCmd.AddCommand(resetCmd)
}

// logsDir is --log-dir, or a logs folder next to the settings file.
func logsDir() string {
	if logDir != "" {
		return logDir
	}
	return filepath.Join(filepath.Dir(configPath), "logs")
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
