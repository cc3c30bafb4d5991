// Package cli implements the watchload command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/watchload/internal/ingesterr"
)

var (
	version = "dev"
	commit  = "none"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	envFiles   []string
	output     string
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if ingesterr.IsKnown(err) {
			fmt.Fprintln(os.Stderr, ingesterr.FormatUserError(err))
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "watchload",
		Short: "Load files dropped into a directory into PostgreSQL",
		Long: "watchload watches a directory, normalizes delimited text, spreadsheets and JSON\n" +
			"into UTF-8 CSV, infers column types and bulk-loads each file into its own table.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Overload lets .env values replace variables already set in the shell.
			if err := godotenv.Overload(o.envFiles...); err != nil {
				if len(o.envFiles) > 0 {
					return fmt.Errorf("load env files: %w", err)
				}
				slog.Debug("no .env file found, using environment variables")
			}
			if o.output != "table" && o.output != "json" {
				return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", o.output)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&o.configPath, "config", "c", "", "YAML config file (default: $WATCHLOAD_CONFIG)")
	rootCmd.PersistentFlags().StringSliceVar(&o.envFiles, "env-file", nil, "env files to load (default: .env if present)")
	rootCmd.PersistentFlags().StringVarP(&o.output, "output", "o", "table", "Output format (table, json)")

	rootCmd.AddCommand(newRunCmd(o))
	rootCmd.AddCommand(newScanCmd(o))
	rootCmd.AddCommand(newTrackerCmd(o))
	rootCmd.AddCommand(newSanitizeCmd(o))
	rootCmd.AddCommand(newVersionCmd(o))

	return rootCmd
}

func newVersionCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.output == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]string{"version": version, "commit": commit})
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "watchload version %s (commit: %s)\n", version, commit)
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
