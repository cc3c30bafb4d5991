package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/watchload/internal/admin"
	"github.com/JonMunkholm/watchload/internal/tracker"
)

type trackerOptions struct {
	*rootOptions
	path string
}

func newTrackerCmd(root *rootOptions) *cobra.Command {
	o := &trackerOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:   "tracker",
		Short: "Inspect and maintain the processed-file tracker",
	}
	cmd.PersistentFlags().StringVar(&o.path, "path", "", "tracker database (default: from configuration)")

	cmd.AddCommand(newTrackerListCmd(o))
	cmd.AddCommand(newTrackerForgetCmd(o))
	cmd.AddCommand(newTrackerResetCmd(o))
	return cmd
}

// openTracker opens the tracker named by --path, falling back to the
// configured path. Only the tracker section of the config is needed, so the
// environment is read directly rather than through full validation.
func (o *trackerOptions) openTracker() (*tracker.Tracker, error) {
	path := o.path
	if path == "" {
		path = os.Getenv("TRACKER_PATH")
	}
	if path == "" {
		cfg, closeLog, err := loadConfig(o.rootOptions)
		if err != nil {
			return nil, err
		}
		defer closeLog()
		path = cfg.Tracker.Path
	}
	return tracker.Open(path)
}

func newTrackerListCmd(o *trackerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List processed files and their recorded modification times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, err := o.openTracker()
			if err != nil {
				return err
			}
			defer tr.Close()

			recs, err := tr.List(cmd.Context())
			if err != nil {
				return err
			}

			if o.output == "json" {
				if recs == nil {
					recs = []tracker.Record{}
				}
				return printJSON(cmd.OutOrStdout(), recs)
			}

			if len(recs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no processed files")
				return nil
			}
			data := pterm.TableData{{"FILENAME", "LAST MODIFIED"}}
			for _, r := range recs {
				data = append(data, []string{r.Filename, r.LastModified.Format(time.RFC3339)})
			}
			table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}
}

func newTrackerForgetCmd(o *trackerOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "forget <filename>...",
		Short: "Forget files so they are loaded again on the next event or scan",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tr, err := o.openTracker()
			if err != nil {
				return err
			}
			defer tr.Close()

			forgotten, err := admin.ForgetFiles(cmd.Context(), tr, args...)
			if err != nil {
				return err
			}
			for _, name := range forgotten {
				fmt.Fprintf(cmd.OutOrStdout(), "forgot %s\n", name)
			}
			if len(forgotten) < len(args) {
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d files had no record\n", len(args)-len(forgotten), len(args))
			}
			return nil
		},
	}
}

var errResetNotConfirmed = errors.New("refusing to reset the tracker without --yes")

func newTrackerResetCmd(o *trackerOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every tracker record",
		Long: "reset forgets every processed file. Destination tables are not touched, so\n" +
			"files whose table already exists are skipped when they are seen again.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errResetNotConfirmed
			}
			tr, err := o.openTracker()
			if err != nil {
				return err
			}
			defer tr.Close()

			n, err := admin.ResetAll(cmd.Context(), tr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d records\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deleting every record")
	return cmd
}
