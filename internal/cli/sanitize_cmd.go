package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/watchload/internal/loader"
)

func newSanitizeCmd(o *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sanitize <filename>...",
		Short: "Print the destination table name derived from each filename",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			type mapping struct {
				File  string `json:"file"`
				Table string `json:"table"`
			}
			out := make([]mapping, 0, len(args))
			for _, name := range args {
				table, err := loader.SanitizeTableName(name)
				if err != nil {
					return err
				}
				out = append(out, mapping{File: name, Table: table})
			}

			if o.output == "json" {
				return printJSON(cmd.OutOrStdout(), out)
			}
			for _, m := range out {
				if len(out) == 1 {
					fmt.Fprintln(cmd.OutOrStdout(), m.Table)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", m.File, m.Table)
			}
			return nil
		},
	}
}
