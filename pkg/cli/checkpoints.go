package cli

import (
	"fmt"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// NewCheckpointsCommand creates the checkpoints command and its delete subcommand.
func NewCheckpointsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List committed positions of named tailers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeQueue, err := rootOpts.openQueue(true)
			if err != nil {
				return err
			}
			defer closeQueue()

			offsets, err := q.Checkpoints()
			if err != nil {
				return err
			}
			names := make([]string, 0, len(offsets))
			for name := range offsets {
				names = append(names, name)
			}
			sort.Strings(names)

			rc := q.RollCycle()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tINDEX\tCYCLE\tSEQUENCE")
			for _, name := range names {
				index := offsets[name]
				fmt.Fprintf(w, "%s\t%#x\t%d\t%d\n", name, index, rc.ToCycle(index), rc.ToSequenceNumber(index))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <name>",
		Short: "Forget a named tailer's checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeQueue, err := rootOpts.openQueue(false)
			if err != nil {
				return err
			}
			defer closeQueue()

			if err := q.DeleteCheckpoint(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted checkpoint %s\n", args[0])
			return nil
		},
	})
	return cmd
}
