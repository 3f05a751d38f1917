package cli

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/downfa11-org/cursus-queue/pkg/queue"
	"github.com/downfa11-org/cursus-queue/util"
	"github.com/spf13/cobra"
)

// NewBoundsCommand creates the bounds command.
func NewBoundsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "bounds",
		Short: "Show first and last cycle, index and the entry count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeQueue, err := rootOpts.openQueue(true)
			if err != nil {
				return err
			}
			defer closeQueue()

			out := cmd.OutOrStdout()
			first, err := q.FirstCycle()
			if errors.Is(err, queue.ErrEmptyQueue) {
				fmt.Fprintln(out, "queue is empty")
				return nil
			}
			if err != nil {
				return err
			}
			last, err := q.LastCycle()
			if err != nil {
				return err
			}
			firstIndex, err := q.FirstIndex()
			if err != nil {
				return err
			}
			count, err := q.EntryCount()
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "roll cycle:  %s\n", q.RollCycle())
			fmt.Fprintf(out, "first cycle: %d\n", first)
			fmt.Fprintf(out, "last cycle:  %d\n", last)
			fmt.Fprintf(out, "first index: %#x\n", firstIndex)
			if lastIndex, err := q.LastIndex(); err == nil {
				fmt.Fprintf(out, "last index:  %#x\n", lastIndex)
			}
			fmt.Fprintf(out, "entries:     %d\n", count)
			return nil
		},
	}
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count <from> <to>",
		Short: "Count records with index in [from, to)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := util.ParseIndex(args[0])
			if err != nil {
				return err
			}
			to, err := util.ParseIndex(args[1])
			if err != nil {
				return err
			}

			q, closeQueue, err := rootOpts.openQueue(true)
			if err != nil {
				return err
			}
			defer closeQueue()

			n, err := q.CountExcerpts(from, to)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}

// NewCyclesCommand creates the cycles command.
func NewCyclesCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "List cycle files with their record counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q, closeQueue, err := rootOpts.openQueue(true)
			if err != nil {
				return err
			}
			defer closeQueue()

			files, err := q.ListCycles()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CYCLE\tRECORDS\tSIZE\tFILE")
			for _, f := range files {
				records := "-"
				if n, err := q.ExcerptsInCycle(f.Cycle); err == nil {
					records = fmt.Sprint(n)
				} else {
					util.Debug("count cycle %d: %v", f.Cycle, err)
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", f.Cycle, records, f.Size, f.Path)
			}
			return w.Flush()
		},
	}
}

// NewRetainCommand creates the retain command.
func NewRetainCommand(rootOpts *RootOptions) *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "retain",
		Short: "Soft-delete all but the newest cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if keep <= 0 {
				return fmt.Errorf("--keep must be positive")
			}
			q, closeQueue, err := rootOpts.openQueue(false)
			if err != nil {
				return err
			}
			defer closeQueue()

			n, err := q.EnforceRetention(keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "marked %d cycle files as deleted\n", n)
			return nil
		},
	}

	cmd.Flags().IntVarP(&keep, "keep", "k", 0, "number of newest cycles to keep")
	return cmd
}
