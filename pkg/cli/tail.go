package cli

import (
	"fmt"

	"github.com/downfa11-org/cursus-queue/pkg/queue"
	"github.com/downfa11-org/cursus-queue/pkg/types"
	"github.com/downfa11-org/cursus-queue/util"
	"github.com/spf13/cobra"
)

type tailOptions struct {
	From     string
	Backward bool
	Limit    int
	Name     string
}

// NewTailCommand creates the tail command.
func NewTailCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &tailOptions{}

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print records from the queue",
		Long: `Print records as "<index>\t<payload>". Reading starts at the first
record, at --from, or at the end when reading --backward. A --name tailer
resumes from its last commit and commits when done.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTail(rootOpts, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "start index (decimal or 0x hex)")
	cmd.Flags().BoolVarP(&opts.Backward, "backward", "b", false, "read newest first")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "stop after n records (0 = all)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "named tailer with a persisted checkpoint")
	return cmd
}

func runTail(rootOpts *RootOptions, opts *tailOptions, cmd *cobra.Command) error {
	q, closeQueue, err := rootOpts.openQueue(opts.Name == "")
	if err != nil {
		return err
	}
	defer closeQueue()

	var tailer *queue.Tailer
	if opts.Name != "" {
		tailer, err = q.CreateNamedTailer(opts.Name)
	} else {
		tailer, err = q.CreateTailer()
	}
	if err != nil {
		return err
	}
	defer tailer.Close()

	if opts.Backward {
		if err := tailer.SetDirection(types.DirectionBackward); err != nil {
			return err
		}
	}
	if opts.From != "" {
		index, err := util.ParseIndex(opts.From)
		if err != nil {
			return err
		}
		ok, err := tailer.MoveToIndex(index)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("index %#x is not in the queue", index)
		}
	} else if opts.Backward {
		if err := tailer.ToEnd(); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for n := 0; opts.Limit == 0 || n < opts.Limit; n++ {
		ex, ok, err := tailer.Read()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		fmt.Fprintf(out, "%#x\t%s\n", ex.Index, ex.Payload)
	}

	if opts.Name != "" {
		return tailer.Commit()
	}
	return nil
}
