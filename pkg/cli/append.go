package cli

import (
	"bufio"
	"fmt"

	"github.com/downfa11-org/cursus-queue/pkg/queue"
	"github.com/spf13/cobra"
)

// NewAppendCommand creates the append command.
func NewAppendCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append [message...]",
		Short: "Append messages to the queue",
		Long: `Append each argument as one record. Without arguments every line
read from stdin becomes a record. Prints the index of each record.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAppend(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runAppend(opts *RootOptions, args []string, cmd *cobra.Command) error {
	q, closeQueue, err := opts.openQueue(false)
	if err != nil {
		return err
	}
	defer closeQueue()

	a, err := q.AcquireAppender(queue.NewOwner())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	write := func(msg []byte) error {
		idx, err := a.WriteBytes(msg)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%#x\n", idx)
		return nil
	}

	if len(args) > 0 {
		for _, arg := range args {
			if err := write([]byte(arg)); err != nil {
				return err
			}
		}
		return a.Sync()
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		if err := write(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	return a.Sync()
}
