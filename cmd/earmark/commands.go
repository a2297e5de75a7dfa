package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"earmark/internal/plan"
)

// reportWriter picks the report destination: the -o file when given,
// otherwise the command's stdout.
func (c *commandContext) reportWriter(cmd *cobra.Command) (io.Writer, func() error, error) {
	if c.flags.opfile == "" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	file, err := os.Create(c.flags.opfile)
	if err != nil {
		return nil, nil, fmt.Errorf("create output file: %w", err)
	}
	return file, file.Close, nil
}

// runPlan builds and runs one command end to end.
func (c *commandContext) runPlan(cmd *cobra.Command, command string, args []string, listFn func(string, uint64)) error {
	output, closeOutput, err := c.reportWriter(cmd)
	if err != nil {
		return err
	}

	opts, err := c.planOptions(cmd, command, args, output)
	if err != nil {
		closeOutput()
		return err
	}
	opts.List = listFn

	p, err := plan.Build(opts)
	if err != nil {
		closeOutput()
		return err
	}
	runErr := p.Run(cmd.Context())
	if err := closeOutput(); err != nil && runErr == nil {
		return fmt.Errorf("close output file: %w", err)
	}
	return runErr
}

func newNewCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "new <audio>...",
		Short: "Create a fresh index from audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPlan(cmd, "new", args, nil)
		},
	}
}

func newAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <audio>...",
		Short: "Add audio files to an existing index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPlan(cmd, "add", args, nil)
		},
	}
}

func newPrecomputeCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "precompute <audio>...",
		Short: "Cache analysis artifacts for audio files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPlan(cmd, "precompute", args, nil)
		},
	}
	addPrecomputeFlags(cmd, &ctx.flags)
	return cmd
}

func newMergeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "merge <index>...",
		Short: "Merge saved indexes into an existing index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPlan(cmd, "merge", args, nil)
		},
	}
}

func newNewMergeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "newmerge <index>...",
		Short: "Merge saved indexes into a fresh index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPlan(cmd, "newmerge", args, nil)
		},
	}
}

func newMatchCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match <audio>...",
		Short: "Match query audio against an index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPlan(cmd, "match", args, nil)
		},
	}
	addMatchFlags(cmd, &ctx.flags)
	return cmd
}

func newListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every name stored in an index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Render a table on a terminal; keep plain lines for pipes
			// and -o files.
			if ctx.flags.opfile != "" || !isatty.IsTerminal(os.Stdout.Fd()) {
				return ctx.runPlan(cmd, "list", args, nil)
			}
			var rows [][]string
			err := ctx.runPlan(cmd, "list", args, func(name string, hashes uint64) {
				rows = append(rows, []string{name, fmt.Sprintf("%d", hashes)})
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(),
				renderTable([]string{"NAME", "HASHES"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}
}

func newRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <name>...",
		Short: "Remove named files from an index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.runPlan(cmd, "remove", args, nil)
		},
	}
}
