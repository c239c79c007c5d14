package cmd

import (
	"github.com/spf13/cobra"

	"mailtriage/internal/tui"
)

func newTUICmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Run the terminal UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			return tui.Run(commandContext(cmd), rt.service)
		},
	}
}
