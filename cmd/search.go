package cmd

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"mailtriage/internal/handoff"
	"mailtriage/internal/triage"
)

// cliOwner is the handoff slot owner used by the CLI commands.
const cliOwner = "cli"

// statusError carries the line shown to the user and the underlying error.
type statusError struct {
	status string
	err    error
}

func (e *statusError) Error() string { return e.status }
func (e *statusError) Unwrap() error { return e.err }

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "search <keyword>...",
		Short: "Search emails by keyword and store the results",
		Long: `Search emails by keyword. The arguments are joined with spaces.

The response is stored as the current results, which the results and act
commands read.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			keyword := strings.Join(args, " ")
			fmt.Fprintln(cmd.ErrOrStderr(), triage.MsgSearching)

			if _, err := rt.service.Search(commandContext(cmd), cliOwner, keyword); err != nil {
				return &statusError{status: triage.StatusFor(triage.OpSearch, err), err: err}
			}

			if raw {
				return printRaw(cmd.OutOrStdout(), rt.service)
			}
			page, err := rt.service.Results(cliOwner)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the backend response exactly as received")
	return cmd
}

func newResultsCmd(opts *rootOptions) *cobra.Command {
	var raw bool

	cmd := &cobra.Command{
		Use:   "results",
		Short: "Show the results of the last search",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := opts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			if raw {
				return printRaw(cmd.OutOrStdout(), rt.service)
			}
			page, err := rt.service.Results(cliOwner)
			if err != nil {
				return err
			}
			printPage(cmd.OutOrStdout(), page)
			return nil
		},
	}

	cmd.Flags().BoolVar(&raw, "raw", false, "Print the stored backend response exactly as received")
	return cmd
}

func printRaw(w io.Writer, service *triage.Service) error {
	raw, err := service.Raw(cliOwner)
	if errors.Is(err, handoff.ErrNoSlot) {
		return errors.New(triage.MsgNoResults)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(raw))
	return err
}

func printPage(w io.Writer, page *triage.Page) {
	if page.Placeholder != "" {
		fmt.Fprintln(w, page.Placeholder)
		return
	}

	fmt.Fprintln(w, page.Heading())
	if len(page.Items) == 0 {
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "SENDER", "SUBJECT")
	for _, e := range page.Items {
		t.Row(e.ID, e.Sender, e.Subject)
	}
	fmt.Fprintln(w, t.Render())
}
