package cmd

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"mailtriage/internal/triage"
	"mailtriage/models"
	"mailtriage/pkg/concurrent"
)

// actionJob applies one action to one email and reports its own status lines.
type actionJob struct {
	service *triage.Service
	seq     uint64
	id      string
	action  models.Action
	out     *lineWriter
}

func (j *actionJob) Do(ctx context.Context) error {
	j.out.printf("%s: %s\n", j.id, triage.Performing(j.action))

	res, err := j.service.Act(ctx, cliOwner, j.seq, j.id, j.action)
	if err != nil {
		j.out.printf("%s: %s\n", j.id, triage.MsgActionFailed)
		return err
	}
	j.out.printf("%s: %s\n", j.id, res.Result)
	return nil
}

// lineWriter serialises whole lines from concurrent jobs.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lineWriter) printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.w, format, args...)
}

func newActCmd(opts *rootOptions) *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "act <trash|archive|dry-run> <email-id>...",
		Short: "Apply an action to one or more emails",
		Long: `Apply an action to one or more emails.

Each id is sent to the backend as its own request; at most --concurrency
requests run at once. Ids that belong to the last search are removed from
its stored results when the action succeeds.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action, err := models.ParseAction(args[0])
			if err != nil {
				return err
			}

			rt, err := opts.open(cmd, nil)
			if err != nil {
				return err
			}
			defer rt.Close()

			seq, err := rt.service.Current(cliOwner)
			if err != nil {
				return err
			}

			out := &lineWriter{w: cmd.OutOrStdout()}
			ids := args[1:]
			jobs := make([]concurrent.Job, len(ids))
			for i, id := range ids {
				jobs[i] = &actionJob{service: rt.service, seq: seq, id: id, action: action, out: out}
			}

			failed := 0
			for _, err := range concurrent.Run(commandContext(cmd), concurrency, jobs) {
				if err != nil {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d actions failed", failed, len(ids))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 4, "Maximum number of concurrent backend requests")
	return cmd
}
