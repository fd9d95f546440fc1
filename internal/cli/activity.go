package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newActivityCommand() *cobra.Command {
	var (
		sessionID string
		after     uint64
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show recent conversation activity from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if !a.cfg.JournalEnabled() {
				return errors.New("NATS_URL is not set; the activity journal is disabled")
			}
			if err := a.requireSession(); err != nil {
				return err
			}
			id, err := a.session.Identity()
			if err != nil {
				return err
			}

			client, journal, err := a.connectJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer client.Close()

			events, last, err := journal.Recent(cmd.Context(), id.TenantID, sessionID, after, limit)
			if err != nil {
				return fmt.Errorf("failed to read activity: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(events) == 0 {
				fmt.Fprintln(out, statusStyle.Render("No activity."))
				return nil
			}
			fmt.Fprintln(out, headerStyle.Render(fmt.Sprintf("Activity (%d)", len(events))))
			for _, evt := range events {
				renderEvent(out, evt)
			}
			fmt.Fprintln(out, dateStyle.Render(fmt.Sprintf("last sequence: %d", last)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Only events for this session")
	cmd.Flags().Uint64Var(&after, "after", 0, "Only events after this stream sequence")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of events")
	return cmd
}
