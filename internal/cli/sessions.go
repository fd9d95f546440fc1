package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/memory-hub/internal/service"
)

func (a *app) directory() *service.Directory {
	return service.NewDirectory(a.client, a.session, a.log)
}

func newSessionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "sessions",
		Aliases: []string{"ls"},
		Short:   "List or delete sessions",
		Args:    cobra.NoArgs,
		RunE:    runSessionsList,
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List sessions, newest first",
			Args:  cobra.NoArgs,
			RunE:  runSessionsList,
		},
		&cobra.Command{
			Use:     "rm <session-id>",
			Aliases: []string{"delete"},
			Short:   "Delete a session",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				a := appFrom(cmd)
				if err := a.requireSession(); err != nil {
					return err
				}
				if err := a.directory().Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", successStyle.Render("Deleted"), idStyle.Render(args[0]))
				return nil
			},
		},
	)
	return cmd
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	a := appFrom(cmd)
	if err := a.requireSession(); err != nil {
		return err
	}
	sessions, _, err := a.directory().Fetch(cmd.Context())
	if err != nil {
		return err
	}
	renderSessionList(cmd.OutOrStdout(), sessions, "")
	return nil
}

func newHistoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history <session-id>",
		Short: "Print a session's messages, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if err := a.requireSession(); err != nil {
				return err
			}
			items, err := a.directory().FetchMessages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), items)
			return nil
		},
	}
}
