package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/memory-hub/internal/model"
	"github.com/capitalize-ai/memory-hub/internal/service"
)

const chatHelp = `Commands:
  /new           start a new chat
  /open <id>     open a session
  /sessions      list sessions
  /rm <id>       delete a session
  /help          show this help
  /quit          exit
Press Ctrl-C while an answer streams to stop it; the partial answer is saved.`

func newChatCommand() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat",
		Long: `Start an interactive chat. Lines are sent as messages; lines starting with
a slash are commands.

` + chatHelp,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := appFrom(cmd)
			if err := a.requireSession(); err != nil {
				return err
			}

			var opts []service.Option
			natsClient, journal, err := a.connectJournal(cmd.Context())
			if err != nil {
				a.log.Warn("activity journal disabled", zap.Error(err))
			} else if journal != nil {
				defer natsClient.Close()
				opts = append(opts, service.WithJournal(journal))
			}

			conv := service.NewConversation(a.client, a.session, a.log, opts...)
			defer conv.Wait()

			r := &repl{
				conv: conv,
				in:   cmd.InOrStdin(),
				out:  cmd.OutOrStdout(),
			}
			if sessionID != "" {
				if err := r.open(cmd.Context(), sessionID); err != nil {
					return err
				}
			}
			return r.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Open this session instead of a new chat")
	return cmd
}

type repl struct {
	conv *service.Conversation
	in   io.Reader
	out  io.Writer
}

func (r *repl) run(ctx context.Context) error {
	snap := r.conv.State()
	fmt.Fprintln(r.out, headerStyle.Render(snap.Topic))
	fmt.Fprintln(r.out, statusStyle.Render("Type /help for commands."))

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(r.out, userStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := r.command(ctx, line)
			if err != nil {
				fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
			}
			if quit {
				return nil
			}
			continue
		}

		if err := r.turn(ctx, line); err != nil {
			fmt.Fprintln(r.out, errorStyle.Render(err.Error()))
		}
	}
}

func (r *repl) command(ctx context.Context, line string) (quit bool, err error) {
	fields := strings.Fields(line)
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/new":
		r.conv.NewChat()
		fmt.Fprintln(r.out, headerStyle.Render(r.conv.State().Topic))
	case "/open":
		if arg == "" {
			return false, errors.New("usage: /open <session-id>")
		}
		return false, r.open(ctx, arg)
	case "/sessions":
		sessions, err := r.conv.RefreshSessions(ctx)
		if err != nil {
			return false, err
		}
		renderSessionList(r.out, sessions, r.conv.State().SessionID)
	case "/rm":
		if arg == "" {
			return false, errors.New("usage: /rm <session-id>")
		}
		if err := r.conv.DeleteSession(ctx, arg); err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s %s\n", successStyle.Render("Deleted"), idStyle.Render(arg))
	default:
		return false, fmt.Errorf("unknown command %s; type /help", fields[0])
	}
	return false, nil
}

func (r *repl) open(ctx context.Context, sessionID string) error {
	s, ok := r.conv.Directory().Lookup(sessionID)
	if !ok {
		if _, err := r.conv.RefreshSessions(ctx); err != nil {
			return err
		}
		s, ok = r.conv.Directory().Lookup(sessionID)
	}
	if !ok {
		return fmt.Errorf("session %s not found", sessionID)
	}

	if err := r.conv.OpenSession(ctx, s); err != nil {
		return err
	}

	snap := r.conv.State()
	fmt.Fprintln(r.out, headerStyle.Render(snap.Topic))
	for _, m := range snap.Messages {
		fmt.Fprintln(r.out, roleLabel(m.Role))
		fmt.Fprintln(r.out, indent(m.Content))
	}
	return nil
}

// turn sends one message and prints the answer as it streams. An interrupt
// stops the stream.
func (r *repl) turn(ctx context.Context, text string) error {
	turnCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	updates, unsubscribe := r.conv.Subscribe()
	defer unsubscribe()

	done, err := r.conv.Start(turnCtx, text)
	if err != nil {
		return err
	}

	assistantID := lastAssistantID(r.conv.State())
	fmt.Fprintln(r.out, roleLabel(model.RoleAssistant))
	fmt.Fprint(r.out, "  ")

	printed := 0
	flush := func() {
		m, ok := findMessage(r.conv.State(), assistantID)
		if !ok || len(m.Content) <= printed {
			return
		}
		fmt.Fprint(r.out, strings.ReplaceAll(m.Content[printed:], "\n", "\n  "))
		printed = len(m.Content)
	}

	for {
		select {
		case <-updates:
			flush()
		case err := <-done:
			flush()
			fmt.Fprintln(r.out)
			r.printOutcome(turnCtx, assistantID)
			return err
		}
	}
}

func (r *repl) printOutcome(ctx context.Context, assistantID int64) {
	snap := r.conv.State()
	switch {
	case ctx.Err() != nil:
		fmt.Fprintln(r.out, warningStyle.Render("Stopped."))
	case snap.Status != "":
		if m, ok := findMessage(snap, assistantID); ok && m.Variant == model.VariantError {
			fmt.Fprintln(r.out, errorStyle.Render(snap.Status))
			return
		}
		fmt.Fprintln(r.out, statusStyle.Render(snap.Status))
	}
}

func lastAssistantID(snap service.Snapshot) int64 {
	for i := len(snap.Messages) - 1; i >= 0; i-- {
		if snap.Messages[i].Role == model.RoleAssistant {
			return snap.Messages[i].ID
		}
	}
	return 0
}

func findMessage(snap service.Snapshot, id int64) (model.Message, bool) {
	for _, m := range snap.Messages {
		if m.ID == id {
			return m, true
		}
	}
	return model.Message{}, false
}
