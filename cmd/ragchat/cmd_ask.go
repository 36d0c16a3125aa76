package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shaharia-lab/ragchat"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	replClearCommand = "/clear"
	replExitCommand  = "/exit"
)

func newAskCmd(opts *rootOptions) *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question from the terminal",
		Long: `Answers a single question, or starts an interactive session reading one
question per line from stdin when no question is given. Type /clear to forget
the conversation and /exit to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			a, err := newApp(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := setupTracing(a, opts.traceStdout, cmd.ErrOrStderr()); err != nil {
				return err
			}

			service, err := a.buildService(ctx)
			if err != nil {
				return err
			}

			if sessionID == "" {
				sessionID = ragchat.NewSessionID()
			}

			if len(args) > 0 {
				answer, err := ask(ctx, service, sessionID, strings.Join(args, " "))
				fmt.Fprintln(cmd.OutOrStdout(), answer)
				return err
			}
			return runREPL(ctx, service, sessionID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session ID to continue (a new one is generated when empty)")
	return cmd
}

func ask(ctx context.Context, service *ragchat.ConversationService, sessionID, question string) (string, error) {
	ctx, span := otel.Tracer(serviceName).Start(ctx, "cli.ask")
	defer span.End()
	span.SetAttributes(attribute.String("session_id", sessionID))

	return service.HandleTurn(ctx, sessionID, question)
}

func runREPL(ctx context.Context, service *ragchat.ConversationService, sessionID string, in io.Reader, out io.Writer) error {
	fmt.Fprintf(out, "Session %s. Ask a question, %s to reset, %s to quit.\n", sessionID, replClearCommand, replExitCommand)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case replExitCommand:
			return nil
		case replClearCommand:
			if err := service.ClearSession(ctx, sessionID); err != nil {
				fmt.Fprintln(out, "Failed to clear chat history")
				continue
			}
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		}

		answer, err := ask(ctx, service, sessionID, line)
		if err != nil && errors.Is(err, context.Canceled) {
			return err
		}
		fmt.Fprintln(out, answer)
	}
}
