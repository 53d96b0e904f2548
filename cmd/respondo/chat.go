package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bull/respondo-rag/internal/chat"
)

var conversationID string

var chatCmd = &cobra.Command{
	Use:   "chat [MESSAGE]",
	Short: "Ask questions grounded in the ingested documents",
	Long: `Streams an answer for MESSAGE, or starts an interactive session reading one
question per line from stdin when no message is given. Ctrl-C cancels.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&conversationID, "conversation", "", "conversation id to continue (default: new)")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp(a, cmd.ErrOrStderr())

	id := conversationID
	if id == "" {
		id = uuid.NewString()
	}
	conv, err := a.Conversations.Get(cmd.Context(), id)
	if err != nil {
		return err
	}

	if len(args) > 0 {
		return ask(cmd, conv, strings.Join(args, " "), out)
	}

	fmt.Fprintf(out, "Conversation %s. Empty line to quit.\n", id)
	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			return nil
		}
		if err := ask(cmd, conv, line, out); err != nil {
			return err
		}
	}
}

func ask(cmd *cobra.Command, conv *chat.Conversation, message string, out io.Writer) error {
	session, err := conv.Send(cmd.Context(), message, chat.Callbacks{
		OnToken: func(token string) {
			fmt.Fprint(out, token)
		},
		OnRetry: func(attempt int, delay time.Duration, err error) {
			fmt.Fprintf(cmd.ErrOrStderr(), "\n[retry %d in %s: %v]\n", attempt, delay, err)
		},
	})
	if err != nil {
		return err
	}

	switch session.Wait() {
	case chat.OutcomeCompleted:
		fmt.Fprintln(out)
		return nil
	case chat.OutcomeCancelled:
		fmt.Fprintln(out, "\n[cancelled]")
		return cmd.Context().Err()
	default:
		fmt.Fprintln(out, chat.ErrorReply)
		return session.Err()
	}
}
