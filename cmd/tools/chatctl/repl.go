package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
)

var (
	replImport string
	replOut    string
	replCopy   bool
)

func init() {
	replCmd.Flags().StringVar(&replImport, "import", "", "restore a previously exported conversation")
	replCmd.Flags().StringVar(&replOut, "out", "", "write the conversation export to this file on exit")
	replCmd.Flags().BoolVar(&replCopy, "copy", false, "copy the conversation export to the clipboard on exit")
}

var replCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive conversation; /retry, /clear, /reset, /export, /quit",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		if replImport != "" {
			data, err := os.ReadFile(replImport)
			if err != nil {
				return fmt.Errorf("read import: %w", err)
			}
			if err := sess.ctrl.ImportSession(ctx, string(data)); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		r := &repl{ctx: ctx, sess: sess, out: out}
		if err := r.run(cmd.InOrStdin()); err != nil {
			return err
		}
		return r.finish()
	},
}

type repl struct {
	ctx     context.Context
	sess    *localSession
	out     io.Writer
	lastID  string
	lastErr string
	printed int
}

func (r *repl) run(in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			r.sess.ctrl.ClearChat()
			r.printed, r.lastID = 0, ""
			continue
		case "/reset":
			r.sess.ctrl.ResetSession()
			r.printed, r.lastID = 0, ""
			continue
		case "/export":
			blob, err := r.sess.ctrl.ExportSession()
			if err != nil {
				return err
			}
			fmt.Fprintln(r.out, blob)
			continue
		case "/retry":
			if r.lastID == "" {
				fmt.Fprintln(r.out, "nothing to retry")
				continue
			}
			if err := r.sess.ctrl.RetryMessage(r.ctx, r.lastID); err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			r.flush()
			continue
		}

		if err := r.sess.ctrl.SendMessage(r.ctx, line, nil); err != nil {
			fmt.Fprintf(r.out, "error: %v\n", err)
			continue
		}
		r.flush()
	}
}

// flush prints assistant replies and errors produced since the last call.
func (r *repl) flush() {
	state := r.sess.store.Snapshot()
	for _, msg := range state.Messages[min(r.printed, len(state.Messages)):] {
		switch msg.Role {
		case chat.RoleUser:
			r.lastID = msg.ID
		case chat.RoleAssistant:
			fmt.Fprintln(r.out, msg.Content)
		case chat.RoleError:
			fmt.Fprintf(r.out, "error: %s\n", msg.Content)
		}
	}
	r.printed = len(state.Messages)
	if state.Error != nil && *state.Error != r.lastErr {
		fmt.Fprintf(r.out, "error: %s\n", *state.Error)
		r.lastErr = *state.Error
	}
}

func (r *repl) finish() error {
	if replOut == "" && !replCopy {
		return nil
	}
	blob, err := r.sess.ctrl.ExportSession()
	if err != nil {
		return err
	}
	if replOut != "" {
		if err := os.WriteFile(replOut, []byte(blob), 0o644); err != nil {
			return fmt.Errorf("write export: %w", err)
		}
		fmt.Fprintf(r.out, "Conversation written to %s\n", replOut)
	}
	if replCopy {
		if err := clipboard.WriteAll(blob); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not copy to clipboard: %v\n", err)
		} else {
			fmt.Fprintln(r.out, "Conversation copied to clipboard!")
		}
	}
	return nil
}
