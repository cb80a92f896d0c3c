package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/z-chat/backend/internal/model/chat"
	"github.com/zhouzirui/z-chat/backend/internal/service/session"
)

var (
	sendModel  string
	sendSystem string
	sendCopy   bool
)

func init() {
	sendCmd.Flags().StringVar(&sendModel, "model", "", "model to request (saved to the session settings)")
	sendCmd.Flags().StringVar(&sendSystem, "system", "", "system prompt (saved to the session settings)")
	sendCmd.Flags().BoolVar(&sendCopy, "copy", false, "copy the reply to the clipboard")
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message and print the reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sess, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer sess.Close()

		applySettingFlags(ctx, sess, sendModel, sendSystem)

		if err := sess.ctrl.SendMessage(ctx, strings.Join(args, " "), nil); err != nil {
			return err
		}

		reply, err := lastReply(sess.store.Snapshot())
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), reply.Content)

		if sendCopy {
			if err := clipboard.WriteAll(reply.Content); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: could not copy to clipboard: %v\n", err)
			}
		}
		return nil
	},
}

// applySettingFlags routes --model and --system through the controller so the
// change is persisted like any other settings update. Unset flags are skipped.
func applySettingFlags(ctx context.Context, sess *localSession, model, system string) {
	var patch chat.SettingsPatch
	if model != "" {
		patch.SelectedModel = &model
	}
	if system != "" {
		patch.SystemPrompt = &system
	}
	if patch.SelectedModel == nil && patch.SystemPrompt == nil {
		return
	}
	sess.ctrl.UpdateSettings(ctx, patch)
}

// lastReply returns the newest assistant message, or the session error when
// the completion failed.
func lastReply(state session.State) (chat.Message, error) {
	if state.Error != nil {
		return chat.Message{}, errors.New(*state.Error)
	}
	for i := len(state.Messages) - 1; i >= 0; i-- {
		if state.Messages[i].Role == chat.RoleAssistant {
			return state.Messages[i], nil
		}
	}
	return chat.Message{}, errors.New("no reply received")
}
