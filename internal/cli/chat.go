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

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/orchestrator"
	"github.com/KafClaw/tenka/internal/responder"
)

var (
	chatMessage   string
	chatSessionID string
	chatProfile   map[string]string
	chatStep      string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the advisor in the terminal",
	Long: "Starts an interactive session. With --message a single turn is run and the command exits.\n" +
		"In the interactive prompt, /reset clears the conversation, /step STEP_n selects the negotiation step and /exit quits.",
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "Send one message and exit")
	chatCmd.Flags().StringVarP(&chatSessionID, "session", "s", "cli:default", "Session ID")
	chatCmd.Flags().StringToStringVar(&chatProfile, "profile", nil, "Company profile entries (industry=...,region=...)")
	chatCmd.Flags().StringVar(&chatStep, "step", "", "Initial negotiation step (STEP_0 .. STEP_5)")
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	go func() { _ = rt.bus.DispatchTurns(ctx) }()

	sess := rt.orch.GetOrCreateSession(chatSessionID, responder.Profile(chatProfile))
	if chatStep != "" {
		if err := rt.orch.UpdateStep(sess.ID, chatStep); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	if chatMessage != "" {
		return chatTurn(ctx, rt.orch, sess.ID, chatMessage, out)
	}

	printHeader(out, "💬 tenka Chat")
	for _, m := range sess.Messages() {
		fmt.Fprintln(out, color.BlueString("tenka> ")+m.Content)
	}
	return chatLoop(ctx, rt.orch, sess.ID, cmd.InOrStdin(), out)
}

func chatLoop(ctx context.Context, orch *orchestrator.Orchestrator, sessionID string, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, color.GreenString("\nあなた> "))
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/reset":
			if _, err := orch.ResetSession(sessionID); err != nil {
				return err
			}
			fmt.Fprintln(out, color.YellowString("会話をリセットしました。"))
			continue
		case strings.HasPrefix(line, "/step "):
			step := strings.TrimSpace(strings.TrimPrefix(line, "/step "))
			if err := orch.UpdateStep(sessionID, step); err != nil {
				fmt.Fprintln(out, color.RedString("ステップを変更できません: %v", err))
				continue
			}
			fmt.Fprintln(out, color.YellowString("ステップを %s に変更しました。", step))
			continue
		}
		if err := chatTurn(ctx, orch, sessionID, line, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintln(out, color.RedString("エラー: %v", err))
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// chatTurn runs one turn and prints its events as they arrive.
func chatTurn(ctx context.Context, orch *orchestrator.Orchestrator, sessionID, message string, out io.Writer) error {
	events, err := orch.Stream(ctx, sessionID, message)
	if err != nil {
		return err
	}
	fmt.Fprint(out, color.BlueString("tenka> "))
	var failed string
	for ev := range events {
		switch ev.Type {
		case responder.TypeModeChanged:
			fmt.Fprintln(out, color.YellowString("[モード: %s]", orch.Catalog().Title(ev.Mode)))
		case responder.TypeToolStatus:
			fmt.Fprintln(out, color.CyanString("\n[%s を実行中...]", ev.Tool))
		case responder.TypeTextDelta:
			fmt.Fprint(out, ev.Text)
		case responder.TypeArtifact:
			if ev.Artifact != nil {
				fmt.Fprintln(out, color.CyanString("\n[資料: %s]", ev.Artifact.Title))
			}
		case responder.TypeError:
			failed = ev.Error
		}
	}
	fmt.Fprintln(out)
	if failed != "" {
		return errors.New(failed)
	}
	return nil
}
