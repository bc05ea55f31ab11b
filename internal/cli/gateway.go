package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/KafClaw/tenka/internal/channels"
	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/gateway"
	"github.com/KafClaw/tenka/internal/relay"
)

var (
	gatewayHost string
	gatewayPort int
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the HTTP API (and the Slack channel when enabled)",
	RunE:  runGateway,
}

func init() {
	gatewayCmd.Flags().StringVar(&gatewayHost, "host", "", "Listen host (overrides gateway.host)")
	gatewayCmd.Flags().IntVar(&gatewayPort, "port", 0, "Listen port (overrides gateway.port)")
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader(cmd.OutOrStdout(), "🌐 tenka Gateway")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if gatewayHost != "" {
		cfg.Gateway.Host = gatewayHost
	}
	if gatewayPort > 0 {
		cfg.Gateway.Port = gatewayPort
	}
	logger := newLogger(cfg.Logging, os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	go func() {
		if err := rt.bus.DispatchTurns(ctx); err != nil && ctx.Err() == nil {
			logger.Error("Turn dispatcher stopped", "error", err)
		}
	}()

	opts := gateway.Options{Version: version}
	if rt.timeline != nil {
		opts.Timeline = rt.timeline
	}
	srv := gateway.New(rt.orch, cfg.Gateway, opts)
	go srv.RunJanitor(ctx, 0)

	if cfg.Slack.Enabled {
		if err := startSlack(ctx, cfg, rt); err != nil {
			return err
		}
	}

	logger.Info("Gateway starting",
		"host", cfg.Gateway.Host,
		"port", cfg.Gateway.Port,
		"policy", cfg.Router.ModeSwitchPolicy,
		"judge", cfg.Router.ConsentJudge,
		"timeline", cfg.Timeline.Enabled,
		"kafka", cfg.Kafka.Enabled,
		"slack", cfg.Slack.Enabled,
	)
	return srv.ListenAndServe(ctx)
}

// startSlack connects the Slack channel and runs the relay between the
// bus and the orchestrator until ctx is cancelled.
func startSlack(ctx context.Context, cfg *config.Config, rt *runtime) error {
	ch, err := channels.NewSlackChannel(cfg.Slack, rt.bus, nil)
	if err != nil {
		return err
	}
	if err := ch.Start(ctx); err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		_ = ch.Stop()
	}()
	go func() { _ = rt.bus.DispatchOutbound(ctx) }()
	go func() { _ = relay.New(rt.bus, rt.orch).Run(ctx) }()
	return nil
}
