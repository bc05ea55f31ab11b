package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/eventlog"
	"github.com/KafClaw/tenka/internal/provider"
)

var statusProbe bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tenka %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration status",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		printHeader(out, "📊 tenka Status")
		fmt.Fprintf(out, "Version:  %s\n", version)

		path, _ := config.ConfigPath()
		if _, err := os.Stat(path); err == nil {
			fmt.Fprintln(out, "Config:   "+check(true)+" "+path)
		} else {
			fmt.Fprintln(out, "Config:   "+check(false)+" not found (run 'tenka config init')")
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(out, "Config:   %s %v\n", check(false), err)
			return
		}
		fmt.Fprintf(out, "Model:    %s\n", cfg.Model.Name)
		for _, role := range []provider.Role{provider.RoleResponder, provider.RoleClassifier} {
			_, err := provider.Resolve(cfg, role)
			if err != nil {
				fmt.Fprintf(out, "Provider: %s %s (%v)\n", check(false), role, err)
			} else {
				fmt.Fprintf(out, "Provider: %s %s\n", check(true), role)
			}
		}
		fmt.Fprintf(out, "Router:   policy=%s judge=%s low=%.2f\n", cfg.Router.ModeSwitchPolicy, cfg.Router.ConsentJudge, cfg.Router.LowConfidence)
		fmt.Fprintf(out, "Search:   %s\n", check(cfg.Tools.Search.APIKey != ""))

		if cfg.Timeline.Enabled {
			_, err := os.Stat(cfg.Timeline.DBPath)
			fmt.Fprintf(out, "Timeline: %s %s\n", check(err == nil), cfg.Timeline.DBPath)
		} else {
			fmt.Fprintln(out, "Timeline: disabled")
		}
		if cfg.Kafka.Enabled {
			fmt.Fprintf(out, "Kafka:    %s -> %s\n", cfg.Kafka.Brokers, cfg.Kafka.Topic)
			if statusProbe {
				res := eventlog.Probe(cmd.Context(), cfg.Kafka.Brokers, cfg.Kafka.Topic, 5*time.Second)
				switch {
				case res.Err != nil:
					fmt.Fprintf(out, "          %s %s: %v\n", check(false), res.Broker, res.Err)
				case res.TopicFound:
					fmt.Fprintf(out, "          %s %s, %d partitions\n", check(true), res.Broker, res.Partitions)
				default:
					fmt.Fprintf(out, "          %s %s\n", check(true), res.Broker)
				}
				if res.Hint != "" {
					fmt.Fprintf(out, "          %s\n", res.Hint)
				}
			}
		} else {
			fmt.Fprintln(out, "Kafka:    disabled")
		}
		if cfg.Slack.Enabled {
			fmt.Fprintf(out, "Slack:    %s socket mode\n", check(cfg.Slack.BotToken != "" && cfg.Slack.AppToken != ""))
		} else {
			fmt.Fprintln(out, "Slack:    disabled")
		}
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusProbe, "probe", false, "Dial the Kafka brokers when the publisher is enabled")
}

func check(ok bool) string {
	if ok {
		return color.GreenString("✓")
	}
	return color.RedString("✗")
}
