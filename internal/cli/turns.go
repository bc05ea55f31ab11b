package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/timeline"
)

var (
	turnsSession string
	turnsKind    string
	turnsLimit   int
	turnsStats   bool
	turnsJSON    bool
)

var turnsCmd = &cobra.Command{
	Use:   "turns",
	Short: "Show recorded orchestrator turns",
	RunE:  runTurns,
}

func init() {
	turnsCmd.Flags().StringVarP(&turnsSession, "session", "s", "", "Only turns of this session")
	turnsCmd.Flags().StringVar(&turnsKind, "kind", "", "Only turns of this kind (delegated, proposal, consent, ...)")
	turnsCmd.Flags().IntVarP(&turnsLimit, "limit", "n", 20, "Maximum number of turns")
	turnsCmd.Flags().BoolVar(&turnsStats, "stats", false, "Print counts per turn kind instead")
	turnsCmd.Flags().BoolVar(&turnsJSON, "json", false, "Print JSON")
}

func runTurns(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := config.EnsureDir(filepath.Dir(cfg.Timeline.DBPath)); err != nil {
		return err
	}
	svc, err := timeline.NewTimelineService(cfg.Timeline.DBPath)
	if err != nil {
		return fmt.Errorf("timeline: %w", err)
	}
	defer svc.Close()

	out := cmd.OutOrStdout()
	if turnsStats {
		counts, err := svc.CountByKind(turnsSession)
		if err != nil {
			return err
		}
		if turnsJSON {
			return json.NewEncoder(out).Encode(counts)
		}
		if policy, err := svc.GetSetting(timeline.SettingRouterPolicy); err == nil {
			fmt.Fprintf(out, "policy: %s\n", policy)
		}
		for _, c := range counts {
			fmt.Fprintf(out, "%-14s %s\n", c.Kind, humanize.Comma(int64(c.Count)))
		}
		return nil
	}

	turns, err := svc.GetTurns(timeline.FilterArgs{
		SessionID: turnsSession,
		Kind:      turnsKind,
		Limit:     turnsLimit,
	})
	if err != nil {
		return err
	}
	if turnsJSON {
		return json.NewEncoder(out).Encode(turns)
	}
	if len(turns) == 0 {
		fmt.Fprintln(out, "No turns recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WHEN\tSESSION\tKIND\tMODE\tCONF\tUSER")
	for _, t := range turns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.2f\t%s\n",
			humanize.Time(t.StartedAt),
			t.SessionID,
			kindColor(t.Kind),
			modeTransition(t.PrevMode, t.Mode),
			t.Confidence,
			truncateRunes(t.UserText, 40),
		)
	}
	return tw.Flush()
}

func kindColor(kind string) string {
	switch kind {
	case "error", "cancelled", "discarded":
		return color.RedString(kind)
	case "proposal", "consent", "rejection", "unclear":
		return color.YellowString(kind)
	default:
		return kind
	}
}

func modeTransition(prev, cur string) string {
	if prev == "" {
		prev = "-"
	}
	if cur == "" {
		cur = "-"
	}
	if prev == cur {
		return cur
	}
	return prev + "→" + cur
}

func truncateRunes(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
