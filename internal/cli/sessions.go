package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/KafClaw/tenka/internal/config"
	"github.com/KafClaw/tenka/internal/session"
)

var sessionsURL string

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List the sessions of a running gateway",
	RunE:  runSessions,
}

func init() {
	sessionsCmd.Flags().StringVar(&sessionsURL, "url", "", "Gateway base URL (defaults to gateway.host:gateway.port)")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	base := strings.TrimRight(sessionsURL, "/")
	if base == "" {
		base = "http://" + net.JoinHostPort(cfg.Gateway.Host, strconv.Itoa(cfg.Gateway.Port))
	}
	list, err := fetchSessions(&http.Client{Timeout: 10 * time.Second}, base, cfg.Gateway.AuthToken)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No active sessions.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tMODE\tCONFIRMED\tMESSAGES\tACTIVE")
	for _, s := range list {
		m := s.Mode.String()
		if s.InFlight {
			m += " *"
		}
		fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", s.ID, m, s.ModeConfirmed, s.Messages, humanize.Time(s.UpdatedAt))
	}
	return tw.Flush()
}

func fetchSessions(client *http.Client, base, token string) ([]session.SessionInfo, error) {
	req, err := http.NewRequest(http.MethodGet, base+"/api/sessions", nil)
	if err != nil {
		return nil, err
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Sessions []session.SessionInfo `json:"sessions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return payload.Sessions, nil
}
