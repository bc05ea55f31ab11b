package cli

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/KafClaw/tenka/internal/cli.version=1.2.3"
	version = "0.4.0"
	logo    = "\n" +
		"  _             _         \n" +
		" | |_ ___ _ __ | | ____ _ \n" +
		" | __/ _ \\ '_ \\| |/ / _` |\n" +
		" | ||  __/ | | |   < (_| |\n" +
		"  \\__\\___|_| |_|_|\\_\\__,_|\n"
)

var rootCmd = &cobra.Command{
	Use:   "tenka",
	Short: "tenka - business advisory chat with mode routing",
	Long:  color.CyanString(logo) + "\nRoutes consultations between general business advice and price negotiation support.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(gatewayCmd)
	rootCmd.AddCommand(turnsCmd)
	rootCmd.AddCommand(configCmd)
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, color.CyanString(logo))
	if title != "" {
		fmt.Fprintln(w, title)
		fmt.Fprintln(w, "─────────────────────")
	}
}
