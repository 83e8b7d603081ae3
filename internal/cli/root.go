// Package cli implements tapctl, the bar operator's command line for a
// running tapmarket server.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/tapmarket/internal/client"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Server  string
	Timeout time.Duration
	Format  string // "json" | "text"
	Config  string

	client *client.Client
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for tapctl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "tapctl",
		Short:         "Operate a tapmarket drinks exchange",
		Long:          "Log sales, override prices, lock drinks, trigger crashes and pull end-of-night reports from a running tapmarket server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			opts.client = client.NewClient(opts.Server, opts.Timeout)
			return nil
		},
	}

	server := os.Getenv("TAPMARKET_SERVER")
	if server == "" {
		server = "http://localhost:3000"
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.Server, "server", "s", server, "tapmarket server URL (env TAPMARKET_SERVER)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "configs/config.yaml", "configuration file for report defaults")

	// Add subcommands
	cmd.AddCommand(NewBoardCommand(opts))
	cmd.AddCommand(NewTickerCommand(opts))
	cmd.AddCommand(NewSaleCommand(opts))
	cmd.AddCommand(NewPriceCommand(opts))
	cmd.AddCommand(NewLockCommand(opts, true))
	cmd.AddCommand(NewLockCommand(opts, false))
	cmd.AddCommand(NewCrashCommand(opts))
	cmd.AddCommand(NewReportCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

func parseID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid drink id %q", raw)
	}
	return id, nil
}

// writeJSON prints v indented, for --format json.
func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
