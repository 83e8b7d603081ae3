package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/tapmarket/internal/models"
)

// NewBoardCommand creates the board command.
func NewBoardCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Show current prices and the crash flag",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			drinks, err := opts.client.Drinks(ctx)
			if err != nil {
				return err
			}
			status, err := opts.client.Market(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				board := models.Board{Drinks: drinks, Crash: status.Crash, At: status.UpdatedAt}
				return writeJSON(out, board.View())
			}

			if status.Crash {
				fmt.Fprintln(out, "*** MARKET CRASH ***")
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tCATEGORY\tPRICE\tBASE\tBAND\tLOCKED")
			for _, d := range drinks {
				locked := ""
				if d.Locked {
					locked = "yes"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s-%s\t%s\n",
					d.ID, d.Name, d.Category, d.Price, d.BasePrice, d.MinPrice, d.MaxPrice, locked)
			}
			return tw.Flush()
		},
	}
}

// NewTickerCommand creates the ticker command.
func NewTickerCommand(opts *RootOptions) *cobra.Command {
	var category string
	var limit int

	cmd := &cobra.Command{
		Use:   "ticker",
		Short: "List drinks trading furthest below their base price",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := models.ParseCategory(category)
			if err != nil {
				return err
			}
			drops, err := opts.client.Ticker(cmd.Context(), c, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.Format == "json" {
				return writeJSON(out, drops)
			}
			for _, d := range drops {
				fmt.Fprintf(out, "%-24s %s  (-%s)\n", d.Name, models.Cents(d.PriceCents), models.Cents(d.DropCents))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&category, "category", string(models.CategoryAlcoholic), "category to list")
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum entries (0 for all)")

	return cmd
}
