package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewSaleCommand creates the sale command.
func NewSaleCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sale <drink-id> [qty]",
		Short: "Log a sale (qty defaults to 1)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			qty := 1
			if len(args) == 2 {
				qty, err = strconv.Atoi(args[1])
				if err != nil || qty <= 0 {
					return fmt.Errorf("invalid qty %q", args[1])
				}
			}

			saleID, err := opts.client.LogSale(cmd.Context(), id, qty)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"id": saleID, "drink_id": id, "qty": qty})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged sale %d: %d x drink %d\n", saleID, qty, id)
			return nil
		},
	}
}

// NewPriceCommand creates the price command.
func NewPriceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "price <drink-id> <price>",
		Short:   "Set a drink's price manually; it must lie inside the drink's band",
		Example: `  tapctl price 3 2.50`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil || price <= 0 {
				return fmt.Errorf("invalid price %q", args[1])
			}

			stored, err := opts.client.SetPrice(cmd.Context(), id, price)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"drink_id": id, "price": stored.Float()})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Drink %d now costs %s\n", id, stored)
			return nil
		},
	}
}

// NewLockCommand creates the lock command, or unlock when locked is false.
func NewLockCommand(opts *RootOptions, locked bool) *cobra.Command {
	use, short := "lock", "Freeze a drink's price"
	if !locked {
		use, short = "unlock", "Release a frozen drink's price"
	}
	return &cobra.Command{
		Use:   use + " <drink-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := opts.client.SetLocked(cmd.Context(), id, locked); err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"drink_id": id, "locked": locked})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Drink %d %sed\n", id, use)
			return nil
		},
	}
}

// NewCrashCommand creates the crash command.
func NewCrashCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:       "crash <on|off>",
		Short:     "Switch crash mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			crash, err := parseSwitch(args[0])
			if err != nil {
				return err
			}
			state, err := opts.client.SetCrash(cmd.Context(), crash)
			if err != nil {
				return err
			}
			if opts.Format == "json" {
				return writeJSON(cmd.OutOrStdout(), map[string]bool{"crash": state})
			}
			if state {
				fmt.Fprintln(cmd.OutOrStdout(), "Crash mode ON")
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "Crash mode OFF")
			}
			return nil
		},
	}
}

func parseSwitch(raw string) (bool, error) {
	switch strings.ToLower(raw) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid state %q: use on or off", raw)
	}
	return v, nil
}
