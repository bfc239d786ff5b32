package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ticketx/ledger-engine/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Inspect event catalog files",
}

var catalogCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a catalog file",
	Long: `Load a catalog YAML file, validate every event and its order book,
and print a summary line per event.

Example:
  ledger-engine catalog check catalog.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogCheck,
}

func init() {
	rootCmd.AddCommand(catalogCmd)
	catalogCmd.AddCommand(catalogCheckCmd)
}

func runCatalogCheck(cmd *cobra.Command, args []string) error {
	cat, err := catalog.LoadFile(args[0])
	if err != nil {
		return err
	}
	evs, err := cat.Events(context.Background())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, ev := range evs {
		bid, ask := "-", "-"
		if o, ok := catalog.BestBid(ev.OrderBook); ok {
			bid = o.Price.StringFixed(2)
		}
		if o, ok := catalog.BestAsk(ev.OrderBook); ok {
			ask = o.Price.StringFixed(2)
		}
		fmt.Fprintf(out, "%-24s %s  last=%s bid=%s ask=%s\n",
			ev.ID, ev.Date.Format("2006-01-02"), ev.OrderBook.LastPrice.StringFixed(2), bid, ask)
	}
	fmt.Fprintf(out, "%d events OK\n", len(evs))
	return nil
}
