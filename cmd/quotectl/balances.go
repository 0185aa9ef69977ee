package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/quote-session/pkg/config"
	"github.com/Checker-Finance/quote-session/pkg/logger"
)

var balancesCmd = &cobra.Command{
	Use:   "balances",
	Short: "Print the account's balances as reported by the exchange",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		exch := newExchange(cfg)
		defer logger.Sync()

		bals, err := exch.Balances(cmd.Context(), accountFlag(cmd))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return json.NewEncoder(out).Encode(bals)
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "COIN\tAVAILABLE\tHELD\tTOTAL")
		for _, b := range bals {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", b.CoinID, b.Available, b.Held, b.Total())
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(balancesCmd)
}
