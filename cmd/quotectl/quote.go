package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Checker-Finance/quote-session/internal/quote"
	"github.com/Checker-Finance/quote-session/pkg/config"
	"github.com/Checker-Finance/quote-session/pkg/logger"
	"github.com/Checker-Finance/quote-session/pkg/model"
)

// quoteOptions is one quotectl quote invocation.
type quoteOptions struct {
	Mode       string
	From       string
	To         string
	FromAmount string
	ToAmount   string
	Accept     bool
	Yes        bool
	JSON       bool
}

var quoteOpts quoteOptions

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Request a quote and accept it or wait for it to expire",
	Long: `Request an executable quote for a pair. Exactly one of --from-amount and
--to-amount drives the quote; when both are given --from-amount wins.

Without --accept the quote is printed and quotectl waits until it expires.
With --accept the quote is executed after confirmation (skip with --yes).`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		exch := newExchange(cfg)
		defer logger.Sync()

		quoteOpts.JSON, _ = cmd.Flags().GetBool("json")
		wc := model.WidgetContext{
			AccountID:  accountFlag(cmd),
			Mode:       model.TradeMode(quoteOpts.Mode),
			FromCoinID: quoteOpts.From,
			ToCoinID:   quoteOpts.To,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := quote.NewSession("quotectl", wc, exch.ForAccount(wc.AccountID), quote.Options{
			Logger:         logger.L(),
			SolicitTimeout: cfg.SolicitTimeout,
			AcceptTimeout:  cfg.AcceptTimeout,
		})
		defer s.Dispose()

		return runQuote(ctx, cmd.OutOrStdout(), os.Stdin, s, quoteOpts)
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd)

	quoteCmd.Flags().StringVar(&quoteOpts.Mode, "mode", string(model.ModeBuy), "Widget mode: buy, sell or convert")
	quoteCmd.Flags().StringVar(&quoteOpts.From, "from", "", "Coin to pay with (REQUIRED)")
	quoteCmd.Flags().StringVar(&quoteOpts.To, "to", "", "Coin to receive (REQUIRED)")
	quoteCmd.Flags().StringVar(&quoteOpts.FromAmount, "from-amount", "", "Amount of --from to spend")
	quoteCmd.Flags().StringVar(&quoteOpts.ToAmount, "to-amount", "", "Amount of --to to receive")
	quoteCmd.Flags().BoolVar(&quoteOpts.Accept, "accept", false, "Accept the quote once received")
	quoteCmd.Flags().BoolVarP(&quoteOpts.Yes, "yes", "y", false, "Skip confirmation prompt")
	_ = quoteCmd.MarkFlagRequired("from")
	_ = quoteCmd.MarkFlagRequired("to")
}

// runQuote solicits one quote on s and then accepts it or waits out its expiry.
func runQuote(ctx context.Context, out io.Writer, in io.Reader, s *quote.Session, opts quoteOptions) error {
	views := make(chan quote.View, 64)
	unsubscribe := s.Subscribe(func(v quote.View) {
		select {
		case views <- v:
		default:
		}
	})
	defer unsubscribe()

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(out))
	if !opts.JSON {
		sp.Suffix = " Fetching quote..."
		sp.Start()
	}
	err := s.SetTrigger(model.TriggerInput{
		FromCoinID: opts.From,
		ToCoinID:   opts.To,
		FromAmount: optional(opts.FromAmount),
		ToAmount:   optional(opts.ToAmount),
	})
	if err == nil && s.State() == model.StateIdle {
		err = fmt.Errorf("one of --from-amount or --to-amount is required")
	}
	if err != nil {
		sp.Stop()
		return err
	}

	v, err := waitFor(ctx, s, views, model.StateQuoted, model.StateFailed, model.StateExpired)
	sp.Stop()
	if err != nil {
		return err
	}
	if v.State != model.StateQuoted {
		return viewError(v)
	}

	printView(out, v, opts.JSON)

	if !opts.Accept {
		if !opts.JSON {
			fmt.Fprintf(out, "Quote valid until %s. Waiting for expiry (Ctrl+C to quit)...\n", v.Quote.Expiry.Local().Format(time.RFC3339))
		}
		v, err = waitFor(ctx, s, views, model.StateExpired, model.StateFailed, model.StateIdle)
		if err != nil {
			return err
		}
		printView(out, v, opts.JSON)
		return nil
	}

	if !opts.Yes && !opts.JSON && !confirm(out, in) {
		fmt.Fprintln(out, "\nQuote not accepted.")
		s.ResetQuote()
		return nil
	}

	q := *v.Quote
	if err := s.AcceptQuote(ctx); err != nil {
		printView(out, s.View(), opts.JSON)
		return err
	}
	if opts.JSON {
		return json.NewEncoder(out).Encode(map[string]any{"status": "accepted", "quote": q})
	}
	color.New(color.FgGreen).Fprintf(out, "\nQuote %s accepted.\n", q.ID)
	return nil
}

// waitFor blocks until the session reaches one of states.
func waitFor(ctx context.Context, s *quote.Session, views <-chan quote.View, states ...model.State) (quote.View, error) {
	match := func(st model.State) bool {
		for _, want := range states {
			if st == want {
				return true
			}
		}
		return false
	}
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		if v := s.View(); match(v.State) {
			return v, nil
		}
		select {
		case <-ctx.Done():
			return quote.View{}, ctx.Err()
		case v := <-views:
			if match(v.State) {
				return v, nil
			}
		case <-ticker.C:
		}
	}
}

func viewError(v quote.View) error {
	if v.Error != nil {
		return v.Error
	}
	return fmt.Errorf("quote %s", v.State)
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

func confirm(out io.Writer, in io.Reader) bool {
	reader := bufio.NewReader(in)
	fmt.Fprint(out, "\nAccept this quote? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}

func printView(out io.Writer, v quote.View, asJSON bool) {
	if asJSON {
		_ = json.NewEncoder(out).Encode(v)
		return
	}
	switch {
	case v.State == model.StateExpired:
		color.New(color.FgYellow).Fprintln(out, "\nQuote expired. Run the command again for a fresh quote.")
		return
	case v.Quote == nil:
		fmt.Fprintf(out, "\nSession %s\n", v.State)
		return
	}

	q := v.Quote
	fmt.Fprintln(out, "\n"+strings.Repeat("=", 60))
	color.New(color.FgGreen).Fprintln(out, "                        QUOTE")
	fmt.Fprintln(out, strings.Repeat("=", 60))
	fmt.Fprintf(out, "\n  Quote ID:   %s\n", color.CyanString(q.ID))
	fmt.Fprintf(out, "  Pay:        %s %s\n", q.FromAmount.String(), color.YellowString(q.FromCoinID))
	fmt.Fprintf(out, "  Receive:    %s %s\n", q.ToAmount.String(), color.YellowString(q.ToCoinID))
	fmt.Fprintf(out, "  Price:      %s\n", q.Price.String())
	fmt.Fprintf(out, "  Cost:       %s\n", q.Cost.String())
	fmt.Fprintf(out, "  Proceeds:   %s\n", q.Proceeds.String())
	fmt.Fprintf(out, "  Expires:    %s\n", q.Expiry.Local().Format(time.RFC3339))
	fmt.Fprintln(out, "\n"+strings.Repeat("=", 60))
}
