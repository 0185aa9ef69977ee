package main

import (
	"github.com/spf13/cobra"

	"github.com/Checker-Finance/quote-session/internal/exchange"
	"github.com/Checker-Finance/quote-session/internal/rate"
	"github.com/Checker-Finance/quote-session/pkg/config"
	"github.com/Checker-Finance/quote-session/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:   "quotectl",
	Short: "Drive quote sessions against the exchange from the command line",
	Long: `quotectl opens a single quote session against the exchange, prints the
quote it receives and either accepts it or waits for it to expire.

Configuration is read from the environment (and .env), the same keys the
quote-session service uses. EXCHANGE_API_TOKEN authenticates the calls.

Examples:
  quotectl quote --from USD --to BTC --from-amount 100
  quotectl quote --from BTC --to USD --from-amount 0.01 --mode sell --accept
  quotectl balances --account acct-1`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("account", "", "Account id (defaults to QUOTECTL_ACCOUNT)")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
}

// newExchange builds an exchange client from the environment.
func newExchange(cfg *config.Config) *exchange.Client {
	logger.Init("quotectl", cfg.Env, config.GetEnv("QUOTECTL_LOG_LEVEL", "warn"))
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.ExchangeRPS,
		Burst:             cfg.ExchangeBurst,
	})
	return exchange.NewClient(logger.L(), rateMgr, exchange.Config{
		BaseURL: cfg.ExchangeBaseURL,
		Timeout: cfg.ExchangeTimeout,
	}, exchange.StaticToken(cfg.ExchangeAPIToken))
}

func accountFlag(cmd *cobra.Command) string {
	if a, _ := cmd.Flags().GetString("account"); a != "" {
		return a
	}
	return config.GetEnv("QUOTECTL_ACCOUNT", "default")
}
