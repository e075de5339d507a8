// Command escrowctl drives the escrow ledger over its HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "escrowctl",
	Short:         "Escrow ledger client tools",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("server", envOr("ESCROW_SERVER", "http://localhost:8080"), "ledger API address")
	rootCmd.PersistentFlags().String("token", os.Getenv("ESCROW_TOKEN"), "bearer token (see `escrowctl token`)")
	rootCmd.PersistentFlags().Int32("decimals", 0, "decimal places used to display and parse amounts")
	rootCmd.PersistentFlags().Duration("timeout", 15*time.Second, "request timeout")

	rootCmd.AddCommand(
		TokenCmd(),
		ParamsCmd(),
		BalanceCmd(),
		GameCmd(),
		AdminCmd(),
		EventsCmd(),
	)
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// setup returns an API client and a request context built from the global flags.
func setup(cmd *cobra.Command) (*client, context.Context, context.CancelFunc) {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return newClient(server, token), ctx, cancel
}

func decimals(cmd *cobra.Command) int32 {
	d, _ := cmd.Flags().GetInt32("decimals")
	return d
}
