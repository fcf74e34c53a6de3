// payctl drives the payment API from a terminal: generate a reference, push
// an STK prompt and wait for the outcome the way the web client does.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type globalOpts struct {
	server  string
	token   string
	jsonOut bool
}

func main() {
	opts := &globalOpts{}
	rootCmd := &cobra.Command{
		Use:           "payctl",
		Short:         "payctl - M-Pesa STK push client for the cirqle payments API",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.server, "server", envOr("PAYCTL_SERVER", "http://localhost:8080"), "payments API base URL")
	rootCmd.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("PAYCTL_TOKEN"), "bearer token")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "print JSON")

	rootCmd.AddCommand(refCmd())
	rootCmd.AddCommand(payCmd(opts))
	rootCmd.AddCommand(statusCmd(opts))
	rootCmd.AddCommand(watchCmd(opts))
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
