package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/baharkarakas/cirqle-payments/internal/auth"
	"github.com/baharkarakas/cirqle-payments/internal/payclient"
	"github.com/baharkarakas/cirqle-payments/internal/phone"
	"github.com/baharkarakas/cirqle-payments/internal/reference"
)

func refCmd() *cobra.Command {
	var suffix bool
	cmd := &cobra.Command{
		Use:   "ref <purpose> [subject]",
		Short: "Generate a client reference (ACT, DEP, UPG or any tag)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			subject := ""
			if len(args) == 2 {
				subject = args[1]
			}
			gen := reference.Generator{Suffix: suffix}
			fmt.Fprintln(cmd.OutOrStdout(), gen.New(args[0], subject))
			return nil
		},
	}
	cmd.Flags().BoolVar(&suffix, "suffix", false, "append a random suffix")
	return cmd
}

func payCmd(g *globalOpts) *cobra.Command {
	var (
		phoneNo, amount, ref, purpose, subject string
		noWait                                 bool
		interval, budget                       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pay",
		Short: "Send an STK push and wait for the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			msisdn, err := phone.Normalize(phoneNo)
			if err != nil {
				return fmt.Errorf("--phone: %w", err)
			}
			amt, err := decimal.NewFromString(amount)
			if err != nil || !amt.IsPositive() {
				return fmt.Errorf("--amount must be a positive number")
			}
			if ref == "" {
				ref = reference.New(purpose, subject)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			c := newClient(g, interval, budget, cmd.ErrOrStderr())

			fmt.Fprintf(cmd.ErrOrStderr(), "requesting KSh %s from %s for %s\n", amt.Ceil(), phone.Display(msisdn), ref)
			res, err := c.Initiate(ctx, payclient.InitiateRequest{PhoneNumber: msisdn, Amount: amt, Reference: ref})
			switch {
			case errors.Is(err, payclient.ErrUnknownOutcome):
				fmt.Fprintf(cmd.ErrOrStderr(), "push outcome unknown for %s, polling anyway\n", res.Reference)
			case err != nil:
				return err
			default:
				fmt.Fprintf(cmd.ErrOrStderr(), "%s (%s)\n", res.Message, res.Reference)
			}
			if noWait {
				return printOut(cmd.OutOrStdout(), g.jsonOut, res, res.Reference)
			}
			return await(ctx, cmd, g, c, res.Reference)
		},
	}
	f := cmd.Flags()
	f.StringVar(&phoneNo, "phone", "", "customer phone (07…, 01…, 254…)")
	f.StringVar(&amount, "amount", "", "amount in KSh; rounded up to whole shillings")
	f.StringVar(&ref, "reference", "", "client reference; generated from --purpose when empty")
	f.StringVar(&purpose, "purpose", reference.Deposit, "reference purpose tag")
	f.StringVar(&subject, "subject", "", "subject id for the generated reference")
	f.BoolVar(&noWait, "no-wait", false, "return after the push is accepted")
	f.DurationVar(&interval, "interval", payclient.DefaultInterval, "poll interval")
	f.DurationVar(&budget, "budget", payclient.DefaultBudget, "how long to keep polling")
	_ = cmd.MarkFlagRequired("phone")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func statusCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "status <reference>",
		Short: "Query a payment once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(g, 0, 0, nil)
			st, err := c.Status(cmd.Context(), args[0])
			if err != nil && !errors.Is(err, payclient.ErrNotFound) {
				return err
			}
			return printOut(cmd.OutOrStdout(), g.jsonOut, st, st.Status)
		},
	}
}

func watchCmd(g *globalOpts) *cobra.Command {
	var interval, budget time.Duration
	cmd := &cobra.Command{
		Use:   "watch <reference>",
		Short: "Poll a payment until it settles or the budget runs out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return await(ctx, cmd, g, newClient(g, interval, budget, cmd.ErrOrStderr()), args[0])
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", payclient.DefaultInterval, "poll interval")
	cmd.Flags().DurationVar(&budget, "budget", payclient.DefaultBudget, "how long to keep polling")
	return cmd
}

func tokenCmd() *cobra.Command {
	var subject, role string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token signed with JWT_SECRET (local testing)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			tm := auth.NewTokenManager(secret, envOr("JWT_ISSUER", "cirqle"), time.Hour)
			tok, _, err := tm.Issue(subject, role)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "user id")
	cmd.Flags().StringVar(&role, "role", "user", "role claim")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func newClient(g *globalOpts, interval, budget time.Duration, progress io.Writer) *payclient.Client {
	opts := []payclient.Option{payclient.WithToken(g.token)}
	if interval > 0 {
		opts = append(opts, payclient.WithInterval(interval))
	}
	if budget > 0 {
		opts = append(opts, payclient.WithBudget(budget))
	}
	if progress != nil {
		opts = append(opts, payclient.WithObserver(func(attempt int, status string, err error) {
			if err != nil && !errors.Is(err, payclient.ErrNotFound) {
				fmt.Fprintf(progress, "  poll %d: %v\n", attempt, err)
				return
			}
			fmt.Fprintf(progress, "  poll %d: %s\n", attempt, status)
		}))
	}
	return payclient.New(g.server, opts...)
}

func await(ctx context.Context, cmd *cobra.Command, g *globalOpts, c *payclient.Client, ref string) error {
	res, err := c.Await(ctx, ref)
	if err != nil {
		return err
	}
	if err := printOut(cmd.OutOrStdout(), g.jsonOut, res, res.Message); err != nil {
		return err
	}
	if res.Outcome == payclient.OutcomeFailed || res.Outcome == payclient.OutcomeCancelled {
		return fmt.Errorf("payment %s", res.Outcome)
	}
	return nil
}

func printOut(w io.Writer, asJSON bool, v any, line string) error {
	if !asJSON {
		_, err := fmt.Fprintln(w, line)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
