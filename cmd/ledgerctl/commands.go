package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/punchamoorthee/creditgate/internal/config"
	"github.com/punchamoorthee/creditgate/internal/domain"
	"github.com/punchamoorthee/creditgate/internal/service"
	"github.com/punchamoorthee/creditgate/internal/worker"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending Postgres migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			if a.Config.StoreBackend != config.BackendPostgres {
				fmt.Printf("STORE_BACKEND=%s has no migrations\n", a.Config.StoreBackend)
				return nil
			}
			// app.Open migrates Postgres before returning.
			fmt.Println("Migrations applied")
			return nil
		},
	}
}

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance [uid]",
		Short: "Show a user's credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.Ledger.Peek(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("%s: %d credits (free tier used: %t)\n", acct.UserID, acct.Credits, acct.FreeTierUsed)
			return nil
		},
	}
}

func grantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant [uid] [credits]",
		Short: "Credit a manual adjustment to a user",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil || n <= 0 {
				return fmt.Errorf("credits must be a positive integer, got %q", args[1])
			}
			ref, _ := cmd.Flags().GetString("ref")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			balance, err := a.Ledger.Grant(cmd.Context(), args[0], n, ref)
			if err != nil {
				return err
			}
			fmt.Printf("%s: balance now %d\n", args[0], balance)
			return nil
		},
	}

	cmd.Flags().String("ref", "ledgerctl", "Reference recorded on the ledger entry")
	return cmd
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [uid]",
		Short: "List a user's most recent ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			entries, err := a.Ledger.History(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Println("(no entries)")
				return nil
			}
			fmt.Printf("%-20s %-11s %6s %7s  %s\n", "WHEN", "KIND", "DELTA", "BALANCE", "REFERENCE")
			fmt.Println(strings.Repeat("-", 64))
			for _, e := range entries {
				fmt.Printf("%-20s %-11s %+6d %7d  %s\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04:05"), e.Kind, e.Delta, e.BalanceAfter, e.Reference)
			}
			return nil
		},
	}

	cmd.Flags().IntP("limit", "n", 20, "Maximum entries")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Apply one payment to the ledger",
		Long: `Apply a payment by its MercadoPago id (fetched and verified against the API),
or apply a confirmation given by hand with --ref, --user and --sku.
Applying the same payment twice never credits it twice.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			paymentID, _ := cmd.Flags().GetString("payment-id")
			ref, _ := cmd.Flags().GetString("ref")
			user, _ := cmd.Flags().GetString("user")
			sku, _ := cmd.Flags().GetString("sku")
			if (paymentID == "") == (ref == "") {
				return errors.New("pass exactly one of --payment-id or --ref")
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if paymentID != "" {
				ps := a.PaymentSync()
				if ps == nil {
					return errors.New("MP_ACCESS_TOKEN is required to fetch payments")
				}
				outcome, err := ps.ProcessPayment(cmd.Context(), paymentID)
				if err != nil && outcome == "" {
					return err
				}
				fmt.Printf("payment %s: %s\n", paymentID, outcome)
				if err != nil {
					fmt.Printf("  reason: %v\n", err)
				}
				return nil
			}

			res, err := service.NewPurchaseReconciler(a.Ledger).Reconcile(cmd.Context(), domain.PaymentConfirmation{
				PaymentReference: ref,
				UserID:           user,
				SKU:              sku,
			})
			if err != nil {
				return err
			}
			state := service.OutcomeApplied
			if res.Replayed {
				state = service.OutcomeReplayed
			}
			fmt.Printf("payment %s: %s (%d credits to %s, balance %d)\n",
				ref, state, res.Record.CreditsGranted, res.Record.UserID, res.Balance)
			return nil
		},
	}

	cmd.Flags().String("payment-id", "", "MercadoPago payment id")
	cmd.Flags().String("ref", "", "Payment reference to record")
	cmd.Flags().String("user", "", "User id to credit (with --ref)")
	cmd.Flags().String("sku", "", "Pack SKU (with --ref, empty means the default pack)")
	return cmd
}

func pollCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Apply approved payments from the lookback window once",
		RunE: func(cmd *cobra.Command, args []string) error {
			lookback, _ := cmd.Flags().GetDuration("lookback")

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ps := a.PaymentSync()
			if ps == nil {
				return errors.New("MP_ACCESS_TOKEN is required to poll payments")
			}
			if lookback <= 0 {
				lookback = a.Config.PollLookback
			}
			stats, err := worker.RunOnce(cmd.Context(), ps, lookback)
			fmt.Println(stats)
			return err
		},
	}

	cmd.Flags().Duration("lookback", 0, "How far back to search (default POLL_LOOKBACK)")
	return cmd
}
