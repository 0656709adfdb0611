package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fx-signal-auditor/internal/auth"
	"fx-signal-auditor/internal/config"
	"fx-signal-auditor/internal/database"
	"fx-signal-auditor/internal/logger"
	"fx-signal-auditor/internal/pricefeed"
	"fx-signal-auditor/internal/reconciler"
	"fx-signal-auditor/internal/report"
	gormrepository "fx-signal-auditor/internal/repository/gorm"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// errNeedsAttention makes the process exit with status 2 so cron wrappers can alert on it.
var errNeedsAttention = errors.New("signal system needs attention")

type app struct {
	configPath string
	cfg        config.Config
	log        *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "signalctl",
		Short:         "Operate the forex signal outcome auditor",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			a.cfg = cfg
			// stdout carries command output; keep logs quiet unless asked
			logCfg := cfg.Logger
			if !cmd.Flags().Changed("verbose") {
				logCfg.Level = "warn"
			}
			a.log, err = logger.NewLogger(logCfg, zap.Fields(zap.String("service", "signalctl")))
			return err
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "./configs", "Directory containing config.yml")
	root.PersistentFlags().Bool("verbose", false, "Log at the configured level instead of warn")

	root.AddCommand(a.repairCmd(), a.verifyCmd(), a.migrateCmd(), a.seedPriceCmd(), a.tokenCmd())
	return root
}

func (a *app) store() (*gormrepository.Store, error) {
	db, err := database.NewDatabase(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	return gormrepository.New(db), nil
}

func (a *app) repairCmd() *cobra.Command {
	var maxRepairs int

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Backfill outcomes for expired signals that have none",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			cfg := a.cfg.Reconciler
			if cmd.Flags().Changed("max") {
				cfg.MaxRepairsPerRun = maxRepairs
			}

			prices := pricefeed.NewStoreSource(store, a.cfg.PriceFeed.MaxAge)
			res, err := reconciler.NewReconciler(a.log, cfg, store, store, prices).InvestigateAndRepair(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), res.Message())
			if res.Deferred > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "%d left for the next run\n", res.Deferred)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&maxRepairs, "max", 0, "Override reconciler.max_repairs_per_run (0 = no cap)")
	return cmd
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Print the verification report as JSON; exits 2 when the system needs attention",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			rep, err := report.NewVerifier(a.log, a.cfg.Report, store, store).Verify(cmd.Context())
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if rep.SystemStatus != report.StatusHealthy {
				return errNeedsAttention
			}
			return nil
		},
	}
}

func (a *app) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := database.NewDatabase(a.cfg.Database); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema up to date (%s)\n", a.cfg.Database.Driver)
			return nil
		},
	}
}

func (a *app) seedPriceCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "seed-price SYMBOL PRICE",
		Short:   "Write a market state row for local testing",
		Example: "  signalctl seed-price EURUSD 1.0875",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			symbol := pricefeed.NormalizeSymbol(args[0])
			price, err := decimal.NewFromString(args[1])
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[1], err)
			}
			if !price.IsPositive() {
				return fmt.Errorf("price must be positive, got %s", price)
			}

			store, err := a.store()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			if err := store.UpsertPrice(ctx, symbol, price, time.Now().UTC()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", symbol, price)
			return nil
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an admin token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := strings.TrimSpace(a.cfg.Server.JWTSecret)
			if secret == "" {
				return errors.New("server.jwt_secret is not set")
			}
			token, expiresAt, err := auth.JWT{Secret: []byte(secret), TokenTTL: ttl}.SignAdmin(subject)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			a.log.Info("Token issued", zap.String("subject", subject), zap.Time("expires_at", expiresAt))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
