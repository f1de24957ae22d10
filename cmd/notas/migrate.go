package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/notas/internal/audit"
	"github.com/opensource-finance/notas/internal/catalog"
	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/repository"
	"github.com/opensource-finance/notas/internal/service"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}

			db, err := repository.Open(cfg.Repository, audit.New(cfg.Audit.SlowThreshold()))
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.Migrate(cmd.Context(), db, cfg.Repository.Driver); err != nil {
				return err
			}
			slog.Info("migrations applied", "driver", cfg.Repository.Driver)
			return nil
		},
	}
}

func newSeedCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Load sample taxpayers, addresses and invoices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(opts)
			if err != nil {
				return err
			}
			cfg.Repository.Migrate = true

			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			created, err := seed(cmd.Context(), a.svc, catalog.Sample())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d records\n", created)
			return nil
		},
	}
}

// seed writes taxpayers and their relations through the service so rules
// apply. Taxpayers already present are skipped with their relations.
func seed(ctx context.Context, svc *service.Service, taxpayers []catalog.Taxpayer) (int, error) {
	created := 0
	for _, tp := range taxpayers {
		addresses, invoices := tp.Addresses, tp.Invoices
		tp.Addresses, tp.Invoices = nil, nil

		if _, err := svc.Create(ctx, catalog.Taxpayers, tp.Record().Map()); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				slog.Info("taxpayer already seeded", "cd_contribuinte", tp.Code)
				continue
			}
			return created, fmt.Errorf("seed taxpayer %d: %w", tp.Code, err)
		}
		created++

		for _, addr := range addresses {
			addr.TaxpayerCode = tp.Code
			if _, err := svc.Create(ctx, catalog.Addresses, addr.Record().Map()); err != nil {
				return created, fmt.Errorf("seed address of %d: %w", tp.Code, err)
			}
			created++
		}
		for _, inv := range invoices {
			inv.TaxpayerCode = tp.Code
			if _, err := svc.Create(ctx, catalog.Invoices, inv.Record().Map()); err != nil {
				return created, fmt.Errorf("seed invoice %s: %w", inv.Number, err)
			}
			created++
		}
	}
	return created, nil
}
