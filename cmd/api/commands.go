package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mutesky/api/internal/config"
	"mutesky/api/internal/logging"
	"mutesky/api/internal/selection"
	"mutesky/api/internal/store"
	"mutesky/api/internal/weight"
)

func catalogCmd() *cobra.Command {
	var budget int
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Load the configured keyword catalog and print a summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := weight.ParseBudget(budget)
			if err != nil {
				return err
			}
			return printCatalog(cmd.Context(), b)
		},
	}
	cmd.Flags().IntVar(&budget, "budget", int(weight.BudgetComplete), "target keyword count used for the kept column (100, 300, 500, 2000)")
	return cmd
}

func printCatalog(ctx context.Context, budget weight.Budget) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Production(), cfg.LogLevel)
	defer func() { _ = logger.Sync() }()

	source, _ := newCatalogSource(cfg, logger)
	c, err := source.Load(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}

	resolver := selection.NewResolver(c)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "CATEGORY\tNAME\tWEIGHT\tKEYWORDS\tKEPT\n")
	for _, id := range c.ListedCategories() {
		all, err := resolver.Resolve(id, false, budget)
		if err != nil {
			continue
		}
		kept, _ := resolver.Resolve(id, true, budget)
		categoryWeight := "-"
		if category, ok := c.Category(id); ok {
			categoryWeight = fmt.Sprint(category.Weight)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", id, c.DisplayName(id), categoryWeight, len(all), len(kept))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	contexts := make([]string, 0, len(c.Contexts()))
	for _, item := range c.Contexts() {
		contexts = append(contexts, item.ID)
	}
	fmt.Printf("\n%d keywords, %d contexts (%s), last modified %s\n",
		c.KeywordCount(), len(contexts), strings.Join(contexts, ", "), c.LastModified())
	return nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations to DATABASE_URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if strings.TrimSpace(cfg.DatabaseURL) == "" {
				return errors.New("DATABASE_URL is not set")
			}
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("database connection failed: %w", err)
			}
			defer db.Close()
			if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
				return fmt.Errorf("migrations failed: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}
