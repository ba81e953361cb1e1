package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ingestkit/ingestkit/internal/core"
	"github.com/ingestkit/ingestkit/internal/observability"
	"github.com/ingestkit/ingestkit/internal/output"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect the fetch log",
	Long:  "List, show, delete and prune fetches recorded by 'fetch --record' and the HTTP API.",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded fetches, newest first",
	Args:  cobra.NoArgs,
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one recorded fetch",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete one recorded fetch",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete fetches older than --older-than",
	Args:  cobra.NoArgs,
	RunE:  runHistoryPrune,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyPruneCmd)

	historyListCmd.Flags().Int("page", 0, "Page number (default from pagination.default_page)")
	historyListCmd.Flags().Int("per-page", 0, "Entries per page (default from pagination.default_per_page)")
	historyListCmd.Flags().String("output", "table", "Output format: table, json, yaml, markdown")

	historyShowCmd.Flags().String("output", "json", "Output format: table, json, yaml, markdown")

	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Delete entries fetched before now minus this duration")
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	page, _ := cmd.Flags().GetInt("page")
	perPage, _ := cmd.Flags().GetInt("per-page")
	if page == 0 {
		page = cfg.Pagination.DefaultPage
	}
	if perPage == 0 {
		perPage = cfg.Pagination.DefaultPerPage
	}
	if page < cfg.Pagination.MinPage || page > cfg.Pagination.MaxPage {
		return fmt.Errorf("--page must be between %d and %d", cfg.Pagination.MinPage, cfg.Pagination.MaxPage)
	}
	if perPage < cfg.Pagination.MinPerPage || perPage > cfg.Pagination.MaxPerPage {
		return fmt.Errorf("--per-page must be between %d and %d", cfg.Pagination.MinPerPage, cfg.Pagination.MaxPerPage)
	}

	formatValue, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return err
	}

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	p := core.Page{Page: page, PerPage: perPage}
	total, err := db.CountFetches(ctx)
	if err != nil {
		return err
	}
	items, err := db.ListFetches(ctx, p.Offset(), p.PerPage)
	if err != nil {
		return err
	}

	rendered, err := output.NewFormatter(format).FormatPage(core.FetchPage{
		Items:   items,
		Total:   total,
		Page:    p.Page,
		PerPage: p.PerPage,
	})
	if err != nil {
		return err
	}
	fmt.Println(rendered)
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	formatValue, _ := cmd.Flags().GetString("output")
	format, err := output.ParseFormat(formatValue)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	rec, err := db.GetFetch(ctx, args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("fetch %s not found", args[0])
	}

	rendered, err := output.FormatRecord(format, *rec)
	if err != nil {
		return err
	}
	fmt.Println(rendered)
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	deleted, err := db.DeleteFetch(ctx, args[0])
	if err != nil {
		return err
	}
	if !deleted {
		return errors.New("fetch " + args[0] + " not found")
	}
	observability.CLILogger.Info("Deleted fetch", zap.String("id", args[0]))
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	olderThan, _ := cmd.Flags().GetDuration("older-than")
	if olderThan <= 0 {
		return errors.New("--older-than must be positive")
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() // nolint:errcheck // best-effort cleanup

	cutoff := time.Now().UTC().Add(-olderThan)
	removed, err := db.PruneFetches(ctx, cutoff)
	if err != nil {
		return err
	}
	observability.CLILogger.Info("Pruned fetch log",
		zap.Int64("removed", removed),
		zap.Time("cutoff", cutoff))
	return nil
}
