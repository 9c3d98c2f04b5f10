package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"options-engine/internal/engine"
	"options-engine/internal/gateway"
	"options-engine/internal/order"
	"options-engine/internal/watchlist"
	"options-engine/pkg/clock"
	"options-engine/pkg/i18n"
)

func classifyCmd() *cobra.Command {
	var lang string
	cmd := &cobra.Command{
		Use:   "classify <remark>",
		Short: "Show how a broker rejection remark is categorised",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if lang != "" {
				i18n.SetLanguage(i18n.Language(lang))
			}
			cat := order.Classify(strings.Join(args, " "))
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", cat.Code, cat.Message())
			return nil
		},
	}
	cmd.Flags().StringVar(&lang, "lang", "", "message language (en or zh)")
	return cmd
}

func watchlistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watchlist",
		Short: "Import or export watchlist entries as YAML",
	}

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Add entries from a YAML file that are not on the watchlist yet",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineEngine(func(ctx context.Context, eng *engine.Impl, path string) error {
				if len(args) == 1 {
					path = args[0]
				}
				entries, err := watchlist.Load(path)
				if err != nil {
					return err
				}
				added, err := watchlist.Sync(ctx, eng, entries)
				fmt.Fprintf(cmd.OutOrStdout(), i18n.Get("WatchlistSynced")+"\n", added)
				return err
			})
		},
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Print the stored watchlist as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withOfflineEngine(func(ctx context.Context, eng *engine.Impl, _ string) error {
				entries, err := eng.ListWatchlist(ctx)
				if err != nil {
					return err
				}
				return watchlist.Write(cmd.OutOrStdout(), entries)
			})
		},
	}

	cmd.AddCommand(importCmd, exportCmd)
	return cmd
}

// withOfflineEngine opens the database behind an engine that is never
// started, for commands that only touch the watchlist.
func withOfflineEngine(fn func(ctx context.Context, eng *engine.Impl, watchlistPath string) error) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	database, err := openDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	eng := engine.NewImpl(engine.Config{
		DB:                 database,
		Gateways:           gateway.NewManager(gateway.DefaultConfig()),
		Clock:              clock.Real{},
		AutoExitOnStopLoss: cfg.AutoExitOnStopLoss,
	})
	defer eng.Stop()

	if err := fn(context.Background(), eng, cfg.WatchlistPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return err
	}
	return nil
}
