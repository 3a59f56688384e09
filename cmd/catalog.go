package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/partmatch/internal/catalog"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the inventory catalog index",
	Long:  "Commands for importing inventory sheets and inspecting the catalog.",
}

// -- catalog import --

var catalogImportFile string

var catalogImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import an inventory XLSX sheet into the catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cat, err := catalog.NewSQLite(cfg.Catalog.Path, cfg.Catalog.QueriesPerSecond, cfg.Catalog.Burst)
		if err != nil {
			return eris.Wrap(err, "open catalog")
		}
		defer cat.Close() //nolint:errcheck
		if err := cat.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate catalog")
		}

		embedder, err := initEmbedder()
		if err != nil {
			return err
		}

		items, err := catalog.LoadXLSX(ctx, catalogImportFile, embedder)
		if err != nil {
			return eris.Wrap(err, "load inventory sheet")
		}
		if err := cat.Upsert(ctx, items); err != nil {
			return eris.Wrap(err, "upsert catalog items")
		}

		total, err := cat.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "count catalog items")
		}

		zap.L().Info("catalog import complete",
			zap.String("file", catalogImportFile),
			zap.Int("imported", len(items)),
			zap.Int("total", total),
		)
		fmt.Fprintf(os.Stdout, "Imported %d items (%d total)\n", len(items), total)
		return nil
	},
}

// -- catalog status --

var catalogStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show catalog item count",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cat, err := catalog.NewSQLite(cfg.Catalog.Path, cfg.Catalog.QueriesPerSecond, cfg.Catalog.Burst)
		if err != nil {
			return eris.Wrap(err, "open catalog")
		}
		defer cat.Close() //nolint:errcheck
		if err := cat.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate catalog")
		}

		total, err := cat.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "count catalog items")
		}

		fmt.Fprintf(os.Stdout, "Catalog: %s\nItems:   %d\n", cfg.Catalog.Path, total)
		return nil
	},
}

func init() {
	catalogImportCmd.Flags().StringVar(&catalogImportFile, "file", "", "inventory XLSX file (required)")
	_ = catalogImportCmd.MarkFlagRequired("file")

	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogStatusCmd)
	rootCmd.AddCommand(catalogCmd)
}
