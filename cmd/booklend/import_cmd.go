package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"booklend/internal/catalog"
	"booklend/internal/util"
	"booklend/pkg/store"
)

func newImportCatalogCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import-catalog [path|s3://bucket/key]",
		Short: "Load the book catalog once; skipped when books already exist",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			util.InitLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel)
			source := cfg.CatalogSource
			if len(args) == 1 {
				source = args[0]
			}
			st, err := store.NewGormStore(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("init store: %w", err)
			}
			defer st.Close()
			objects, err := objectStore(cfg)
			if err != nil {
				return err
			}
			res, err := catalog.NewImporter(st, objects).Import(cmd.Context(), source)
			if err != nil {
				return err
			}
			if res.Skipped {
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "catalog already populated; skipped %s\n", res.Source)
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "imported %d books from %s\n", res.Imported, res.Source)
			return err
		},
	}
}
