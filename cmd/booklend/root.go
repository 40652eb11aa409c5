package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"booklend/internal/config"
	"booklend/pkg/storage"
)

type rootOptions struct {
	configPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	serve := newServeCommand(opts)
	cmd := &cobra.Command{
		Use:           "booklend",
		Short:         "booklend coordinates book loans: catalog, borrow requests, returns and live request updates",
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE:          serve.RunE,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", config.ConfigPath(), "path to config.yaml (env BOOKLEND_CONFIG)")
	cmd.AddCommand(serve, newImportCatalogCommand(opts))
	return cmd
}

func (o *rootOptions) load() (config.FileConfig, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// objectStore returns nil when no MinIO endpoint is configured.
func objectStore(cfg config.FileConfig) (storage.ObjectStore, error) {
	if strings.TrimSpace(cfg.MinioEndpoint) == "" {
		return nil, nil
	}
	objects, err := storage.NewMinioStore(storage.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	return objects, nil
}
