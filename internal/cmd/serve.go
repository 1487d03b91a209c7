package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/erplink/pacedhttp/internal/api"
	"github.com/erplink/pacedhttp/web/server"
)

func (a *app) serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the BHE PDF service",
		Args:  cobra.NoArgs,
		RunE:  a.runServe,
	}

	cmd.Flags().String("host", "", "listen address, overrides server.host")

	return cmd
}

func (a *app) runServe(cmd *cobra.Command, args []string) error {
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		a.cfg.Server.Host = host
	}

	fetcher, c, err := a.newFetcher()
	if err != nil {
		return err
	}

	if a.cfg.Archive.Dir != "" {
		if err := os.MkdirAll(a.cfg.Archive.Dir, 0o750); err != nil {
			return fmt.Errorf("creating archive dir: %w", err)
		}
	}

	handler := api.New(api.Config{
		Log:        a.log,
		Fetcher:    fetcher,
		Pacer:      c.Pacer(),
		ArchiveDir: a.cfg.Archive.Dir,
		Build:      a.build,
	})

	opts := []server.Option{
		server.WithHost(a.cfg.Server.Host),
		server.WithTimeouts(0, a.cfg.Server.WriteTimeout, 0),
		server.WithShutdownTimeout(a.cfg.Server.ShutdownTimeout),
		server.WithLogger(a.log),
		server.WithShutdownFunc(func(ctx context.Context) error {
			a.log.Info("pacer state at shutdown", "last_dispatch", c.Pacer().LastDispatch())
			return nil
		}),
	}
	if a.cfg.Server.TLSCertFile != "" {
		opts = append(opts, server.WithTLS(a.cfg.Server.TLSCertFile, a.cfg.Server.TLSKeyFile))
	}

	a.log.Info("starting service",
		"host", a.cfg.Server.Host,
		"archive_dir", a.cfg.Archive.Dir,
		"min_interval", a.cfg.Pacer.MinInterval,
		"max_retries", a.cfg.Pacer.MaxRetries,
	)

	return server.New(handler, opts...).Run(cmd.Context())
}
