package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/erplink/pacedhttp/internal/archive"
	"github.com/erplink/pacedhttp/internal/taxdoc"
)

func (a *app) fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download issued BHE PDFs to disk",
		Long: `Download one or more issued BHE fee receipts for a taxpayer.

Every upstream call goes through the same pacer, so repeated --folio
flags are fetched concurrently without exceeding the configured rate.
The SII password may be given with --password or PACEDHTTP_SII_PASSWORD.`,
		Args: cobra.NoArgs,
		RunE: a.runFetch,
	}

	cmd.Flags().IntSlice("folio", nil, "receipt folio, repeatable")
	cmd.Flags().Int("year", 0, "year the receipts were issued")
	cmd.Flags().String("rut", "", "taxpayer RUT")
	cmd.Flags().String("password", "", "SII password")
	cmd.Flags().String("out", "", "output directory, overrides archive.dir")
	cmd.Flags().Bool("skip-existing", false, "keep documents already on disk")
	cmd.Flags().Bool("progress", false, "log write progress")

	_ = cmd.MarkFlagRequired("folio")
	_ = cmd.MarkFlagRequired("year")
	_ = cmd.MarkFlagRequired("rut")

	return cmd
}

func (a *app) runFetch(cmd *cobra.Command, args []string) error {
	folios, err := cmd.Flags().GetIntSlice("folio")
	if err != nil {
		return err
	}
	year, err := cmd.Flags().GetInt("year")
	if err != nil {
		return err
	}
	rut, err := cmd.Flags().GetString("rut")
	if err != nil {
		return err
	}

	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		password = os.Getenv("PACEDHTTP_SII_PASSWORD")
	}
	if password == "" {
		return errors.New("password is required: use --password or PACEDHTTP_SII_PASSWORD")
	}

	dir := a.cfg.Archive.Dir
	if out, _ := cmd.Flags().GetString("out"); out != "" {
		dir = out
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	skip, _ := cmd.Flags().GetBool("skip-existing")

	var storeOpts []archive.Option
	if skip {
		storeOpts = append(storeOpts, archive.WithSkipExisting())
	}
	if progress, _ := cmd.Flags().GetBool("progress"); progress {
		storeOpts = append(storeOpts, archive.WithProgress())
	}

	fetcher, _, err := a.newFetcher()
	if err != nil {
		return err
	}

	queries := make([]taxdoc.Query, 0, len(folios))
	for _, folio := range folios {
		q := taxdoc.Query{Folio: folio, Year: year, RUT: rut, Password: password}

		// Documents already on disk never reach upstream.
		if skip {
			path := filepath.Join(dir, q.Filename())
			if _, err := os.Stat(path); err == nil {
				a.log.Info("bhe pdf already stored", "path", path)
				fmt.Fprintln(cmd.OutOrStdout(), path)
				continue
			}
		}

		queries = append(queries, q)
	}

	ctx := cmd.Context()
	docs, fetchErr := fetcher.FetchAll(ctx, queries, a.cfg.Archive.Concurrency)

	var storeErrs []error
	for _, doc := range docs {
		if doc == nil {
			continue
		}

		path, err := taxdoc.Store(ctx, doc, dir, a.log, storeOpts...)
		if err != nil {
			storeErrs = append(storeErrs, err)
			continue
		}
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}

	return errors.Join(fetchErr, errors.Join(storeErrs...))
}
