// Package cmd wires configuration, logging and the BHE fetcher into the
// pacedhttp command line.
package cmd

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/erplink/pacedhttp/client"
	"github.com/erplink/pacedhttp/internal/config"
	"github.com/erplink/pacedhttp/internal/taxdoc"
)

type app struct {
	build string
	cfg   *config.Config
	log   *slog.Logger
}

// NewRoot returns the root command with every subcommand attached.
func NewRoot(build string) *cobra.Command {
	a := app{build: build}

	root := &cobra.Command{
		Use:           "pacedhttp",
		Short:         "Fetch BHE fee receipt PDFs through a paced HTTP client",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       build,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().String("config", "", "config file (toml, yaml or json)")
	root.PersistentFlags().String("log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().String("log-format", "", "log format: text, json")

	root.AddCommand(a.serveCmd(), a.fetchCmd())

	return root
}

func (a *app) init(cmd *cobra.Command) error {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Log.Level = lvl
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}

	log, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.log = log.With("build", a.build)

	return nil
}

func newLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("%w: log level %q", config.ErrInvalid, cfg.Level)
	}

	opts := slog.HandlerOptions{Level: lvl}

	switch cfg.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, &opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, &opts)), nil
	default:
		return nil, fmt.Errorf("%w: log format %q", config.ErrInvalid, cfg.Format)
	}
}

// newFetcher builds the paced client and the fetcher on top of it.
func (a *app) newFetcher() (*taxdoc.Fetcher, *client.Client, error) {
	opts := []client.Option{
		client.WithLogger(a.log),
		client.WithPacing(a.cfg.Pacer),
	}
	if a.cfg.Throttle.Enabled {
		opts = append(opts, client.WithThrottle(a.cfg.Throttle.RPS, a.cfg.Throttle.Burst))
	}

	c, err := client.Build(opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("building client: %w", err)
	}

	f, err := taxdoc.New(a.cfg.Upstream, c, a.log)
	if err != nil {
		return nil, nil, err
	}

	return f, c, nil
}
