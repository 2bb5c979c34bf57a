package main

import (
	"context"
	"io"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"tomscore/internal/config"
	"tomscore/internal/core"
	"tomscore/internal/logging"
)

// app is the wiring shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *logrus.Logger
	storage *core.Storage
	svc     *core.Service
	metrics *core.PrometheusMetrics
	dump    bool
}

type rootFlags struct {
	envFiles   []string
	driver     string
	sqlitePath string
	layersFile string
	logLevel   string
	metrics    bool
}

// execute runs the CLI with args and releases storage afterwards, also when
// the command fails.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	a := &app{}
	cmd := newRootCmd(a)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	err := cmd.ExecuteContext(ctx)
	if a.dump && a.metrics != nil {
		if merr := a.metrics.WriteText(stderr); err == nil {
			err = merr
		}
	}
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(a *app) *cobra.Command {
	var flags rootFlags
	cmd := &cobra.Command{
		Use:           "tomsctl",
		Short:         "Traffic order proposal and restriction versioning tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open(cmd, flags)
		},
	}
	pf := cmd.PersistentFlags()
	pf.StringSliceVar(&flags.envFiles, "env-file", nil, "Env files to load (default .env, .env.local)")
	pf.StringVar(&flags.driver, "storage", "", "Storage driver override: memory, sqlite or postgres")
	pf.StringVar(&flags.sqlitePath, "sqlite-path", "", "SQLite database path override")
	pf.StringVar(&flags.layersFile, "layers-file", "", "Restriction layer registry (YAML) override")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level override")
	pf.BoolVar(&flags.metrics, "metrics", false, "Write collected metrics to stderr on exit")

	cmd.AddCommand(
		newProposalCmd(a),
		newRestrictionCmd(a),
		newTileCmd(a),
		newLayersCmd(a),
	)
	return cmd
}

func (a *app) open(cmd *cobra.Command, flags rootFlags) error {
	cfg, err := config.Load(flags.envFiles)
	if err != nil {
		return err
	}
	if flags.driver != "" {
		cfg.StorageDriver = flags.driver
	}
	if flags.sqlitePath != "" {
		cfg.SQLitePath = flags.sqlitePath
	}
	if flags.layersFile != "" {
		cfg.LayersFile = flags.layersFile
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	layers, err := config.LoadLayers(cfg.LayersFile)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	storage, err := core.OpenStorage(ctx, core.StorageOptions{
		Driver:      cfg.StorageDriver,
		SQLitePath:  cfg.SQLitePath,
		PostgresDSN: cfg.PostgresDSN,
	}, layers)
	if err != nil {
		return err
	}
	archive, err := cfg.OpenArchive(ctx)
	if err != nil {
		_ = storage.Close()
		return errors.Wrap(err, "open archive")
	}

	a.cfg, a.logger, a.storage = cfg, logger, storage
	a.metrics, a.dump = core.NewPrometheusMetrics(), flags.metrics
	a.svc = core.NewService(storage.Stores,
		core.WithLogger(logger.WithField("component", "core")),
		core.WithArchive(archive),
		core.WithMetricsRecorder(a.metrics),
	)
	logger.WithFields(logrus.Fields{
		"storage": storage.Driver,
		"layers":  len(layers),
	}).Debug("tomsctl ready")
	return nil
}

func (a *app) close() error {
	if a.svc != nil {
		a.svc.Close()
		a.svc = nil
	}
	if a.storage != nil {
		err := a.storage.Close()
		a.storage = nil
		return err
	}
	return nil
}
