// Package cli implements the runstore command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/catalog/driver"
	"github.com/xtxerr/runstore/internal/config"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/persist"
	"github.com/xtxerr/runstore/internal/query"
)

const name = "runstore"

var log = logging.Component("cli")

// App holds the state shared by all commands of one invocation.
type App struct {
	// Version is printed by --version.
	Version string

	// Out receives command output. Defaults to os.Stdout.
	Out io.Writer

	// OpenCatalog opens the configured catalog. Defaults to driver.Open.
	OpenCatalog func(config.CatalogConfig) (catalog.Catalog, error)

	cfg *config.Config
}

// New creates an App with default collaborators.
func New(version string) *App {
	return &App{
		Version:     version,
		Out:         os.Stdout,
		OpenCatalog: driver.Open,
	}
}

// Command returns the root command.
func (a *App) Command() *cli.Command {
	return &cli.Command{
		Name:                  name,
		Usage:                 "Persist and query measurement runs",
		Version:               a.Version,
		EnableShellCompletion: true,
		Writer:                a.Out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the YAML configuration file",
				Sources: cli.EnvVars("RUNSTORE_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error). Overrides the configuration",
			},
			&cli.BoolFlag{
				Name:  "log-json",
				Usage: "Write logs as JSON",
			},
		},
		Before: a.before,
		Commands: []*cli.Command{
			a.saveCmd(),
			a.ingestCmd(),
			a.selectCmd(),
			a.devicesCmd(),
			a.lastCmd(),
			a.inspectCmd(),
			a.exportCmd(),
			a.importCmd(),
			a.shellCmd(),
		},
	}
}

// Run parses args and runs the selected command.
func (a *App) Run(ctx context.Context, args []string) error {
	return a.Command().Run(ctx, args)
}

func (a *App) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.LoadOrDefault(cmd.String("config"))
	if err != nil {
		return ctx, err
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}
	if cmd.Bool("log-json") {
		cfg.Logging.JSON = true
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return ctx, err
	}
	logging.Init(level, cfg.Logging.JSON)

	a.cfg = cfg
	log.Debug("configuration loaded",
		"data_dir", cfg.DataDir,
		"catalog", cfg.Catalog.Driver,
		"archive", cfg.Archive.Driver)
	return ctx, nil
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) conf() *config.Config {
	if a.cfg == nil {
		a.cfg = config.DefaultConfig()
	}
	return a.cfg
}

// open opens the configured catalog. The returned function closes it.
func (a *App) open() (catalog.Catalog, func(), error) {
	open := a.OpenCatalog
	if open == nil {
		open = driver.Open
	}
	c, err := open(a.conf().Catalog)
	if err != nil {
		return nil, nil, fmt.Errorf("open catalog: %w", err)
	}
	return c, func() {
		if err := c.Close(); err != nil {
			log.Warn("unable to close catalog", "error", err)
		}
	}, nil
}

func (a *App) engine(c catalog.Catalog) *query.Engine {
	cfg := a.conf()
	return query.New(c,
		query.WithTimeout(cfg.Query.Timeout),
		query.WithMaxRows(cfg.Query.MaxRows))
}

func (a *App) persister(ctx context.Context, c catalog.Catalog) (*persist.Persister, error) {
	return persist.NewFromConfig(ctx, a.conf(), c)
}
