package cli

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/container"
	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/metrics"
	"github.com/xtxerr/runstore/internal/persist"
	"github.com/xtxerr/runstore/internal/query"
	"github.com/xtxerr/runstore/internal/record"
)

// DefaultIngestWorkers is the ingest concurrency when --workers is unset.
const DefaultIngestWorkers = 4

// =============================================================================
// save / ingest
// =============================================================================

func (a *App) saveCmd() *cli.Command {
	return &cli.Command{
		Name:      "save",
		Usage:     "Persist one record manifest",
		ArgsUsage: "RECORD",
		Description: `Reads a YAML or JSON record manifest, allocates a run number, writes the
container file and indexes the run in the catalog.

A run is only rejected when its record has no device. Every other problem
is reported as a warning and the run is still saved.

Files are named <number>-<device>-<type><ext>. The extension comes from
file.extension (default .parquet); set it to .h5 for names such as
00000001-Fridge1-sweep.h5.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "type",
				Usage: "Measurement type. Defaults to the manifest type or the source file name",
			},
			&cli.StringFlag{
				Name:  "source",
				Usage: "Procedure source file stored with the run",
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"o"},
				Usage:   "Directory for the container file. Defaults to data_dir",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("save expects exactly one RECORD argument, got %d", cmd.NArg())
			}

			run, err := loadRun(cmd.Args().First())
			if err != nil {
				return err
			}
			if t := cmd.String("type"); t != "" {
				run.Type = t
			}
			if s := cmd.String("source"); s != "" {
				run.SourcePath = s
			}
			run.Dir = cmd.String("path")

			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			p, err := a.persister(ctx, c)
			if err != nil {
				return err
			}
			res, err := p.Save(ctx, run)
			if err != nil {
				return err
			}
			return writeResult(a.out(), res)
		},
	}
}

func loadRun(path string) (persist.Run, error) {
	m, rec, err := record.ReadManifest(path)
	if err != nil {
		return persist.Run{}, err
	}
	return persist.Run{Record: rec, Type: m.Type, SourcePath: m.Source}, nil
}

func writeResult(w io.Writer, res *persist.Result) error {
	rows := [][]string{
		{"number", res.Number.Value},
		{"number space", string(res.Number.Space)},
		{"path", res.Path},
		{"document", res.DocumentID},
		{"indexed", strconv.FormatBool(res.Inserted)},
		{"archived", strconv.FormatBool(res.Archived)},
	}
	renderTable(w, []string{"run", ""}, rows)
	writeWarnings(w, res.Warnings)
	return nil
}

// ingestResult is the outcome of one manifest.
type ingestResult struct {
	file   string
	result *persist.Result
	err    error
}

func (a *App) ingestCmd() *cli.Command {
	return &cli.Command{
		Name:      "ingest",
		Usage:     "Persist many record manifests concurrently",
		ArgsUsage: "DIR|FILE...",
		Description: `Persists every .yaml, .yml and .json manifest found in the given files and
directories. A failing manifest is reported and does not stop the others.
Metrics are pushed when metrics.pushgateway is configured.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Value:   DefaultIngestWorkers,
				Usage:   "Number of manifests saved concurrently",
			},
			&cli.StringFlag{
				Name:    "path",
				Aliases: []string{"o"},
				Usage:   "Directory for the container files. Defaults to data_dir",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() == 0 {
				return fmt.Errorf("ingest expects at least one DIR or FILE argument")
			}
			files, err := collectManifests(cmd.Args().Slice())
			if err != nil {
				return err
			}
			if len(files) == 0 {
				_, err := fmt.Fprintln(a.out(), "no manifests found")
				return err
			}

			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			p, err := a.persister(ctx, c)
			if err != nil {
				return err
			}

			results, failed := ingest(ctx, p, files, cmd.Int("workers"), cmd.String("path"))

			cfg := a.conf()
			if err := metrics.Push(ctx, cfg.Metrics.Pushgateway, cfg.Metrics.Job); err != nil {
				log.Warn("unable to push metrics", "url", cfg.Metrics.Pushgateway, "error", err)
			}

			writeIngest(a.out(), results)
			if failed > 0 {
				return fmt.Errorf("%d of %d manifests failed", failed, len(files))
			}
			return nil
		},
	}
}

// ingest saves files with at most workers concurrent saves. Results keep
// the order of files.
func ingest(ctx context.Context, p *persist.Persister, files []string, workers int, dir string) ([]ingestResult, int) {
	if workers < 1 {
		workers = 1
	}
	results := make([]ingestResult, len(files))
	var failed atomic.Int64

	var g errgroup.Group
	g.SetLimit(workers)
	for i, file := range files {
		g.Go(func() error {
			results[i].file = file
			if err := ctx.Err(); err != nil {
				results[i].err = err
				failed.Add(1)
				return nil
			}
			run, err := loadRun(file)
			if err == nil {
				run.Dir = dir
				results[i].result, err = p.Save(ctx, run)
			}
			if err != nil {
				results[i].err = err
				failed.Add(1)
				log.Error("unable to ingest manifest", "file", file, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, int(failed.Load())
}

func writeIngest(w io.Writer, results []ingestResult) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		if r.err != nil {
			rows = append(rows, []string{r.file, "", "", "error", r.err.Error()})
			continue
		}
		status := "indexed"
		if !r.result.Inserted {
			status = "saved"
		}
		rows = append(rows, []string{
			r.file,
			r.result.Number.Value,
			r.result.Path,
			status,
			strconv.Itoa(len(r.result.Warnings)) + " warnings",
		})
	}
	renderTable(w, []string{"manifest", "number", "path", "status", "detail"}, rows)
}

// collectManifests expands directories into the manifests they contain.
func collectManifests(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml", ".json":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", arg, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// =============================================================================
// select / devices / last
// =============================================================================

func (a *App) selectCmd() *cli.Command {
	return &cli.Command{
		Name:  "select",
		Usage: "List runs matching filters",
		Description: `Lists catalog runs ordered by time, then run number. String filters match
exactly unless --pattern is set, which makes them case-insensitive regular
expressions. --where adds a filter on any other document field.`,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "device", Aliases: []string{"d"}, Usage: "Device name"},
			&cli.StringFlag{Name: "filter", Usage: "Filter label"},
			&cli.StringFlag{Name: "notes", Usage: "Notes"},
			&cli.StringFlag{Name: "type", Usage: "Measurement type"},
			&cli.StringFlag{Name: "start", Usage: "Earliest utc_time, ISO-8601 (inclusive)"},
			&cli.StringFlag{Name: "end", Usage: "Latest utc_time, ISO-8601 (inclusive)"},
			&cli.BoolFlag{Name: "pattern", Aliases: []string{"p"}, Usage: "Match strings as regular expressions"},
			&cli.StringSliceFlag{Name: "where", Aliases: []string{"w"}, Usage: "Extra field filter as key=value (repeatable)"},
			formatFlag(),
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := parseOutputFormat(cmd, a.out())
			if err != nil {
				return err
			}
			f, err := filtersFromCmd(cmd)
			if err != nil {
				return err
			}

			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			t, err := a.engine(c).SelectRuns(ctx, f)
			if err != nil {
				return err
			}
			return writeTable(a.out(), format, t)
		},
	}
}

func filtersFromCmd(cmd *cli.Command) (query.Filters, error) {
	f := query.Filters{
		Device: cmd.String("device"),
		Filter: cmd.String("filter"),
		Notes:  cmd.String("notes"),
		Type:   cmd.String("type"),
	}
	if s := cmd.String("start"); s != "" {
		f.Start = s
	}
	if s := cmd.String("end"); s != "" {
		f.End = s
	}
	if cmd.Bool("pattern") {
		f.MatchMode = constants.MatchPattern
	}
	where := cmd.StringSlice("where")
	if len(where) > 0 {
		f.Extra = make(map[string]any, len(where))
		for _, kv := range where {
			k, v, err := splitAssignment(kv)
			if err != nil {
				return query.Filters{}, err
			}
			f.Extra[k] = parseValue(v)
		}
	}
	return f, nil
}

// splitAssignment splits key=value.
func splitAssignment(s string) (string, string, error) {
	k, v, ok := strings.Cut(s, "=")
	k = strings.TrimSpace(k)
	if !ok || k == "" {
		return "", "", errors.NewInvalidFilter(s, "expected key=value")
	}
	return k, strings.TrimSpace(v), nil
}

// parseValue reads a filter value typed: integers, floats and booleans are
// converted, everything else stays a string. Quoted values are always
// strings.
func parseValue(s string) any {
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil && (s == "true" || s == "false") {
		return b
	}
	return s
}

func (a *App) devicesCmd() *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List devices with their run counts",
		Flags: []cli.Flag{formatFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := parseOutputFormat(cmd, a.out())
			if err != nil {
				return err
			}
			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			t, err := a.engine(c).ListDevices(ctx)
			if err != nil {
				return err
			}
			return writeTable(a.out(), format, t)
		},
	}
}

func (a *App) lastCmd() *cli.Command {
	return &cli.Command{
		Name:  "last",
		Usage: "Show the run with the highest number",
		Flags: []cli.Flag{formatFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := parseOutputFormat(cmd, a.out())
			if err != nil {
				return err
			}
			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			doc, found, err := a.engine(c).Last(ctx)
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("no runs in catalog: %w", errors.ErrRecordNotFound)
			}
			return writeDocument(a.out(), format, doc)
		},
	}
}

// =============================================================================
// inspect
// =============================================================================

func (a *App) inspectCmd() *cli.Command {
	return &cli.Command{
		Name:      "inspect",
		Usage:     "Print the entries of a container file",
		ArgsUsage: "FILE",
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("inspect expects exactly one FILE argument, got %d", cmd.NArg())
			}
			loaded, err := container.Load(cmd.Args().First())
			if err != nil {
				return err
			}
			writeLoaded(a.out(), loaded)
			return nil
		},
	}
}

func writeLoaded(w io.Writer, l *container.Loaded) {
	renderTable(w, []string{"run", ""}, [][]string{
		{"path", l.Path},
		{"number", l.Meta.Number},
		{"number space", l.Meta.NumberSpace},
		{"device", l.Meta.Device},
		{"type", l.Meta.Type},
		{"created", l.Meta.Created.UTC().Format("2006-01-02T15:04:05Z07:00")},
		{"source lines", strconv.Itoa(len(l.Source))},
	})

	fields := l.Record.Fields()
	rows := make([][]string, 0, len(fields))
	for _, f := range fields {
		rows = append(rows, describeField(f))
	}
	renderTable(w, []string{"field", "kind", "dtype", "shape", "value"}, rows)
}

// describeField summarizes one field for inspect output. Arrays show their
// shape instead of their elements.
func describeField(f record.Field) []string {
	row := []string{f.Name, f.Kind.String(), "", "", ""}
	if f.Kind == record.KindText {
		text, err := record.Text(f.Value)
		if err != nil {
			text = fmt.Sprint(f.Value)
		}
		row[4] = truncate(text, 60)
		return row
	}

	v, err := record.Encode(f.Value)
	if err != nil {
		row[4] = fmt.Sprint(f.Value)
		return row
	}
	row[2] = string(v.DType)
	if v.IsScalar() {
		row[4] = formatCell(f.Value)
		return row
	}
	dims := make([]string, len(v.Shape))
	for i, n := range v.Shape {
		dims[i] = strconv.Itoa(n)
	}
	row[3] = strings.Join(dims, "x")
	return row
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// =============================================================================
// export / import
// =============================================================================

func (a *App) exportCmd() *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Write every catalog document to a backup file",
		ArgsUsage: "OUT",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("export expects exactly one OUT argument, got %d", cmd.NArg())
			}
			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			out := cmd.Args().First()
			f, err := os.Create(out)
			if err != nil {
				return fmt.Errorf("create export file: %w", err)
			}
			n, err := catalog.Export(ctx, c, f)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out(), "exported %d documents to %s\n", n, out)
			return err
		},
	}
}

func (a *App) importCmd() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Restore catalog documents from a backup file",
		ArgsUsage: "IN",
		Description: `Inserts every document of an export file. Documents whose id or run number
already exist are skipped.`,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.NArg() != 1 {
				return fmt.Errorf("import expects exactly one IN argument, got %d", cmd.NArg())
			}
			f, err := os.Open(cmd.Args().First())
			if err != nil {
				return fmt.Errorf("open import file: %w", err)
			}
			defer f.Close()

			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			stats, err := catalog.Import(ctx, c, f)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(a.out(), "imported %d documents, skipped %d\n", stats.Imported, stats.Skipped)
			return err
		},
	}
}
