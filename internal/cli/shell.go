package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/urfave/cli/v3"

	"github.com/xtxerr/runstore/internal/query"
)

const shellHelp = `commands:
  select [key=value ...]   list runs; keys: device, filter, notes, type, start, end,
                           match_mode (exact|pattern) or any document field
  devices                  list devices with run counts
  last                     show the run with the highest number
  format table|json        switch the output format
  help                     show this help
  exit, quit               leave the shell
`

var shellSuggestions = []prompt.Suggest{
	{Text: "select", Description: "List runs matching key=value filters"},
	{Text: "devices", Description: "List devices with run counts"},
	{Text: "last", Description: "Show the run with the highest number"},
	{Text: "format", Description: "Switch output format (table, json)"},
	{Text: "help", Description: "Show help"},
	{Text: "exit", Description: "Leave the shell"},
}

var filterSuggestions = []prompt.Suggest{
	{Text: "device=", Description: "Device name"},
	{Text: "filter=", Description: "Filter label"},
	{Text: "notes=", Description: "Notes"},
	{Text: "type=", Description: "Measurement type"},
	{Text: "start=", Description: "Earliest utc_time"},
	{Text: "end=", Description: "Latest utc_time"},
	{Text: "match_mode=pattern", Description: "Match strings as regular expressions"},
}

// shell is an interactive query session over one catalog.
type shell struct {
	engine *query.Engine
	out    io.Writer
	format Format
	done   bool
}

func (a *App) shellCmd() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Query the catalog interactively",
		Action: func(ctx context.Context, _ *cli.Command) error {
			c, closeCatalog, err := a.open()
			if err != nil {
				return err
			}
			defer closeCatalog()

			s := &shell{engine: a.engine(c), out: a.out(), format: FormatTable}
			p := prompt.New(
				func(line string) { s.execute(ctx, line) },
				s.complete,
				prompt.OptionTitle(name),
				prompt.OptionPrefix(name+"> "),
				prompt.OptionSetExitCheckerOnInput(func(_ string, breakline bool) bool {
					return breakline && s.done
				}),
			)
			fmt.Fprintln(s.out, `type "help" for commands, "exit" to leave`)
			p.Run()
			return nil
		},
	}
}

// execute runs one shell line. It returns false once the shell should end.
func (s *shell) execute(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return !s.done
	}

	var err error
	switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
	case "exit", "quit":
		s.done = true
	case "help":
		_, err = io.WriteString(s.out, shellHelp)
	case "format":
		err = s.setFormat(args)
	case "select":
		err = s.selectRuns(ctx, args)
	case "devices":
		var t *query.Table
		if t, err = s.engine.ListDevices(ctx); err == nil {
			err = writeTable(s.out, s.format, t)
		}
	case "last":
		err = s.last(ctx)
	default:
		err = fmt.Errorf("unknown command %q, type help", cmd)
	}

	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	return !s.done
}

func (s *shell) setFormat(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: format table|json")
	}
	switch f := Format(strings.ToLower(args[0])); f {
	case FormatTable, FormatJSON:
		s.format = f
		return nil
	}
	return fmt.Errorf("unknown output format: %q", args[0])
}

func (s *shell) selectRuns(ctx context.Context, args []string) error {
	m := make(map[string]any, len(args))
	for _, arg := range args {
		k, v, err := splitAssignment(arg)
		if err != nil {
			return err
		}
		switch k {
		case "device", "filter", "notes", "type", "start", "end", "match_mode":
			m[k] = v
		default:
			m[k] = parseValue(v)
		}
	}
	t, err := s.engine.SelectRunsMap(ctx, m)
	if err != nil {
		return err
	}
	return writeTable(s.out, s.format, t)
}

func (s *shell) last(ctx context.Context) error {
	doc, found, err := s.engine.Last(ctx)
	if err != nil {
		return err
	}
	if !found {
		_, err := fmt.Fprintln(s.out, "no runs")
		return err
	}
	return writeDocument(s.out, s.format, doc)
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	word := d.GetWordBeforeCursor()
	before := strings.TrimSpace(d.TextBeforeCursor())
	if !strings.Contains(before, " ") && !strings.HasSuffix(d.TextBeforeCursor(), " ") {
		return prompt.FilterHasPrefix(shellSuggestions, word, true)
	}
	if strings.HasPrefix(before, "select") {
		return prompt.FilterHasPrefix(filterSuggestions, word, true)
	}
	return nil
}
