package cli

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/xtxerr/runstore/internal/catalog"
	"github.com/xtxerr/runstore/internal/query"
	"github.com/xtxerr/runstore/internal/record"
)

// Format is an output format.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

func formatFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "format",
		Usage: "Output format (table, json). Defaults to table on a terminal and json otherwise",
	}
}

// parseOutputFormat reads the format flag. An empty value picks table for
// terminals and JSON for everything else.
func parseOutputFormat(cmd *cli.Command, w io.Writer) (Format, error) {
	switch f := Format(strings.ToLower(cmd.String("format"))); f {
	case FormatTable, FormatJSON:
		return f, nil
	case "":
		if isTerminal(w) {
			return FormatTable, nil
		}
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unknown output format: %q", f)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// writeTable prints t in the requested format.
func writeTable(w io.Writer, format Format, t *query.Table) error {
	if format == FormatJSON {
		return writeJSON(w, t.Records())
	}
	if t.Len() == 0 {
		_, err := fmt.Fprintln(w, "no results")
		return err
	}
	rows := make([][]string, 0, t.Len())
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		rows = append(rows, cells)
	}
	renderTable(w, t.Columns, rows)
	return nil
}

// writeDocument prints one document as key/value pairs.
func writeDocument(w io.Writer, format Format, doc catalog.Document) error {
	if format == FormatJSON {
		return writeJSON(w, doc)
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, []string{k, formatCell(doc[k])})
	}
	renderTable(w, []string{"field", "value"}, rows)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

func renderTable(w io.Writer, header []string, rows [][]string) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(header)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.AppendBulk(rows)
	tw.Render()
}

// formatCell renders a document value for a table cell.
func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case int, int64, int32, uint64, uint32:
		return fmt.Sprint(x)
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}

// writeWarnings prints degradations of a save.
func writeWarnings(w io.Writer, warnings []record.FieldWarning) {
	if len(warnings) == 0 {
		return
	}
	rows := make([][]string, 0, len(warnings))
	for _, fw := range warnings {
		msg := ""
		if fw.Err != nil {
			msg = fw.Err.Error()
		}
		rows = append(rows, []string{fw.Field, fw.Reason, msg})
	}
	renderTable(w, []string{"field", "reason", "detail"}, rows)
}
