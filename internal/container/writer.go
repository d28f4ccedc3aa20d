// Package container writes and reads the self-describing file that holds
// the complete record of one run.
//
// A container is a Parquet file with one row per entry. The first row holds
// the procedure source, followed by one row per persisted field:
//
//	section  name         dtype    shape   values
//	source   source_code  string   [n]     strings
//	attr     power        float64  []      floats
//	dataset  freq_arr     float64  [1024]  floats
//	text     fit_results  string   []      strings
//
// Run metadata (number, device, type) is kept in the file key/value metadata.
package container

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/logging"
	"github.com/xtxerr/runstore/internal/record"
	"github.com/xtxerr/runstore/internal/validation"
)

var log = logging.Component("container")

// Entry sections.
const (
	SectionSource  = "source"
	SectionAttr    = "attr"
	SectionDataset = "dataset"
	SectionText    = "text"
)

// SourceEntryName names the row holding the procedure source.
const SourceEntryName = "source_code"

// FormatVersion identifies the container layout.
const FormatVersion = "runstore/1"

// Metadata keys.
const (
	MetaFormat      = "runstore.format"
	MetaNumber      = "runstore.number"
	MetaNumberSpace = "runstore.number_space"
	MetaDevice      = "runstore.device"
	MetaType        = "runstore.type"
	MetaCreated     = "runstore.created"
)

// entryRow is one entry of a container file.
type entryRow struct {
	Section string    `parquet:"section,dict"`
	Name    string    `parquet:"name"`
	Seq     int32     `parquet:"seq"`
	DType   string    `parquet:"dtype,dict"`
	Shape   []int64   `parquet:"shape"`
	Floats  []float64 `parquet:"floats"`
	Imags   []float64 `parquet:"imags"`
	Ints    []int64   `parquet:"ints"`
	Uints   []uint64  `parquet:"uints"`
	Bools   []bool    `parquet:"bools"`
	Strings []string  `parquet:"strings"`
}

// Meta is the run metadata stored with a container.
type Meta struct {
	Number      string
	NumberSpace string
	Device      string
	Type        string
	Created     time.Time
}

func (m Meta) options() []parquet.WriterOption {
	created := m.Created
	if created.IsZero() {
		created = time.Now()
	}
	return []parquet.WriterOption{
		parquet.KeyValueMetadata(MetaFormat, FormatVersion),
		parquet.KeyValueMetadata(MetaNumber, m.Number),
		parquet.KeyValueMetadata(MetaNumberSpace, m.NumberSpace),
		parquet.KeyValueMetadata(MetaDevice, m.Device),
		parquet.KeyValueMetadata(MetaType, m.Type),
		parquet.KeyValueMetadata(MetaCreated, created.UTC().Format(time.RFC3339Nano)),
	}
}

// Report describes a completed write.
type Report struct {
	Path    string
	Entries int
	Bytes   int64
	Skipped []record.FieldWarning
}

// Writer writes container files. A Writer holds no per-run state and can
// be shared between goroutines.
type Writer struct {
	opts Options

	mu      sync.Mutex
	written int64
	skipped int64
}

// NewWriter creates a writer.
func NewWriter(opts Options) *Writer {
	return &Writer{opts: opts}
}

// FileName builds the file name of a run: <number>-<device>-<type><ext>.
func FileName(number, device, typ, ext string) string {
	return fmt.Sprintf("%s-%s-%s%s",
		validation.FileComponent(number),
		validation.FileComponent(device),
		validation.FileComponent(typ),
		ext)
}

// FileName builds the file name of a run with the writer's extension.
func (w *Writer) FileName(number, device, typ string) string {
	return FileName(number, device, typ, w.opts.Extension)
}

// Write persists the complete record of one run to path.
//
// It fails only when the record has no device or when the file cannot be
// created; an existing file at path is never replaced and yields
// ErrFileAlreadyExists. A field that cannot be converted or written is
// logged, listed in the report and skipped.
func (w *Writer) Write(rec *record.Record, source []string, meta Meta, path string) (*Report, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if _, err := os.Lstat(path); err == nil {
		return nil, fmt.Errorf("%s: %w", path, errors.ErrFileAlreadyExists)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	opts := append([]parquet.WriterOption{parquet.Compression(w.opts.Compression.codec())}, meta.options()...)
	pw := parquet.NewGenericWriter[entryRow](tmp, opts...)

	report := &Report{Path: path}
	var seq int32

	put := func(row entryRow) error {
		row.Seq = seq
		if _, err := pw.Write([]entryRow{row}); err != nil {
			return err
		}
		seq++
		report.Entries++
		return nil
	}

	if err := put(sourceRow(source)); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write source: %w", err)
	}

	for _, f := range rec.Fields() {
		if f.Internal() {
			continue
		}
		row, err := fieldRow(f)
		if err != nil {
			w.skip(report, f.Name, record.ReasonConversion, err)
			continue
		}
		if err := put(row); err != nil {
			w.skip(report, f.Name, record.ReasonWrite, err)
		}
	}

	if err := pw.Close(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("close writer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("sync file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close file: %w", err)
	}

	if err := publish(tmpPath, path); err != nil {
		return nil, err
	}

	if st, err := os.Stat(path); err == nil {
		report.Bytes = st.Size()
	}

	w.mu.Lock()
	w.written++
	w.mu.Unlock()

	log.Debug("container written",
		"path", path,
		"entries", report.Entries,
		"skipped", len(report.Skipped),
		"bytes", report.Bytes)

	return report, nil
}

// publish moves the finished temp file to its final name without ever
// replacing an existing file.
func publish(tmpPath, path string) error {
	err := os.Link(tmpPath, path)
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		return fmt.Errorf("%s: %w", path, errors.ErrFileAlreadyExists)
	}

	// Filesystems without hard links.
	if _, statErr := os.Lstat(path); statErr == nil {
		return fmt.Errorf("%s: %w", path, errors.ErrFileAlreadyExists)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	return nil
}

func (w *Writer) skip(report *Report, field, reason string, err error) {
	report.Skipped = append(report.Skipped, record.FieldWarning{Field: field, Reason: reason, Err: err})

	w.mu.Lock()
	w.skipped++
	w.mu.Unlock()

	log.Warn("unable to save field", "field", field, "reason", reason, "error", err)
}

// Stats returns the number of files written and fields skipped.
func (w *Writer) Stats() (written, skipped int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written, w.skipped
}

func sourceRow(lines []string) entryRow {
	return entryRow{
		Section: SectionSource,
		Name:    SourceEntryName,
		DType:   string(record.DTypeString),
		Shape:   []int64{int64(len(lines))},
		Strings: lines,
	}
}

func fieldRow(f record.Field) (entryRow, error) {
	switch f.Kind {
	case record.KindText:
		text, err := record.Text(f.Value)
		if err != nil {
			return entryRow{}, err
		}
		return entryRow{
			Section: SectionText,
			Name:    f.Name,
			DType:   string(record.DTypeString),
			Strings: []string{text},
		}, nil

	case record.KindScalar:
		v, err := record.EncodeScalar(f.Value)
		if err != nil {
			return entryRow{}, err
		}
		return valueRow(SectionAttr, f.Name, v), nil

	case record.KindArray:
		v, err := record.EncodeArray(f.Value)
		if err != nil {
			return entryRow{}, err
		}
		return valueRow(SectionDataset, f.Name, v), nil
	}
	return entryRow{}, fmt.Errorf("kind %v: %w", f.Kind, errors.ErrUnsupportedType)
}

func valueRow(section, name string, v record.Value) entryRow {
	row := entryRow{
		Section: section,
		Name:    name,
		DType:   string(v.DType),
		Floats:  v.Floats,
		Imags:   v.Imags,
		Ints:    v.Ints,
		Uints:   v.Uints,
		Bools:   v.Bools,
		Strings: v.Strings,
	}
	for _, d := range v.Shape {
		row.Shape = append(row.Shape, int64(d))
	}
	return row
}
