package container

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/xtxerr/runstore/internal/errors"
	"github.com/xtxerr/runstore/internal/record"
)

// Loaded is the content of a container file.
type Loaded struct {
	Path   string
	Meta   Meta
	Source []string
	Record *record.Record
}

// Load reads a container file back into a record. Scalars and arrays keep
// their original Go element types; text entries load as strings.
func Load(path string) (*Loaded, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", path, errors.ErrInvalidFormat, err)
	}
	if format, _ := pf.Lookup(MetaFormat); format != FormatVersion {
		return nil, fmt.Errorf("%s: unknown format %q: %w", path, format, errors.ErrInvalidFormat)
	}

	out := &Loaded{
		Path:   path,
		Meta:   readMeta(pf),
		Record: record.New(),
	}

	reader := parquet.NewGenericReader[entryRow](f)
	defer reader.Close()

	rows := make([]entryRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	for _, row := range rows[:n] {
		if err := out.add(row); err != nil {
			return nil, fmt.Errorf("%s: entry %q: %w", path, row.Name, err)
		}
	}
	return out, nil
}

func (l *Loaded) add(row entryRow) error {
	switch row.Section {
	case SectionSource:
		l.Source = row.Strings
		if l.Source == nil {
			l.Source = []string{}
		}
	case SectionText:
		text := ""
		if len(row.Strings) > 0 {
			text = row.Strings[0]
		}
		l.Record.SetText(row.Name, text)
	case SectionAttr, SectionDataset:
		v := record.Value{
			DType:   record.DType(row.DType),
			Floats:  row.Floats,
			Imags:   row.Imags,
			Ints:    row.Ints,
			Uints:   row.Uints,
			Bools:   row.Bools,
			Strings: row.Strings,
		}
		for _, d := range row.Shape {
			v.Shape = append(v.Shape, int(d))
		}
		if row.Section == SectionDataset && v.Shape == nil {
			return fmt.Errorf("dataset without shape: %w", errors.ErrInvalidFormat)
		}
		value, err := v.Any()
		if err != nil {
			return err
		}
		if row.Section == SectionAttr {
			l.Record.SetScalar(row.Name, value)
		} else {
			l.Record.SetArray(row.Name, value)
		}
	default:
		return fmt.Errorf("unknown section %q: %w", row.Section, errors.ErrInvalidFormat)
	}
	return nil
}

func readMeta(pf *parquet.File) Meta {
	var m Meta
	m.Number, _ = pf.Lookup(MetaNumber)
	m.NumberSpace, _ = pf.Lookup(MetaNumberSpace)
	m.Device, _ = pf.Lookup(MetaDevice)
	m.Type, _ = pf.Lookup(MetaType)
	if created, ok := pf.Lookup(MetaCreated); ok {
		m.Created, _ = time.Parse(time.RFC3339Nano, created)
	}
	return m
}

// Entries returns the number of entries in a container without decoding them.
func Entries(path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat file: %w", err)
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return 0, fmt.Errorf("%s: %w: %v", path, errors.ErrInvalidFormat, err)
	}
	return pf.NumRows(), nil
}
