package record

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xtxerr/runstore/internal/errors"
)

// Manifest is the on-disk description of a finished run, used when a
// record is handed over as a file instead of in memory. JSON documents
// are valid manifests too.
type Manifest struct {
	// Type is the measurement type. Derived from Source when empty.
	Type string `yaml:"type"`

	// Source is the path of the procedure that produced the run. Relative
	// paths are resolved against the manifest's directory.
	Source string `yaml:"source"`

	Fields []ManifestField `yaml:"fields"`
}

// ManifestField is one entry of a manifest.
type ManifestField struct {
	Name  string `yaml:"name"`
	Kind  string `yaml:"kind"`
	DType string `yaml:"dtype,omitempty"`
	Value any    `yaml:"value"`
}

// Decode reads a manifest and builds its record. Scalar and array values
// are converted to typed Go values; an explicit dtype narrows them further.
func Decode(r io.Reader) (*Manifest, *Record, error) {
	var m Manifest
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&m); err != nil {
		return nil, nil, fmt.Errorf("decode manifest: %w", err)
	}

	rec := New()
	for i, mf := range m.Fields {
		if strings.TrimSpace(mf.Name) == "" {
			return nil, nil, fmt.Errorf("field %d: %w", i, errors.NewMissingField("name"))
		}
		kind, err := ParseKind(mf.Kind)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", mf.Name, err)
		}
		value, err := manifestValue(kind, mf)
		if err != nil {
			return nil, nil, fmt.Errorf("field %q: %w", mf.Name, err)
		}
		rec.Set(mf.Name, kind, value)
	}

	if m.Type == "" && m.Source != "" {
		m.Type = TypeFromSource(m.Source)
	}
	return &m, rec, nil
}

// ReadManifest decodes the manifest at path.
func ReadManifest(path string) (*Manifest, *Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	m, rec, err := Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Source != "" && !filepath.IsAbs(m.Source) {
		m.Source = filepath.Join(filepath.Dir(path), m.Source)
	}
	return m, rec, nil
}

func manifestValue(kind Kind, mf ManifestField) (any, error) {
	if kind == KindText || mf.Value == nil {
		return mf.Value, nil
	}

	var (
		v   Value
		err error
	)
	if kind == KindScalar {
		v, err = EncodeScalar(mf.Value)
	} else {
		v, err = EncodeArray(mf.Value)
	}
	if err != nil {
		return nil, err
	}

	if mf.DType != "" {
		if v, err = v.Convert(DType(mf.DType)); err != nil {
			return nil, err
		}
	}
	return v.Any()
}

// ReadSourceLines returns the lines of the procedure source at path,
// without line terminators.
func ReadSourceLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return SourceLines(f)
}

// SourceLines splits r into lines.
func SourceLines(r io.Reader) ([]string, error) {
	var lines []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	return lines, nil
}
