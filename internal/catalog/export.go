package catalog

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
)

// maxExportMessage bounds one exported document.
const maxExportMessage = 64 << 20

// Export writes every document of c to w as a stream of length-delimited
// protobuf Structs, ordered by run number. It returns the number of
// documents written.
func Export(ctx context.Context, c Catalog, w io.Writer) (int, error) {
	docs, err := c.Find(ctx, Query{Sort: []SortKey{{Field: constants.DocNumber}}})
	if err != nil {
		return 0, err
	}

	bw := bufio.NewWriter(w)
	for i, doc := range docs {
		s, err := structpb.NewStruct(doc)
		if err != nil {
			return i, fmt.Errorf("document %s: %w", doc.ID(), err)
		}
		if _, err := protodelim.MarshalTo(bw, s); err != nil {
			return i, fmt.Errorf("write document %s: %w", doc.ID(), err)
		}
	}
	if err := bw.Flush(); err != nil {
		return len(docs), fmt.Errorf("flush export: %w", err)
	}
	return len(docs), nil
}

// ImportStats summarises an import.
type ImportStats struct {
	Imported int
	Skipped  int
}

// Import reads a stream written by Export and inserts every document into
// c. Documents whose id or run number already exist are skipped.
func Import(ctx context.Context, c Catalog, r io.Reader) (ImportStats, error) {
	var stats ImportStats
	br := bufio.NewReader(r)
	opts := protodelim.UnmarshalOptions{MaxSize: maxExportMessage}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		s := &structpb.Struct{}
		err := opts.UnmarshalFrom(br, s)
		if err == io.EOF {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("read document %d: %w", stats.Imported+stats.Skipped+1, err)
		}

		doc := Document(s.AsMap())
		if _, err := c.Insert(ctx, doc); err != nil {
			if errors.IsAlreadyExists(err) {
				stats.Skipped++
				log.Debug("import skipped existing document", "id", doc.ID(), "number", doc[constants.DocNumber])
				continue
			}
			return stats, err
		}
		stats.Imported++
	}
}
