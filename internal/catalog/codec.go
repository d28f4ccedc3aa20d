package catalog

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"

	"github.com/xtxerr/runstore/internal/constants"
	"github.com/xtxerr/runstore/internal/errors"
)

// Marshal encodes doc as JSON. The "_id" key is left out; backends keep the
// id next to the body.
func Marshal(doc Document) ([]byte, error) {
	body := doc
	if _, ok := doc[constants.DocID]; ok {
		body = doc.Clone()
		delete(body, constants.DocID)
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w: %v", errors.ErrFieldConversion, err)
	}
	return data, nil
}

// Unmarshal decodes a JSON document body. Numbers decode as float64, the
// way every backend returns them.
func Unmarshal(data []byte) (Document, error) {
	doc := make(Document)
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	return doc, nil
}

// Normalize returns doc in the shape a backend hands it back: a JSON round
// trip, with "_id" kept. Stored and returned documents therefore look the
// same for every backend.
func Normalize(doc Document) (Document, error) {
	data, err := Marshal(doc)
	if err != nil {
		return nil, err
	}
	out, err := Unmarshal(data)
	if err != nil {
		return nil, err
	}
	if id, ok := doc[constants.DocID]; ok {
		out[constants.DocID] = id
	}
	return out, nil
}
