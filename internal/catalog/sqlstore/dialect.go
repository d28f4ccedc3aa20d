package sqlstore

// Dialect adapts the store to one SQL engine.
//
// Placeholders are numbered ($1, $2, ...) in every supported engine. The
// field helpers embed the field name as a string literal; field names are
// validated to contain no quotes before they reach a dialect.
type Dialect interface {
	// Name identifies the dialect in logs.
	Name() string

	// DriverName is the database/sql driver to open.
	DriverName() string

	// Schema returns the statements that create the schema, the document
	// table and the counter table. Every statement is idempotent.
	Schema(t Tables) []string

	// NextNumber returns an UPDATE ... RETURNING statement that advances
	// the counter named $1 to max(counter, greatest numeric run number) + 1.
	NextNumber(t Tables) string

	// SeedCounter returns a statement inserting counter $1 at zero unless
	// it already exists.
	SeedCounter(t Tables) string

	// JSONParam casts a text placeholder to the document column type.
	JSONParam(ph string) string

	// DocText renders the document column as JSON text.
	DocText() string

	// FieldText extracts a field as text.
	FieldText(field string) string

	// FieldIsString tests that a field holds a JSON string.
	FieldIsString(field string) string

	// FieldNumber extracts a numeric field as a double, NULL otherwise.
	FieldNumber(field string) string

	// Regex tests expr against the pattern in ph.
	Regex(expr, ph string) string

	// Classify maps a driver error into the errors taxonomy.
	Classify(err error) error
}

// Tables names the objects of one catalog.
type Tables struct {
	Schema     string
	Documents  string
	Counters   string
	Sequence   string
	IndexNames []string
}

// NewTables quotes the names for a catalog collection inside schema.
func NewTables(schema, collection string) Tables {
	return Tables{
		Schema:    quote(schema),
		Documents: quote(schema) + "." + quote(collection),
		Counters:  quote(schema) + "." + quote(collection+"_counters"),
		Sequence:  schema + "." + collection + "_seq",
		IndexNames: []string{
			quote(collection + "_device_idx"),
			quote(collection + "_utc_time_idx"),
		},
	}
}

func quote(ident string) string {
	return `"` + ident + `"`
}
