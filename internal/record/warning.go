package record

import "fmt"

// Reasons attached to field warnings. They appear as the "reason" log
// attribute so degradations can be told apart.
const (
	ReasonConversion  = "conversion"
	ReasonWrite       = "write"
	ReasonExtraction  = "extraction"
	ReasonNonFinite   = "non_finite"
	ReasonUnsupported = "unsupported"
	ReasonSummary     = "summary"
	ReasonShadowed    = "shadowed"
	ReasonFallback    = "fallback"
	ReasonCatalog     = "catalog"
	ReasonArchive     = "archive"
	ReasonCollision   = "collision"
)

// FieldWarning describes a field that was skipped or degraded while a
// record was persisted.
type FieldWarning struct {
	Field  string
	Reason string
	Err    error
}

// String formats the warning for logs and CLI output.
func (w FieldWarning) String() string {
	if w.Err == nil {
		return fmt.Sprintf("%s: %s", w.Field, w.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", w.Field, w.Reason, w.Err)
}
