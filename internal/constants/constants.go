// Package constants provides centralized domain-specific constants
// for the entire runstore application.
//
// Field names shared between the record model, the container file, the
// catalog document and the query engine live here.
package constants

// =============================================================================
// Record Fields
// =============================================================================

const (
	// FieldDevice names the device under test. Required on every record.
	FieldDevice = "device"

	// FieldFilter is the optional filter label.
	FieldFilter = "filter"

	// FieldNotes is optional free text.
	FieldNotes = "notes"

	// FieldFitResults holds the mapping produced by the external fitter.
	FieldFitResults = "fit_results"

	// InternalPrefix marks fields that are never persisted.
	InternalPrefix = "_"
)

// ReservedFields are handled explicitly by the document builder and never
// flattened as ordinary fields.
var ReservedFields = []string{FieldDevice, FieldFilter, FieldNotes, FieldFitResults}

// IsReserved reports whether name is one of ReservedFields.
func IsReserved(name string) bool {
	for _, f := range ReservedFields {
		if f == name {
			return true
		}
	}
	return false
}

// LargeArrays are bulk sweep and pixel arrays. They are stored in the
// container file but never enter a catalog document.
var LargeArrays = []string{
	"freq_arr", "resp_arr", "pixel_i", "pixel_q", "lsb", "usb", "freqs_usb", "freqs_lsb",
}

// IsLargeArray reports whether name is one of LargeArrays.
func IsLargeArray(name string) bool {
	for _, f := range LargeArrays {
		if f == name {
			return true
		}
	}
	return false
}

// =============================================================================
// Catalog Document Fields
// =============================================================================

const (
	DocID      = "_id"
	DocUTCTime = "utc_time"
	DocNumber  = "number"
	DocType    = "type"
	DocFile    = "file"
	DocDevice  = FieldDevice
	DocFilter  = FieldFilter
	DocNotes   = FieldNotes
)

// DocumentColumns are the fields every catalog document carries, in the
// order query results present them.
var DocumentColumns = []string{
	DocNumber, DocUTCTime, DocDevice, DocType, DocFilter, DocNotes, DocFile,
}

// =============================================================================
// Fit Results
// =============================================================================

// Keys read from the fit-result mapping.
const (
	FitKeyFr       = "fr"
	FitKeyFrErr    = "fr_err"
	FitKeyQi       = "Qi_dia_corr"
	FitKeyQiErr    = "Qi_dia_corr_err"
	FitKeyQc       = "Qc_dia_corr"
	FitKeyQcErr    = "Qc_dia_corr_err"
	FitKeyAbsQcErr = "absQc_err"
	FitKeyQl       = "Ql"
	FitKeyQlErr    = "Ql_err"
)

// Document keys written from the fit-result mapping.
const (
	FitFr    = "fit_fr"
	FitFrErr = "fit_fr_err"
	FitQi    = "fit_Qi"
	FitQiErr = "fit_Qi_err"
	FitQc    = "fit_Qc"
	FitQcErr = "fit_Qc_err"
	FitQl    = "fit_Ql"
	FitQlErr = "fit_Ql_err"
	FitKappa = "fit_kappa"
)

// =============================================================================
// Run Numbers
// =============================================================================

const (
	// NumberSpaceCatalog is the space of catalog-issued 8 digit numbers.
	NumberSpaceCatalog = "catalog"

	// NumberSpaceFallback is the space of timestamp surrogates.
	NumberSpaceFallback = "fallback"

	// NumberWidth is the zero-padded width of catalog numbers.
	NumberWidth = 8

	// FallbackLayout formats fallback surrogates (YYYYMMDDHHMMSS).
	FallbackLayout = "20060102150405"

	// CounterName is the catalog counter row used for run numbers.
	CounterName = "number"

	// MaxCounterDigits bounds the run numbers that seed the counter.
	// Fallback surrogates are longer and never count.
	MaxCounterDigits = 12
)

// =============================================================================
// Query
// =============================================================================

const (
	// MatchExact compares string filters for equality.
	MatchExact = "exact"

	// MatchPattern treats string filters as case-insensitive regular expressions.
	MatchPattern = "pattern"

	// CountColumn is the count column produced by ListDevices.
	CountColumn = "count"
)
