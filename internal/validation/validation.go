// Package validation provides centralized input validation for runstore.
//
// Names end up in SQL identifiers, JSON paths and file names; each use has
// its own rule set.
package validation

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for names.
type NameRules struct {
	MinLength    int
	MaxLength    int
	AllowDots    bool
	AllowHyphens bool
	AllowUnders  bool
	AllowSpaces  bool
}

// IdentifierRules returns rules for SQL schema and table names.
func IdentifierRules() NameRules {
	return NameRules{
		MinLength:   1,
		MaxLength:   63,
		AllowUnders: true,
	}
}

// FieldNameRules returns rules for record field names used in queries.
func FieldNameRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowSpaces:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case ' ':
		return rules.AllowSpaces
	}
	return false
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier validates a SQL identifier (schema or table name).
func ValidateIdentifier(name string) error {
	if err := ValidateName(name, IdentifierRules()); err != nil {
		return err
	}
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("identifier %q must start with a letter or underscore", name)
	}
	return nil
}

// ValidateFieldName validates a document field name used in a filter,
// sort or group. The name is embedded in a quoted JSON path.
func ValidateFieldName(name string) error {
	if strings.ContainsAny(name, `"\`) {
		return fmt.Errorf("field name %q cannot contain quotes or backslashes", name)
	}
	return ValidateName(name, FieldNameRules())
}

// =============================================================================
// File Name Components
// =============================================================================

// FileComponent makes s safe to use as one component of a file name.
// Path separators and control characters become '_'; an empty result
// becomes "unknown".
func FileComponent(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r < 32 || r == 127:
			b.WriteByte('_')
		case r == '/' || r == '\\' || r == ':' || r == ';':
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "." || out == ".." {
		return "unknown"
	}
	return out
}

// =============================================================================
// Patterns
// =============================================================================

// CompilePattern compiles a user supplied pattern as a case-insensitive,
// unanchored regular expression.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	return re, nil
}
