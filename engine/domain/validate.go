package domain

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// e-Gov law IDs: era digits, law-type letters, then a zero-padded serial,
// e.g. 322AC0000000049 for the Labor Standards Act.
var lawIDRegex = regexp.MustCompile(`^[0-9]{3}[A-Z]{2}[0-9]{10}$`)

// Injection patterns: SQL fragments that should never appear in a user query.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(DROP|DELETE|INSERT|UPDATE|ALTER|EXEC|UNION)\b.*\b(TABLE|FROM|INTO|SELECT|SET)\b`),
	regexp.MustCompile(`(?i)(--|;)\s*(DROP|DELETE|SELECT)`),
	regexp.MustCompile(`(?i)\$\{.*\}`),            // template injection
	regexp.MustCompile(`(?i)\{\s*"\$[a-z]+"\s*:`), // NoSQL operator injection
}

const minQueryLength = 5

// ValidateLawEntry validates an index row.
func ValidateLawEntry(e LawEntry) error {
	if strings.TrimSpace(e.Name) == "" {
		return NewValidationError("name", e.Name, ErrEmptyLawName)
	}
	if strings.TrimSpace(e.Number) == "" {
		return NewValidationError("number", e.Number, ErrEmptyLawNumber)
	}
	if !ValidCategories[e.Category] {
		return NewValidationError("category", e.Category.String(), ErrUnknownCategory)
	}
	// ID is optional but if provided must be a well-formed e-Gov law id.
	if e.ID != "" && !lawIDRegex.MatchString(e.ID) {
		return NewValidationError("id", e.ID, ErrInvalidLawID)
	}
	return nil
}

// ValidateLawDocument checks a fetched law before ingestion.
func ValidateLawDocument(d LawDocument) error {
	if strings.TrimSpace(d.Number) == "" {
		return NewValidationError("number", d.Number, ErrEmptyLawNumber)
	}
	if strings.TrimSpace(d.Name) == "" {
		return NewValidationError("name", d.Name, ErrEmptyLawName)
	}
	if strings.TrimSpace(d.Body) == "" {
		return NewValidationError("body", "", ErrEmptyLawBody)
	}
	return nil
}

// ValidateQuery validates a user question.
func ValidateQuery(q Query) error {
	text := strings.TrimSpace(q.Text)

	// Length check
	if utf8.RuneCountInString(text) < minQueryLength {
		return NewValidationError("text", text, ErrQueryTooShort)
	}

	// Injection check
	for _, pat := range injectionPatterns {
		if pat.MatchString(text) {
			return NewValidationError("text", text, ErrQueryInjection)
		}
	}

	// Category is optional on queries; zero means unscoped.
	if q.Category != 0 && !ValidCategories[q.Category] {
		return NewValidationError("category", q.Category.String(), ErrUnknownCategory)
	}

	return nil
}
