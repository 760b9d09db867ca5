// Package domain defines core domain types, constants, and validation for
// the lawvec pipeline. It acts as the validation gate at pipeline entry points.
package domain

import (
	"strings"
	"time"
)

// LawEntry is one row of the e-Gov law index: the mapping from a law name
// to its official number.
type LawEntry struct {
	ID            string    `json:"id,omitempty"`
	Name          string    `json:"name"`
	Number        string    `json:"number"`
	Category      Category  `json:"category"`
	PromulgatedAt time.Time `json:"promulgated_at,omitempty"`
}

// LawDocument is a fetched law: the raw XML body keyed by law number.
type LawDocument struct {
	Number    string    `json:"number"`
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	Body      string    `json:"body"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Query represents a user question against the law corpus.
type Query struct {
	Text     string   `json:"text"`
	Category Category `json:"category,omitempty"`
}

// Category selects which slice of the statute book an index request covers.
// The values are the e-Gov lawlists category codes.
type Category int

const (
	CategoryAll          Category = 1 // every law in force
	CategoryConstitution Category = 2 // constitution and acts
	CategoryCabinetOrder Category = 3 // cabinet orders
	CategoryMinisterial  Category = 4 // ministerial ordinances
)

// ValidCategories is the set of recognised index categories.
var ValidCategories = map[Category]bool{
	CategoryAll: true, CategoryConstitution: true,
	CategoryCabinetOrder: true, CategoryMinisterial: true,
}

func (c Category) String() string {
	switch c {
	case CategoryAll:
		return "all"
	case CategoryConstitution:
		return "constitution_acts"
	case CategoryCabinetOrder:
		return "cabinet_orders"
	case CategoryMinisterial:
		return "ministerial_ordinances"
	default:
		return "unknown"
	}
}

// Eras that can open a kanji law number, newest first.
var eras = []string{"令和", "平成", "昭和", "大正", "明治"}

// EraOf returns the era name opening a kanji law number, or "" when the
// number uses another form.
func EraOf(number string) string {
	for _, e := range eras {
		if strings.HasPrefix(number, e) {
			return e
		}
	}
	return ""
}
