// Package querysql compiles the indexable part of a contract filter into
// parameterized SQLite.
//
// A filter schema is reduced to schema.Hints (see package schema), turned
// into a Select over the contracts table, and compiled here. The SQL result
// is a superset of the matches: the store still runs the full schema
// predicate on every row it returns.
package querysql

// Predicate is a filter condition over contract columns.
//
// This is a sealed interface - only types in this package implement it.
type Predicate interface {
	predicateNode()
}

// Equals is field = value.
type Equals struct {
	Field string
	Value any
}

// In is field IN (values...). An empty Values list matches nothing.
type In struct {
	Field  string
	Values []string
}

// And is the conjunction of its predicates. An empty And matches everything.
type And struct {
	Predicates []Predicate
}

func (Equals) predicateNode() {}
func (In) predicateNode()     {}
func (And) predicateNode()    {}

// Select is a query over the contracts table.
//
//	SELECT <columns> FROM contracts WHERE <filter> ORDER BY created_at, id
type Select struct {
	Filter Predicate
	Limit  int
}

// allowedFields are the contract columns a predicate may reference.
var allowedFields = map[string]bool{
	"id":     true,
	"slug":   true,
	"type":   true,
	"active": true,
}
