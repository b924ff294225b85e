package querysql

import (
	"fmt"
	"strings"

	"github.com/roach88/contractworker/internal/schema"
)

// Columns is the column list every contract query selects, in scan order.
const Columns = "id, slug, version, type, name, active, tags, data, created_at, updated_at"

// SQLCompiler compiles a Select to parameterized SQL for SQLite.
//
// All queries are ordered by (created_at, id) so results are deterministic.
// Values are always bound as ? parameters, never interpolated.
type SQLCompiler struct{}

// NewSQLCompiler creates a new SQLCompiler.
func NewSQLCompiler() *SQLCompiler {
	return &SQLCompiler{}
}

// FromHints builds the Select implied by a filter's hints.
func FromHints(h schema.Hints) Select {
	var preds []Predicate
	if h.Types != nil {
		preds = append(preds, In{Field: "type", Values: h.Types})
	}
	if h.IDs != nil {
		preds = append(preds, In{Field: "id", Values: h.IDs})
	}
	if h.Slugs != nil {
		preds = append(preds, In{Field: "slug", Values: h.Slugs})
	}
	if h.Active != nil {
		preds = append(preds, Equals{Field: "active", Value: *h.Active})
	}
	return Select{Filter: And{Predicates: preds}}
}

// Compile converts a Select to (sql, params).
func (c *SQLCompiler) Compile(q Select) (string, []any, error) {
	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(Columns)
	sb.WriteString(" FROM contracts")

	var params []any
	if q.Filter != nil {
		where, whereParams, err := c.compilePredicate(q.Filter)
		if err != nil {
			return "", nil, fmt.Errorf("compile filter: %w", err)
		}
		if where != "1 = 1" {
			sb.WriteString(" WHERE ")
			sb.WriteString(where)
			params = whereParams
		}
	}

	sb.WriteString(" ORDER BY created_at ASC, id COLLATE BINARY ASC")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		params = append(params, q.Limit)
	}
	return sb.String(), params, nil
}

func (c *SQLCompiler) compilePredicate(p Predicate) (string, []any, error) {
	switch pred := p.(type) {
	case Equals:
		return c.compileEquals(pred)
	case In:
		return c.compileIn(pred)
	case And:
		return c.compileAnd(pred)
	case nil:
		return "1 = 1", nil, nil
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func (c *SQLCompiler) compileEquals(eq Equals) (string, []any, error) {
	if !allowedFields[eq.Field] {
		return "", nil, fmt.Errorf("unknown field %q", eq.Field)
	}
	value := eq.Value
	if b, ok := value.(bool); ok {
		// active is stored as INTEGER 0/1.
		if b {
			value = 1
		} else {
			value = 0
		}
	}
	return eq.Field + " = ?", []any{value}, nil
}

func (c *SQLCompiler) compileIn(in In) (string, []any, error) {
	if !allowedFields[in.Field] {
		return "", nil, fmt.Errorf("unknown field %q", in.Field)
	}
	if len(in.Values) == 0 {
		return "1 = 0", nil, nil
	}
	if len(in.Values) == 1 {
		return in.Field + " = ?", []any{in.Values[0]}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(in.Values)), ", ")
	params := make([]any, len(in.Values))
	for i, v := range in.Values {
		params[i] = v
	}
	return fmt.Sprintf("%s IN (%s)", in.Field, placeholders), params, nil
}

func (c *SQLCompiler) compileAnd(and And) (string, []any, error) {
	if len(and.Predicates) == 0 {
		return "1 = 1", nil, nil
	}
	var parts []string
	var params []any
	for _, pred := range and.Predicates {
		sql, p, err := c.compilePredicate(pred)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, sql)
		params = append(params, p...)
	}
	return strings.Join(parts, " AND "), params, nil
}
