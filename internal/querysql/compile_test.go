package querysql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/schema"
)

const selectPrefix = "SELECT " + Columns + " FROM contracts"
const orderSuffix = " ORDER BY created_at ASC, id COLLATE BINARY ASC"

func TestCompile(t *testing.T) {
	active := true
	inactive := false

	tests := []struct {
		name       string
		query      Select
		wantSQL    string
		wantParams []any
	}{
		{
			name:    "no filter",
			query:   Select{},
			wantSQL: selectPrefix + orderSuffix,
		},
		{
			name:    "empty and",
			query:   FromHints(schema.Hints{}),
			wantSQL: selectPrefix + orderSuffix,
		},
		{
			name:       "single type",
			query:      FromHints(schema.Hints{Types: []string{"foo@1.0.0"}}),
			wantSQL:    selectPrefix + " WHERE type = ?" + orderSuffix,
			wantParams: []any{"foo@1.0.0"},
		},
		{
			name:       "types and active",
			query:      FromHints(schema.Hints{Types: []string{"a@1.0.0", "b@1.0.0"}, Active: &active}),
			wantSQL:    selectPrefix + " WHERE type IN (?, ?) AND active = ?" + orderSuffix,
			wantParams: []any{"a@1.0.0", "b@1.0.0", 1},
		},
		{
			name:       "ids slugs inactive",
			query:      FromHints(schema.Hints{IDs: []string{"1"}, Slugs: []string{"s"}, Active: &inactive}),
			wantSQL:    selectPrefix + " WHERE id = ? AND slug = ? AND active = ?" + orderSuffix,
			wantParams: []any{"1", "s", 0},
		},
		{
			name:    "empty intersection matches nothing",
			query:   FromHints(schema.Hints{Types: []string{}}),
			wantSQL: selectPrefix + " WHERE 1 = 0" + orderSuffix,
		},
		{
			name:       "limit",
			query:      Select{Filter: Equals{Field: "slug", Value: "x"}, Limit: 5},
			wantSQL:    selectPrefix + " WHERE slug = ?" + orderSuffix + " LIMIT ?",
			wantParams: []any{"x", 5},
		},
	}

	c := NewSQLCompiler()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, params, err := c.Compile(tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, sql)
			assert.Equal(t, tt.wantParams, params)
		})
	}
}

func TestCompile_RejectsUnknownField(t *testing.T) {
	c := NewSQLCompiler()

	_, _, err := c.Compile(Select{Filter: Equals{Field: "data; DROP TABLE contracts", Value: 1}})
	assert.Error(t, err)

	_, _, err = c.Compile(Select{Filter: And{Predicates: []Predicate{In{Field: "nope", Values: []string{"x"}}}}})
	assert.Error(t, err)
}
