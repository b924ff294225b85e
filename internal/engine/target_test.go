package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/template"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name string
		raw  any
		want TargetSpec
	}{
		{"string", "card-1", Single{ID: "card-1"}},
		{"object", map[string]any{"id": "card-1"}, Single{ID: "card-1"}},
		{"strings", []any{"a", "b"}, List{IDs: []string{"a", "b"}}},
		{"typed strings", []string{"a", "b"}, List{IDs: []string{"a", "b"}}},
		{"objects", []any{map[string]any{"id": "a"}, "b"}, List{IDs: []string{"a", "b"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseTarget_Template(t *testing.T) {
	got, err := ParseTarget(map[string]any{
		"$map":    map[string]any{"$eval": "source.data.cards[0:]"},
		"each(c)": map[string]any{"$eval": "c.id"},
	})
	require.NoError(t, err)
	assert.IsType(t, Template{}, got)
}

func TestParseTarget_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  any
	}{
		{"duplicates", []any{"1", "1", "1"}},
		{"empty string", ""},
		{"empty list", []any{}},
		{"nil", nil},
		{"number", 42.0},
		{"object without id", map[string]any{"slug": "x"}},
		{"list with number", []any{"a", 1.0}},
		{"bad template", map[string]any{"$eval": "source.("}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTarget(tt.raw)
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.WorkerInvalidTrigger), "got %v", err)
		})
	}
}

func TestResolve(t *testing.T) {
	source := map[string]any{
		"id": "foo-1",
		"data": map[string]any{
			"cards": []any{
				map[string]any{"id": "A"},
				map[string]any{"id": "B"},
				map[string]any{"id": "A"},
			},
			"owner": map[string]any{"id": "U"},
		},
	}
	env := template.NewEnv(source, nil, "2024-01-01T00:00:00.000Z")

	parse := func(raw any) TargetSpec {
		spec, err := ParseTarget(raw)
		require.NoError(t, err)
		return spec
	}

	tests := []struct {
		name string
		spec TargetSpec
		want []string
	}{
		{"single", Single{ID: "x"}, []string{"x"}},
		{"list", List{IDs: []string{"x", "y"}}, []string{"x", "y"}},
		{"map dedupes", parse(map[string]any{
			"$map":    map[string]any{"$eval": "source.data.cards[0:]"},
			"each(c)": map[string]any{"$eval": "c.id"},
		}), []string{"A", "B"}},
		{"map of objects", parse(map[string]any{"$eval": "source.data.cards"}), []string{"A", "B"}},
		{"scalar eval", parse(map[string]any{"$eval": "source.data.owner.id"}), []string{"U"}},
		{"object eval", parse(map[string]any{"$eval": "source.data.owner"}), []string{"U"}},
		{"nulls skipped", parse([]any{map[string]any{"$eval": "null"}, map[string]any{"$eval": "source.id"}}), []string{"foo-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Resolve(tt.spec, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_Errors(t *testing.T) {
	env := template.NewEnv(map[string]any{"data": map[string]any{"n": 3.0}}, nil, "")

	for _, raw := range []any{
		map[string]any{"$eval": "source.data.missing"},
		map[string]any{"$eval": "source.data.n"},
	} {
		spec, err := ParseTarget(raw)
		require.NoError(t, err)
		_, err = Resolve(spec, env)
		assert.Error(t, err, "%v", raw)
	}
}
