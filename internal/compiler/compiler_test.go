package compiler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestLoad_Directory(t *testing.T) {
	r, errs := Load("testdata/invoices", LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, r.FileCount)

	require.Len(t, r.Relationships, 1)
	rel := r.Relationships[0]
	assert.Equal(t, "relationship-has-line-item", rel.Slug)
	assert.Equal(t, "has line item", rel.Name)
	assert.Equal(t, contract.TypeRelationship, rel.Type)
	assert.Equal(t, "is line item of", rel.Data["inverseName"])

	require.Len(t, r.Types, 2)
	assert.Equal(t, "invoice", r.Types[0].Slug)
	assert.Equal(t, "Invoice", r.Types[0].Name)
	assert.Equal(t, "line-item", r.Types[1].Slug)
	assert.Equal(t, "line-item", r.Types[1].Name, "name defaults to the label")
	assert.Equal(t, "1.0.0", r.Types[1].Version)

	require.Len(t, r.Triggers, 1)
	tr := r.Triggers[0]
	assert.Equal(t, "triggered-action-flag-large", tr.Slug)
	assert.Equal(t, "insert", tr.Data["mode"])
	assert.Equal(t, map[string]any{"$eval": "source.id"}, tr.Data["target"])

	require.Len(t, r.Scheduled, 1)
	assert.Equal(t, "scheduled-action-nightly-touch", r.Scheduled[0].Slug)

	all := r.Contracts()
	require.Len(t, all, 5)
	assert.Equal(t, contract.TypeRelationship, all[0].Type, "verbs install first")
	assert.Equal(t, contract.TypeScheduledAction, all[4].Type)

	assert.Empty(t, Validate(r, nil, testNow))
}

func TestLoad_Errors(t *testing.T) {
	_, errs := Load("testdata/missing", LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeNotFound, errs[0].(*LoadError).Code)

	r, errs := Load("testdata/broken", LoadModeCollectAll)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrCodeInvalidType, errs[0].(*LoadError).Code)
	assert.Equal(t, ErrCodeInvalidTrigger, errs[1].(*LoadError).Code)
	assert.Empty(t, r.Contracts())

	_, errs = Load("testdata/broken", LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestCompileString(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		wantErr string
	}{
		{
			name:    "empty",
			src:     `other: 1`,
			wantErr: "no relationships",
		},
		{
			name:    "type without schema",
			src:     `types: foo: name: "Foo"`,
			wantErr: "schema is required",
		},
		{
			name:    "relationship without inverse",
			src:     `relationships: owns: from: ["a@1.0.0"]`,
			wantErr: "inverseName is required",
		},
		{
			name:    "trigger without action",
			src:     `triggers: t: target: "x"`,
			wantErr: "action is required",
		},
		{
			name:    "scheduled with both schedules",
			src:     `scheduled: s: {options: action: "action-update-card@1.0.0", schedule: {once: date: "2024-01-01T00:00:00.000Z", recurring: {start: "2024-01-01T00:00:00.000Z", interval: "* * * * *"}}}`,
			wantErr: "exactly one of once or recurring",
		},
		{
			name:    "incomplete value",
			src:     `types: foo: schema: type: string`,
			wantErr: "types.foo",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := CompileString(tt.src)
			require.NotEmpty(t, errs)
			assert.Contains(t, errs[0].Error(), tt.wantErr)
		})
	}
}

func TestCompileTrigger_DefaultsArguments(t *testing.T) {
	r, errs := CompileString(`triggers: "every-hour": {action: "action-update-card@1.0.0", target: "card-1", interval: "PT1H"}`)
	require.Empty(t, errs)
	require.Len(t, r.Triggers, 1)
	assert.Equal(t, map[string]any{}, r.Triggers[0].Data["arguments"])
	assert.Equal(t, "every-hour", r.Triggers[0].Name)
	assert.Empty(t, Validate(r, nil, testNow))
}

func TestValidate(t *testing.T) {
	r, errs := CompileString(`
types: foo: schema: type: "nope"
triggers: dup: {
	filter: type: "object"
	action: "action-update-card@1.0.0"
	target: ["1", "1", "1"]
}
triggers: unknown: {
	filter: type: "object"
	action: "action-missing@1.0.0"
	target: "1"
}
scheduled: bad: {
	options: action: "action-update-card@1.0.0"
	schedule: recurring: {start: "2024-01-01T00:00:00.000Z", interval: "not cron"}
}
`)
	require.Empty(t, errs)

	known := func(ref string) bool { return ref == contract.ActionUpdateCard }
	verrs := Validate(r, known, testNow)

	codes := map[string]string{}
	for _, e := range verrs {
		codes[e.Slug] = e.Code
	}
	assert.Equal(t, map[string]string{
		"foo":                      ErrCodeInvalidType,
		"triggered-action-dup":     ErrCodeInvalidTrigger,
		"triggered-action-unknown": ErrCodeInvalidTrigger,
		"scheduled-action-bad":     ErrCodeInvalidScheduled,
	}, codes)
}
