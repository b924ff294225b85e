package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/contractworker/internal/contract"
	"github.com/roach88/contractworker/internal/failure"
	"github.com/roach88/contractworker/internal/schema"
)

func TestCompileTrigger_Defaults(t *testing.T) {
	tr := mustCompileTrigger(t, triggerContract("t1", contract.TriggeredAction{
		Filter: typeFilter("foo@1.0.0"),
		Action: contract.ActionUpdateCard,
		Target: "card-1",
	}))

	assert.Equal(t, "t1", tr.ID)
	assert.Equal(t, contract.ScheduleEnqueue, tr.Schedule)
	assert.Equal(t, contract.ModeAny, tr.Mode)
	assert.Equal(t, []string{"foo@1.0.0"}, tr.Subjects)
	assert.Equal(t, Single{ID: "card-1"}, tr.Target)
	assert.False(t, tr.Periodic())
	require.NotNil(t, tr.Arguments)
}

func TestCompileTrigger_Periodic(t *testing.T) {
	tr := mustCompileTrigger(t, triggerContract("t1", contract.TriggeredAction{
		Action:    contract.ActionUpdateCard,
		Target:    "card-1",
		Interval:  "PT1H",
		StartDate: "2024-01-01T06:00:00.000Z",
	}))

	assert.True(t, tr.Periodic())
	assert.Equal(t, time.Hour, tr.Interval)
	assert.Equal(t, testEpoch.Add(6*time.Hour), tr.StartDate)
	assert.Nil(t, tr.Filter)
}

func TestCompileTrigger_PeriodicStartDefaultsToCreation(t *testing.T) {
	tr := mustCompileTrigger(t, triggerContract("t1", contract.TriggeredAction{
		Action:   contract.ActionUpdateCard,
		Target:   "card-1",
		Interval: "10m",
	}))
	assert.Equal(t, testEpoch, tr.StartDate)
}

func TestCompileTrigger_Invalid(t *testing.T) {
	valid := func() contract.TriggeredAction {
		return contract.TriggeredAction{
			Filter: typeFilter("foo@1.0.0"),
			Action: contract.ActionUpdateCard,
			Target: "card-1",
		}
	}

	tests := []struct {
		name   string
		mutate func(*contract.TriggeredAction)
	}{
		{"duplicate targets", func(d *contract.TriggeredAction) { d.Target = []any{"1", "1", "1"} }},
		{"missing action", func(d *contract.TriggeredAction) { d.Action = "" }},
		{"unknown schedule", func(d *contract.TriggeredAction) { d.Schedule = "later" }},
		{"unknown mode", func(d *contract.TriggeredAction) { d.Mode = "update" }},
		{"missing filter", func(d *contract.TriggeredAction) { d.Filter = nil }},
		{"bad filter", func(d *contract.TriggeredAction) { d.Filter = map[string]any{"type": 12.0} }},
		{"bad interval", func(d *contract.TriggeredAction) { d.Interval = "P1M" }},
		{"bad start date", func(d *contract.TriggeredAction) { d.Interval = "PT1H"; d.StartDate = "tomorrow" }},
		{"bad arguments", func(d *contract.TriggeredAction) {
			d.Arguments = map[string]any{"x": map[string]any{"$eval": "1 +"}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := valid()
			tt.mutate(&data)
			_, err := CompileTrigger(triggerContract("t1", data), schema.NewCache())
			require.Error(t, err)
			assert.True(t, failure.Is(err, failure.WorkerInvalidTrigger), "got %v", err)
		})
	}
}

func TestCompileTrigger_WrongType(t *testing.T) {
	_, err := CompileTrigger(testContract("x", "card@1.0.0", nil), schema.NewCache())
	require.Error(t, err)
	assert.True(t, failure.Is(err, failure.WorkerInvalidTrigger))
}
