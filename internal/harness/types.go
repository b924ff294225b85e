package harness

// TraceEvent is one execution: the action that ran, the card it ran on
// and the failure it ended in, if any.
type TraceEvent struct {
	Seq    int    `json:"seq"`
	Action string `json:"action"`
	Card   string `json:"card"`
	Error  string `json:"error,omitempty"`
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every step and assertion succeeded.
	Pass bool `json:"pass"`

	// Trace lists executions in the order they completed.
	Trace []TraceEvent `json:"trace"`

	// Errors holds step and assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends an execution to the trace.
func (r *Result) AddTrace(action, card, failureName string) {
	r.Trace = append(r.Trace, TraceEvent{
		Seq:    len(r.Trace) + 1,
		Action: action,
		Card:   card,
		Error:  failureName,
	})
}
