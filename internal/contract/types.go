package contract

import (
	"encoding/json"
	"fmt"
)

// Built-in type references.
const (
	TypeType            = "type@1.0.0"
	TypeUser            = "user@1.0.0"
	TypeCard            = "card@1.0.0"
	TypeActionRequest   = "action-request@1.0.0"
	TypeExecute         = "execute@1.0.0"
	TypeCreate          = "create@1.0.0"
	TypeUpdate          = "update@1.0.0"
	TypeLink            = "link@1.0.0"
	TypeTriggeredAction = "triggered-action@1.0.0"
	TypeScheduledAction = "scheduled-action@1.0.0"
	TypeRelationship    = "relationship@1.0.0"
)

// Built-in action references.
const (
	ActionCreateCard = "action-create-card@1.0.0"
	ActionUpdateCard = "action-update-card@1.0.0"
	ActionDeleteCard = "action-delete-card@1.0.0"
	ActionCreateLink = "action-create-link@1.0.0"
)

// Reserved link verbs between events and the contracts they describe.
const (
	VerbIsAttachedTo       = "is attached to"
	VerbHasAttachedElement = "has attached element"
	VerbExecutes           = "executes"
	VerbIsExecutedBy       = "is executed by"
)

// ActionRequest is the payload of an action-request contract.
type ActionRequest struct {
	Action     string         `json:"action"`
	Card       string         `json:"card"`
	Type       string         `json:"type"`
	Context    map[string]any `json:"context,omitempty"`
	Actor      string         `json:"actor"`
	Arguments  map[string]any `json:"arguments"`
	Timestamp  string         `json:"timestamp"`
	Epoch      int64          `json:"epoch"`
	Originator string         `json:"originator,omitempty"`
	Schedule   string         `json:"schedule,omitempty"`
}

// TriggerSchedule selects when a triggered action is evaluated.
type TriggerSchedule string

const (
	// ScheduleSync evaluates inline, before the outer mutation completes.
	ScheduleSync TriggerSchedule = "sync"
	// ScheduleAsync enqueues once the outer mutation cascade has settled.
	ScheduleAsync TriggerSchedule = "async"
	// ScheduleEnqueue enqueues immediately. This is the default.
	ScheduleEnqueue TriggerSchedule = "enqueue"
)

// TriggerMode restricts which mutations a triggered action reacts to.
type TriggerMode string

const (
	// ModeInsert fires only on creation.
	ModeInsert TriggerMode = "insert"
	// ModeAny fires on creation and update. This is the default.
	ModeAny TriggerMode = ""
)

// TriggeredAction is the payload of a triggered-action contract.
type TriggeredAction struct {
	Filter    map[string]any  `json:"filter,omitempty"`
	Action    string          `json:"action"`
	Target    any             `json:"target"`
	Arguments map[string]any  `json:"arguments"`
	Schedule  TriggerSchedule `json:"schedule,omitempty"`
	Mode      TriggerMode     `json:"mode,omitempty"`
	Interval  string          `json:"interval,omitempty"`
	StartDate string          `json:"startDate,omitempty"`
}

// ProducerOptions is the request template wrapped by a scheduled action.
type ProducerOptions struct {
	Action    string         `json:"action"`
	Card      string         `json:"card"`
	Type      string         `json:"type"`
	Context   map[string]any `json:"context,omitempty"`
	Actor     string         `json:"actor,omitempty"`
	Arguments map[string]any `json:"arguments"`
}

// Once is a one-time schedule.
type Once struct {
	Date string `json:"date"`
}

// Recurring is a cron schedule bounded by start and end.
type Recurring struct {
	Start    string `json:"start"`
	End      string `json:"end,omitempty"`
	Interval string `json:"interval"`
}

// ScheduleSpec is either {once} or {recurring}.
type ScheduleSpec struct {
	Once      *Once      `json:"once,omitempty"`
	Recurring *Recurring `json:"recurring,omitempty"`
}

// ScheduledAction is the payload of a scheduled-action contract.
type ScheduledAction struct {
	Options  ProducerOptions `json:"options"`
	Schedule ScheduleSpec    `json:"schedule"`
}

// Results is the outcome of one action-request execution.
type Results struct {
	Error bool `json:"error"`
	Data  any  `json:"data"`
}

// ExecuteEvent is the payload of an execute contract.
type ExecuteEvent struct {
	Actor      string  `json:"actor"`
	Target     string  `json:"target"`
	Timestamp  string  `json:"timestamp"`
	Originator string  `json:"originator,omitempty"`
	Payload    Results `json:"payload"`
}

// Relationship is the payload of a relationship contract, which declares a
// link verb. The verb is the contract name.
type Relationship struct {
	InverseName string   `json:"inverseName"`
	From        []string `json:"from"`
	To          []string `json:"to"`
}

// Endpoint identifies one end of a link.
type Endpoint struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// LinkData is the payload of a link contract. The verb is the contract name.
type LinkData struct {
	InverseName string   `json:"inverseName"`
	From        Endpoint `json:"from"`
	To          Endpoint `json:"to"`
}

// Decode converts a contract's data into a typed payload.
func Decode(data map[string]any, out any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(b, out); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	return nil
}

// Encode converts a typed payload into contract data.
func Encode(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

// MustEncode is like Encode but panics on error.
// Use only for payloads built from known-good values.
func MustEncode(v any) map[string]any {
	m, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return m
}
