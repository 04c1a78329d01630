package services

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
)

// Condition kinds. The vocabulary is closed: anything else fails validation.
const (
	ConditionLeadOverdue        = "lead_overdue"
	ConditionLeadScreeningStale = "lead_screening_stale"
	ConditionTaskOverdue        = "task_overdue"
	ConditionLeadHighUnassigned = "lead_priority_high_unassigned"
)

// Action kinds. Only these whitelisted, schema-validated kinds execute;
// no user-supplied code.
const (
	ActionCreateTask         = "create_task"
	ActionLeadAddEvent       = "lead_add_event"
	ActionLeadSetPriority    = "lead_set_priority"
	ActionLeadPin            = "lead_pin"
	ActionLeadAssign         = "lead_assign"
	ActionLeadSetResponseDue = "lead_set_response_due"
)

// Bounds on rule definitions and runs.
const (
	MaxConditionBytes  = 8 << 10
	MaxActionListBytes = 32 << 10
	MaxActionsPerRule  = 25
	MaxTargetsPerRule  = 25
	MaxRunActions      = 500

	maxRuleNameLen      = 200
	maxScopeLen         = 32
	maxTitleTemplateLen = 300
	maxAssigneeLen      = 128
	maxNoteLen          = 500
	maxMessageLen       = 500
)

var (
	leadStatuses   = []string{"new", "screening", "qualified", "negotiating", "won", "lost", "archived"}
	taskStatuses   = []string{"open", "in_progress", "blocked", "done"}
	leadPriorities = []string{"low", "normal", "high"}
)

// LeadOverdueParams matches leads whose response deadline passed at least
// DaysOverdue days ago, optionally filtered by status and priority.
type LeadOverdueParams struct {
	DaysOverdue int      `json:"days_overdue"`
	StatusIn    []string `json:"status_in,omitempty"`
	PriorityIn  []string `json:"priority_in,omitempty"`
}

// ScreeningStaleParams matches leads stuck in screening.
type ScreeningStaleParams struct {
	HoursInScreening int `json:"hours_in_screening"`
}

// HighUnassignedParams matches high-priority leads without an assignee.
type HighUnassignedParams struct {
	HoursSinceCreated int `json:"hours_since_created"`
}

// TaskOverdueParams matches tasks older than DaysOverdue days.
type TaskOverdueParams struct {
	DaysOverdue int      `json:"days_overdue"`
	StatusIn    []string `json:"status_in,omitempty"`
}

// Condition is a closed tagged union over the supported condition kinds.
// Exactly one params pointer is set, matching Kind.
type Condition struct {
	Kind           string
	LeadOverdue    *LeadOverdueParams
	ScreeningStale *ScreeningStaleParams
	HighUnassigned *HighUnassignedParams
	TaskOverdue    *TaskOverdueParams
}

// CreateTaskParams renders a follow-up task from a title template.
// Substitution only, no code execution.
type CreateTaskParams struct {
	TitleTemplate string `json:"title_template"`
}

// AddEventParams appends an audit note to the lead, no field mutation.
type AddEventParams struct {
	Note string `json:"note"`
}

type SetPriorityParams struct {
	Priority string `json:"priority"`
}

type PinParams struct {
	Pinned bool `json:"pinned"`
}

type AssignParams struct {
	Assignee string `json:"assignee"`
}

// SetResponseDueParams pushes the response deadline Hours from now.
type SetResponseDueParams struct {
	Hours int `json:"hours"`
}

// Action is a closed tagged union over the supported action kinds. Exactly
// one params pointer is set, matching Kind. Marshaling a validated Action
// yields its canonical form: deterministic field order, no whitespace.
type Action struct {
	Kind           string                `json:"kind"`
	CreateTask     *CreateTaskParams     `json:"create_task,omitempty"`
	AddEvent       *AddEventParams       `json:"lead_add_event,omitempty"`
	SetPriority    *SetPriorityParams    `json:"lead_set_priority,omitempty"`
	Pin            *PinParams            `json:"lead_pin,omitempty"`
	Assign         *AssignParams         `json:"lead_assign,omitempty"`
	SetResponseDue *SetResponseDueParams `json:"lead_set_response_due,omitempty"`
}

// ValidateCondition normalizes and bounds-checks a raw condition object for
// the given kind. Unknown kinds, unknown fields and out-of-range values fail
// closed with a ValidationError. Enum subsets are sorted during
// normalization so canonical output is independent of submission order.
func ValidateCondition(kind string, raw []byte) (*Condition, error) {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if len(raw) > MaxConditionBytes {
		return nil, invalidf("condition", "exceeds %d bytes", MaxConditionBytes)
	}
	cond := &Condition{Kind: kind}
	switch kind {
	case ConditionLeadOverdue:
		params := &LeadOverdueParams{}
		if err := decodeStrict(raw, params); err != nil {
			return nil, invalidf("condition", "invalid JSON: %v", err)
		}
		if params.DaysOverdue < 0 || params.DaysOverdue > 365 {
			return nil, invalidf("days_overdue", "must be in [0,365], got %d", params.DaysOverdue)
		}
		if err := checkSubset("status_in", params.StatusIn, leadStatuses); err != nil {
			return nil, err
		}
		if err := checkSubset("priority_in", params.PriorityIn, leadPriorities); err != nil {
			return nil, err
		}
		params.StatusIn = normalizeSet(params.StatusIn)
		params.PriorityIn = normalizeSet(params.PriorityIn)
		cond.LeadOverdue = params
	case ConditionLeadScreeningStale:
		params := &ScreeningStaleParams{}
		if err := decodeStrict(raw, params); err != nil {
			return nil, invalidf("condition", "invalid JSON: %v", err)
		}
		if params.HoursInScreening < 1 || params.HoursInScreening > 720 {
			return nil, invalidf("hours_in_screening", "must be in [1,720], got %d", params.HoursInScreening)
		}
		cond.ScreeningStale = params
	case ConditionLeadHighUnassigned:
		params := &HighUnassignedParams{}
		if err := decodeStrict(raw, params); err != nil {
			return nil, invalidf("condition", "invalid JSON: %v", err)
		}
		if params.HoursSinceCreated < 0 || params.HoursSinceCreated > 720 {
			return nil, invalidf("hours_since_created", "must be in [0,720], got %d", params.HoursSinceCreated)
		}
		cond.HighUnassigned = params
	case ConditionTaskOverdue:
		params := &TaskOverdueParams{}
		if err := decodeStrict(raw, params); err != nil {
			return nil, invalidf("condition", "invalid JSON: %v", err)
		}
		if params.DaysOverdue < 0 || params.DaysOverdue > 365 {
			return nil, invalidf("days_overdue", "must be in [0,365], got %d", params.DaysOverdue)
		}
		if err := checkSubset("status_in", params.StatusIn, taskStatuses); err != nil {
			return nil, err
		}
		params.StatusIn = normalizeSet(params.StatusIn)
		cond.TaskOverdue = params
	default:
		return nil, invalidf("condition_kind", "unknown kind %q", kind)
	}
	return cond, nil
}

// CanonicalJSON serializes the normalized params object with deterministic
// key ordering and no incidental whitespace.
func (c *Condition) CanonicalJSON() (string, error) {
	var params interface{}
	switch c.Kind {
	case ConditionLeadOverdue:
		params = c.LeadOverdue
	case ConditionLeadScreeningStale:
		params = c.ScreeningStale
	case ConditionLeadHighUnassigned:
		params = c.HighUnassigned
	case ConditionTaskOverdue:
		params = c.TaskOverdue
	default:
		return "", invalidf("condition_kind", "unknown kind %q", c.Kind)
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ValidateActions normalizes and bounds-checks a raw action list. Each item
// is validated against its per-kind schema; an unknown kind, a missing or
// mismatched payload, or an out-of-range field fails closed.
func ValidateActions(raw []byte) ([]Action, error) {
	if len(raw) > MaxActionListBytes {
		return nil, invalidf("actions", "exceeds %d bytes", MaxActionListBytes)
	}
	var actions []Action
	if err := decodeStrict(raw, &actions); err != nil {
		return nil, invalidf("actions", "invalid JSON: %v", err)
	}
	if len(actions) == 0 {
		return nil, invalidf("actions", "at least one action required")
	}
	if len(actions) > MaxActionsPerRule {
		return nil, invalidf("actions", "at most %d actions allowed, got %d", MaxActionsPerRule, len(actions))
	}
	for i := range actions {
		if err := validateAction(i, &actions[i]); err != nil {
			return nil, err
		}
	}
	return actions, nil
}

// CanonicalActions serializes a validated action list in canonical form.
func CanonicalActions(actions []Action) (string, error) {
	raw, err := json.Marshal(actions)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func validateAction(i int, a *Action) error {
	if n := payloadCount(a); n != 1 {
		return invalidf("actions", "item %d: exactly one params object required, got %d", i, n)
	}
	switch a.Kind {
	case ActionCreateTask:
		if a.CreateTask == nil {
			return invalidf("actions", "item %d: %s params missing", i, a.Kind)
		}
		if a.CreateTask.TitleTemplate == "" {
			return invalidf("actions", "item %d: title_template required", i)
		}
		if len(a.CreateTask.TitleTemplate) > maxTitleTemplateLen {
			return invalidf("actions", "item %d: title_template exceeds %d chars", i, maxTitleTemplateLen)
		}
	case ActionLeadAddEvent:
		if a.AddEvent == nil {
			return invalidf("actions", "item %d: %s params missing", i, a.Kind)
		}
		if a.AddEvent.Note == "" {
			return invalidf("actions", "item %d: note required", i)
		}
		if len(a.AddEvent.Note) > maxNoteLen {
			return invalidf("actions", "item %d: note exceeds %d chars", i, maxNoteLen)
		}
	case ActionLeadSetPriority:
		if a.SetPriority == nil {
			return invalidf("actions", "item %d: %s params missing", i, a.Kind)
		}
		if !contains(leadPriorities, a.SetPriority.Priority) {
			return invalidf("actions", "item %d: invalid priority %q", i, a.SetPriority.Priority)
		}
	case ActionLeadPin:
		if a.Pin == nil {
			return invalidf("actions", "item %d: %s params missing", i, a.Kind)
		}
	case ActionLeadAssign:
		if a.Assign == nil {
			return invalidf("actions", "item %d: %s params missing", i, a.Kind)
		}
		if a.Assign.Assignee == "" {
			return invalidf("actions", "item %d: assignee required", i)
		}
		if len(a.Assign.Assignee) > maxAssigneeLen {
			return invalidf("actions", "item %d: assignee exceeds %d chars", i, maxAssigneeLen)
		}
	case ActionLeadSetResponseDue:
		if a.SetResponseDue == nil {
			return invalidf("actions", "item %d: %s params missing", i, a.Kind)
		}
		if a.SetResponseDue.Hours < 1 || a.SetResponseDue.Hours > 720 {
			return invalidf("actions", "item %d: hours must be in [1,720], got %d", i, a.SetResponseDue.Hours)
		}
	default:
		return invalidf("actions", "item %d: unknown kind %q", i, a.Kind)
	}
	return nil
}

func payloadCount(a *Action) int {
	n := 0
	if a.CreateTask != nil {
		n++
	}
	if a.AddEvent != nil {
		n++
	}
	if a.SetPriority != nil {
		n++
	}
	if a.Pin != nil {
		n++
	}
	if a.Assign != nil {
		n++
	}
	if a.SetResponseDue != nil {
		n++
	}
	return n
}

func decodeStrict(raw []byte, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	// Reject trailing garbage after the top-level value.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return invalidf("json", "trailing data after value")
	}
	return nil
}

func checkSubset(field string, values, vocabulary []string) error {
	for _, v := range values {
		if !contains(vocabulary, v) {
			return invalidf(field, "value %q not in vocabulary", v)
		}
	}
	return nil
}

// normalizeSet sorts and deduplicates an enum subset. Empty means no filter
// and normalizes to nil so it is omitted from canonical JSON.
func normalizeSet(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}
