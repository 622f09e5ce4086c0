package domain

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Status is the closed set of invoice lifecycle states.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusSent      Status = "SENT"
	StatusPaid      Status = "PAID"
	StatusOverdue   Status = "OVERDUE"
	StatusCancelled Status = "CANCELLED"
)

func ParseStatus(raw string) (Status, error) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	return status, nil
}

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusSent, StatusPaid, StatusOverdue, StatusCancelled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

func (s Status) Value() (driver.Value, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, string(s))
	}
	return string(s), nil
}

func (s *Status) Scan(src any) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("%w: unsupported type %T", ErrUnknownStatus, src)
	}
	status := Status(raw)
	if !status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, raw)
	}
	*s = status
	return nil
}

// Action names a lifecycle operation that may change status.
type Action string

const (
	ActionEdit        Action = "edit"
	ActionSend        Action = "send"
	ActionCancel      Action = "cancel"
	ActionMarkOverdue Action = "mark_overdue"
	ActionMarkPaid    Action = "mark_paid"
)

// transitions lists every legal (action, from) pair and its target status.
var transitions = map[Action]map[Status]Status{
	ActionEdit: {
		StatusDraft: StatusDraft,
	},
	ActionSend: {
		StatusDraft: StatusSent,
	},
	ActionCancel: {
		StatusDraft: StatusCancelled,
		StatusSent:  StatusCancelled,
	},
	ActionMarkOverdue: {
		StatusSent: StatusOverdue,
	},
	ActionMarkPaid: {
		StatusSent:    StatusPaid,
		StatusOverdue: StatusPaid,
	},
}

// Next returns the status action moves from into, or ErrInvalidState.
func Next(from Status, action Action) (Status, error) {
	to, ok := transitions[action][from]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s a %s invoice", ErrInvalidState, action, strings.ToLower(string(from)))
	}
	return to, nil
}

// Sources lists the statuses action is legal from.
func Sources(action Action) []Status {
	from := make([]Status, 0, len(transitions[action]))
	for _, status := range []Status{StatusDraft, StatusSent, StatusOverdue, StatusPaid, StatusCancelled} {
		if _, ok := transitions[action][status]; ok {
			from = append(from, status)
		}
	}
	return from
}
