package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DocType identifies a governed document family (PO, AFE, permit, ...).
type DocType string

// State is a lifecycle status of a document.
type State string

// Action names an edge of the lifecycle graph.
type Action string

// Role is an approver role required by a transition.
type Role string

// Canonical actions shared by the document definitions.
const (
	ActionSubmit        Action = "SUBMIT"
	ActionApprove       Action = "APPROVE"
	ActionReject        Action = "REJECT"
	ActionRevise        Action = "REVISE"
	ActionCancel        Action = "CANCEL"
	ActionClose         Action = "CLOSE"
	ActionSend          Action = "SEND"
	ActionAccept        Action = "ACCEPT"
	ActionExpire        Action = "EXPIRE"
	ActionActivate      Action = "ACTIVATE"
	ActionSuspend       Action = "SUSPEND"
	ActionResume        Action = "RESUME"
	ActionStart         Action = "START"
	ActionComplete      Action = "COMPLETE"
	ActionPost          Action = "POST"
	ActionReverse       Action = "REVERSE"
	ActionSettlePartial Action = "SETTLE_PARTIAL"
	ActionSettle        Action = "SETTLE"
	ActionReimburse     Action = "REIMBURSE"
)

// RoleSystem is held only by the system actor used by background jobs and
// settlement side effects.
const RoleSystem Role = "SYSTEM"

// Actor performs a transition.
type Actor struct {
	ID    int64
	Roles []Role
}

// SystemActor is used for automatic transitions.
var SystemActor = Actor{ID: 0, Roles: []Role{RoleSystem}}

// HasRole reports whether the actor holds role.
func (a Actor) HasRole(role Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsSystem reports whether the actor is the system actor.
func (a Actor) IsSystem() bool {
	return a.HasRole(RoleSystem)
}

// Guard is a named precondition evaluated against the document being moved.
type Guard struct {
	Name  string
	Check func(ctx context.Context, subject any) error
}

// Transition declares an allowed move of a lifecycle.
type Transition struct {
	Action        Action
	From          []State
	To            State
	Roles         []Role
	Guards        []Guard
	RequireReason bool
	// SegregateFrom forbids the actor who last performed this action on the
	// document from performing the transition.
	SegregateFrom Action
}

// Definition describes the lifecycle of one document type.
type Definition struct {
	DocType     DocType
	Initial     State
	Terminal    []State
	Transitions []Transition
}

// Request asks the engine to move a document.
type Request struct {
	DocType DocType
	DocID   int64
	Number  string
	From    State
	Action  Action
	Actor   Actor
	Reason  string
	Subject any
	Meta    map[string]any
}

// Step is a planned or committed transition.
type Step struct {
	DocType DocType
	DocID   int64
	Number  string
	Action  Action
	From    State
	To      State
	ActorID int64
	Reason  string
	At      time.Time
	Meta    map[string]any
}

var (
	// ErrUnknownDocType is returned for unregistered document types.
	ErrUnknownDocType = errors.New("workflow: unknown document type")
	// ErrInvalidTransition is returned when the action is not allowed from the current state.
	ErrInvalidTransition = errors.New("workflow: invalid state transition")
	// ErrForbidden is returned when the actor lacks a required role.
	ErrForbidden = errors.New("workflow: actor not allowed to perform action")
	// ErrReasonRequired is returned when a transition needs a reason.
	ErrReasonRequired = errors.New("workflow: reason required")
	// ErrSegregationOfDuties is returned when the same actor would approve their own submission.
	ErrSegregationOfDuties = errors.New("workflow: segregation of duties violated")
	// ErrGuardFailed is matched by every GuardError.
	ErrGuardFailed = errors.New("workflow: guard failed")
	// ErrStaleState indicates the document changed state concurrently.
	ErrStaleState = errors.New("workflow: document state changed concurrently")
	// ErrLocked indicates another transition holds the document lock.
	ErrLocked = errors.New("workflow: document locked")
	// ErrInvalidState is returned by non-transition operations (settlements,
	// supplements) attempted while the document is in the wrong state.
	ErrInvalidState = errors.New("workflow: operation not allowed in current state")
	// ErrInvalidDefinition is returned by Compile.
	ErrInvalidDefinition = errors.New("workflow: invalid definition")
)

// GuardError reports which guard rejected a transition.
type GuardError struct {
	Guard string
	Err   error
}

func (e *GuardError) Error() string {
	return fmt.Sprintf("workflow: guard %s: %v", e.Guard, e.Err)
}

// Unwrap exposes the guard's own error.
func (e *GuardError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrGuardFailed) match.
func (e *GuardError) Is(target error) bool { return target == ErrGuardFailed }

// TransitionError carries context for a rejected transition.
type TransitionError struct {
	DocType DocType
	From    State
	Action  Action
	Err     error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v (%s: %s from %s)", e.Err, e.DocType, e.Action, e.From)
}

func (e *TransitionError) Unwrap() error { return e.Err }
