// Package mirror keeps an external, single-message copy of a project's
// roadmap in step with local state.
//
// The mirror is a disposable cache. Local projects and tasks are always the
// source of truth, every push is attempted exactly once, and failures are
// classified so the engine can decide whether to keep or drop the binding.
package mirror

import (
	"context"
	"errors"
	"fmt"
)

// Port sends, edits and deletes a message at a destination.
type Port interface {
	// Send posts text to channelRef and returns the new message reference.
	Send(ctx context.Context, channelRef, text string) (string, error)
	// Edit replaces the content of an existing message.
	Edit(ctx context.Context, channelRef, messageRef, text string) error
	// Delete removes a message. Callers treat failures as best-effort.
	Delete(ctx context.Context, channelRef, messageRef string) error
}

// Reason classifies a failed Port call.
type Reason string

const (
	ReasonUnchanged     Reason = "unchanged"
	ReasonTooLarge      Reason = "too_large"
	ReasonTargetGone    Reason = "target_gone"
	ReasonAccessRevoked Reason = "access_revoked"
	ReasonOther         Reason = "other"
)

// Permanent reports whether the binding can no longer be used.
func (r Reason) Permanent() bool {
	return r == ReasonTargetGone || r == ReasonAccessRevoked
}

// Error is returned by Port implementations for classified failures.
type Error struct {
	Reason Reason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mirror %s: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("mirror %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a classified port error.
func NewError(op string, reason Reason, err error) *Error {
	return &Error{Reason: reason, Op: op, Err: err}
}

// Classify maps a Port error to its Reason. Unclassified errors are
// ReasonOther; a nil error has no reason.
func Classify(err error) Reason {
	if err == nil {
		return ""
	}
	var me *Error
	if errors.As(err, &me) {
		return me.Reason
	}
	return ReasonOther
}

// Binding identifies where a project's mirror lives.
type Binding struct {
	ChannelRef string
	MessageRef string
}

// Bound reports whether a destination is configured.
func (b Binding) Bound() bool { return b.ChannelRef != "" }

// BindingStore reads and writes a project's binding.
type BindingStore interface {
	GetBinding(ctx context.Context, projectID string) (Binding, error)
	SetBinding(ctx context.Context, projectID string, b Binding) error
}

// ContentFunc renders the current state of a project.
type ContentFunc func(ctx context.Context, projectID string) (string, error)
