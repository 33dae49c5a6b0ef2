package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/roadmap-agent/internal/metrics"
)

// Outcome is the result of one synchronization pass.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"   // no destination bound
	OutcomeCreated   Outcome = "created"   // first publish, message_ref stored
	OutcomeUpdated   Outcome = "updated"   // existing message edited
	OutcomeUnchanged Outcome = "unchanged" // destination already shows this content
	OutcomeRecreated Outcome = "recreated" // oversized message replaced by a new one
	OutcomeUnlinked  Outcome = "unlinked"  // permanent failure, binding cleared
	OutcomeFailed    Outcome = "failed"    // transient failure, binding untouched
)

// Report describes what a sync pass did.
type Report struct {
	ProjectID  string
	Outcome    Outcome
	MessageRef string
	Reason     Reason
	Err        error
}

// Unlinked reports whether the pass tore the binding down.
func (r Report) Unlinked() bool { return r.Outcome == OutcomeUnlinked }

// Warning returns the non-fatal problem the caller should surface, if any.
func (r Report) Warning() error {
	switch r.Outcome {
	case OutcomeUnlinked:
		if r.Err != nil {
			return fmt.Errorf("destination unlinked (%s): %w", r.Reason, r.Err)
		}
		return fmt.Errorf("destination unlinked (%s)", r.Reason)
	case OutcomeFailed:
		if r.Err != nil {
			return fmt.Errorf("mirror update failed: %w", r.Err)
		}
		return fmt.Errorf("mirror update failed")
	}
	return nil
}

// Engine pushes rendered project state to a Port.
type Engine struct {
	port     Port
	bindings BindingStore
	content  ContentFunc
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEngine creates a sync engine. metrics may be nil.
func NewEngine(port Port, bindings BindingStore, content ContentFunc, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		port:     port,
		bindings: bindings,
		content:  content,
		metrics:  m,
		logger:   logger.With().Str("component", "mirror.engine").Logger(),
	}
}

// SyncProject runs exactly one synchronization pass for a project.
// It never retries and never returns an error: every problem is folded
// into the Report.
func (e *Engine) SyncProject(ctx context.Context, projectID string) Report {
	start := time.Now()
	r := e.sync(ctx, projectID)
	r.ProjectID = projectID

	e.metrics.RecordSync(string(r.Outcome))
	e.metrics.ObserveSync(time.Since(start).Seconds())

	evt := e.logger.Debug()
	switch r.Outcome {
	case OutcomeCreated, OutcomeRecreated, OutcomeUnlinked:
		evt = e.logger.Info()
	case OutcomeFailed:
		evt = e.logger.Warn()
	}
	evt.Str("project_id", projectID).
		Str("outcome", string(r.Outcome)).
		Str("reason", string(r.Reason)).
		Str("message_ref", r.MessageRef).
		Err(r.Err).
		Msg("mirror sync")

	return r
}

func (e *Engine) sync(ctx context.Context, projectID string) Report {
	if err := ctx.Err(); err != nil {
		return Report{Outcome: OutcomeFailed, Reason: ReasonOther, Err: fmt.Errorf("sync abandoned: %w", err)}
	}

	b, err := e.bindings.GetBinding(ctx, projectID)
	if err != nil {
		return Report{Outcome: OutcomeFailed, Reason: ReasonOther, Err: fmt.Errorf("failed to load binding: %w", err)}
	}
	if !b.Bound() {
		return Report{Outcome: OutcomeSkipped}
	}

	text, err := e.content(ctx, projectID)
	if err != nil {
		return Report{Outcome: OutcomeFailed, Reason: ReasonOther, Err: fmt.Errorf("failed to render: %w", err)}
	}

	if b.MessageRef == "" {
		return e.create(ctx, projectID, b, text, OutcomeCreated)
	}

	err = e.port.Edit(ctx, b.ChannelRef, b.MessageRef, text)
	if err == nil {
		return Report{Outcome: OutcomeUpdated, MessageRef: b.MessageRef}
	}

	reason := Classify(err)
	switch {
	case reason == ReasonUnchanged:
		return Report{Outcome: OutcomeUnchanged, MessageRef: b.MessageRef}
	case reason == ReasonTooLarge:
		if derr := e.port.Delete(ctx, b.ChannelRef, b.MessageRef); derr != nil {
			e.logger.Debug().Err(derr).Str("project_id", projectID).Msg("ignoring failed delete of oversized message")
		}
		b.MessageRef = ""
		return e.create(ctx, projectID, b, text, OutcomeRecreated)
	case reason.Permanent():
		return e.unlink(ctx, projectID, reason, err)
	default:
		return Report{Outcome: OutcomeFailed, Reason: reason, MessageRef: b.MessageRef, Err: err}
	}
}

// create publishes a fresh message and stores its reference. A failed
// replacement of an oversized message is permanent; a failed first publish
// is permanent only when the port says so.
func (e *Engine) create(ctx context.Context, projectID string, b Binding, text string, success Outcome) Report {
	ref, err := e.port.Send(ctx, b.ChannelRef, text)
	if err != nil {
		reason := Classify(err)
		if ctx.Err() != nil {
			if success == OutcomeRecreated {
				// The old message was deleted or is about to be; keep the
				// channel so the next pass publishes a fresh one.
				if serr := e.bindings.SetBinding(context.WithoutCancel(ctx), projectID, b); serr != nil {
					e.logger.Warn().Err(serr).Str("project_id", projectID).Msg("failed to clear stale message ref")
				}
			}
			return Report{Outcome: OutcomeFailed, Reason: reason, Err: err}
		}
		if success == OutcomeRecreated || reason.Permanent() || reason == ReasonTooLarge {
			return e.unlink(ctx, projectID, reason, err)
		}
		return Report{Outcome: OutcomeFailed, Reason: reason, Err: err}
	}

	b.MessageRef = ref
	// The message exists now; losing its reference would orphan it.
	if err := e.bindings.SetBinding(context.WithoutCancel(ctx), projectID, b); err != nil {
		return Report{
			Outcome:    OutcomeFailed,
			Reason:     ReasonOther,
			MessageRef: ref,
			Err:        fmt.Errorf("message %s sent but binding not saved: %w", ref, err),
		}
	}
	return Report{Outcome: success, MessageRef: ref}
}

func (e *Engine) unlink(ctx context.Context, projectID string, reason Reason, cause error) Report {
	if err := e.bindings.SetBinding(context.WithoutCancel(ctx), projectID, Binding{}); err != nil {
		return Report{
			Outcome: OutcomeFailed,
			Reason:  reason,
			Err:     fmt.Errorf("failed to clear binding after %v: %w", cause, err),
		}
	}
	return Report{Outcome: OutcomeUnlinked, Reason: reason, Err: cause}
}
