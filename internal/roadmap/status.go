package roadmap

import (
	"fmt"
	"time"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
)

// transitions lists the statuses reachable from each status.
var transitions = map[Status][]Status{
	StatusPlanned:    {StatusInProgress, StatusCompleted, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusPlanned, StatusCancelled},
	StatusCompleted:  {StatusInProgress, StatusPlanned, StatusCancelled},
	StatusCancelled:  {StatusPlanned, StatusInProgress, StatusCompleted},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// applyStatus moves t to status at time at. Entering completed stamps the
// completion time and the elapsed whole days (at least one); neither is
// recomputed later.
func applyStatus(t *Task, status Status, at time.Time) error {
	if !status.Valid() {
		return rerrors.InvalidInput("unknown status %q", status)
	}
	if !CanTransition(t.Status, status) {
		return fmt.Errorf("%s -> %s: %w", t.Status, status, rerrors.ErrInvalidTransition)
	}

	ms := at.UnixMilli()
	t.Status = status
	t.UpdatedAt = ms
	if status == StatusCompleted {
		days := int(at.Sub(time.UnixMilli(t.CreatedAt)).Hours() / 24)
		if days < 1 {
			days = 1
		}
		t.CompletedAt = ms
		t.ActualDays = &days
	}
	return nil
}
