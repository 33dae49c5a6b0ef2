package roadmap

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
)

// Manager maintains the 1..N position invariant of a project's tasks.
// Its methods must run on a transactional Store, and callers must hold the
// project's lock: the read of the current order and the writes derived from
// it have to land as one unit.
type Manager struct {
	logger zerolog.Logger
}

// NewManager creates an ordered list manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{logger: logger.With().Str("component", "roadmap.ordering").Logger()}
}

// Append creates a task at position N+1.
func (m *Manager) Append(ctx context.Context, tx *Store, projectID string, input CreateTaskInput) (*Task, error) {
	tasks, err := m.ordered(ctx, tx, projectID)
	if err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = PriorityMedium
	}
	ts := now()
	t := &Task{
		ID:            uuid.New().String(),
		ProjectID:     projectID,
		CreatorID:     input.CreatorID,
		Title:         input.Title,
		Description:   input.Description,
		Status:        StatusPlanned,
		Priority:      priority,
		EstimatedDays: input.EstimatedDays,
		Position:      len(tasks) + 1,
		CreatedAt:     ts,
		UpdatedAt:     ts,
	}
	if err := tx.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Move places a task at newPosition, shifting the tasks in between by one.
// It reports whether anything was written; moving a task onto its own
// position writes nothing.
func (m *Manager) Move(ctx context.Context, tx *Store, taskID string, newPosition int) (*Task, bool, error) {
	task, tasks, err := m.load(ctx, tx, taskID)
	if err != nil {
		return nil, false, err
	}

	plan, err := planMove(tasks, taskID, newPosition)
	if err != nil {
		return nil, false, err
	}
	if len(plan) == 0 {
		return task, false, nil
	}
	if err := tx.WriteTaskPositions(ctx, task.ProjectID, plan); err != nil {
		return nil, false, err
	}
	task.Position = newPosition
	return task, true, nil
}

// MoveBy shifts a task delta places; -1 moves it up, +1 moves it down.
func (m *Manager) MoveBy(ctx context.Context, tx *Store, taskID string, delta int) (*Task, bool, error) {
	task, _, err := m.load(ctx, tx, taskID)
	if err != nil {
		return nil, false, err
	}
	return m.Move(ctx, tx, taskID, task.Position+delta)
}

// Delete removes a task and closes the gap it leaves behind.
func (m *Manager) Delete(ctx context.Context, tx *Store, taskID string) (*Task, error) {
	task, tasks, err := m.load(ctx, tx, taskID)
	if err != nil {
		return nil, err
	}
	if err := tx.DeleteTask(ctx, taskID); err != nil {
		return nil, err
	}
	if err := tx.WriteTaskPositions(ctx, task.ProjectID, planDelete(tasks, task.Position)); err != nil {
		return nil, err
	}
	return task, nil
}

// load returns the task and its project's contiguous ordering.
func (m *Manager) load(ctx context.Context, tx *Store, taskID string) (*Task, []*Task, error) {
	task, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	if task == nil {
		return nil, nil, rerrors.NotFound("task", taskID)
	}
	tasks, err := m.ordered(ctx, tx, task.ProjectID)
	if err != nil {
		return nil, nil, err
	}
	for _, t := range tasks {
		if t.ID == taskID {
			return t, tasks, nil
		}
	}
	return nil, nil, rerrors.NotFound("task", taskID)
}

// ordered reads a project's tasks and, if their positions are not exactly
// 1..N, renumbers them by rank before anything else touches them.
func (m *Manager) ordered(ctx context.Context, tx *Store, projectID string) ([]*Task, error) {
	tasks, err := tx.ListOrderedTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if contiguous(tasks) {
		return tasks, nil
	}

	plan := planRepair(tasks)
	m.logger.Warn().
		Str("project_id", projectID).
		Int("tasks", len(tasks)).
		Int("renumbered", len(plan)).
		Msg("repairing non-contiguous task positions")
	if err := tx.WriteTaskPositions(ctx, projectID, plan); err != nil {
		return nil, fmt.Errorf("failed to repair positions: %w", err)
	}
	if err := tx.AddEvent(ctx, &ProjectEvent{
		ProjectID: projectID,
		EventType: EventPositionsRepair,
		Summary:   fmt.Sprintf("renumbered %d of %d tasks", len(plan), len(tasks)),
	}); err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if pos, ok := plan[t.ID]; ok {
			t.Position = pos
		}
	}
	return tasks, nil
}

// contiguous reports whether tasks, sorted by position, sit at exactly 1..N.
func contiguous(tasks []*Task) bool {
	for i, t := range tasks {
		if t.Position != i+1 {
			return false
		}
	}
	return true
}

// planMove computes the position writes for moving taskID to newPosition in
// a contiguous ordering. Only tasks whose position changes appear in the plan.
func planMove(tasks []*Task, taskID string, newPosition int) (map[string]int, error) {
	n := len(tasks)
	if newPosition < 1 || newPosition > n {
		return nil, fmt.Errorf("position %d outside 1..%d: %w", newPosition, n, rerrors.ErrInvalidPosition)
	}

	old := 0
	for _, t := range tasks {
		if t.ID == taskID {
			old = t.Position
			break
		}
	}
	if old == 0 {
		return nil, rerrors.NotFound("task", taskID)
	}

	plan := make(map[string]int)
	if old == newPosition {
		return plan, nil
	}
	for _, t := range tasks {
		switch {
		case t.ID == taskID:
			plan[t.ID] = newPosition
		case old < newPosition && t.Position > old && t.Position <= newPosition:
			plan[t.ID] = t.Position - 1
		case newPosition < old && t.Position >= newPosition && t.Position < old:
			plan[t.ID] = t.Position + 1
		}
	}
	return plan, nil
}

// planDelete computes the writes that close the gap left at position removed.
func planDelete(tasks []*Task, removed int) map[string]int {
	plan := make(map[string]int)
	for _, t := range tasks {
		if t.Position > removed {
			plan[t.ID] = t.Position - 1
		}
	}
	return plan
}

// planRepair ranks tasks by (position, created_at, id) and returns the
// writes that bring them to 1..N.
func planRepair(tasks []*Task) map[string]int {
	ranked := make([]*Task, len(tasks))
	copy(ranked, tasks)
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt < b.CreatedAt
		}
		return a.ID < b.ID
	})

	plan := make(map[string]int)
	for i, t := range ranked {
		if t.Position != i+1 {
			plan[t.ID] = i + 1
		}
	}
	return plan
}
