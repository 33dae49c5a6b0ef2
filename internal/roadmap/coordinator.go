package roadmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
	"github.com/p-blackswan/roadmap-agent/internal/metrics"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
	"github.com/p-blackswan/roadmap-agent/internal/retry"
)

// Syncer runs one mirror synchronization pass for a project.
type Syncer interface {
	SyncProject(ctx context.Context, projectID string) mirror.Report
}

// Result is what a coordinated operation returns.
type Result struct {
	Project *Project
	Task    *Task
	// Changed is false when the operation turned out to be a no-op; nothing
	// was committed and no sync ran.
	Changed bool
	Mirror  mirror.Report
}

// change is what a mutation hands back to the pipeline. A change without
// events committed nothing.
type change struct {
	task   *Task
	events []*ProjectEvent
	noSync bool
}

func (c *change) changed() bool { return c != nil && len(c.events) > 0 }

func (c *change) record(eventType, format string, args ...any) {
	c.events = append(c.events, &ProjectEvent{EventType: eventType, Summary: fmt.Sprintf(format, args...)})
}

// Coordinator serializes mutations per project, commits each as a single
// transaction guarded by the project's version, and then runs exactly one
// mirror sync. The sync outcome never affects the committed mutation.
type Coordinator struct {
	store   *Store
	manager *Manager
	syncer  Syncer
	locks   *keyedMutex
	retry   retry.Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
	now     func() time.Time
}

// NewCoordinator wires the ordered list manager and the mirror engine. syncer
// and m may be nil; without a syncer every mutation reports a skipped sync.
// conflictRetries is the number of extra attempts after a version conflict.
// Each retry re-reads the project at once; there is no backoff.
func NewCoordinator(st *Store, syncer Syncer, m *metrics.Metrics, conflictRetries int, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		store:   st,
		manager: NewManager(logger),
		syncer:  syncer,
		locks:   newKeyedMutex(),
		retry:   retry.DefaultConfig().WithAttempts(conflictRetries),
		metrics: m,
		logger:  logger.With().Str("component", "roadmap.coordinator").Logger(),
		now:     time.Now,
	}
}

// ---------- pipeline ----------

type mutation func(ctx context.Context, tx *Store, p *Project) (*change, error)

func (c *Coordinator) mutate(ctx context.Context, op, projectID, actor string, fn mutation) (*Result, error) {
	start := time.Now()
	res, err := c.run(ctx, op, projectID, actor, fn)
	c.metrics.ObserveMutation(op, time.Since(start).Seconds())

	switch {
	case err == nil && res.Changed:
		c.metrics.RecordMutation(op, "ok")
	case err == nil:
		c.metrics.RecordMutation(op, "noop")
	case rerrors.IsValidation(err):
		c.metrics.RecordMutation(op, "invalid")
	case errors.Is(err, rerrors.ErrConflict):
		c.metrics.RecordMutation(op, "conflict")
	default:
		c.metrics.RecordMutation(op, "error")
		c.metrics.RecordError("roadmap", op)
	}
	return res, err
}

func (c *Coordinator) run(ctx context.Context, op, projectID, actor string, fn mutation) (*Result, error) {
	unlock, err := c.locks.Lock(ctx, projectID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		project *Project
		ch      *change
	)
	err = retry.Do(ctx, c.retry, func(ctx context.Context, attempt int) error {
		project, ch = nil, nil
		err := c.store.InTx(ctx, func(tx *Store) error {
			p, err := tx.GetProject(ctx, projectID)
			if err != nil {
				return err
			}
			if p == nil || !p.Active {
				return rerrors.NotFound("project", projectID)
			}

			out, err := fn(ctx, tx, p)
			if err != nil {
				return err
			}
			project, ch = p, out
			if !out.changed() {
				return nil
			}

			if err := tx.BumpVersion(ctx, projectID, p.Version); err != nil {
				return err
			}
			for _, evt := range out.events {
				evt.ProjectID = projectID
				evt.ActorID = actor
				if err := tx.AddEvent(ctx, evt); err != nil {
					return err
				}
			}
			return nil
		})
		if errors.Is(err, rerrors.ErrConflict) {
			c.metrics.RecordConflict(op)
			c.logger.Warn().Str("op", op).Str("project_id", projectID).Int("attempt", attempt+1).Msg("version conflict")
		}
		return err
	})
	if err != nil {
		return nil, wrapStorage(op, err)
	}

	res := &Result{Project: project, Task: ch.task, Changed: ch.changed()}
	if !res.Changed || ch.noSync {
		res.Mirror = mirror.Report{ProjectID: projectID, Outcome: mirror.OutcomeSkipped}
		if res.Changed {
			res.Project = c.reload(ctx, project)
		}
		return res, nil
	}

	c.logger.Debug().Str("op", op).Str("project_id", projectID).Msg("mutation committed")
	res.Mirror = c.sync(ctx, projectID, actor)
	res.Project = c.reload(ctx, project)
	return res, nil
}

// sync runs one mirror pass after a commit and records the binding changes
// it caused.
func (c *Coordinator) sync(ctx context.Context, projectID, actor string) mirror.Report {
	if c.syncer == nil {
		return mirror.Report{ProjectID: projectID, Outcome: mirror.OutcomeSkipped}
	}
	r := c.syncer.SyncProject(ctx, projectID)

	var evt *ProjectEvent
	switch r.Outcome {
	case mirror.OutcomeCreated:
		evt = &ProjectEvent{EventType: EventMirrorCreated, Summary: "Roadmap published as message " + r.MessageRef}
	case mirror.OutcomeRecreated:
		evt = &ProjectEvent{EventType: EventMirrorRecreated, Summary: "Oversized roadmap replaced by message " + r.MessageRef}
	case mirror.OutcomeUnlinked:
		evt = &ProjectEvent{EventType: EventMirrorUnlinked, Summary: fmt.Sprintf("Channel unlinked: %s", r.Reason)}
	}
	if evt != nil {
		evt.ProjectID = projectID
		evt.ActorID = actor
		if err := c.store.AddEvent(context.WithoutCancel(ctx), evt); err != nil {
			c.logger.Warn().Err(err).Str("project_id", projectID).Str("event", evt.EventType).Msg("failed to record mirror event")
		}
	}
	return r
}

// reload re-reads a project after commit so the result carries the binding
// left by sync. The committed mutation stands even if the read fails.
func (c *Coordinator) reload(ctx context.Context, fallback *Project) *Project {
	p, err := c.store.GetProject(context.WithoutCancel(ctx), fallback.ID)
	if err != nil || p == nil {
		c.logger.Warn().Err(err).Str("project_id", fallback.ID).Msg("failed to reload project after commit")
		return fallback
	}
	return p
}

func wrapStorage(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return rerrors.Storage(op, err)
}

// projectOf resolves the project owning a task. A task never changes project,
// so this read may happen before the project lock is taken.
func (c *Coordinator) projectOf(ctx context.Context, taskID string) (string, error) {
	t, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return "", wrapStorage("get task", err)
	}
	if t == nil {
		return "", rerrors.NotFound("task", taskID)
	}
	return t.ProjectID, nil
}

// ---------- projects ----------

// CreateProject creates an active, unbound project.
func (c *Coordinator) CreateProject(ctx context.Context, input CreateProjectInput) (*Result, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}

	var p *Project
	err := c.store.InTx(ctx, func(tx *Store) error {
		var err error
		if p, err = tx.CreateProject(ctx, input); err != nil {
			return err
		}
		return tx.AddEvent(ctx, &ProjectEvent{
			ProjectID: p.ID,
			EventType: EventCreated,
			ActorID:   input.OwnerID,
			Summary:   fmt.Sprintf("Project %q created", p.Name),
		})
	})
	if err != nil {
		c.metrics.RecordMutation("create_project", "error")
		return nil, wrapStorage("create project", err)
	}
	c.metrics.RecordMutation("create_project", "ok")
	c.logger.Info().Str("project_id", p.ID).Str("owner_id", p.OwnerID).Msg("project created")
	return &Result{
		Project: p,
		Changed: true,
		Mirror:  mirror.Report{ProjectID: p.ID, Outcome: mirror.OutcomeSkipped},
	}, nil
}

// GetProject returns an active project.
func (c *Coordinator) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := c.store.GetProject(ctx, id)
	if err != nil {
		return nil, wrapStorage("get project", err)
	}
	if p == nil || !p.Active {
		return nil, rerrors.NotFound("project", id)
	}
	return p, nil
}

// ListProjects lists active projects, newest first. An empty owner lists all.
func (c *Coordinator) ListProjects(ctx context.Context, ownerID string) ([]*Project, error) {
	projects, err := c.store.ListProjects(ctx, ownerID)
	if err != nil {
		return nil, wrapStorage("list projects", err)
	}
	return projects, nil
}

// UpdateProject changes a project's name or description and re-syncs.
func (c *Coordinator) UpdateProject(ctx context.Context, id, actor string, input UpdateProjectInput) (*Result, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}
	return c.mutate(ctx, "update_project", id, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		name, desc := p.Name, p.Description
		if input.Name != nil {
			name = *input.Name
		}
		if input.Description != nil {
			desc = *input.Description
		}
		ch := &change{}
		if name == p.Name && desc == p.Description {
			return ch, nil
		}
		if err := tx.UpdateProjectFields(ctx, p.ID, name, desc); err != nil {
			return nil, err
		}
		if name != p.Name {
			ch.record(EventUpdated, "Project renamed to %q", name)
		} else {
			ch.record(EventUpdated, "Project description updated")
		}
		return ch, nil
	})
}

// DeactivateProject soft-deletes a project. Its mirror is left as is.
func (c *Coordinator) DeactivateProject(ctx context.Context, id, actor string) (*Result, error) {
	return c.mutate(ctx, "deactivate_project", id, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		if err := tx.DeactivateProject(ctx, p.ID); err != nil {
			return nil, err
		}
		ch := &change{noSync: true}
		ch.record(EventDeactivated, "Project %q deactivated", p.Name)
		return ch, nil
	})
}

// BindChannel points the project's mirror at channelRef and publishes a
// fresh message there.
func (c *Coordinator) BindChannel(ctx context.Context, id, actor, channelRef string) (*Result, error) {
	ref, err := normalizeChannelRef(channelRef)
	if err != nil {
		return nil, err
	}
	return c.mutate(ctx, "bind_channel", id, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		if err := tx.SetBinding(ctx, p.ID, mirror.Binding{ChannelRef: ref}); err != nil {
			return nil, err
		}
		ch := &change{}
		ch.record(EventChannelBound, "Channel %s bound", ref)
		return ch, nil
	})
}

// UnbindChannel clears the project's binding without touching the remote
// message.
func (c *Coordinator) UnbindChannel(ctx context.Context, id, actor string) (*Result, error) {
	return c.mutate(ctx, "unbind_channel", id, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		ch := &change{noSync: true}
		if p.ChannelRef == "" && p.MessageRef == "" {
			return ch, nil
		}
		if err := tx.SetBinding(ctx, p.ID, mirror.Binding{}); err != nil {
			return nil, err
		}
		ch.record(EventChannelUnbound, "Channel %s unbound", p.ChannelRef)
		return ch, nil
	})
}

// Sync runs one mirror pass on demand, serialized with mutations.
func (c *Coordinator) Sync(ctx context.Context, id, actor string) (*Result, error) {
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, err := c.GetProject(ctx, id)
	if err != nil {
		return nil, err
	}
	r := c.sync(ctx, id, actor)
	return &Result{Project: c.reload(ctx, p), Mirror: r}, nil
}

// ---------- tasks ----------

// AppendTask adds a task at the end of the project's roadmap.
func (c *Coordinator) AppendTask(ctx context.Context, projectID string, input CreateTaskInput) (*Result, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}
	return c.mutate(ctx, "append_task", projectID, input.CreatorID, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		t, err := c.manager.Append(ctx, tx, p.ID, input)
		if err != nil {
			return nil, err
		}
		ch := &change{task: t}
		ch.record(EventTaskAdded, "Task %q added at position %d", t.Title, t.Position)
		return ch, nil
	})
}

// MoveTask places a task at position, 1-based.
func (c *Coordinator) MoveTask(ctx context.Context, taskID, actor string, position int) (*Result, error) {
	return c.move(ctx, "move_task", taskID, actor, func(ctx context.Context, tx *Store) (*Task, bool, error) {
		return c.manager.Move(ctx, tx, taskID, position)
	})
}

// MoveTaskUp swaps a task with the one before it.
func (c *Coordinator) MoveTaskUp(ctx context.Context, taskID, actor string) (*Result, error) {
	return c.move(ctx, "move_task_up", taskID, actor, func(ctx context.Context, tx *Store) (*Task, bool, error) {
		return c.manager.MoveBy(ctx, tx, taskID, -1)
	})
}

// MoveTaskDown swaps a task with the one after it.
func (c *Coordinator) MoveTaskDown(ctx context.Context, taskID, actor string) (*Result, error) {
	return c.move(ctx, "move_task_down", taskID, actor, func(ctx context.Context, tx *Store) (*Task, bool, error) {
		return c.manager.MoveBy(ctx, tx, taskID, 1)
	})
}

func (c *Coordinator) move(ctx context.Context, op, taskID, actor string, fn func(context.Context, *Store) (*Task, bool, error)) (*Result, error) {
	projectID, err := c.projectOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return c.mutate(ctx, op, projectID, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		t, moved, err := fn(ctx, tx)
		if err != nil {
			return nil, err
		}
		ch := &change{task: t}
		if moved {
			ch.record(EventTaskMoved, "Task %q moved to position %d", t.Title, t.Position)
		}
		return ch, nil
	})
}

// DeleteTask removes a task and renumbers the ones after it.
func (c *Coordinator) DeleteTask(ctx context.Context, taskID, actor string) (*Result, error) {
	projectID, err := c.projectOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return c.mutate(ctx, "delete_task", projectID, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		t, err := c.manager.Delete(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		ch := &change{task: t}
		ch.record(EventTaskDeleted, "Task %q deleted from position %d", t.Title, t.Position)
		return ch, nil
	})
}

// SetTaskStatus moves a task through its status state machine. Setting the
// current status again is a successful no-op.
func (c *Coordinator) SetTaskStatus(ctx context.Context, taskID, actor string, status Status) (*Result, error) {
	if !status.Valid() {
		return nil, rerrors.InvalidInput("unknown status %q", status)
	}
	projectID, err := c.projectOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return c.mutate(ctx, "set_task_status", projectID, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		t, err := c.taskIn(ctx, tx, p, taskID)
		if err != nil {
			return nil, err
		}
		ch := &change{task: t}
		if t.Status == status {
			return ch, nil
		}
		from := t.Status
		if err := applyStatus(t, status, c.now()); err != nil {
			return nil, err
		}
		if err := tx.UpdateTaskStatus(ctx, t); err != nil {
			return nil, err
		}
		ch.record(EventStatusChanged, "Task %q: %s -> %s", t.Title, from, status)
		return ch, nil
	})
}

// UpdateTask edits a task's non-positional fields.
func (c *Coordinator) UpdateTask(ctx context.Context, taskID, actor string, input UpdateTaskInput) (*Result, error) {
	if err := input.normalize(); err != nil {
		return nil, err
	}
	projectID, err := c.projectOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return c.mutate(ctx, "update_task", projectID, actor, func(ctx context.Context, tx *Store, p *Project) (*change, error) {
		t, err := c.taskIn(ctx, tx, p, taskID)
		if err != nil {
			return nil, err
		}
		ch := &change{task: t}

		updated := *t
		if input.Title != nil {
			updated.Title = *input.Title
		}
		if input.Description != nil {
			updated.Description = *input.Description
		}
		if input.Priority != nil {
			updated.Priority = *input.Priority
		}
		if input.EstimatedDays != nil {
			days := *input.EstimatedDays
			updated.EstimatedDays = &days
		}
		if sameFields(t, &updated) {
			return ch, nil
		}

		updated.UpdatedAt = c.now().UnixMilli()
		if err := tx.UpdateTaskFields(ctx, &updated); err != nil {
			return nil, err
		}
		ch.task = &updated
		ch.record(EventTaskUpdated, "Task %q updated", updated.Title)
		return ch, nil
	})
}

func sameFields(a, b *Task) bool {
	if a.Title != b.Title || a.Description != b.Description || a.Priority != b.Priority {
		return false
	}
	if (a.EstimatedDays == nil) != (b.EstimatedDays == nil) {
		return false
	}
	return a.EstimatedDays == nil || *a.EstimatedDays == *b.EstimatedDays
}

func (c *Coordinator) taskIn(ctx context.Context, tx *Store, p *Project, taskID string) (*Task, error) {
	t, err := tx.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil || t.ProjectID != p.ID {
		return nil, rerrors.NotFound("task", taskID)
	}
	return t, nil
}

// GetTask returns a task of an active project.
func (c *Coordinator) GetTask(ctx context.Context, taskID string) (*Task, error) {
	t, err := c.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, wrapStorage("get task", err)
	}
	if t == nil {
		return nil, rerrors.NotFound("task", taskID)
	}
	if _, err := c.GetProject(ctx, t.ProjectID); err != nil {
		return nil, rerrors.NotFound("task", taskID)
	}
	return t, nil
}

// ListTasks returns a project's tasks in position order.
func (c *Coordinator) ListTasks(ctx context.Context, projectID string) ([]*Task, error) {
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	tasks, err := c.store.ListOrderedTasks(ctx, projectID)
	if err != nil {
		return nil, wrapStorage("list tasks", err)
	}
	return tasks, nil
}

// Stats returns per-status task counts for a project.
func (c *Coordinator) Stats(ctx context.Context, projectID string) (ProjectStats, error) {
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return ProjectStats{}, err
	}
	stats, err := c.store.GetProjectStats(ctx, projectID)
	if err != nil {
		return ProjectStats{}, wrapStorage("project stats", err)
	}
	return stats, nil
}

// Events lists a project's history, newest first.
func (c *Coordinator) Events(ctx context.Context, projectID string, limit int) ([]*ProjectEvent, error) {
	if _, err := c.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	events, err := c.store.ListEvents(ctx, projectID, limit)
	if err != nil {
		return nil, wrapStorage("list events", err)
	}
	return events, nil
}
