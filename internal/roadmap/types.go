// Package roadmap owns projects and their ordered task lists.
//
// Tasks within a project always occupy positions 1..N with no gaps and no
// duplicates. Every ordering mutation runs through the Coordinator, which
// serializes work per project, commits it atomically, and then hands the
// project to the mirror engine for one best-effort sync pass.
package roadmap

import "github.com/p-blackswan/roadmap-agent/internal/mirror"

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPlanned    Status = "planned"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every status in display order.
var Statuses = []Status{StatusPlanned, StatusInProgress, StatusCompleted, StatusCancelled}

// Priority ranks a task's urgency.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// Input limits.
const (
	MaxProjectNameLength = 100
	MaxDescriptionLength = 1000
	MaxTaskTitleLength   = 200
	MaxChannelRefLength  = 255
)

// Project groups an ordered list of tasks.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
	ChannelRef  string `json:"channel_ref,omitempty"`
	MessageRef  string `json:"message_ref,omitempty"`
	Active      bool   `json:"active"`
	Version     int64  `json:"version"`
	CreatedAt   int64  `json:"created_at"`
	UpdatedAt   int64  `json:"updated_at"`
}

// Binding returns the project's mirror binding.
func (p *Project) Binding() mirror.Binding {
	return mirror.Binding{ChannelRef: p.ChannelRef, MessageRef: p.MessageRef}
}

// Task is one positioned item of a project's roadmap.
type Task struct {
	ID            string   `json:"id"`
	ProjectID     string   `json:"project_id"`
	CreatorID     string   `json:"creator_id,omitempty"`
	Title         string   `json:"title"`
	Description   string   `json:"description,omitempty"`
	Status        Status   `json:"status"`
	Priority      Priority `json:"priority"`
	EstimatedDays *int     `json:"estimated_days,omitempty"`
	ActualDays    *int     `json:"actual_days,omitempty"`
	Position      int      `json:"position"`
	CreatedAt     int64    `json:"created_at"`
	UpdatedAt     int64    `json:"updated_at"`
	CompletedAt   int64    `json:"completed_at,omitempty"`
}

// ProjectStats holds per-status task counts for a project.
type ProjectStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	InProgress int `json:"in_progress"`
	Planned    int `json:"planned"`
	Cancelled  int `json:"cancelled"`
	Progress   int `json:"progress"` // percent complete, 0 when there are no tasks
}

// StatsOf computes statistics over a task list.
func StatsOf(tasks []*Task) ProjectStats {
	var s ProjectStats
	for _, t := range tasks {
		s.Total++
		switch t.Status {
		case StatusCompleted:
			s.Completed++
		case StatusInProgress:
			s.InProgress++
		case StatusPlanned:
			s.Planned++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	if s.Total > 0 {
		s.Progress = s.Completed * 100 / s.Total
	}
	return s
}

// Event types recorded in the project log.
const (
	EventCreated         = "created"
	EventUpdated         = "updated"
	EventDeactivated     = "deactivated"
	EventTaskAdded       = "task_added"
	EventTaskMoved       = "task_moved"
	EventTaskDeleted     = "task_deleted"
	EventTaskUpdated     = "task_updated"
	EventStatusChanged   = "status_changed"
	EventChannelBound    = "channel_bound"
	EventChannelUnbound  = "channel_unbound"
	EventMirrorCreated   = "mirror_created"
	EventMirrorRecreated = "mirror_recreated"
	EventMirrorUnlinked  = "mirror_unlinked"
	EventPositionsRepair = "positions_repaired"
)

// ProjectEvent is an append-only entry in a project's history.
type ProjectEvent struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	EventType string `json:"event_type"`
	ActorID   string `json:"actor_id"`
	Summary   string `json:"summary"`
	CreatedAt int64  `json:"created_at"`
}

// CreateProjectInput holds the parameters for creating a new project.
type CreateProjectInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	OwnerID     string `json:"owner_id"`
}

// UpdateProjectInput holds the parameters for updating a project.
type UpdateProjectInput struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

// CreateTaskInput holds the parameters for appending a task.
type CreateTaskInput struct {
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	Priority      Priority `json:"priority,omitempty"`
	EstimatedDays *int     `json:"estimated_days,omitempty"`
	CreatorID     string   `json:"creator_id"`
}

// UpdateTaskInput holds the editable, non-positional task fields.
type UpdateTaskInput struct {
	Title         *string   `json:"title,omitempty"`
	Description   *string   `json:"description,omitempty"`
	Priority      *Priority `json:"priority,omitempty"`
	EstimatedDays *int      `json:"estimated_days,omitempty"`
}

// Empty reports whether the input changes nothing.
func (in UpdateTaskInput) Empty() bool {
	return in.Title == nil && in.Description == nil && in.Priority == nil && in.EstimatedDays == nil
}
