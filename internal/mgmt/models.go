// Package mgmt provides the HTTP command surface of the roadmap agent.
package mgmt

import (
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
	"github.com/p-blackswan/roadmap-agent/internal/roadmap"
)

// MirrorReport is the outcome of the sync pass that followed a mutation.
type MirrorReport struct {
	Outcome    string `json:"outcome"`
	MessageRef string `json:"message_ref,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Warning    string `json:"warning,omitempty"`
	Unlinked   bool   `json:"unlinked"`
}

func newMirrorReport(r mirror.Report) MirrorReport {
	out := MirrorReport{
		Outcome:    string(r.Outcome),
		MessageRef: r.MessageRef,
		Reason:     string(r.Reason),
		Unlinked:   r.Unlinked(),
	}
	if w := r.Warning(); w != nil {
		out.Warning = w.Error()
	}
	return out
}

// MutationResponse is returned by every mutating endpoint.
type MutationResponse struct {
	Project *roadmap.Project `json:"project,omitempty"`
	Task    *roadmap.Task    `json:"task,omitempty"`
	Changed bool             `json:"changed"`
	Mirror  MirrorReport     `json:"mirror"`
}

func newMutationResponse(r *roadmap.Result) MutationResponse {
	return MutationResponse{
		Project: r.Project,
		Task:    r.Task,
		Changed: r.Changed,
		Mirror:  newMirrorReport(r.Mirror),
	}
}

// ProjectListResponse is returned by GET /projects.
type ProjectListResponse struct {
	Projects []*roadmap.Project `json:"projects"`
	Total    int                `json:"total"`
}

// ProjectDetailResponse is returned by GET /projects/:id.
type ProjectDetailResponse struct {
	Project *roadmap.Project     `json:"project"`
	Stats   roadmap.ProjectStats `json:"stats"`
}

// TaskListResponse is returned by GET /projects/:id/tasks.
type TaskListResponse struct {
	Tasks []*roadmap.Task      `json:"tasks"`
	Stats roadmap.ProjectStats `json:"stats"`
}

// EventListResponse is returned by GET /projects/:id/events.
type EventListResponse struct {
	Events []*roadmap.ProjectEvent `json:"events"`
}

// RoadmapResponse carries the rendered mirror text of a project.
type RoadmapResponse struct {
	ProjectID string `json:"project_id"`
	Format    string `json:"format,omitempty"`
	Text      string `json:"text"`
}

// BindChannelRequest is the body of PUT /projects/:id/channel.
type BindChannelRequest struct {
	ChannelRef string `json:"channel_ref"`
}

// MoveTaskRequest is the body of POST /tasks/:id/move.
type MoveTaskRequest struct {
	Position int `json:"position"`
}

// SetStatusRequest is the body of POST /tasks/:id/status.
type SetStatusRequest struct {
	Status roadmap.Status `json:"status"`
}
