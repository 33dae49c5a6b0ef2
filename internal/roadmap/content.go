package roadmap

import (
	"context"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
)

// Renderer turns a project and its ordered tasks into mirror text.
type Renderer interface {
	Render(p *Project, tasks []*Task) string
}

// ContentSource adapts a Renderer to the mirror engine, always rendering
// from freshly read local state.
func ContentSource(st *Store, r Renderer) mirror.ContentFunc {
	return func(ctx context.Context, projectID string) (string, error) {
		p, err := st.GetProject(ctx, projectID)
		if err != nil {
			return "", err
		}
		if p == nil || !p.Active {
			return "", rerrors.NotFound("project", projectID)
		}
		tasks, err := st.ListOrderedTasks(ctx, projectID)
		if err != nil {
			return "", err
		}
		return r.Render(p, tasks), nil
	}
}
