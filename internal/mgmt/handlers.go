package mgmt

import (
	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/roadmap-agent/internal/roadmap"
)

func badBody(c *fiber.Ctx, err error) error {
	return problemResponse(c, fiber.StatusBadRequest,
		"invalid_body", "Bad Request",
		"Invalid request body: "+err.Error())
}

func (s *Server) mutation(c *fiber.Ctx, status int, res *roadmap.Result, err error) error {
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.Status(status).JSON(newMutationResponse(res))
}

// ---------- projects ----------

// createProject handles POST /api/v1/projects. The owner defaults to the
// authenticated actor.
func (s *Server) createProject(c *fiber.Ctx) error {
	var req roadmap.CreateProjectInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	if req.OwnerID == "" {
		req.OwnerID = actorOf(c)
	}
	res, err := s.coord.CreateProject(c.UserContext(), req)
	return s.mutation(c, fiber.StatusCreated, res, err)
}

// listProjects handles GET /api/v1/projects?owner=.
func (s *Server) listProjects(c *fiber.Ctx) error {
	projects, err := s.coord.ListProjects(c.UserContext(), c.Query("owner"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	if projects == nil {
		projects = []*roadmap.Project{}
	}
	return c.JSON(ProjectListResponse{Projects: projects, Total: len(projects)})
}

// getProject handles GET /api/v1/projects/:id.
func (s *Server) getProject(c *fiber.Ctx) error {
	ctx := c.UserContext()
	p, err := s.coord.GetProject(ctx, c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	stats, err := s.coord.Stats(ctx, p.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(ProjectDetailResponse{Project: p, Stats: stats})
}

// updateProject handles PATCH /api/v1/projects/:id.
func (s *Server) updateProject(c *fiber.Ctx) error {
	var req roadmap.UpdateProjectInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	res, err := s.coord.UpdateProject(c.UserContext(), c.Params("id"), actorOf(c), req)
	return s.mutation(c, fiber.StatusOK, res, err)
}

// deactivateProject handles DELETE /api/v1/projects/:id.
func (s *Server) deactivateProject(c *fiber.Ctx) error {
	res, err := s.coord.DeactivateProject(c.UserContext(), c.Params("id"), actorOf(c))
	return s.mutation(c, fiber.StatusOK, res, err)
}

// ---------- binding ----------

// bindChannel handles PUT /api/v1/projects/:id/channel.
func (s *Server) bindChannel(c *fiber.Ctx) error {
	var req BindChannelRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	res, err := s.coord.BindChannel(c.UserContext(), c.Params("id"), actorOf(c), req.ChannelRef)
	return s.mutation(c, fiber.StatusOK, res, err)
}

// unbindChannel handles DELETE /api/v1/projects/:id/channel.
func (s *Server) unbindChannel(c *fiber.Ctx) error {
	res, err := s.coord.UnbindChannel(c.UserContext(), c.Params("id"), actorOf(c))
	return s.mutation(c, fiber.StatusOK, res, err)
}

// syncProject handles POST /api/v1/projects/:id/sync.
func (s *Server) syncProject(c *fiber.Ctx) error {
	res, err := s.coord.Sync(c.UserContext(), c.Params("id"), actorOf(c))
	return s.mutation(c, fiber.StatusOK, res, err)
}

// renderRoadmap handles GET /api/v1/projects/:id/roadmap.
func (s *Server) renderRoadmap(c *fiber.Ctx) error {
	if s.renderer == nil {
		return problemResponse(c, fiber.StatusNotImplemented,
			"no_renderer", "Not Implemented", "No renderer is configured")
	}
	ctx := c.UserContext()
	p, err := s.coord.GetProject(ctx, c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	tasks, err := s.coord.ListTasks(ctx, p.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}

	resp := RoadmapResponse{ProjectID: p.ID, Text: s.renderer.Render(p, tasks)}
	if f, ok := s.renderer.(interface{ Format() string }); ok {
		resp.Format = f.Format()
	}
	return c.JSON(resp)
}

// listEvents handles GET /api/v1/projects/:id/events?limit=.
func (s *Server) listEvents(c *fiber.Ctx) error {
	ctx := c.UserContext()
	p, err := s.coord.GetProject(ctx, c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	events, err := s.coord.Events(ctx, p.ID, c.QueryInt("limit", 50))
	if err != nil {
		return s.errorResponse(c, err)
	}
	if events == nil {
		events = []*roadmap.ProjectEvent{}
	}
	return c.JSON(EventListResponse{Events: events})
}

// ---------- tasks ----------

// listTasks handles GET /api/v1/projects/:id/tasks.
func (s *Server) listTasks(c *fiber.Ctx) error {
	ctx := c.UserContext()
	p, err := s.coord.GetProject(ctx, c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	tasks, err := s.coord.ListTasks(ctx, p.ID)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if tasks == nil {
		tasks = []*roadmap.Task{}
	}
	return c.JSON(TaskListResponse{Tasks: tasks, Stats: roadmap.StatsOf(tasks)})
}

// appendTask handles POST /api/v1/projects/:id/tasks. The creator is the
// authenticated actor.
func (s *Server) appendTask(c *fiber.Ctx) error {
	var req roadmap.CreateTaskInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	req.CreatorID = actorOf(c)
	res, err := s.coord.AppendTask(c.UserContext(), c.Params("id"), req)
	return s.mutation(c, fiber.StatusCreated, res, err)
}

// getTask handles GET /api/v1/tasks/:id.
func (s *Server) getTask(c *fiber.Ctx) error {
	t, err := s.coord.GetTask(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(t)
}

// updateTask handles PATCH /api/v1/tasks/:id.
func (s *Server) updateTask(c *fiber.Ctx) error {
	var req roadmap.UpdateTaskInput
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	res, err := s.coord.UpdateTask(c.UserContext(), c.Params("id"), actorOf(c), req)
	return s.mutation(c, fiber.StatusOK, res, err)
}

// deleteTask handles DELETE /api/v1/tasks/:id.
func (s *Server) deleteTask(c *fiber.Ctx) error {
	res, err := s.coord.DeleteTask(c.UserContext(), c.Params("id"), actorOf(c))
	return s.mutation(c, fiber.StatusOK, res, err)
}

// moveTask handles POST /api/v1/tasks/:id/move.
func (s *Server) moveTask(c *fiber.Ctx) error {
	var req MoveTaskRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	res, err := s.coord.MoveTask(c.UserContext(), c.Params("id"), actorOf(c), req.Position)
	return s.mutation(c, fiber.StatusOK, res, err)
}

// moveTaskUp handles POST /api/v1/tasks/:id/up.
func (s *Server) moveTaskUp(c *fiber.Ctx) error {
	res, err := s.coord.MoveTaskUp(c.UserContext(), c.Params("id"), actorOf(c))
	return s.mutation(c, fiber.StatusOK, res, err)
}

// moveTaskDown handles POST /api/v1/tasks/:id/down.
func (s *Server) moveTaskDown(c *fiber.Ctx) error {
	res, err := s.coord.MoveTaskDown(c.UserContext(), c.Params("id"), actorOf(c))
	return s.mutation(c, fiber.StatusOK, res, err)
}

// setTaskStatus handles POST /api/v1/tasks/:id/status.
func (s *Server) setTaskStatus(c *fiber.Ctx) error {
	var req SetStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return badBody(c, err)
	}
	res, err := s.coord.SetTaskStatus(c.UserContext(), c.Params("id"), actorOf(c), req.Status)
	return s.mutation(c, fiber.StatusOK, res, err)
}
