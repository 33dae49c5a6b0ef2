package roadmap

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
	"github.com/p-blackswan/roadmap-agent/internal/store"
)

// Store handles project and task SQLite operations. A Store returned to an
// InTx callback runs every statement on that transaction.
type Store struct {
	ds     *store.Store
	exec   store.Executor
	inTx   bool
	logger zerolog.Logger
}

// NewStore creates a new roadmap store.
func NewStore(ds *store.Store, logger zerolog.Logger) *Store {
	return &Store{
		ds:     ds,
		exec:   ds.DB(),
		logger: logger.With().Str("component", "roadmap.store").Logger(),
	}
}

// InTx runs fn with a Store bound to a single transaction. Nested calls
// reuse the outer transaction.
func (s *Store) InTx(ctx context.Context, fn func(tx *Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.ds.WithTx(ctx, func(tx *sql.Tx) error {
		return fn(&Store{ds: s.ds, exec: tx, inTx: true, logger: s.logger})
	})
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.ds.Ping(ctx)
}

func now() int64 { return time.Now().UnixMilli() }

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullTime(ms int64) sql.NullInt64 {
	return sql.NullInt64{Int64: ms, Valid: ms != 0}
}

// ---------- projects ----------

const projectColumns = `id, name, description, owner_id, channel_ref, message_ref, active, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProject(row rowScanner) (*Project, error) {
	p := &Project{}
	var channelRef, messageRef sql.NullString
	var active int
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.OwnerID, &channelRef, &messageRef,
		&active, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.ChannelRef = channelRef.String
	p.MessageRef = messageRef.String
	p.Active = active == 1
	return p, nil
}

// CreateProject inserts a new active, unbound project.
func (s *Store) CreateProject(ctx context.Context, input CreateProjectInput) (*Project, error) {
	ts := now()
	p := &Project{
		ID:          uuid.New().String(),
		Name:        input.Name,
		Description: input.Description,
		OwnerID:     input.OwnerID,
		Active:      true,
		Version:     1,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	query := `INSERT INTO projects (id, name, description, owner_id, active, version, created_at, updated_at) VALUES (?, ?, ?, ?, 1, ?, ?, ?)`
	if _, err := s.exec.ExecContext(ctx, query, p.ID, p.Name, p.Description, p.OwnerID, p.Version, p.CreatedAt, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by ID. It returns nil, nil if none exists.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.exec.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return p, nil
}

// ListProjects lists the active projects of an owner, newest first. An empty
// owner lists every active project.
func (s *Store) ListProjects(ctx context.Context, ownerID string) ([]*Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects WHERE active = 1`
	var args []any
	if ownerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, ownerID)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpdateProjectFields writes name and description.
func (s *Store) UpdateProjectFields(ctx context.Context, id, name, description string) error {
	_, err := s.exec.ExecContext(ctx,
		`UPDATE projects SET name = ?, description = ?, updated_at = ? WHERE id = ?`,
		name, description, now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	return nil
}

// DeactivateProject soft-deletes a project.
func (s *Store) DeactivateProject(ctx context.Context, id string) error {
	result, err := s.exec.ExecContext(ctx,
		`UPDATE projects SET active = 0, updated_at = ? WHERE id = ? AND active = 1`, now(), id)
	if err != nil {
		return fmt.Errorf("failed to deactivate project: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return rerrors.NotFound("project", id)
	}
	return nil
}

// BumpVersion advances the project's version if it still equals expected.
// A mismatch means another writer committed first and yields ErrConflict.
func (s *Store) BumpVersion(ctx context.Context, id string, expected int64) error {
	result, err := s.exec.ExecContext(ctx,
		`UPDATE projects SET version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		now(), id, expected,
	)
	if err != nil {
		return fmt.Errorf("failed to bump project version: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project %s version %d: %w", id, expected, rerrors.ErrConflict)
	}
	return nil
}

// GetBinding returns the project's mirror binding. Inactive and unknown
// projects report an empty binding.
func (s *Store) GetBinding(ctx context.Context, projectID string) (mirror.Binding, error) {
	var channelRef, messageRef sql.NullString
	err := s.exec.QueryRowContext(ctx,
		`SELECT channel_ref, message_ref FROM projects WHERE id = ? AND active = 1`, projectID,
	).Scan(&channelRef, &messageRef)
	if err == sql.ErrNoRows {
		return mirror.Binding{}, nil
	}
	if err != nil {
		return mirror.Binding{}, fmt.Errorf("failed to get binding: %w", err)
	}
	return mirror.Binding{ChannelRef: channelRef.String, MessageRef: messageRef.String}, nil
}

// SetBinding replaces the project's binding. Empty refs are stored as NULL.
func (s *Store) SetBinding(ctx context.Context, projectID string, b mirror.Binding) error {
	_, err := s.exec.ExecContext(ctx,
		`UPDATE projects SET channel_ref = ?, message_ref = ? WHERE id = ?`,
		nullString(b.ChannelRef), nullString(b.MessageRef), projectID,
	)
	if err != nil {
		return fmt.Errorf("failed to set binding: %w", err)
	}
	return nil
}

// ---------- tasks ----------

const taskColumns = `id, project_id, creator_id, title, description, status, priority, estimated_days, actual_days, position, created_at, updated_at, completed_at`

func scanTask(row rowScanner) (*Task, error) {
	t := &Task{}
	var estimated, actual, completedAt sql.NullInt64
	if err := row.Scan(&t.ID, &t.ProjectID, &t.CreatorID, &t.Title, &t.Description, &t.Status, &t.Priority,
		&estimated, &actual, &t.Position, &t.CreatedAt, &t.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	if estimated.Valid {
		v := int(estimated.Int64)
		t.EstimatedDays = &v
	}
	if actual.Valid {
		v := int(actual.Int64)
		t.ActualDays = &v
	}
	t.CompletedAt = completedAt.Int64
	return t, nil
}

// GetTask retrieves a task by ID. It returns nil, nil if none exists.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	t, err := scanTask(s.exec.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// ListOrderedTasks returns a project's tasks by position. Ties, which only
// exist in data written before deletes renumbered, fall back to creation order.
func (s *Store) ListOrderedTasks(ctx context.Context, projectID string) ([]*Task, error) {
	rows, err := s.exec.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY position, created_at, id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// InsertTask stores a fully populated task.
func (s *Store) InsertTask(ctx context.Context, t *Task) error {
	query := `
	INSERT INTO tasks (` + taskColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.exec.ExecContext(ctx, query,
		t.ID, t.ProjectID, t.CreatorID, t.Title, t.Description, t.Status, t.Priority,
		nullInt(t.EstimatedDays), nullInt(t.ActualDays), t.Position, t.CreatedAt, t.UpdatedAt, nullTime(t.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// WriteTaskPositions applies a {taskID: position} plan atomically.
func (s *Store) WriteTaskPositions(ctx context.Context, projectID string, positions map[string]int) error {
	if len(positions) == 0 {
		return nil
	}
	return s.InTx(ctx, func(tx *Store) error {
		ts := now()
		for id, pos := range positions {
			result, err := tx.exec.ExecContext(ctx,
				`UPDATE tasks SET position = ?, updated_at = ? WHERE id = ? AND project_id = ?`,
				pos, ts, id, projectID,
			)
			if err != nil {
				return fmt.Errorf("failed to write position for task %s: %w", id, err)
			}
			if rows, _ := result.RowsAffected(); rows == 0 {
				return rerrors.NotFound("task", id)
			}
		}
		return nil
	})
}

// DeleteTask removes a task row.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	result, err := s.exec.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return rerrors.NotFound("task", id)
	}
	return nil
}

// UpdateTaskStatus writes a task's status together with its completion stamps.
func (s *Store) UpdateTaskStatus(ctx context.Context, t *Task) error {
	_, err := s.exec.ExecContext(ctx,
		`UPDATE tasks SET status = ?, completed_at = ?, actual_days = ?, updated_at = ? WHERE id = ?`,
		t.Status, nullTime(t.CompletedAt), nullInt(t.ActualDays), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}
	return nil
}

// UpdateTaskFields writes the editable, non-positional fields of a task.
func (s *Store) UpdateTaskFields(ctx context.Context, t *Task) error {
	_, err := s.exec.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, priority = ?, estimated_days = ?, updated_at = ? WHERE id = ?`,
		t.Title, t.Description, t.Priority, nullInt(t.EstimatedDays), t.UpdatedAt, t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// GetProjectStats counts a project's tasks by status.
func (s *Store) GetProjectStats(ctx context.Context, projectID string) (ProjectStats, error) {
	rows, err := s.exec.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM tasks WHERE project_id = ? GROUP BY status`, projectID)
	if err != nil {
		return ProjectStats{}, fmt.Errorf("failed to get project stats: %w", err)
	}
	defer rows.Close()

	var stats ProjectStats
	for rows.Next() {
		var status Status
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return ProjectStats{}, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Total += n
		switch status {
		case StatusCompleted:
			stats.Completed = n
		case StatusInProgress:
			stats.InProgress = n
		case StatusPlanned:
			stats.Planned = n
		case StatusCancelled:
			stats.Cancelled = n
		}
	}
	if err := rows.Err(); err != nil {
		return ProjectStats{}, err
	}
	if stats.Total > 0 {
		stats.Progress = stats.Completed * 100 / stats.Total
	}
	return stats, nil
}

// ---------- events ----------

// AddEvent appends an event to a project's history.
func (s *Store) AddEvent(ctx context.Context, evt *ProjectEvent) error {
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}
	if evt.CreatedAt == 0 {
		evt.CreatedAt = now()
	}

	query := `INSERT INTO project_events (id, project_id, event_type, actor_id, summary, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	if _, err := s.exec.ExecContext(ctx, query, evt.ID, evt.ProjectID, evt.EventType, evt.ActorID, evt.Summary, evt.CreatedAt); err != nil {
		return fmt.Errorf("failed to add event: %w", err)
	}
	return nil
}

// ListEvents lists a project's events, newest first.
func (s *Store) ListEvents(ctx context.Context, projectID string, limit int) ([]*ProjectEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, project_id, event_type, actor_id, summary, created_at FROM project_events WHERE project_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`

	rows, err := s.exec.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*ProjectEvent
	for rows.Next() {
		e := &ProjectEvent{}
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EventType, &e.ActorID, &e.Summary, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
