package roadmap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rerrors "github.com/p-blackswan/roadmap-agent/internal/errors"
	"github.com/p-blackswan/roadmap-agent/internal/mirror"
	"github.com/p-blackswan/roadmap-agent/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ds, err := store.New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewStore(ds, zerolog.Nop())
}

func newFileStore(t *testing.T) *Store {
	t.Helper()
	ds, err := store.New(filepath.Join(t.TempDir(), "roadmap.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { ds.Close() })
	return NewStore(ds, zerolog.Nop())
}

func createProject(t *testing.T, s *Store, name string) *Project {
	t.Helper()
	p, err := s.CreateProject(context.Background(), CreateProjectInput{Name: name, OwnerID: "u1"})
	require.NoError(t, err)
	return p
}

// insertAt writes a task at an arbitrary position, bypassing the manager.
func insertAt(t *testing.T, s *Store, projectID, title string, position int, createdAt int64) *Task {
	t.Helper()
	task := &Task{
		ID:        title + "-id",
		ProjectID: projectID,
		Title:     title,
		Status:    StatusPlanned,
		Priority:  PriorityMedium,
		Position:  position,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
	require.NoError(t, s.InsertTask(context.Background(), task))
	return task
}

func TestStore_CreateAndGetProject(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectInput{Name: "Launch", Description: "Q3", OwnerID: "u1"})
	require.NoError(t, err)
	assert.True(t, p.Active)
	assert.Equal(t, int64(1), p.Version)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Launch", got.Name)
	assert.Equal(t, "Q3", got.Description)
	assert.Empty(t, got.ChannelRef)
	assert.Empty(t, got.MessageRef)

	missing, err := s.GetProject(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ListProjects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := createProject(t, s, "A")
	b := createProject(t, s, "B")
	_, err := s.CreateProject(ctx, CreateProjectInput{Name: "Other", OwnerID: "u2"})
	require.NoError(t, err)
	require.NoError(t, s.DeactivateProject(ctx, a.ID))

	mine, err := s.ListProjects(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, b.ID, mine[0].ID)

	all, err := s.ListProjects(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_DeactivateTwice(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "A")
	require.NoError(t, s.DeactivateProject(context.Background(), p.ID))
	assert.ErrorIs(t, s.DeactivateProject(context.Background(), p.ID), rerrors.ErrNotFound)
}

func TestStore_Binding(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createProject(t, s, "A")

	b, err := s.GetBinding(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, b.Bound())

	require.NoError(t, s.SetBinding(ctx, p.ID, mirror.Binding{ChannelRef: "@news", MessageRef: "17"}))
	b, err = s.GetBinding(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, mirror.Binding{ChannelRef: "@news", MessageRef: "17"}, b)

	require.NoError(t, s.SetBinding(ctx, p.ID, mirror.Binding{}))
	var channelRef, messageRef any
	require.NoError(t, s.ds.DB().QueryRow(`SELECT channel_ref, message_ref FROM projects WHERE id = ?`, p.ID).
		Scan(&channelRef, &messageRef))
	assert.Nil(t, channelRef, "cleared binding is stored as NULL")
	assert.Nil(t, messageRef)

	// Inactive projects have no binding.
	require.NoError(t, s.SetBinding(ctx, p.ID, mirror.Binding{ChannelRef: "@news"}))
	require.NoError(t, s.DeactivateProject(ctx, p.ID))
	b, err = s.GetBinding(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, b.Bound())
}

func TestStore_BumpVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createProject(t, s, "A")

	require.NoError(t, s.BumpVersion(ctx, p.ID, 1))
	err := s.BumpVersion(ctx, p.ID, 1)
	assert.ErrorIs(t, err, rerrors.ErrConflict)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
}

func TestStore_TaskRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createProject(t, s, "A")

	est := 3
	task := &Task{
		ID: "t1", ProjectID: p.ID, CreatorID: "u1", Title: "Design", Description: "wireframes",
		Status: StatusPlanned, Priority: PriorityHigh, EstimatedDays: &est, Position: 1,
		CreatedAt: 1000, UpdatedAt: 1000,
	}
	require.NoError(t, s.InsertTask(ctx, task))

	got, err := s.GetTask(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task, got)
	assert.Nil(t, got.ActualDays)
	assert.Zero(t, got.CompletedAt)

	missing, err := s.GetTask(ctx, "nope")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_WriteTaskPositionsIsAtomic(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createProject(t, s, "A")
	insertAt(t, s, p.ID, "a", 1, 1)
	insertAt(t, s, p.ID, "b", 2, 2)

	err := s.WriteTaskPositions(ctx, p.ID, map[string]int{"a-id": 2, "b-id": 1, "ghost": 3})
	assert.ErrorIs(t, err, rerrors.ErrNotFound)

	tasks, err := s.ListOrderedTasks(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, titles(tasks), "failed plan must not be partially applied")
	assert.Equal(t, []int{1, 2}, positions(tasks))
}

func TestStore_ListOrderedTasksBreaksTiesByCreation(t *testing.T) {
	s := newTestStore(t)
	p := createProject(t, s, "A")
	insertAt(t, s, p.ID, "late", 1, 20)
	insertAt(t, s, p.ID, "early", 1, 10)

	tasks, err := s.ListOrderedTasks(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"early", "late"}, titles(tasks))
}

func TestStore_Stats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createProject(t, s, "A")

	stats, err := s.GetProjectStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProjectStats{}, stats)

	insertAt(t, s, p.ID, "a", 1, 1)
	insertAt(t, s, p.ID, "b", 2, 2)
	insertAt(t, s, p.ID, "c", 3, 3)
	done, _ := s.GetTask(ctx, "a-id")
	done.Status = StatusCompleted
	require.NoError(t, s.UpdateTaskStatus(ctx, done))

	stats, err = s.GetProjectStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, ProjectStats{Total: 3, Completed: 1, Planned: 2, Progress: 33}, stats)
}

func TestStore_Events(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createProject(t, s, "A")

	require.NoError(t, s.AddEvent(ctx, &ProjectEvent{ProjectID: p.ID, EventType: EventCreated, ActorID: "u1", CreatedAt: 1}))
	require.NoError(t, s.AddEvent(ctx, &ProjectEvent{ProjectID: p.ID, EventType: EventTaskAdded, ActorID: "u1", CreatedAt: 2}))
	require.NoError(t, s.AddEvent(ctx, &ProjectEvent{ProjectID: p.ID, EventType: EventTaskMoved, ActorID: "u1", CreatedAt: 2}))

	events, err := s.ListEvents(ctx, p.ID, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, EventTaskMoved, events[0].EventType)
	assert.Equal(t, EventTaskAdded, events[1].EventType)
}

func TestStore_InTxNests(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	p := createProject(t, s, "A")

	err := s.InTx(ctx, func(tx *Store) error {
		return tx.InTx(ctx, func(inner *Store) error {
			assert.Same(t, tx, inner)
			return inner.SetBinding(ctx, p.ID, mirror.Binding{ChannelRef: "C1"})
		})
	})
	require.NoError(t, err)

	b, err := s.GetBinding(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "C1", b.ChannelRef)
}

func titles(tasks []*Task) []string {
	out := make([]string, len(tasks))
	for i, t := range tasks {
		out[i] = t.Title
	}
	return out
}

func positions(tasks []*Task) []int {
	out := make([]int, len(tasks))
	for i, t := range tasks {
		out[i] = t.Position
	}
	return out
}
