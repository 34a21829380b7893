package repository

import (
	"context"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Store is the document-store surface the repository translates task
// operations into.
type Store interface {
	InsertTask(ctx context.Context, t domain.Task) (string, error)
	QueryTasksByOwner(ctx context.Context, owner string) ([]domain.Task, error)
	MergeTask(ctx context.Context, id string, fields map[string]any) error
	DeleteTask(ctx context.Context, id string) error
}

// StoreError wraps any remote read or write failure crossing the repository
// boundary.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "task store: " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// TaskPatch carries the fields of a partial update. Nil fields are left
// untouched. OwnerEmail is set once at creation and is not patchable.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *domain.Priority
	Completed   *bool
}

func (p TaskPatch) fields() map[string]any {
	fields := make(map[string]any, 4)
	if p.Title != nil {
		fields["Title"] = *p.Title
	}
	if p.Description != nil {
		fields["Description"] = *p.Description
	}
	if p.Priority != nil {
		fields["Priority"] = string(*p.Priority)
	}
	if p.Completed != nil {
		fields["Completed"] = *p.Completed
	}
	return fields
}

// Repository is a thin typed façade over the task store.
type Repository struct {
	store  Store
	logger *log.Logger
}

// New creates a Repository backed by the given store.
func New(store Store, logger *log.Logger) *Repository {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Repository{store: store, logger: logger}
}

// Create inserts a new task and returns its store-assigned id.
func (r *Repository) Create(ctx context.Context, t domain.Task) (string, error) {
	id, err := r.store.InsertTask(ctx, t)
	if err != nil {
		return "", &StoreError{Op: "create", Err: err}
	}
	return id, nil
}

// ReadAllForOwner returns every task owned by owner, in store order. Query
// failures are logged and reported as an empty list so a flaky read never
// breaks the board.
func (r *Repository) ReadAllForOwner(ctx context.Context, owner string) []domain.Task {
	tasks, err := r.store.QueryTasksByOwner(ctx, owner)
	if err != nil {
		r.logger.WithError(err).WithField("owner", owner).Error("read tasks")
		return []domain.Task{}
	}
	return tasks
}

// Update applies a partial patch to the task with the given id. Callers must
// re-read to observe the new state. An empty patch is a no-op.
func (r *Repository) Update(ctx context.Context, id string, patch TaskPatch) error {
	fields := patch.fields()
	if len(fields) == 0 {
		return nil
	}
	if err := r.store.MergeTask(ctx, id, fields); err != nil {
		return &StoreError{Op: "update", Err: err}
	}
	return nil
}

// Delete removes the task with the given id.
func (r *Repository) Delete(ctx context.Context, id string) error {
	if err := r.store.DeleteTask(ctx, id); err != nil {
		return &StoreError{Op: "delete", Err: err}
	}
	return nil
}
