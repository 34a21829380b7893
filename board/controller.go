package board

import (
	"context"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/repository"
)

// Status messages shown to the user. One transient string per operation; no
// error codes and no retry UI.
const (
	msgMissingFields = "Please fill in both the title and description."
	msgSaveFailed    = "Unable to save the task. Please try again."
	msgToggleFailed  = "Could not update that task."
	msgDeleteFailed  = "Could not delete that task."
)

// Repository is the persistence surface the board drives.
type Repository interface {
	Create(ctx context.Context, t domain.Task) (string, error)
	ReadAllForOwner(ctx context.Context, owner string) []domain.Task
	Update(ctx context.Context, id string, patch repository.TaskPatch) error
	Delete(ctx context.Context, id string) error
}

// Controller owns the in-memory task list and form-edit state for the
// current principal. Every mutation goes through the repository and is
// followed by a full reload, so the list never diverges from store state.
// Failures are converted to a status message and never escape the
// controller; the list is left untouched since nothing is mutated
// optimistically.
type Controller struct {
	repo   Repository
	logger *log.Logger

	mu        sync.Mutex
	owner     string
	tasks     []domain.Task
	draft     domain.Draft
	editingID string
	status    string
	saving    bool
}

// New creates a board controller with an empty draft buffer.
func New(repo Repository, logger *log.Logger) *Controller {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Controller{
		repo:   repo,
		logger: logger,
		draft:  emptyDraft(),
	}
}

func emptyDraft() domain.Draft {
	return domain.Draft{Priority: domain.PriorityLow}
}

// Load replaces the in-memory task list with the store's current view for
// owner. Read failures surface as an empty list (repository policy).
func (c *Controller) Load(ctx context.Context, owner string) {
	tasks := c.repo.ReadAllForOwner(ctx, owner)
	c.mu.Lock()
	c.owner = owner
	c.tasks = tasks
	c.mu.Unlock()
}

// Clear drops all task and form state, returning the board to its
// pre-authentication shape.
func (c *Controller) Clear() {
	c.mu.Lock()
	c.owner = ""
	c.tasks = nil
	c.draft = emptyDraft()
	c.editingID = ""
	c.status = ""
	c.mu.Unlock()
}

// Submit validates the draft and either creates a new task or, when an edit
// is in progress, updates the edited one. On success the draft buffer is
// cleared and the list reloaded; on store failure the draft is kept so the
// user can retry without re-typing. A submit already in flight makes this a
// no-op.
func (c *Controller) Submit(ctx context.Context, draft domain.Draft) {
	c.mu.Lock()
	if c.saving || c.owner == "" {
		c.mu.Unlock()
		return
	}
	c.draft = draft
	title := strings.TrimSpace(draft.Title)
	description := strings.TrimSpace(draft.Description)
	if title == "" || description == "" {
		c.status = msgMissingFields
		c.mu.Unlock()
		return
	}
	priority := draft.Priority
	if !priority.Valid() {
		priority = domain.PriorityLow
	}
	c.saving = true
	c.status = ""
	owner := c.owner
	editingID := c.editingID
	c.mu.Unlock()

	var err error
	if editingID != "" {
		// Completion status is untouched by the edit path.
		err = c.repo.Update(ctx, editingID, repository.TaskPatch{
			Title:       &title,
			Description: &description,
			Priority:    &priority,
		})
	} else {
		_, err = c.repo.Create(ctx, domain.Task{
			Title:       title,
			Description: description,
			Priority:    priority,
			Completed:   false,
			OwnerEmail:  owner,
		})
	}

	c.mu.Lock()
	c.saving = false
	if err != nil {
		c.logger.WithError(err).Error("save task")
		c.status = msgSaveFailed
		c.mu.Unlock()
		return
	}
	c.draft = emptyDraft()
	c.editingID = ""
	c.mu.Unlock()

	c.Load(ctx, owner)
}

// ToggleCompletion flips the completed flag of the given task, then reloads.
// The display only changes once the reload succeeds; nothing is mutated
// locally first.
func (c *Controller) ToggleCompletion(ctx context.Context, task domain.Task) {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()
	if owner == "" {
		return
	}

	completed := !task.Completed
	if err := c.repo.Update(ctx, task.ID, repository.TaskPatch{Completed: &completed}); err != nil {
		c.logger.WithError(err).Error("toggle task")
		c.mu.Lock()
		c.status = msgToggleFailed
		c.mu.Unlock()
		return
	}
	c.Load(ctx, owner)
}

// Remove deletes the task with the given id, then reloads.
func (c *Controller) Remove(ctx context.Context, id string) {
	c.mu.Lock()
	owner := c.owner
	c.mu.Unlock()
	if owner == "" {
		return
	}

	if err := c.repo.Delete(ctx, id); err != nil {
		c.logger.WithError(err).Error("delete task")
		c.mu.Lock()
		c.status = msgDeleteFailed
		c.mu.Unlock()
		return
	}
	c.Load(ctx, owner)
}

// BeginEdit copies the task's fields into the draft buffer and records its
// id. Edits start from the in-memory copy; no fresh read is performed.
func (c *Controller) BeginEdit(task domain.Task) {
	c.mu.Lock()
	c.draft = domain.Draft{
		Title:       task.Title,
		Description: task.Description,
		Priority:    task.Priority,
	}
	c.editingID = task.ID
	c.status = ""
	c.mu.Unlock()
}

// CancelEdit clears the draft buffer and editing id without any store call.
func (c *Controller) CancelEdit() {
	c.mu.Lock()
	c.draft = emptyDraft()
	c.editingID = ""
	c.mu.Unlock()
}

// Owner returns the principal whose tasks the board currently shows, or ""
// before the first load.
func (c *Controller) Owner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

// Tasks returns a copy of the current task list in store order.
func (c *Controller) Tasks() []domain.Task {
	c.mu.Lock()
	defer c.mu.Unlock()
	tasks := make([]domain.Task, len(c.tasks))
	copy(tasks, c.tasks)
	return tasks
}

// Task looks up a task by id in the in-memory list.
func (c *Controller) Task(id string) (domain.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// Draft returns the current draft buffer and the id of the task being
// edited, if any.
func (c *Controller) Draft() (domain.Draft, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft, c.editingID
}

// Status returns the transient user-facing status message.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Saving reports whether a submit is in flight. Views disable the submit
// affordance while true.
func (c *Controller) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}
