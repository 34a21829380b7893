package board

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
	"taskboard/repository"
)

// fakeRepo is an in-memory repository honouring the store contract: ids are
// assigned on create, queries are owner-scoped, updates merge field by field.
type fakeRepo struct {
	mu      sync.Mutex
	nextID  int
	tasks   []domain.Task
	creates int
	updates int
	deletes int
	reads   int

	createErr error
	updateErr error
	deleteErr error

	// createStarted/createRelease let a test hold a create in flight.
	createStarted chan struct{}
	createRelease chan struct{}
}

func newFakeRepo() *fakeRepo { return &fakeRepo{} }

func (f *fakeRepo) Create(ctx context.Context, t domain.Task) (string, error) {
	if f.createStarted != nil {
		f.createStarted <- struct{}{}
		<-f.createRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := "task-" + strconv.Itoa(f.nextID)
	t.ID = id
	f.tasks = append(f.tasks, t)
	return id, nil
}

func (f *fakeRepo) ReadAllForOwner(ctx context.Context, owner string) []domain.Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reads++
	out := []domain.Task{}
	for _, t := range f.tasks {
		if t.OwnerEmail == owner {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeRepo) Update(ctx context.Context, id string, patch repository.TaskPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return f.updateErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID != id {
			continue
		}
		if patch.Title != nil {
			f.tasks[i].Title = *patch.Title
		}
		if patch.Description != nil {
			f.tasks[i].Description = *patch.Description
		}
		if patch.Priority != nil {
			f.tasks[i].Priority = *patch.Priority
		}
		if patch.Completed != nil {
			f.tasks[i].Completed = *patch.Completed
		}
		return nil
	}
	return &repository.StoreError{Op: "update", Err: errors.New("not found")}
}

func (f *fakeRepo) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	for i := range f.tasks {
		if f.tasks[i].ID == id {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return &repository.StoreError{Op: "delete", Err: errors.New("not found")}
}

func (f *fakeRepo) counts() (creates, updates, deletes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates, f.deletes
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func loadedController(t *testing.T, repo *fakeRepo, owner string) *Controller {
	t.Helper()
	ctl := New(repo, quietLogger())
	ctl.Load(context.Background(), owner)
	return ctl
}

func TestSubmitCreatesTask(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")

	ctl.Submit(context.Background(), domain.Draft{Title: "  Buy milk ", Description: " 2% ", Priority: domain.PriorityLow})

	tasks := ctl.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("expected one task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.Title != "Buy milk" || got.Description != "2%" {
		t.Fatalf("expected trimmed fields, got %+v", got)
	}
	if got.Completed {
		t.Fatal("new task must start incomplete")
	}
	if got.OwnerEmail != "a@x.com" {
		t.Fatalf("expected owner a@x.com, got %q", got.OwnerEmail)
	}
	if got.ID == "" {
		t.Fatal("expected store-assigned id")
	}
	if draft, editing := ctl.Draft(); draft.Title != "" || editing != "" {
		t.Fatalf("draft buffer not cleared: %+v editing=%q", draft, editing)
	}
	if ctl.Status() != "" {
		t.Fatalf("unexpected status %q", ctl.Status())
	}
}

func TestSubmitRejectsBlankFields(t *testing.T) {
	for _, draft := range []domain.Draft{
		{Title: "", Description: "body"},
		{Title: "   ", Description: "body"},
		{Title: "title", Description: "   "},
	} {
		repo := newFakeRepo()
		ctl := loadedController(t, repo, "a@x.com")

		ctl.Submit(context.Background(), draft)

		creates, updates, _ := repo.counts()
		if creates != 0 || updates != 0 {
			t.Fatalf("draft %+v: expected no store call, got creates=%d updates=%d", draft, creates, updates)
		}
		if ctl.Status() != msgMissingFields {
			t.Fatalf("draft %+v: expected validation message, got %q", draft, ctl.Status())
		}
		if len(ctl.Tasks()) != 0 {
			t.Fatalf("draft %+v: task list must stay unchanged", draft)
		}
	}
}

func TestSubmitFailureKeepsDraft(t *testing.T) {
	repo := newFakeRepo()
	repo.createErr = errors.New("write refused")
	ctl := loadedController(t, repo, "a@x.com")

	draft := domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityHigh}
	ctl.Submit(context.Background(), draft)

	if ctl.Status() != msgSaveFailed {
		t.Fatalf("expected save-failed status, got %q", ctl.Status())
	}
	kept, _ := ctl.Draft()
	if kept != draft {
		t.Fatalf("draft must be retained for retry, got %+v", kept)
	}
	if len(ctl.Tasks()) != 0 {
		t.Fatal("task list must be unchanged on failure")
	}
}

func TestSubmitWithEditingIDUpdates(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})
	created := ctl.Tasks()[0]

	// Mark it done first so the edit path provably leaves completion alone.
	ctl.ToggleCompletion(context.Background(), created)

	ctl.BeginEdit(ctl.Tasks()[0])
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityHigh})

	tasks := ctl.Tasks()
	if len(tasks) != 1 {
		t.Fatalf("edit must not create a second task, got %d", len(tasks))
	}
	got := tasks[0]
	if got.Priority != domain.PriorityHigh {
		t.Fatalf("expected priority High, got %q", got.Priority)
	}
	if !got.Completed {
		t.Fatal("edit path must not touch completion status")
	}
	if _, editing := ctl.Draft(); editing != "" {
		t.Fatal("editing id must be cleared after a successful update")
	}
}

func TestToggleCompletionFlipsOnlyCompleted(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})
	before := ctl.Tasks()[0]

	ctl.ToggleCompletion(context.Background(), before)

	after := ctl.Tasks()[0]
	if after.Completed == before.Completed {
		t.Fatal("completed flag not flipped")
	}
	after.Completed = before.Completed
	if after != before {
		t.Fatalf("fields other than completed changed: %+v vs %+v", after, before)
	}
}

func TestToggleCompletionFailureKeepsList(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})
	before := ctl.Tasks()

	repo.updateErr = errors.New("write refused")
	ctl.ToggleCompletion(context.Background(), before[0])

	if ctl.Status() != msgToggleFailed {
		t.Fatalf("expected toggle-failed status, got %q", ctl.Status())
	}
	after := ctl.Tasks()
	if len(after) != 1 || after[0] != before[0] {
		t.Fatalf("list must be unchanged on failure: %+v", after)
	}
}

func TestRemoveDeletesTask(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})
	id := ctl.Tasks()[0].ID

	ctl.Remove(context.Background(), id)

	if len(ctl.Tasks()) != 0 {
		t.Fatalf("expected empty list, got %+v", ctl.Tasks())
	}
}

func TestRemoveFailureSetsStatus(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})

	repo.deleteErr = errors.New("write refused")
	ctl.Remove(context.Background(), ctl.Tasks()[0].ID)

	if ctl.Status() != msgDeleteFailed {
		t.Fatalf("expected delete-failed status, got %q", ctl.Status())
	}
	if len(ctl.Tasks()) != 1 {
		t.Fatal("list must be unchanged on failure")
	}
}

func TestLoadIsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})

	ctl.Load(context.Background(), "a@x.com")
	first := ctl.Tasks()
	ctl.Load(context.Background(), "a@x.com")
	second := ctl.Tasks()

	if len(first) != len(second) {
		t.Fatalf("lists differ in length: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("lists differ at %d: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestLoadScopesByOwner(t *testing.T) {
	repo := newFakeRepo()
	other := loadedController(t, repo, "b@x.com")
	other.Submit(context.Background(), domain.Draft{Title: "Theirs", Description: "x", Priority: domain.PriorityLow})

	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Mine", Description: "x", Priority: domain.PriorityLow})

	for _, task := range ctl.Tasks() {
		if task.OwnerEmail != "a@x.com" {
			t.Fatalf("foreign task leaked into the board: %+v", task)
		}
	}
	if len(ctl.Tasks()) != 1 {
		t.Fatalf("expected exactly one owned task, got %d", len(ctl.Tasks()))
	}
}

func TestCancelEditClearsDraft(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})

	ctl.BeginEdit(ctl.Tasks()[0])
	if draft, editing := ctl.Draft(); editing == "" || draft.Title != "Buy milk" {
		t.Fatalf("begin edit did not populate draft: %+v editing=%q", draft, editing)
	}

	ctl.CancelEdit()

	draft, editing := ctl.Draft()
	if editing != "" || draft.Title != "" || draft.Description != "" {
		t.Fatalf("cancel did not clear draft: %+v editing=%q", draft, editing)
	}
	if creates, updates, deletes := repo.counts(); creates != 1 || updates != 0 || deletes != 0 {
		t.Fatalf("cancel must not touch the store: creates=%d updates=%d deletes=%d", creates, updates, deletes)
	}
}

func TestSubmitBusyGuard(t *testing.T) {
	repo := newFakeRepo()
	repo.createStarted = make(chan struct{}, 1)
	repo.createRelease = make(chan struct{})
	ctl := loadedController(t, repo, "a@x.com")

	go ctl.Submit(context.Background(), domain.Draft{Title: "First", Description: "x", Priority: domain.PriorityLow})
	<-repo.createStarted

	// A second submit while the first is in flight must be a no-op.
	done := make(chan struct{})
	go func() {
		ctl.Submit(context.Background(), domain.Draft{Title: "Second", Description: "x", Priority: domain.PriorityLow})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("guarded submit should return immediately")
	}

	close(repo.createRelease)
	deadline := time.Now().Add(2 * time.Second)
	for ctl.Saving() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	creates, _, _ := repo.counts()
	if creates != 1 {
		t.Fatalf("expected a single create, got %d", creates)
	}
}

func TestClearDropsAllState(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctl.Submit(context.Background(), domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})
	ctl.BeginEdit(ctl.Tasks()[0])

	ctl.Clear()

	if len(ctl.Tasks()) != 0 {
		t.Fatal("tasks not cleared")
	}
	if draft, editing := ctl.Draft(); editing != "" || draft.Title != "" {
		t.Fatal("draft not cleared")
	}
	if ctl.Status() != "" {
		t.Fatal("status not cleared")
	}

	// Mutations without an owner are no-ops.
	ctl.Submit(context.Background(), domain.Draft{Title: "x", Description: "y", Priority: domain.PriorityLow})
	creates, _, _ := repo.counts()
	if creates != 1 {
		t.Fatalf("submit after clear must not reach the store, creates=%d", creates)
	}
}

func TestBoardScenario(t *testing.T) {
	repo := newFakeRepo()
	ctl := loadedController(t, repo, "a@x.com")
	ctx := context.Background()

	ctl.Submit(ctx, domain.Draft{Title: "Buy milk", Description: "2%", Priority: domain.PriorityLow})
	tasks := ctl.Tasks()
	if len(tasks) != 1 || tasks[0].Completed || tasks[0].Priority != domain.PriorityLow {
		t.Fatalf("after create: %+v", tasks)
	}

	ctl.ToggleCompletion(ctx, tasks[0])
	tasks = ctl.Tasks()
	if !tasks[0].Completed {
		t.Fatalf("after toggle: %+v", tasks)
	}

	ctl.BeginEdit(tasks[0])
	draft, _ := ctl.Draft()
	draft.Priority = domain.PriorityHigh
	ctl.Submit(ctx, draft)
	tasks = ctl.Tasks()
	if tasks[0].Priority != domain.PriorityHigh || !tasks[0].Completed {
		t.Fatalf("after edit: %+v", tasks)
	}

	ctl.Remove(ctx, tasks[0].ID)
	if len(ctl.Tasks()) != 0 {
		t.Fatalf("after delete: %+v", ctl.Tasks())
	}
}
