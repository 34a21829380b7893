package repository

import (
	"context"
	"errors"
	"io"
	"testing"

	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type fakeStore struct {
	insertID  string
	insertErr error
	queryErr  error
	tasks     []domain.Task
	mergeErr  error
	deleteErr error

	lastInsert domain.Task
	lastMerge  map[string]any
	lastDelete string
}

func (f *fakeStore) InsertTask(ctx context.Context, t domain.Task) (string, error) {
	f.lastInsert = t
	return f.insertID, f.insertErr
}

func (f *fakeStore) QueryTasksByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	return f.tasks, f.queryErr
}

func (f *fakeStore) MergeTask(ctx context.Context, id string, fields map[string]any) error {
	f.lastMerge = fields
	return f.mergeErr
}

func (f *fakeStore) DeleteTask(ctx context.Context, id string) error {
	f.lastDelete = id
	return f.deleteErr
}

func quietLogger() *log.Logger {
	logger := log.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCreateReturnsAssignedID(t *testing.T) {
	store := &fakeStore{insertID: "t1"}
	repo := New(store, quietLogger())

	id, err := repo.Create(context.Background(), domain.Task{Title: "Buy milk", OwnerEmail: "a@x.com"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "t1" {
		t.Fatalf("expected id t1, got %q", id)
	}
	if store.lastInsert.OwnerEmail != "a@x.com" {
		t.Fatalf("unexpected inserted task: %+v", store.lastInsert)
	}
}

func TestCreateWrapsStoreError(t *testing.T) {
	cause := errors.New("network down")
	repo := New(&fakeStore{insertErr: cause}, quietLogger())

	_, err := repo.Create(context.Background(), domain.Task{Title: "x"})
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
}

func TestReadAllForOwnerSwallowsErrors(t *testing.T) {
	repo := New(&fakeStore{queryErr: errors.New("boom")}, quietLogger())

	tasks := repo.ReadAllForOwner(context.Background(), "a@x.com")
	if tasks == nil {
		t.Fatal("expected empty slice, got nil")
	}
	if len(tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(tasks))
	}
}

func TestUpdateSendsOnlySetFields(t *testing.T) {
	store := &fakeStore{}
	repo := New(store, quietLogger())

	completed := true
	if err := repo.Update(context.Background(), "t1", TaskPatch{Completed: &completed}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(store.lastMerge) != 1 {
		t.Fatalf("expected one patched field, got %v", store.lastMerge)
	}
	if v, ok := store.lastMerge["Completed"].(bool); !ok || !v {
		t.Fatalf("expected Completed=true, got %v", store.lastMerge)
	}
}

func TestUpdateEmptyPatchSkipsStore(t *testing.T) {
	store := &fakeStore{mergeErr: errors.New("should not be called")}
	repo := New(store, quietLogger())

	if err := repo.Update(context.Background(), "t1", TaskPatch{}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if store.lastMerge != nil {
		t.Fatal("expected no merge call for empty patch")
	}
}

func TestDeleteWrapsStoreError(t *testing.T) {
	repo := New(&fakeStore{deleteErr: errors.New("gone")}, quietLogger())

	err := repo.Delete(context.Background(), "t1")
	var storeErr *StoreError
	if !errors.As(err, &storeErr) {
		t.Fatalf("expected StoreError, got %v", err)
	}
	if storeErr.Op != "delete" {
		t.Fatalf("expected delete op, got %q", storeErr.Op)
	}
}
