package storage

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/google/uuid"

	"taskboard/domain"
)

// taskPartition groups every task document under a single partition so that
// update and delete only need the row key. Owner scoping happens through the
// OwnerEmail property filter, never through the partition.
const taskPartition = "task"

// Storage provides access to the remote task table.
type Storage struct {
	taskTable *aztables.Client
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{taskTable: svc.NewClient(tasksTable)}, nil
}

type taskEntity struct {
	aztables.Entity
	Title       string `json:"Title"`
	Description string `json:"Description"`
	Priority    string `json:"Priority"`
	Completed   bool   `json:"Completed"`
	OwnerEmail  string `json:"OwnerEmail"`
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Priority:    domain.Priority(ent.Priority),
		Completed:   ent.Completed,
		OwnerEmail:  ent.OwnerEmail,
	}, nil
}

// InsertTask writes a new task document and returns its store-assigned id.
// The id in the given task, if any, is ignored.
func (s *Storage) InsertTask(ctx context.Context, t domain.Task) (string, error) {
	id := uuid.NewString()
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: taskPartition, RowKey: id},
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Completed:   t.Completed,
		OwnerEmail:  t.OwnerEmail,
	}
	data, err := json.Marshal(ent)
	if err != nil {
		return "", err
	}
	if _, err := s.taskTable.AddEntity(ctx, data, nil); err != nil {
		return "", err
	}
	return id, nil
}

// QueryTasksByOwner retrieves every task whose OwnerEmail equals owner, in
// store-returned order.
func (s *Storage) QueryTasksByOwner(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := ownerFilter(owner)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// MergeTask applies a partial update to the task with the given id. Only the
// provided fields change; all others keep their stored values.
func (s *Storage) MergeTask(ctx context.Context, id string, fields map[string]any) error {
	patch := make(map[string]any, len(fields)+2)
	for k, v := range fields {
		patch[k] = v
	}
	patch["PartitionKey"] = taskPartition
	patch["RowKey"] = id
	data, err := json.Marshal(patch)
	if err != nil {
		return err
	}
	updateMode := aztables.UpdateModeMerge
	_, err = s.taskTable.UpdateEntity(ctx, data, &aztables.UpdateEntityOptions{UpdateMode: updateMode})
	return err
}

// DeleteTask removes the task with the given id. The delete is terminal;
// there is no tombstone to recover from.
func (s *Storage) DeleteTask(ctx context.Context, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, taskPartition, id, nil)
	return err
}

func ownerFilter(owner string) string {
	return "PartitionKey eq '" + taskPartition + "' and OwnerEmail eq '" + escapeFilterValue(owner) + "'"
}

// escapeFilterValue doubles single quotes so user-supplied values cannot
// break out of the OData filter literal.
func escapeFilterValue(v string) string {
	return strings.ReplaceAll(v, "'", "''")
}
