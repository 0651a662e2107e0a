package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vizzle/studio/internal/model"
)

const (
	TaskTypeRecord = "history:record"
	QueueName      = "history"
)

// Enqueuer is the subset of *asynq.Client used by QueueRecorder
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// RecordPayload is the task body of a history:record task
type RecordPayload struct {
	UserID string                  `json:"userId"`
	Entry  model.TryOnHistoryEntry `json:"entry"`
}

// QueueRecorder hands entries to the history worker through asynq, so recording
// never blocks an orchestrator on the database.
type QueueRecorder struct {
	client Enqueuer
}

func NewQueueRecorder(client Enqueuer) *QueueRecorder {
	return &QueueRecorder{client: client}
}

func (q *QueueRecorder) Record(ctx context.Context, userID string, entry *model.TryOnHistoryEntry) error {
	prepare(userID, entry)
	task, err := NewRecordTask(userID, entry)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.MaxRetry(5),
		asynq.TaskID("history:"+entry.ID),
		asynq.Retention(time.Hour),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue history task: %w", err)
	}
	return nil
}

// NewRecordTask builds a history:record task
func NewRecordTask(userID string, entry *model.TryOnHistoryEntry) (*asynq.Task, error) {
	data, err := json.Marshal(RecordPayload{UserID: userID, Entry: *entry})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal history task: %w", err)
	}
	return asynq.NewTask(TaskTypeRecord, data), nil
}
