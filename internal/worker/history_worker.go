package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/vizzle/studio/internal/history"
	"github.com/vizzle/studio/internal/logger"
)

// HistoryWorker persists queued history entries
type HistoryWorker struct {
	store history.Recorder
	log   *logger.Logger
}

// NewHistoryWorker creates a new history worker
func NewHistoryWorker(store history.Recorder, log *logger.Logger) *HistoryWorker {
	return &HistoryWorker{
		store: store,
		log:   log.With("component", "history_worker"),
	}
}

// ProcessTask handles history:record tasks
func (w *HistoryWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload history.RecordPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.UserID == "" || payload.Entry.ResultImage == "" {
		return fmt.Errorf("incomplete history entry: %w", asynq.SkipRetry)
	}

	if err := w.store.Record(ctx, payload.UserID, &payload.Entry); err != nil {
		w.log.Warn("history record failed", "entry_id", payload.Entry.ID, "error", err)
		return err
	}

	w.log.Info("history recorded", "entry_id", payload.Entry.ID, "garment", payload.Entry.GarmentName)
	return nil
}

// Register wires the worker's handlers into mux
func (w *HistoryWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(history.TaskTypeRecord, w.ProcessTask)
}
