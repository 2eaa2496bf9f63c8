package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/aistatus/internal/db"
	"github.com/g960059/aistatus/internal/model"
)

func NewStore(t *testing.T) (*db.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	store, err := db.OpenMigrated(ctx, filepath.Join(t.TempDir(), "aistatus-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store, ctx
}

// SeedOutbox enqueues one entry per intent for taskID, one second apart, and returns their ids.
func SeedOutbox(t *testing.T, store *db.Store, ctx context.Context, taskID string, intents ...model.IntentKind) []int64 {
	t.Helper()
	base := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, len(intents))
	for i, intent := range intents {
		id, err := store.Enqueue(ctx, model.OutboxEntry{
			TaskID:      taskID,
			Endpoint:    "/api/task/update_state",
			Intent:      intent,
			PayloadJSON: `{"task_id":"` + taskID + `","status":"` + string(intent) + `"}`,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		}, 0)
		if err != nil {
			t.Fatalf("seed outbox: %v", err)
		}
		ids = append(ids, id)
	}
	return ids
}
