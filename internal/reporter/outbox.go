package reporter

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/g960059/aistatus/internal/api"
	"github.com/g960059/aistatus/internal/db"
	"github.com/g960059/aistatus/internal/model"
	"github.com/g960059/aistatus/internal/security"
	"github.com/g960059/aistatus/internal/statusclient"
)

const outboxWriteTimeout = 2 * time.Second

type ReplayResult struct {
	Sent    int
	Dropped int
	Failed  int
}

// stash stores a failed state call. It uses its own deadline because the
// delivery context may already be cancelled during shutdown.
func (r *Reporter) stash(intent model.Intent, call api.Call, res model.ReportAttempt) {
	if r.outbox == nil {
		return
	}
	raw, err := json.Marshal(call.Body)
	if err != nil {
		r.logger.Error("encode outbox payload", "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), outboxWriteTimeout)
	defer cancel()
	id, err := r.outbox.Enqueue(ctx, model.OutboxEntry{
		TaskID:      intent.Identity.TaskID,
		Endpoint:    call.Path,
		Intent:      intent.Kind,
		PayloadJSON: security.RedactJSON(string(raw)),
		Attempts:    res.AttemptsUsed,
		LastError:   errText(res.Err),
		CreatedAt:   r.now(),
	}, r.max)
	if err != nil {
		r.logger.Error("store failed call in outbox", "task_id", intent.Identity.TaskID, "error", err)
		return
	}
	r.logger.Info("failed call stored in outbox", "task_id", intent.Identity.TaskID, "intent", string(intent.Kind), "outbox_id", id)
}

// supersede drops stored state calls of taskID once a newer one was delivered.
func (r *Reporter) supersede(taskID string) {
	if r.outbox == nil || taskID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), outboxWriteTimeout)
	defer cancel()
	n, err := r.outbox.Purge(ctx, taskID)
	if err != nil {
		r.logger.Warn("purge superseded outbox entries", "task_id", taskID, "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("dropped superseded outbox entries", "task_id", taskID, "count", n)
	}
}

// Replay resends stored calls oldest first, one attempt each. Entries the
// service rejects outright are dropped. Replay stops at the first transport
// or server failure so a down service is not hammered. Each entry is handled
// under the delivery lock and skipped if a newer state call purged it.
func (r *Reporter) Replay(ctx context.Context) (ReplayResult, error) {
	var result ReplayResult
	if r.outbox == nil {
		return result, nil
	}
	entries, err := r.outbox.List(ctx, 0)
	if err != nil {
		return result, err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		stop, err := r.replayOne(ctx, e, &result)
		if err != nil || stop {
			return result, err
		}
	}
	return result, nil
}

func (r *Reporter) replayOne(ctx context.Context, e model.OutboxEntry, result *ReplayResult) (bool, error) {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()

	if _, err := r.outbox.Get(ctx, e.ID); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return false, nil
		}
		return true, err
	}
	res := r.client.Post(ctx, e.Endpoint, json.RawMessage(e.PayloadJSON))
	r.record(res)
	if res.Success {
		result.Sent++
		if err := r.forget(ctx, e.ID); err != nil {
			return true, err
		}
		r.logger.Info("outbox entry replayed", "outbox_id", e.ID, "task_id", e.TaskID, "intent", string(e.Intent))
		return false, nil
	}
	var reqErr *statusclient.RequestError
	if errors.As(res.Err, &reqErr) && !reqErr.Retryable() {
		result.Dropped++
		if err := r.forget(ctx, e.ID); err != nil {
			return true, err
		}
		r.logger.Warn("outbox entry rejected, dropping", "outbox_id", e.ID, "status", reqErr.StatusCode)
		return false, nil
	}
	result.Failed++
	if err := r.outbox.MarkAttempt(ctx, e.ID, errText(res.Err)); err != nil && !errors.Is(err, db.ErrNotFound) {
		return true, err
	}
	return true, nil
}

// forget deletes a handled entry. One already purged counts as deleted.
func (r *Reporter) forget(ctx context.Context, id int64) error {
	if err := r.outbox.Delete(ctx, id); err != nil && !errors.Is(err, db.ErrNotFound) {
		return err
	}
	return nil
}
