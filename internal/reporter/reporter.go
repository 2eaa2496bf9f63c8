package reporter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/g960059/aistatus/internal/api"
	"github.com/g960059/aistatus/internal/logging"
	"github.com/g960059/aistatus/internal/model"
	"github.com/g960059/aistatus/internal/security"
	"github.com/g960059/aistatus/internal/statusclient"
)

const (
	defaultQueueSize          = 64
	defaultHeartbeatInterval  = 3 * time.Second
	defaultConnectivityWindow = 3500 * time.Millisecond
)

// Outbox persists one-shot calls that exhausted their retries. *db.Store implements it.
type Outbox interface {
	Enqueue(ctx context.Context, e model.OutboxEntry, max int) (int64, error)
	List(ctx context.Context, limit int) ([]model.OutboxEntry, error)
	Get(ctx context.Context, id int64) (model.OutboxEntry, error)
	Delete(ctx context.Context, id int64) error
	MarkAttempt(ctx context.Context, id int64, lastErr string) error
	Purge(ctx context.Context, taskID string) (int64, error)
}

type Options struct {
	Contract           api.Contract
	Retry              statusclient.RetryPolicy
	HeartbeatInterval  time.Duration
	ConnectivityWindow time.Duration
	Health             HealthPolicy
	Outbox             Outbox
	OutboxMax          int
	QueueSize          int
	Logger             *slog.Logger
	Now                func() time.Time
}

// Connectivity is local diagnostic state only. It never gates sending.
type Connectivity struct {
	Connected   bool
	LastSuccess time.Time
	LastFailure time.Time
	LastError   string
	Health      HealthState
}

// Reporter turns intents into HTTP calls. Intents are delivered in emission
// order by one worker so a run boundary can never overtake an earlier one.
// Heartbeats and outbox replays share the worker's delivery lock.
type Reporter struct {
	client   *statusclient.Client
	contract api.Contract
	retry    statusclient.RetryPolicy
	interval time.Duration
	window   time.Duration
	health   HealthPolicy
	outbox   Outbox
	max      int
	logger   *slog.Logger
	now      func() time.Time

	// deliverMu is held for one state delivery or one replayed entry.
	deliverMu sync.Mutex

	mu           sync.Mutex
	closed       bool
	queue        chan model.Intent
	identity     model.WindowIdentity
	focused      bool
	hasSnapshot  bool
	deleted      bool
	teardownSent bool
	conn         Connectivity

	workerCtx    context.Context
	cancelWorker context.CancelFunc
	workerDone   chan struct{}
}

func New(client *statusclient.Client, opts Options) *Reporter {
	if opts.Retry.Attempts <= 0 {
		opts.Retry = statusclient.DefaultRetryPolicy()
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = defaultHeartbeatInterval
	}
	if opts.ConnectivityWindow <= 0 {
		opts.ConnectivityWindow = defaultConnectivityWindow
	}
	if opts.Health.DownFailures <= 0 {
		opts.Health = DefaultHealthPolicy()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reporter{
		client:       client,
		contract:     opts.Contract,
		retry:        opts.Retry,
		interval:     opts.HeartbeatInterval,
		window:       opts.ConnectivityWindow,
		health:       opts.Health,
		outbox:       opts.Outbox,
		max:          opts.OutboxMax,
		logger:       logging.OrDiscard(opts.Logger),
		now:          opts.Now,
		queue:        make(chan model.Intent, opts.QueueSize),
		workerCtx:    ctx,
		cancelWorker: cancel,
		workerDone:   make(chan struct{}),
	}
	go r.work()
	return r
}

// Emit records the snapshot and queues the intent without blocking.
func (r *Reporter) Emit(intent model.Intent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if intent.Kind == model.IntentDelete {
		r.deleted = true
	} else {
		r.identity = intent.Identity
		r.focused = intent.Focused
		r.hasSnapshot = true
		r.deleted = false
	}
	select {
	case r.queue <- intent:
	default:
		r.logger.Warn("report queue full, dropping intent",
			"task_id", intent.Identity.TaskID,
			"intent", string(intent.Kind),
		)
	}
}

func (r *Reporter) Connectivity() Connectivity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn
}

// Run sends the heartbeat immediately and then every interval until ctx ends.
func (r *Reporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.Heartbeat(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Heartbeat posts the current snapshot once, without retry. Nothing is sent
// once the task's delete was emitted. A success triggers an outbox replay.
func (r *Reporter) Heartbeat(ctx context.Context) {
	r.checkFreshness()
	if !r.beat(ctx) {
		return
	}
	if r.outbox != nil {
		if _, err := r.Replay(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("outbox replay failed", "error", errText(err))
		}
	}
}

// beat sends one heartbeat under the delivery lock so it cannot land after
// a teardown the worker already delivered.
func (r *Reporter) beat(ctx context.Context) bool {
	r.deliverMu.Lock()
	defer r.deliverMu.Unlock()
	r.mu.Lock()
	id, focused, ok := r.identity, r.focused, r.hasSnapshot && !r.deleted
	r.mu.Unlock()
	if !ok {
		return false
	}
	if id.IsEmptyWindow() {
		r.logger.Debug("skipping heartbeat for empty window", "task_id", id.TaskID)
		return false
	}
	call := r.contract.Heartbeat(id, focused)
	res := r.client.Post(ctx, call.Path, call.Body)
	r.record(res)
	if !res.Success {
		r.logger.Debug("heartbeat failed", "task_id", id.TaskID, "error", errText(res.Err))
		return false
	}
	return true
}

// Close stops accepting intents, waits for queued ones, then makes sure the
// teardown delete was written. If ctx ends first, in-flight retries are
// abandoned and their calls land in the outbox.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	select {
	case <-r.workerDone:
	case <-ctx.Done():
		r.cancelWorker()
		<-r.workerDone
	}
	r.cancelWorker()

	r.mu.Lock()
	needTeardown := !r.teardownSent && r.hasSnapshot
	id := r.identity
	r.teardownSent = true
	r.mu.Unlock()
	if !needTeardown {
		return nil
	}
	call := r.contract.CallFor(model.Intent{Kind: model.IntentDelete, Identity: id})
	return r.fireTeardown(ctx, call)
}

func (r *Reporter) work() {
	defer close(r.workerDone)
	for intent := range r.queue {
		r.deliverMu.Lock()
		r.deliver(r.workerCtx, intent)
		r.deliverMu.Unlock()
	}
}

func (r *Reporter) deliver(ctx context.Context, intent model.Intent) {
	call := r.contract.CallFor(intent)
	log := r.logger.With("task_id", intent.Identity.TaskID, "intent", string(intent.Kind), "path", call.Path)

	switch call.Kind {
	case api.CallTeardown:
		r.mu.Lock()
		r.teardownSent = true
		r.mu.Unlock()
		if err := r.fireTeardown(ctx, call); err != nil {
			log.Debug("teardown write failed", "error", errText(err))
		}
		return
	case api.CallReport:
		if intent.Identity.IsEmptyWindow() {
			log.Debug("skipping report for empty window")
			return
		}
		res := r.client.PostWithRetry(ctx, call.Path, call.Body, r.retry)
		r.record(res)
		if !res.Success {
			log.Warn("report failed", "attempts", res.AttemptsUsed, "error", errText(res.Err))
		}
		return
	}

	res := r.client.PostWithRetry(ctx, call.Path, call.Body, r.retry)
	if !res.Success && statusclient.IsNotFound(res.Err) {
		log.Info("status service forgot task, re-registering")
		reg := r.contract.Register(intent.Identity, intent.Focused)
		if rr := r.client.Post(ctx, reg.Path, reg.Body); rr.Success {
			res = r.client.Post(ctx, call.Path, call.Body)
		} else {
			res.Err = errors.Join(res.Err, rr.Err)
		}
	}
	r.record(res)
	if res.Success {
		log.Info("state delivered", "attempts", res.AttemptsUsed)
		r.supersede(intent.Identity.TaskID)
		return
	}
	log.Warn("state delivery failed", "attempts", res.AttemptsUsed, "error", errText(res.Err))
	r.stash(intent, call, res)
}

func (r *Reporter) fireTeardown(ctx context.Context, call api.Call) error {
	select {
	case err := <-r.client.FireAndForget(call.Path, call.Body):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) record(res model.ReportAttempt) {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conn.Health.Current
	r.conn.Health = NextHealth(r.health, r.conn.Health, res.Success, now)
	if res.Success {
		r.conn.LastSuccess = now
		if !r.conn.Connected {
			r.conn.Connected = true
			r.logger.Info("status service connected")
		}
	} else {
		r.conn.LastFailure = now
		r.conn.LastError = errText(res.Err)
		r.checkFreshnessLocked(now)
	}
	if prev != "" && prev != r.conn.Health.Current {
		r.logger.Info("status service health changed", "from", string(prev), "to", string(r.conn.Health.Current))
	}
}

func (r *Reporter) checkFreshness() {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFreshnessLocked(now)
}

func (r *Reporter) checkFreshnessLocked(now time.Time) {
	if r.conn.Connected && now.Sub(r.conn.LastSuccess) > r.window {
		r.conn.Connected = false
		r.logger.Warn("status service disconnected",
			"last_success", r.conn.LastSuccess,
			"last_error", r.conn.LastError,
		)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return security.RedactText(err.Error())
}
