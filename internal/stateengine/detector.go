package stateengine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/g960059/aistatus/internal/model"
)

const defaultMailboxSize = 256

type DetectorOptions struct {
	Config      Config
	Clock       Clock
	Logger      *slog.Logger
	TaskID      string
	Workspace   model.Workspace
	MailboxSize int
}

// Detector serializes every editor event and timer firing onto one goroutine
// that owns the Machine. Handle methods only enqueue and never block on I/O.
type Detector struct {
	machine *Machine
	mailbox chan func()
	done    chan struct{}
	stopped chan struct{}

	runOnce  sync.Once
	stopOnce sync.Once
}

func NewDetector(sink IntentSink, opts DetectorOptions) *Detector {
	size := opts.MailboxSize
	if size <= 0 {
		size = defaultMailboxSize
	}
	d := &Detector{
		mailbox: make(chan func(), size),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	d.machine = NewMachine(sink, MachineOptions{
		Config:    opts.Config,
		Clock:     opts.Clock,
		Logger:    opts.Logger,
		TaskID:    opts.TaskID,
		Workspace: opts.Workspace,
		Dispatch:  func(fn func()) { d.post(fn) },
	})
	return d
}

func (d *Detector) TaskID() string { return d.machine.TaskID() }

// Run drains the mailbox until ctx is done or Close is called, then closes the
// machine on the same goroutine. It returns nil on a normal shutdown.
func (d *Detector) Run(ctx context.Context) error {
	owner := false
	d.runOnce.Do(func() { owner = true })
	if !owner {
		<-d.stopped
		return nil
	}
	defer close(d.stopped)
	d.machine.Start()
	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return nil
		case <-d.done:
			d.shutdown()
			return nil
		case fn := <-d.mailbox:
			fn()
		}
	}
}

// shutdown runs what is still queued so no accepted event is lost, then closes the machine.
func (d *Detector) shutdown() {
	d.stopOnce.Do(func() { close(d.done) })
	for {
		select {
		case fn := <-d.mailbox:
			fn()
		default:
			d.machine.Close()
			return
		}
	}
}

// Close asks Run to stop and waits until the final intents are emitted.
// Closing a detector that never ran only releases it.
func (d *Detector) Close() {
	d.stopOnce.Do(func() { close(d.done) })
	owner := false
	d.runOnce.Do(func() { owner = true })
	if owner {
		d.machine.Close()
		close(d.stopped)
		return
	}
	<-d.stopped
}

func (d *Detector) post(fn func()) bool {
	select {
	case <-d.done:
		return false
	default:
	}
	select {
	case d.mailbox <- fn:
		return true
	case <-d.done:
		return false
	}
}

func (d *Detector) HandleFocus(ev model.FocusEvent) {
	d.post(func() { d.machine.HandleFocus(ev) })
}

func (d *Detector) HandleDocumentChange(ev model.DocumentChangeEvent) {
	d.post(func() { d.machine.HandleDocumentChange(ev) })
}

func (d *Detector) HandleActiveEditor(ev model.ActiveEditorEvent) {
	d.post(func() { d.machine.HandleActiveEditor(ev) })
}

func (d *Detector) HandleWorkspace(ws model.Workspace) {
	d.post(func() { d.machine.HandleWorkspace(ws) })
}

// Snapshot reads the machine state through the mailbox. It returns false once stopped.
func (d *Detector) Snapshot(ctx context.Context) (Snapshot, bool) {
	out := make(chan Snapshot, 1)
	if !d.post(func() { out <- d.machine.Snapshot() }) {
		return Snapshot{}, false
	}
	select {
	case snap := <-out:
		return snap, true
	case <-ctx.Done():
		return Snapshot{}, false
	case <-d.stopped:
		select {
		case snap := <-out:
			return snap, true
		default:
			return Snapshot{}, false
		}
	}
}
