package stateengine

import (
	"log/slog"
	"time"

	"github.com/g960059/aistatus/internal/identity"
	"github.com/g960059/aistatus/internal/logging"
	"github.com/g960059/aistatus/internal/model"
)

// timerSlot holds at most one pending firing of a logical timer. The generation
// is bumped on every arm and stop so a firing that was already queued becomes a no-op.
type timerSlot struct {
	timer Timer
	gen   uint64
}

func (s *timerSlot) pending() bool { return s.timer != nil }

// Snapshot is a read-only view of the machine used by diagnostics and tests.
type Snapshot struct {
	State        State
	Running      bool
	Session      Session
	WindowInsert int
	WindowEvents int
	Identity     model.WindowIdentity
}

// Machine is the activity session state machine. It is not safe for concurrent
// use: every method, timer callbacks included, must run on one serialized context.
// Detector provides that context; tests drive it with a synchronous dispatch.
type Machine struct {
	cfg      Config
	clock    Clock
	sink     IntentSink
	logger   *slog.Logger
	dispatch func(func())

	taskID     string
	workspace  model.Workspace
	activeFile string

	state     State
	aiRunning bool
	session   Session
	window    *SlidingWindow

	idleTimer     timerSlot
	debounceTimer timerSlot
	updateTimer   timerSlot
	fileTimer     timerSlot

	started bool
	closed  bool
}

type MachineOptions struct {
	Config    Config
	Clock     Clock
	Logger    *slog.Logger
	TaskID    string
	Workspace model.Workspace
	// Dispatch re-enters the serialized context from timer goroutines.
	// Nil runs callbacks inline, which is only correct for a synchronous clock.
	Dispatch func(func())
}

func NewMachine(sink IntentSink, opts MachineOptions) *Machine {
	if sink == nil {
		sink = IntentSinkFunc(func(model.Intent) {})
	}
	clock := opts.Clock
	if clock == nil {
		clock = RealClock()
	}
	dispatch := opts.Dispatch
	if dispatch == nil {
		dispatch = func(fn func()) { fn() }
	}
	taskID := opts.TaskID
	if taskID == "" {
		taskID = identity.NewTaskID()
	}
	cfg := opts.Config
	if cfg.SlidingWindow <= 0 {
		cfg = DefaultConfig()
	}
	return &Machine{
		cfg:        cfg,
		clock:      clock,
		sink:       sink,
		logger:     logging.OrDiscard(opts.Logger),
		dispatch:   dispatch,
		taskID:     taskID,
		workspace:  opts.Workspace,
		activeFile: identity.ActiveFile(opts.Workspace),
		state:      StateActive,
		window:     NewSlidingWindow(cfg.SlidingWindow),
	}
}

func (m *Machine) TaskID() string { return m.taskID }

func (m *Machine) Snapshot() Snapshot {
	return Snapshot{
		State:        m.state,
		Running:      m.aiRunning,
		Session:      m.session,
		WindowInsert: m.window.InsertTotal(),
		WindowEvents: m.window.EventCount(),
		Identity:     m.identity(),
	}
}

// Start reports the initial focused state so the remote learns the window.
func (m *Machine) Start() {
	if m.started || m.closed {
		return
	}
	m.started = true
	m.logger.Info("detector started", "task_id", m.taskID, "state", string(m.state))
	m.emit(model.IntentActive)
}

func (m *Machine) HandleFocus(ev model.FocusEvent) {
	if m.closed {
		return
	}
	if !ev.Focused {
		m.stop(&m.debounceTimer)
		m.focusLost()
		return
	}
	if m.cfg.FocusDebounce <= 0 {
		m.focusGained()
		return
	}
	m.arm(&m.debounceTimer, m.cfg.FocusDebounce, m.focusGained)
}

func (m *Machine) focusLost() {
	if m.state == StateArmed {
		m.logger.Debug("focus lost while armed", "task_id", m.taskID)
		return
	}
	m.state = StateArmed
	m.aiRunning = false
	m.resetSession()
	m.logger.Info("window unfocused, armed", "task_id", m.taskID)
	m.emit(model.IntentArmed)
}

func (m *Machine) focusGained() {
	if m.state == StateActive {
		return
	}
	m.state = StateActive
	if m.aiRunning {
		m.logger.Info("focus regained, completing run",
			"task_id", m.taskID,
			"session_insert", m.session.Insert,
			"session_events", m.session.Events,
		)
		m.emit(model.IntentComplete)
		m.aiRunning = false
	}
	m.resetSession()
	m.emit(model.IntentActive)
}

func (m *Machine) HandleDocumentChange(ev model.DocumentChangeEvent) {
	if m.closed || m.state != StateArmed || !ev.Scheme.Tracked() {
		return
	}
	if name := identity.BaseName(ev.FileName); name != "" && name != m.activeFile {
		m.activeFile = name
		m.throttleActiveFile()
	}
	meas := ev.Measure()
	if meas.Empty() {
		return
	}
	at := meas.At
	if at.IsZero() {
		at = m.clock.Now()
	}
	m.window.Record(at, meas.Inserted)
	verdict := ClassifyMeasurement(meas, m.window)
	m.logger.Debug("edit classified",
		"task_id", m.taskID,
		"inserted", meas.Inserted,
		"deleted", meas.Deleted,
		"segments", meas.Segments,
		"window_insert", m.window.InsertTotal(),
		"window_events", m.window.EventCount(),
		"rule", verdict.Rule,
		"ai_like", verdict.AILike,
	)

	switch {
	case !m.aiRunning && verdict.AILike:
		m.aiRunning = true
		// The floor is measured against the clock that fires the idle timer,
		// not the sender's event time.
		m.session = Session{Insert: meas.Inserted, Events: 1, StartedAt: m.clock.Now()}
		m.logger.Info("ai run started", "task_id", m.taskID, "rule", verdict.Rule, "inserted", meas.Inserted)
		m.emit(model.IntentStart)
	case m.aiRunning:
		m.session.Insert += meas.Inserted
		m.session.Events++
	default:
		return
	}
	m.armIdle()
	m.throttleUpdate()
}

func (m *Machine) HandleActiveEditor(ev model.ActiveEditorEvent) {
	if m.closed {
		return
	}
	m.workspace.ActiveEditor = ev.Editor
	name := identity.ActiveFile(m.workspace)
	if name == m.activeFile {
		return
	}
	m.activeFile = name
	if m.state == StateArmed {
		m.throttleActiveFile()
	}
}

// HandleWorkspace replaces the workspace metadata. An update without an active
// editor keeps the one already known.
func (m *Machine) HandleWorkspace(ws model.Workspace) {
	if m.closed {
		return
	}
	if ws.ActiveEditor == nil {
		ws.ActiveEditor = m.workspace.ActiveEditor
	}
	m.workspace = ws
	if name := identity.ActiveFile(ws); name != "" {
		m.activeFile = name
	}
}

// Close cancels every timer and, for a started machine, emits the final intents.
// It is idempotent.
func (m *Machine) Close() {
	if m.closed {
		return
	}
	for _, slot := range []*timerSlot{&m.idleTimer, &m.debounceTimer, &m.updateTimer, &m.fileTimer} {
		m.stop(slot)
	}
	if m.started {
		if m.aiRunning {
			m.emit(model.IntentComplete)
		}
		m.emit(model.IntentDelete)
	}
	m.aiRunning = false
	m.session = Session{}
	m.window.Reset()
	m.closed = true
	m.logger.Info("detector closed", "task_id", m.taskID)
}

func (m *Machine) armIdle() {
	timeout := m.cfg.Idle.TimeoutFor(m.session.Insert)
	m.arm(&m.idleTimer, timeout, m.onIdle)
}

func (m *Machine) onIdle() {
	if m.state != StateArmed || !m.aiRunning {
		return
	}
	if left := m.cfg.Idle.RemainingRun(m.session.StartedAt, m.clock.Now()); left > 0 {
		m.logger.Debug("idle before minimum run, rearming", "task_id", m.taskID, "remaining", left.String())
		m.arm(&m.idleTimer, left, m.onIdle)
		return
	}
	m.logger.Info("ai run completed on idle",
		"task_id", m.taskID,
		"session_insert", m.session.Insert,
		"session_events", m.session.Events,
	)
	m.emit(model.IntentComplete)
	m.aiRunning = false
	m.resetSession()
}

func (m *Machine) throttleUpdate() {
	if m.updateTimer.pending() {
		return
	}
	m.arm(&m.updateTimer, m.cfg.UpdateThrottle, func() {
		if m.aiRunning {
			m.emit(model.IntentUpdate)
		}
	})
}

func (m *Machine) throttleActiveFile() {
	if m.fileTimer.pending() {
		return
	}
	m.arm(&m.fileTimer, m.cfg.ActiveFileThrottle, func() {
		if m.activeFile != "" {
			m.emit(model.IntentActiveFile)
		}
	})
}

// resetSession clears counters, window history and every timer tied to the run.
func (m *Machine) resetSession() {
	m.session = Session{}
	m.window.Reset()
	m.stop(&m.idleTimer)
	m.stop(&m.updateTimer)
}

func (m *Machine) arm(slot *timerSlot, d time.Duration, fn func()) {
	m.stop(slot)
	gen := slot.gen
	slot.timer = m.clock.AfterFunc(d, func() {
		m.dispatch(func() {
			if m.closed || slot.gen != gen || slot.timer == nil {
				return
			}
			slot.timer = nil
			fn()
		})
	})
}

func (m *Machine) stop(slot *timerSlot) {
	if slot.timer != nil {
		slot.timer.Stop()
		slot.timer = nil
	}
	slot.gen++
}

func (m *Machine) identity() model.WindowIdentity {
	return identity.Resolve(m.taskID, m.workspace, m.activeFile)
}

func (m *Machine) emit(kind model.IntentKind) {
	m.sink.Emit(model.Intent{
		Kind:          kind,
		Identity:      m.identity(),
		Focused:       m.state == StateActive,
		SessionInsert: m.session.Insert,
		SessionEvents: m.session.Events,
		At:            m.clock.Now(),
	})
}
