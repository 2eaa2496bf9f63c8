package stateengine_test

import (
	"reflect"
	"testing"
	"time"

	"github.com/g960059/aistatus/internal/model"
	"github.com/g960059/aistatus/internal/stateengine"
	"github.com/g960059/aistatus/internal/testutil"
)

var testWorkspace = model.Workspace{
	AppName:      "Visual Studio Code",
	Folders:      []model.WorkspaceFolder{{Name: "proj", Path: "/work/proj"}},
	ActiveEditor: &model.EditorDocument{Scheme: model.SchemeFile, FileName: "/work/proj/main.go"},
}

func newTestMachine(t *testing.T, cfg stateengine.Config, clock stateengine.Clock) (*stateengine.Machine, *testutil.RecordingSink) {
	t.Helper()
	sink := &testutil.RecordingSink{}
	m := stateengine.NewMachine(sink, stateengine.MachineOptions{
		Config:    cfg,
		Clock:     clock,
		TaskID:    "task-1",
		Workspace: testWorkspace,
	})
	m.Start()
	if got := sink.Kinds(); !reflect.DeepEqual(got, []model.IntentKind{model.IntentActive}) {
		t.Fatalf("start should report active once, got %v", got)
	}
	sink.Reset()
	return m, sink
}

func edit(inserted int) model.DocumentChangeEvent {
	return model.DocumentChangeEvent{
		Scheme:   model.SchemeFile,
		FileName: "/work/proj/main.go",
		Changes:  []model.ContentChange{{InsertedChars: inserted}},
	}
}

func lost() model.FocusEvent   { return model.FocusEvent{Focused: false} }
func gained() model.FocusEvent { return model.FocusEvent{Focused: true} }

func TestFocusLostEditFocusGainedProducesOneRun(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(50))
	m.HandleFocus(gained())
	clock.Advance(500 * time.Millisecond)

	want := []model.IntentKind{model.IntentArmed, model.IntentStart, model.IntentComplete, model.IntentActive}
	if got := sink.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected intents: got %v want %v", got, want)
	}
	complete := sink.Intents()[2]
	if complete.SessionInsert != 50 || complete.SessionEvents != 1 {
		t.Fatalf("complete should carry final counters, got %+v", complete)
	}
	snap := m.Snapshot()
	if snap.State != stateengine.StateActive || snap.Running || snap.WindowEvents != 0 {
		t.Fatalf("focus gained should clear the run, got %+v", snap)
	}
	if clock.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", clock.Pending())
	}
}

func TestSubThresholdEditNeverStarts(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(5))
	clock.Advance(time.Minute)

	if sink.Count(model.IntentStart) != 0 || sink.Count(model.IntentComplete) != 0 {
		t.Fatalf("human edit must not start a run, got %v", sink.Kinds())
	}
}

func TestEditsWhileFocusedAreIgnored(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleDocumentChange(edit(500))
	clock.Advance(time.Minute)
	if len(sink.Intents()) != 0 {
		t.Fatalf("active state must not classify edits, got %v", sink.Kinds())
	}
}

func TestVirtualDocumentsAreIgnored(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	ev := edit(500)
	ev.Scheme = "output"
	m.HandleDocumentChange(ev)
	if sink.Count(model.IntentStart) != 0 {
		t.Fatalf("output channel edit started a run")
	}
	if m.Snapshot().WindowEvents != 0 {
		t.Fatalf("ignored scheme must not touch the window")
	}
}

func TestIdleCompletionRespectsMinimumRun(t *testing.T) {
	cfg := stateengine.DefaultConfig()
	cfg.Idle.Base = time.Second
	cfg.Idle.Tiers = nil
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, cfg, clock)
	started := clock.Now()

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(80))
	clock.Advance(4900 * time.Millisecond)
	if sink.Count(model.IntentComplete) != 0 {
		t.Fatalf("run completed before the minimum run floor")
	}
	clock.Advance(100 * time.Millisecond)
	if sink.Count(model.IntentComplete) != 1 {
		t.Fatalf("expected completion at the floor, got %v", sink.Kinds())
	}
	last := sink.Intents()[len(sink.Intents())-1]
	if last.At.Sub(started) < 5*time.Second {
		t.Fatalf("completion at %v is earlier than the floor", last.At.Sub(started))
	}
	if snap := m.Snapshot(); snap.State != stateengine.StateArmed || snap.Running {
		t.Fatalf("idle completion should stay armed, got %+v", snap)
	}
}

func TestMinimumRunIgnoresSkewedEventTime(t *testing.T) {
	cfg := stateengine.DefaultConfig()
	cfg.Idle.Base = time.Second
	cfg.Idle.Tiers = nil
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	m, sink := newTestMachine(t, cfg, clock)

	m.HandleFocus(lost())
	ev := edit(80)
	ev.At = clock.Now().Add(-2 * time.Second)
	m.HandleDocumentChange(ev)
	if got := m.Snapshot().Session.StartedAt; !got.Equal(clock.Now()) {
		t.Fatalf("run start should use the machine clock, got %v", got)
	}
	clock.Advance(4900 * time.Millisecond)
	if sink.Count(model.IntentComplete) != 0 {
		t.Fatalf("an early event timestamp must not shorten the minimum run")
	}
	clock.Advance(100 * time.Millisecond)
	if sink.Count(model.IntentComplete) != 1 {
		t.Fatalf("expected completion at the floor, got %v", sink.Kinds())
	}
}

func TestIdleTimeoutScalesWithSessionSize(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	for i := 0; i < 5; i++ {
		m.HandleDocumentChange(edit(50))
	}
	if snap := m.Snapshot(); snap.Session.Insert != 250 || snap.Session.Events != 5 {
		t.Fatalf("unexpected session counters %+v", snap.Session)
	}
	clock.Advance(15 * time.Second)
	if sink.Count(model.IntentComplete) != 0 {
		t.Fatalf("250 inserted chars should use the 30s tier")
	}
	clock.Advance(15 * time.Second)
	if sink.Count(model.IntentComplete) != 1 {
		t.Fatalf("expected completion after 30s idle, got %v", sink.Kinds())
	}
}

func TestEditRearmsIdleTimer(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(50))
	clock.Advance(10 * time.Second)
	m.HandleDocumentChange(edit(10))
	clock.Advance(10 * time.Second)
	if sink.Count(model.IntentComplete) != 0 {
		t.Fatalf("edit should have pushed the idle deadline out")
	}
	clock.Advance(5 * time.Second)
	if sink.Count(model.IntentComplete) != 1 {
		t.Fatalf("expected one completion, got %v", sink.Kinds())
	}
}

// leakyClock hands out timers whose Stop never prevents the firing, as when a
// timer has already fired and its callback is queued behind the current handler.
type leakyClock struct{ *testutil.FakeClock }

type leakyTimer struct{}

func (leakyTimer) Stop() bool { return false }

func (c leakyClock) AfterFunc(d time.Duration, fn func()) stateengine.Timer {
	c.FakeClock.AfterFunc(d, fn)
	return leakyTimer{}
}

func TestStaleIdleFiringIsIgnored(t *testing.T) {
	clock := leakyClock{testutil.NewFakeClock(time.Time{})}
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(50))
	clock.Advance(10 * time.Second)
	m.HandleDocumentChange(edit(50))
	clock.Advance(5 * time.Second)
	if sink.Count(model.IntentComplete) != 0 {
		t.Fatalf("superseded idle timer completed the run")
	}
	clock.Advance(10 * time.Second)
	if sink.Count(model.IntentComplete) != 1 {
		t.Fatalf("expected exactly one completion, got %v", sink.Kinds())
	}
}

func TestUpdateIntentIsThrottled(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(50))
	for i := 0; i < 4; i++ {
		clock.Advance(200 * time.Millisecond)
		m.HandleDocumentChange(edit(20))
	}
	clock.Advance(200 * time.Millisecond)
	if got := sink.Count(model.IntentUpdate); got != 1 {
		t.Fatalf("expected one throttled update, got %d", got)
	}
	updates := filter(sink.Intents(), model.IntentUpdate)
	if updates[0].SessionInsert != 130 {
		t.Fatalf("update should carry counters at firing time, got %d", updates[0].SessionInsert)
	}
}

func TestFocusFlapDuringDebounceKeepsRun(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(60))
	m.HandleFocus(gained())
	clock.Advance(200 * time.Millisecond)
	m.HandleFocus(lost())
	clock.Advance(time.Second)

	if sink.Count(model.IntentComplete) != 0 || sink.Count(model.IntentActive) != 0 {
		t.Fatalf("cancelled focus gain should not complete the run, got %v", sink.Kinds())
	}
	if sink.Count(model.IntentArmed) != 1 {
		t.Fatalf("duplicate focus lost re-armed, got %v", sink.Kinds())
	}
	if snap := m.Snapshot(); !snap.Running || snap.Session.Insert != 60 {
		t.Fatalf("run should survive the flap, got %+v", snap)
	}
}

func TestFocusGainedWithoutDebounce(t *testing.T) {
	cfg := stateengine.DefaultConfig()
	cfg.FocusDebounce = 0
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, cfg, clock)

	m.HandleFocus(lost())
	m.HandleFocus(gained())
	m.HandleFocus(gained())
	want := []model.IntentKind{model.IntentArmed, model.IntentActive}
	if got := sink.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	if !sink.Intents()[1].Focused || sink.Intents()[0].Focused {
		t.Fatalf("focused flag does not follow state: %+v", sink.Intents())
	}
}

func TestActiveFileChangeIsThrottled(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	for _, name := range []string{"/work/proj/a.go", "/work/proj/b.go", "/work/proj/c.go"} {
		m.HandleActiveEditor(model.ActiveEditorEvent{Editor: &model.EditorDocument{Scheme: model.SchemeFile, FileName: name}})
		clock.Advance(100 * time.Millisecond)
	}
	clock.Advance(500 * time.Millisecond)

	files := filter(sink.Intents(), model.IntentActiveFile)
	if len(files) != 1 || files[0].Identity.ActiveFile != "c.go" {
		t.Fatalf("expected one active_file intent for c.go, got %+v", files)
	}
}

func TestCloseCompletesRunAndDeletes(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	m.HandleDocumentChange(edit(50))
	m.Close()
	m.Close()
	clock.Advance(time.Minute)

	want := []model.IntentKind{model.IntentArmed, model.IntentStart, model.IntentComplete, model.IntentDelete}
	if got := sink.Kinds(); !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
	m.HandleFocus(gained())
	if len(sink.Intents()) != len(want) {
		t.Fatalf("closed machine should ignore events")
	}
}

func TestIntentsCarryIdentity(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	m, sink := newTestMachine(t, stateengine.DefaultConfig(), clock)

	m.HandleFocus(lost())
	id := sink.Intents()[0].Identity
	if id.TaskID != "task-1" || id.IDEName != "vscode" || id.WindowTitle != "proj" || id.ActiveFile != "main.go" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.Name != "VS Code - proj" || id.ProjectPath != "/work/proj" {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func filter(intents []model.Intent, kind model.IntentKind) []model.Intent {
	var out []model.Intent
	for _, in := range intents {
		if in.Kind == kind {
			out = append(out, in)
		}
	}
	return out
}
