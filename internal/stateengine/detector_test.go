package stateengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/g960059/aistatus/internal/model"
	"github.com/g960059/aistatus/internal/stateengine"
	"github.com/g960059/aistatus/internal/testutil"
)

func fastConfig() stateengine.Config {
	cfg := stateengine.DefaultConfig()
	cfg.FocusDebounce = 0
	cfg.Idle = stateengine.IdlePolicy{Base: 50 * time.Millisecond}
	cfg.UpdateThrottle = 10 * time.Millisecond
	return cfg
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestDetectorRunsMachineOnOneGoroutine(t *testing.T) {
	sink := &testutil.RecordingSink{}
	d := stateengine.NewDetector(sink, stateengine.DetectorOptions{Config: fastConfig(), Workspace: testWorkspace})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	d.HandleFocus(model.FocusEvent{Focused: false})
	d.HandleDocumentChange(edit(80))
	waitFor(t, func() bool { return sink.Count(model.IntentComplete) == 1 })

	snap, ok := d.Snapshot(ctx)
	if !ok || snap.State != stateengine.StateArmed || snap.Running {
		t.Fatalf("unexpected snapshot %+v ok=%v", snap, ok)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("detector did not stop")
	}
	kinds := sink.Kinds()
	if kinds[len(kinds)-1] != model.IntentDelete {
		t.Fatalf("teardown should end with delete, got %v", kinds)
	}
	if _, ok := d.Snapshot(context.Background()); ok {
		t.Fatalf("snapshot after stop should fail")
	}
}

func TestDetectorCloseEmitsFinalIntents(t *testing.T) {
	sink := &testutil.RecordingSink{}
	d := stateengine.NewDetector(sink, stateengine.DetectorOptions{Config: stateengine.DefaultConfig(), TaskID: "t-close"})
	go func() { _ = d.Run(context.Background()) }()

	d.HandleFocus(model.FocusEvent{Focused: false})
	d.HandleDocumentChange(edit(100))
	waitFor(t, func() bool { return sink.Count(model.IntentStart) == 1 })
	d.Close()

	if sink.Count(model.IntentComplete) != 1 || sink.Count(model.IntentDelete) != 1 {
		t.Fatalf("close should complete the run and delete, got %v", sink.Kinds())
	}
	for _, in := range sink.Intents() {
		if in.Identity.TaskID != "t-close" {
			t.Fatalf("task id changed mid-life: %+v", in.Identity)
		}
	}
}

func TestDetectorCloseWithoutRun(t *testing.T) {
	sink := &testutil.RecordingSink{}
	d := stateengine.NewDetector(sink, stateengine.DetectorOptions{})
	d.HandleFocus(model.FocusEvent{Focused: false})
	d.Close()
	if err := d.Run(context.Background()); err != nil {
		t.Fatalf("run after close: %v", err)
	}
	if len(sink.Intents()) != 0 {
		t.Fatalf("never-started detector should emit nothing, got %v", sink.Kinds())
	}
}
