package eventsource

import (
	"sync"

	"github.com/g960059/aistatus/internal/model"
	"github.com/g960059/aistatus/internal/stateengine"
)

var _ Handler = (*stateengine.Detector)(nil)

type recorder struct {
	mu         sync.Mutex
	focus      []model.FocusEvent
	changes    []model.DocumentChangeEvent
	editors    []model.ActiveEditorEvent
	workspaces []model.Workspace
	notify     chan struct{}
}

func newRecorder() *recorder {
	return &recorder{notify: make(chan struct{}, 64)}
}

func (r *recorder) signal() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recorder) HandleFocus(ev model.FocusEvent) {
	r.mu.Lock()
	r.focus = append(r.focus, ev)
	r.mu.Unlock()
	r.signal()
}

func (r *recorder) HandleDocumentChange(ev model.DocumentChangeEvent) {
	r.mu.Lock()
	r.changes = append(r.changes, ev)
	r.mu.Unlock()
	r.signal()
}

func (r *recorder) HandleActiveEditor(ev model.ActiveEditorEvent) {
	r.mu.Lock()
	r.editors = append(r.editors, ev)
	r.mu.Unlock()
	r.signal()
}

func (r *recorder) HandleWorkspace(ws model.Workspace) {
	r.mu.Lock()
	r.workspaces = append(r.workspaces, ws)
	r.mu.Unlock()
	r.signal()
}

func (r *recorder) changeList() []model.DocumentChangeEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.DocumentChangeEvent(nil), r.changes...)
}
