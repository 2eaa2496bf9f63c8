package eventsource

import "github.com/g960059/aistatus/internal/model"

// Handler receives editor telemetry. stateengine.Detector implements it.
type Handler interface {
	HandleFocus(ev model.FocusEvent)
	HandleDocumentChange(ev model.DocumentChangeEvent)
	HandleActiveEditor(ev model.ActiveEditorEvent)
	HandleWorkspace(ws model.Workspace)
}
