package model

import (
	"strings"
	"time"
)

// DocumentScheme is the URI scheme of an edited document.
type DocumentScheme string

const (
	SchemeFile     DocumentScheme = "file"
	SchemeUntitled DocumentScheme = "untitled"
)

// Tracked reports whether edits in this scheme take part in detection.
// Output channels, git views and other virtual documents never do.
func (s DocumentScheme) Tracked() bool {
	return s == SchemeFile || s == SchemeUntitled
}

type FocusEvent struct {
	Focused bool
	At      time.Time
}

type ContentChange struct {
	InsertedChars int
	RangeLength   int
}

type DocumentChangeEvent struct {
	Scheme   DocumentScheme
	FileName string
	Changes  []ContentChange
	At       time.Time
}

// Measure folds the content changes of one notification into a measurement.
func (e DocumentChangeEvent) Measure() EditMeasurement {
	m := EditMeasurement{Segments: len(e.Changes), At: e.At}
	for _, c := range e.Changes {
		if c.InsertedChars > 0 {
			m.Inserted += c.InsertedChars
		}
		if c.RangeLength > 0 {
			m.Deleted += c.RangeLength
		}
	}
	return m
}

type EditMeasurement struct {
	Inserted int
	Deleted  int
	Segments int
	At       time.Time
}

// Empty is true when the notification carried no text change at all.
func (m EditMeasurement) Empty() bool {
	return m.Inserted == 0 && m.Deleted == 0
}

type EditorDocument struct {
	Scheme   DocumentScheme
	FileName string
}

type ActiveEditorEvent struct {
	Editor *EditorDocument
	At     time.Time
}

type WorkspaceFolder struct {
	Name string
	Path string
}

// Workspace is the read-only editor metadata the identity is derived from.
type Workspace struct {
	AppName      string
	Name         string
	Folders      []WorkspaceFolder
	ActiveEditor *EditorDocument
}

type WindowIdentity struct {
	TaskID      string
	Name        string
	IDEName     string
	WindowTitle string
	ActiveFile  string
	ProjectPath string
}

// IsEmptyWindow matches a window with nothing open (welcome page, blank window).
func (w WindowIdentity) IsEmptyWindow() bool {
	hasFile := strings.TrimSpace(w.ActiveFile) != ""
	hasTitle := strings.TrimSpace(w.WindowTitle) != "" && w.WindowTitle != "Untitled"
	hasProject := strings.TrimSpace(w.ProjectPath) != ""
	return !hasFile && !hasTitle && !hasProject
}

// IntentKind names a task lifecycle intent emitted by the state machine.
type IntentKind string

const (
	IntentArmed      IntentKind = "armed"
	IntentActive     IntentKind = "active"
	IntentStart      IntentKind = "start"
	IntentUpdate     IntentKind = "update"
	IntentActiveFile IntentKind = "active_file"
	IntentComplete   IntentKind = "complete"
	IntentDelete     IntentKind = "delete"
)

// Intent is a snapshot handed to the reporter; it is never mutated after emission.
type Intent struct {
	Kind          IntentKind
	Identity      WindowIdentity
	Focused       bool
	SessionInsert int
	SessionEvents int
	At            time.Time
}

// ReportAttempt is the outcome of one outbound call, retries included.
type ReportAttempt struct {
	Success      bool
	StatusCode   int
	Err          error
	AttemptsUsed int
}

type Connectivity string

const (
	ConnectivityOK       Connectivity = "ok"
	ConnectivityDegraded Connectivity = "degraded"
	ConnectivityDown     Connectivity = "down"
)

type OutboxEntry struct {
	ID          int64
	TaskID      string
	Endpoint    string
	Intent      IntentKind
	PayloadJSON string
	Attempts    int
	LastError   string
	CreatedAt   time.Time
}
