package api

import (
	"fmt"
	"strings"

	"github.com/g960059/aistatus/internal/model"
)

const (
	ContractV1 = "v1"
	ContractV2 = "v2"

	PathReport      = "/api/task/report"
	PathUpdateState = "/api/task/update_state"
	PathDelete      = "/api/task/delete"

	PathLegacyArmed    = "/api/task/armed"
	PathLegacyActive   = "/api/task/active"
	PathLegacyStart    = "/api/task/start"
	PathLegacyUpdate   = "/api/task/update"
	PathLegacyComplete = "/api/task/complete"
	PathLegacyCancel   = "/api/task/cancel"
)

// CallKind groups outbound calls by how the reporter treats them.
type CallKind string

const (
	CallReport   CallKind = "report"
	CallState    CallKind = "state"
	CallTeardown CallKind = "teardown"
)

type Call struct {
	Kind CallKind
	Path string
	Body any
}

// Contract maps lifecycle intents onto one endpoint generation.
type Contract struct {
	version string
}

func ContractFor(version string) (Contract, error) {
	v := strings.ToLower(strings.TrimSpace(version))
	switch v {
	case "":
		return Contract{version: ContractV2}, nil
	case ContractV1, ContractV2:
		return Contract{version: v}, nil
	default:
		return Contract{}, fmt.Errorf("unknown endpoint contract %q", version)
	}
}

func (c Contract) Version() string {
	if c.version == "" {
		return ContractV2
	}
	return c.version
}

// CallFor returns the request for intent.
func (c Contract) CallFor(in model.Intent) Call {
	if c.Version() == ContractV1 {
		return legacyCall(in)
	}
	id := in.Identity
	switch in.Kind {
	case model.IntentStart:
		return Call{Kind: CallState, Path: PathUpdateState, Body: UpdateStateRequest{
			TaskID:        id.TaskID,
			Status:        StatusRunning,
			SessionInsert: in.SessionInsert,
			SessionEvents: in.SessionEvents,
		}}
	case model.IntentComplete:
		return Call{Kind: CallState, Path: PathUpdateState, Body: UpdateStateRequest{
			TaskID:        id.TaskID,
			Status:        StatusCompleted,
			SessionInsert: in.SessionInsert,
			SessionEvents: in.SessionEvents,
		}}
	case model.IntentDelete:
		return Call{Kind: CallTeardown, Path: PathDelete, Body: DeleteRequest{TaskID: id.TaskID}}
	default:
		return Call{Kind: CallReport, Path: PathReport, Body: NewReport(in)}
	}
}

// Heartbeat returns the periodic snapshot upsert.
func (c Contract) Heartbeat(id model.WindowIdentity, focused bool) Call {
	in := model.Intent{Kind: model.IntentActive, Identity: id, Focused: focused}
	if !focused {
		in.Kind = model.IntentArmed
	}
	if c.Version() == ContractV1 {
		return legacyCall(in)
	}
	return Call{Kind: CallReport, Path: PathReport, Body: NewReport(in)}
}

// Register is the call that makes the remote learn a window it has forgotten.
func (c Contract) Register(id model.WindowIdentity, focused bool) Call {
	return c.Heartbeat(id, focused)
}

func NewReport(in model.Intent) ReportRequest {
	id := in.Identity
	return ReportRequest{
		TaskID:        id.TaskID,
		Name:          id.Name,
		IDE:           id.IDEName,
		WindowTitle:   id.WindowTitle,
		IsFocused:     in.Focused,
		ProjectPath:   id.ProjectPath,
		ActiveFile:    id.ActiveFile,
		SessionInsert: in.SessionInsert,
		SessionEvents: in.SessionEvents,
	}
}

func legacyCall(in model.Intent) Call {
	id := in.Identity
	switch in.Kind {
	case model.IntentArmed:
		body := NewReport(in)
		body.Status = StatusArmed
		return Call{Kind: CallReport, Path: PathLegacyArmed, Body: body}
	case model.IntentActive:
		return Call{Kind: CallReport, Path: PathLegacyActive, Body: ActiveFileRequest{TaskID: id.TaskID, ActiveFile: id.ActiveFile}}
	case model.IntentStart:
		return Call{Kind: CallState, Path: PathLegacyStart, Body: NewReport(in)}
	case model.IntentComplete:
		return Call{Kind: CallState, Path: PathLegacyComplete, Body: CompleteRequest{TaskID: id.TaskID}}
	case model.IntentDelete:
		return Call{Kind: CallTeardown, Path: PathLegacyCancel, Body: DeleteRequest{TaskID: id.TaskID}}
	default:
		return Call{Kind: CallReport, Path: PathLegacyUpdate, Body: ActiveFileRequest{TaskID: id.TaskID, ActiveFile: id.ActiveFile}}
	}
}
