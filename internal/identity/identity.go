package identity

import (
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/g960059/aistatus/internal/model"
)

const (
	DefaultAppName = "VS Code"
	FallbackTitle  = "Untitled"
)

var (
	untitledPattern = regexp.MustCompile(`Untitled-\d+`)
	nonAlnum        = regexp.MustCompile(`[^a-zA-Z0-9]`)
)

type ideRule struct {
	id      string
	display string
	needles []string
}

// Order matters: more specific products must match before the generic VS Code names.
var ideRules = []ideRule{
	{id: "antigravity", display: "Antigravity", needles: []string{"antigravity"}},
	{id: "kiro", display: "Kiro", needles: []string{"kiro"}},
	{id: "cursor", display: "Cursor", needles: []string{"cursor"}},
	{id: "windsurf", display: "Windsurf", needles: []string{"windsurf"}},
	{id: "codebuddycn", display: "CodeBuddy CN", needles: []string{"codebuddy cn", "codebuddycn"}},
	{id: "codebuddy", display: "CodeBuddy", needles: []string{"codebuddy", "code buddy"}},
	{id: "trae", display: "Trae", needles: []string{"trae"}},
	{id: "vscode-insiders", display: "VS Code Insiders", needles: []string{"code - insiders"}},
	{id: "vscode", display: "VS Code", needles: []string{"visual studio code", "vs code"}},
	{id: "vscodium", display: "VSCodium", needles: []string{"vscodium"}},
}

// NewTaskID returns the per-window identifier. It is generated once per detector.
func NewTaskID() string {
	return uuid.NewString()
}

// DetectIDE maps the host application name to a short IDE identifier.
func DetectIDE(appName string) string {
	lower := strings.ToLower(appName)
	for _, rule := range ideRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.id
			}
		}
	}
	if s := strings.ToLower(nonAlnum.ReplaceAllString(appName, "")); s != "" {
		return s
	}
	return "unknown"
}

func DisplayName(ide, appName string) string {
	for _, rule := range ideRules {
		if rule.id == ide {
			return rule.display
		}
	}
	if strings.TrimSpace(appName) != "" {
		return appName
	}
	return "IDE"
}

// WindowTitle mirrors the title the host shows for the window.
func WindowTitle(ws model.Workspace) string {
	if name := strings.TrimSpace(ws.Name); name != "" {
		return name
	}
	for _, folder := range ws.Folders {
		if name := strings.TrimSpace(folder.Name); name != "" {
			return name
		}
		if base := BaseName(folder.Path); base != "" {
			return base
		}
		break
	}
	if ed := ws.ActiveEditor; ed != nil && ed.Scheme.Tracked() {
		if ed.Scheme == model.SchemeUntitled {
			if m := untitledPattern.FindString(ed.FileName); m != "" {
				return m
			}
		}
		if base := BaseName(ed.FileName); base != "" {
			return base
		}
	}
	return FallbackTitle
}

// ActiveFile is the base name of the focused document, empty when there is none.
func ActiveFile(ws model.Workspace) string {
	if ed := ws.ActiveEditor; ed != nil && ed.Scheme.Tracked() {
		return BaseName(ed.FileName)
	}
	return ""
}

func ProjectPath(ws model.Workspace) string {
	if len(ws.Folders) == 0 {
		return ""
	}
	return ws.Folders[0].Path
}

// BaseName strips both slash styles so Windows paths reported by a bridge still resolve.
func BaseName(fileName string) string {
	name := strings.TrimSpace(strings.ReplaceAll(fileName, `\`, "/"))
	if name == "" {
		return ""
	}
	base := path.Base(name)
	if base == "." || base == "/" {
		return ""
	}
	return base
}

// Resolve derives the identity reported for taskID. A non-empty activeFile
// overrides the file derived from the active editor.
func Resolve(taskID string, ws model.Workspace, activeFile string) model.WindowIdentity {
	appName := ws.AppName
	if strings.TrimSpace(appName) == "" {
		appName = DefaultAppName
	}
	ide := DetectIDE(appName)
	title := WindowTitle(ws)
	if activeFile == "" {
		activeFile = ActiveFile(ws)
	}
	return model.WindowIdentity{
		TaskID:      taskID,
		Name:        DisplayName(ide, appName) + " - " + title,
		IDEName:     ide,
		WindowTitle: title,
		ActiveFile:  activeFile,
		ProjectPath: ProjectPath(ws),
	}
}
