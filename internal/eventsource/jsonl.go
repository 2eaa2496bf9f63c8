package eventsource

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/g960059/aistatus/internal/logging"
	"github.com/g960059/aistatus/internal/model"
)

const (
	readBufferSize = 64 * 1024
	// DefaultMaxLine caps one bridge message; longer lines are skipped.
	DefaultMaxLine = 16 * 1024 * 1024

	// DefaultSkewBudget bounds how far a bridge timestamp may drift from receive time.
	DefaultSkewBudget = 2 * time.Second
)

// Message is one line of the editor bridge protocol.
type Message struct {
	Type     string          `json:"type"`
	At       *time.Time      `json:"at,omitempty"`
	Focused  bool            `json:"focused,omitempty"`
	Scheme   string          `json:"scheme,omitempty"`
	File     string          `json:"file,omitempty"`
	Untitled bool            `json:"untitled,omitempty"`
	Changes  []ChangeMessage `json:"changes,omitempty"`
	AppName  string          `json:"app_name,omitempty"`
	Name     string          `json:"name,omitempty"`
	Folders  []FolderMessage `json:"folders,omitempty"`
}

type ChangeMessage struct {
	Text        *string `json:"text,omitempty"`
	Inserted    int     `json:"inserted,omitempty"`
	RangeLength int     `json:"range_length,omitempty"`
}

type FolderMessage struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

var ErrUnknownMessage = errors.New("unknown message type")

// JSONLSource reads newline-delimited bridge messages and forwards them to a Handler.
type JSONLSource struct {
	reader  io.Reader
	logger  *slog.Logger
	now     func() time.Time
	skew    time.Duration
	maxLine int
}

func NewJSONLSource(r io.Reader, logger *slog.Logger) *JSONLSource {
	return &JSONLSource{
		reader:  r,
		logger:  logging.OrDiscard(logger),
		now:     func() time.Time { return time.Now().UTC() },
		skew:    DefaultSkewBudget,
		maxLine: DefaultMaxLine,
	}
}

// WithSkewBudget changes the tolerated drift of bridge timestamps. Zero always uses receive time.
func (s *JSONLSource) WithSkewBudget(d time.Duration) *JSONLSource {
	if d >= 0 {
		s.skew = d
	}
	return s
}

type rawLine struct {
	text    string
	tooLong bool
}

// Run forwards messages until EOF or ctx ends. Malformed and oversized lines
// are logged and skipped. The reader is not closed; a blocked read is
// abandoned when ctx ends.
func (s *JSONLSource) Run(ctx context.Context, h Handler) error {
	lines := make(chan rawLine)
	readErr := make(chan error, 1)
	go func() {
		br := bufio.NewReaderSize(s.reader, readBufferSize)
		for {
			line, tooLong, err := readLine(br, s.maxLine)
			if len(line) > 0 || tooLong {
				select {
				case lines <- rawLine{text: string(line), tooLong: tooLong}:
				case <-ctx.Done():
					readErr <- nil
					return
				}
			}
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = nil
				}
				readErr <- err
				return
			}
		}
	}()

	lineNo := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("read editor events: %w", err)
			}
			return nil
		case raw := <-lines:
			lineNo++
			if raw.tooLong {
				s.logger.Warn("skipping oversized editor event", "line", lineNo, "limit_bytes", s.maxLine)
				continue
			}
			text := strings.TrimSpace(raw.text)
			if text == "" {
				continue
			}
			if err := s.dispatch(text, h); err != nil {
				s.logger.Warn("skipping editor event", "line", lineNo, "error", err)
			}
		}
	}
}

// readLine returns the next line including its newline. A line longer than
// limit is consumed up to its newline and reported as tooLong without content.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return line, tooLong, err
	}
}

func (s *JSONLSource) dispatch(raw string, h Handler) error {
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	at := s.now()
	if msg.At != nil && !msg.At.IsZero() {
		at = effectiveEventTime(msg.At.UTC(), at, s.skew)
	}
	switch msg.Type {
	case "focus":
		h.HandleFocus(model.FocusEvent{Focused: msg.Focused, At: at})
	case "change":
		h.HandleDocumentChange(model.DocumentChangeEvent{
			Scheme:   msg.scheme(),
			FileName: msg.File,
			Changes:  msg.contentChanges(),
			At:       at,
		})
	case "editor":
		ev := model.ActiveEditorEvent{At: at}
		if msg.File != "" {
			ev.Editor = &model.EditorDocument{Scheme: msg.scheme(), FileName: msg.File}
		}
		h.HandleActiveEditor(ev)
	case "workspace":
		ws := model.Workspace{AppName: msg.AppName, Name: msg.Name}
		for _, f := range msg.Folders {
			ws.Folders = append(ws.Folders, model.WorkspaceFolder{Name: f.Name, Path: f.Path})
		}
		if msg.File != "" {
			ws.ActiveEditor = &model.EditorDocument{Scheme: msg.scheme(), FileName: msg.File}
		}
		h.HandleWorkspace(ws)
	default:
		return fmt.Errorf("%w %q", ErrUnknownMessage, msg.Type)
	}
	return nil
}

// effectiveEventTime keeps the sender's timestamp unless it is further than
// budget from the receive time; the window math needs near-monotonic times.
func effectiveEventTime(eventTime, receivedAt time.Time, budget time.Duration) time.Time {
	delta := eventTime.Sub(receivedAt)
	if delta < 0 {
		delta = -delta
	}
	if delta > budget {
		return receivedAt
	}
	return eventTime
}

func (m Message) scheme() model.DocumentScheme {
	if m.Scheme != "" {
		return model.DocumentScheme(strings.ToLower(m.Scheme))
	}
	if m.Untitled {
		return model.SchemeUntitled
	}
	return model.SchemeFile
}

// contentChanges counts inserted text in characters, not bytes.
func (m Message) contentChanges() []model.ContentChange {
	out := make([]model.ContentChange, 0, len(m.Changes))
	for _, c := range m.Changes {
		inserted := c.Inserted
		if c.Text != nil {
			inserted = utf8.RuneCountInString(*c.Text)
		}
		out = append(out, model.ContentChange{InsertedChars: inserted, RangeLength: c.RangeLength})
	}
	return out
}
