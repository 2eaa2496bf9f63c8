package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/g960059/aistatus/internal/db"
	"github.com/g960059/aistatus/internal/model"
	"github.com/g960059/aistatus/internal/testutil"
)

type recordedCall struct {
	Path string
	Body map[string]any
}

type statusServer struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (s *statusServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.calls = append(s.calls, recordedCall{Path: r.URL.Path, Body: body})
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *statusServer) snapshot() []recordedCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedCall(nil), s.calls...)
}

type testEnv struct {
	dir    string
	outbox string
	env    map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	dir := t.TempDir()
	outbox := filepath.Join(dir, "state", "outbox.db")
	return &testEnv{dir: dir, outbox: outbox, env: map[string]string{"AISTATUS_OUTBOX": outbox}}
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	r := NewRunner(strings.NewReader(stdin), &out, &errOut).WithGetenv(func(k string) string { return e.env[k] })
	full := append([]string{"--config", filepath.Join(e.dir, "absent.toml")}, args...)
	code := r.Run(context.Background(), full)
	return code, out.String(), errOut.String()
}

func TestClassifyCommand(t *testing.T) {
	env := newTestEnv(t)

	code, out, errOut := env.run(t, "", "classify", "--insert", "40", "--window-insert", "40", "--window-events", "1", "--json")
	if code != 0 {
		t.Fatalf("expected exit 0, got %d stderr=%s", code, errOut)
	}
	var res classifyResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if !res.AILike || res.Rule != "large_batch" {
		t.Fatalf("unexpected verdict: %+v", res)
	}

	code, out, _ = env.run(t, "", "classify", "--insert", "5")
	if code != 0 || strings.TrimSpace(out) != "human (trivial_edit)" {
		t.Fatalf("unexpected text output %q (code %d)", out, code)
	}
}

func TestUsageErrorsExitTwo(t *testing.T) {
	env := newTestEnv(t)
	if code, _, errOut := env.run(t, "", "classify", "--insert", "-1"); code != 2 || !strings.Contains(errOut, "non-negative") {
		t.Fatalf("expected usage error, got code=%d stderr=%s", code, errOut)
	}
	if code, _, _ := env.run(t, "", "classify", "--bogus"); code != 2 {
		t.Fatalf("unknown flag should exit 2, got %d", code)
	}
}

func TestDoctorCommandJSON(t *testing.T) {
	srv := httptest.NewServer(&statusServer{})
	defer srv.Close()
	env := newTestEnv(t)

	code, out, errOut := env.run(t, "", "--endpoint", srv.URL, "doctor", "--json")
	if code != 0 {
		t.Fatalf("expected doctor OK, got %d\nstdout=%s\nstderr=%s", code, out, errOut)
	}
	var res struct {
		OK     bool `json:"ok"`
		Checks []struct {
			Name   string `json:"name"`
			Status string `json:"status"`
		} `json:"checks"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode doctor output: %v", err)
	}
	if !res.OK || len(res.Checks) != 5 {
		t.Fatalf("unexpected doctor result: %+v", res)
	}
}

func TestDoctorCommandFailsOnBadContract(t *testing.T) {
	env := newTestEnv(t)
	code, out, _ := env.run(t, "", "--endpoint", "http://127.0.0.1:1", "--contract", "v7", "doctor")
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(out, "[FAIL] contract") || !strings.Contains(out, "doctor: FAIL") {
		t.Fatalf("unexpected doctor output:\n%s", out)
	}
}

func seedOutboxFile(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()
	store, err := db.OpenMigrated(ctx, path)
	if err != nil {
		t.Fatalf("open outbox: %v", err)
	}
	testutil.SeedOutbox(t, store, ctx, "task-a", model.IntentStart, model.IntentComplete)
	testutil.SeedOutbox(t, store, ctx, "task-b", model.IntentStart)
	if err := store.Close(); err != nil {
		t.Fatalf("close outbox: %v", err)
	}
}

func TestOutboxListAndPurge(t *testing.T) {
	env := newTestEnv(t)
	seedOutboxFile(t, env.outbox)

	code, out, errOut := env.run(t, "", "outbox", "list", "--json")
	if code != 0 {
		t.Fatalf("list failed: %d %s", code, errOut)
	}
	var listed struct {
		Entries []outboxEntryView `json:"entries"`
	}
	if err := json.Unmarshal([]byte(out), &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Entries) != 3 || listed.Entries[0].TaskID != "task-a" || listed.Entries[0].Intent != "start" {
		t.Fatalf("unexpected entries: %+v", listed.Entries)
	}

	if code, out, _ := env.run(t, "", "outbox", "purge", "--task", "task-a"); code != 0 || !strings.Contains(out, "purged 2 entries") {
		t.Fatalf("unexpected purge output %q (code %d)", out, code)
	}
	if code, out, _ := env.run(t, "", "outbox", "list"); code != 0 || !strings.Contains(out, "outbox: 1 entries") {
		t.Fatalf("unexpected list output %q (code %d)", out, code)
	}
}

func TestOutboxReplaySendsEntries(t *testing.T) {
	svc := &statusServer{}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	env := newTestEnv(t)
	seedOutboxFile(t, env.outbox)

	code, out, errOut := env.run(t, "", "--endpoint", srv.URL, "outbox", "replay")
	if code != 0 {
		t.Fatalf("replay failed: %d %s", code, errOut)
	}
	if strings.TrimSpace(out) != "replay: sent=3 dropped=0 failed=0" {
		t.Fatalf("unexpected replay output %q", out)
	}
	calls := svc.snapshot()
	if len(calls) != 3 || calls[0].Body["task_id"] != "task-a" {
		t.Fatalf("unexpected replayed calls: %+v", calls)
	}
}

func TestRunReportsOneTaskFromStdin(t *testing.T) {
	svc := &statusServer{}
	srv := httptest.NewServer(svc)
	defer srv.Close()
	env := newTestEnv(t)

	stdin := strings.Join([]string{
		`{"type":"workspace","app_name":"Visual Studio Code","name":"demo","folders":[{"name":"demo","path":"/src/demo"}]}`,
		`{"type":"focus","focused":false}`,
		`{"type":"change","file":"/src/demo/main.go","changes":[{"inserted":50}]}`,
	}, "\n") + "\n"

	code, _, errOut := env.run(t, stdin, "--endpoint", srv.URL, "run", "--task-id", "task-run")
	if code != 0 {
		t.Fatalf("run failed: %d\n%s", code, errOut)
	}

	var deleted bool
	deadline := time.Now().Add(3 * time.Second)
	for !deleted && time.Now().Before(deadline) {
		for _, c := range svc.snapshot() {
			if c.Path == "/api/task/delete" {
				deleted = true
			}
		}
		if !deleted {
			time.Sleep(20 * time.Millisecond)
		}
	}
	if !deleted {
		t.Fatalf("teardown delete never arrived: %+v", svc.snapshot())
	}

	var states []any
	for _, c := range svc.snapshot() {
		if c.Path == "/api/task/update_state" {
			if c.Body["task_id"] != "task-run" {
				t.Fatalf("unexpected task id in %+v", c.Body)
			}
			states = append(states, c.Body["status"])
		}
	}
	if len(states) != 2 || states[0] != "running" || states[1] != "completed" {
		t.Fatalf("expected running then completed, got %v", states)
	}
	if !strings.Contains(errOut, `"msg":"editor event stream closed"`) {
		t.Fatalf("expected stream-closed log, got:\n%s", errOut)
	}
}
