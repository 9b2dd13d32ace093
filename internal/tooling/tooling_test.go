package tooling

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tinker/internal/plan"
)

func newTestRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	root := t.TempDir()
	reg, err := NewRegistry(Options{WorkspaceRoot: root, CommandTimeout: 10 * time.Second})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	return reg, root
}

func step(action plan.Action, args plan.Args) plan.Step {
	return plan.Step{Seq: 1, Action: action, Args: args}
}

func TestWriteAndReadFile(t *testing.T) {
	reg, root := newTestRegistry(t)
	ctx := context.Background()

	out := reg.Invoke(ctx, step(plan.ActionWriteFile, plan.WriteFileArgs{
		Path:    "sub/dir/app.py",
		Content: "print('hello')\n",
	}))
	if !out.Success {
		t.Fatalf("write failed: %+v", out.Err)
	}
	data, err := os.ReadFile(filepath.Join(root, "sub/dir/app.py"))
	if err != nil || string(data) != "print('hello')\n" {
		t.Fatalf("file not written: %v %q", err, data)
	}

	out = reg.Invoke(ctx, step(plan.ActionReadFile, plan.ReadFileArgs{Path: "sub/dir/app.py"}))
	if !out.Success || out.Payload != "print('hello')\n" {
		t.Fatalf("read mismatch: %+v", out)
	}
}

func TestPathEscapeRejected(t *testing.T) {
	reg, _ := newTestRegistry(t)

	out := reg.Invoke(context.Background(), step(plan.ActionWriteFile, plan.WriteFileArgs{
		Path:    "../outside.txt",
		Content: "nope",
	}))
	if out.Success || out.Err.Kind != KindInvalidArgs {
		t.Fatalf("expected invalid_args for escaping path, got %+v", out)
	}
}

func TestEditFileExactMatch(t *testing.T) {
	reg, root := newTestRegistry(t)
	ctx := context.Background()
	path := filepath.Join(root, "main.go")
	if err := os.WriteFile(path, []byte("alpha\nbeta\ngamma\n"), 0o644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	out := reg.Invoke(ctx, step(plan.ActionEditFile, plan.EditFileArgs{
		Path: "main.go", OldContent: "beta", NewContent: "BETA",
	}))
	if !out.Success {
		t.Fatalf("edit failed: %+v", out.Err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "alpha\nBETA\ngamma\n" {
		t.Fatalf("edit result: %q", data)
	}

	out = reg.Invoke(ctx, step(plan.ActionEditFile, plan.EditFileArgs{
		Path: "main.go", OldContent: "missing", NewContent: "x",
	}))
	if out.Success || out.Err.Kind != KindIOError {
		t.Fatalf("expected io_error for unmatched fragment, got %+v", out)
	}
}

func TestEditFileAmbiguousMatch(t *testing.T) {
	reg, root := newTestRegistry(t)
	if err := os.WriteFile(filepath.Join(root, "f.txt"), []byte("x\nx\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	out := reg.Invoke(context.Background(), step(plan.ActionEditFile, plan.EditFileArgs{
		Path: "f.txt", OldContent: "x", NewContent: "y",
	}))
	if out.Success {
		t.Fatal("ambiguous edit must fail")
	}
	if !strings.Contains(out.Err.Message, "locations") {
		t.Fatalf("unexpected error: %v", out.Err)
	}
}

func TestListExistsInfo(t *testing.T) {
	reg, root := newTestRegistry(t)
	ctx := context.Background()
	if err := os.MkdirAll(filepath.Join(root, "pkg"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "go.mod"), []byte("module x\n"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}

	out := reg.Invoke(ctx, step(plan.ActionListDirectory, plan.ListDirectoryArgs{}))
	if !out.Success || !strings.Contains(out.Payload, "pkg/") || !strings.Contains(out.Payload, "go.mod") {
		t.Fatalf("list output: %+v", out)
	}

	out = reg.Invoke(ctx, step(plan.ActionFileExists, plan.FileExistsArgs{Path: "go.mod"}))
	if !out.Success || out.Payload != "true" {
		t.Fatalf("exists true: %+v", out)
	}
	out = reg.Invoke(ctx, step(plan.ActionFileExists, plan.FileExistsArgs{Path: "nope.txt"}))
	if !out.Success || out.Payload != "false" {
		t.Fatalf("exists false: %+v", out)
	}

	out = reg.Invoke(ctx, step(plan.ActionFileInfo, plan.FileInfoArgs{Path: "go.mod"}))
	if !out.Success || !strings.Contains(out.Payload, "size=9") {
		t.Fatalf("info output: %+v", out)
	}
}

func TestRunCommandCapturesOutput(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Invoke(context.Background(), step(plan.ActionRunCommand, plan.RunCommandArgs{
		Command: "echo hello",
	}))
	if !out.Success || out.Payload != "hello" {
		t.Fatalf("run output: %+v", out)
	}
}

func TestRunCommandExitError(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Invoke(context.Background(), step(plan.ActionRunCommand, plan.RunCommandArgs{
		Command: "sh -c 'echo boom >&2; exit 3'",
	}))
	if out.Success || out.Err.Kind != KindExitError {
		t.Fatalf("expected exit_error, got %+v", out)
	}
	if !strings.Contains(out.Err.Message, "boom") {
		t.Fatalf("stderr not surfaced: %v", out.Err)
	}
}

func TestRunCommandTimeout(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Invoke(context.Background(), step(plan.ActionRunCommand, plan.RunCommandArgs{
		Command:        "sleep 5",
		TimeoutSeconds: 1,
	}))
	if out.Success || out.Err.Kind != KindTimeout {
		t.Fatalf("expected timeout, got %+v", out)
	}
}

func TestNoteStepAlwaysFails(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Invoke(context.Background(), step(plan.ActionNote, plan.NoteArgs{Text: "plan rejected: bad json"}))
	if out.Success || out.Err.Kind != KindPlannerContract {
		t.Fatalf("note must fail with planner_contract, got %+v", out)
	}
	if !strings.Contains(out.Err.Message, "bad json") {
		t.Fatalf("reason lost: %v", out.Err)
	}
}

func TestMissingArgsReportedAsPlannerContract(t *testing.T) {
	reg, _ := newTestRegistry(t)
	out := reg.Invoke(context.Background(), plan.Step{Seq: 1, Action: plan.Action("mystery")})
	if out.Success || out.Err.Kind != KindPlannerContract {
		t.Fatalf("expected planner_contract for unmapped step, got %+v", out)
	}
}

func TestCancelledContextStopsInvocation(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := reg.Invoke(ctx, step(plan.ActionRunCommand, plan.RunCommandArgs{Command: "echo hi"}))
	if out.Success || out.Err.Kind != KindInternal {
		t.Fatalf("expected internal error for cancelled context, got %+v", out)
	}
}
