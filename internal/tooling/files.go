package tooling

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"tinker/internal/plan"
)

const maxReadBytes = 1 << 20 // 1MB

// fileTool implements the workspace file actions.
type fileTool struct {
	guard pathGuard
}

func (t *fileTool) write(args plan.WriteFileArgs) Outcome {
	abs, err := t.guard.Resolve(args.Path)
	if err != nil {
		return failure(KindInvalidArgs, "%v", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return failure(KindIOError, "create parent dirs: %v", err)
	}
	if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
		return failure(KindIOError, "write %s: %v", t.guard.Rel(abs), err)
	}
	return success(fmt.Sprintf("wrote %d bytes to %s", len(args.Content), t.guard.Rel(abs)))
}

func (t *fileTool) read(args plan.ReadFileArgs) Outcome {
	abs, err := t.guard.Resolve(args.Path)
	if err != nil {
		return failure(KindInvalidArgs, "%v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return failure(KindIOError, "read %s: %v", t.guard.Rel(abs), err)
	}
	if info.Size() > maxReadBytes {
		return failure(KindIOError, "%s is %d bytes, exceeds read limit", t.guard.Rel(abs), info.Size())
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return failure(KindIOError, "read %s: %v", t.guard.Rel(abs), err)
	}
	return success(string(data))
}

// edit replaces an exact fragment. Zero matches or more than one match fails
// so the model cannot silently corrupt a file.
func (t *fileTool) edit(args plan.EditFileArgs) Outcome {
	abs, err := t.guard.Resolve(args.Path)
	if err != nil {
		return failure(KindInvalidArgs, "%v", err)
	}
	if args.OldContent == "" {
		return failure(KindInvalidArgs, "old_content must not be empty")
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return failure(KindIOError, "read %s: %v", t.guard.Rel(abs), err)
	}
	text := string(data)
	switch n := strings.Count(text, args.OldContent); {
	case n == 0:
		return failure(KindIOError, "old_content not found in %s", t.guard.Rel(abs))
	case n > 1:
		return failure(KindIOError, "old_content matches %d locations in %s, be more specific", n, t.guard.Rel(abs))
	}
	updated := strings.Replace(text, args.OldContent, args.NewContent, 1)
	if err := os.WriteFile(abs, []byte(updated), 0o644); err != nil {
		return failure(KindIOError, "write %s: %v", t.guard.Rel(abs), err)
	}
	return success(fmt.Sprintf("edited %s", t.guard.Rel(abs)))
}

func (t *fileTool) list(args plan.ListDirectoryArgs) Outcome {
	abs, err := t.guard.Resolve(args.Path)
	if err != nil {
		return failure(KindInvalidArgs, "%v", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return failure(KindIOError, "list %s: %v", t.guard.Rel(abs), err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return success(strings.Join(names, "\n"))
}

func (t *fileTool) exists(args plan.FileExistsArgs) Outcome {
	abs, err := t.guard.Resolve(args.Path)
	if err != nil {
		return failure(KindInvalidArgs, "%v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		if os.IsNotExist(err) {
			return success("false")
		}
		return failure(KindIOError, "stat %s: %v", t.guard.Rel(abs), err)
	}
	return success("true")
}

func (t *fileTool) info(args plan.FileInfoArgs) Outcome {
	abs, err := t.guard.Resolve(args.Path)
	if err != nil {
		return failure(KindInvalidArgs, "%v", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return failure(KindIOError, "stat %s: %v", t.guard.Rel(abs), err)
	}
	return success(fmt.Sprintf("path=%s size=%d mode=%s modified=%s dir=%t",
		t.guard.Rel(abs), info.Size(), info.Mode(), info.ModTime().UTC().Format("2006-01-02T15:04:05Z"), info.IsDir()))
}
