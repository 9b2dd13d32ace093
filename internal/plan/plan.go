// Package plan defines the validated step representation shared by the
// planner, executor, and tool invoker. A plan is a linear sequence of
// steps; each step carries a typed argument record for its action.
package plan

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action identifies one of the known tool actions a step can perform.
type Action string

const (
	ActionWriteFile       Action = "write_file"
	ActionReadFile        Action = "read_file"
	ActionEditFile        Action = "edit_file"
	ActionRunCommand      Action = "run_command"
	ActionListDirectory   Action = "list_directory"
	ActionFileExists      Action = "file_exists"
	ActionFileInfo        Action = "file_info"
	ActionWebFetch        Action = "web_fetch"
	ActionGitStatus       Action = "git_status"
	ActionGitCreateBranch Action = "git_create_branch"
	ActionGitCheckout     Action = "git_checkout"
	ActionGitStage        Action = "git_stage"
	ActionGitCommit       Action = "git_commit"
	ActionGitLog          Action = "git_log"

	// ActionNote is the internal diagnostic action substituted for a
	// malformed plan. It always executes as a failed step so that planner
	// contract violations flow through the normal failure path.
	ActionNote Action = "note"
)

// fatalActions are actions whose partial failure corrupts downstream steps;
// the executor stops the pass when one of them fails.
var fatalActions = map[Action]bool{
	ActionWriteFile: true,
	ActionGitCommit: true,
}

// Fatal reports whether a failed step of this action halts the execution pass.
func Fatal(a Action) bool {
	return fatalActions[a]
}

// Args is the marker interface implemented by every per-action argument record.
type Args interface {
	isArgs()
}

type WriteFileArgs struct {
	Path    string
	Content string
}

type ReadFileArgs struct {
	Path string
}

type EditFileArgs struct {
	Path       string
	OldContent string
	NewContent string
}

type RunCommandArgs struct {
	Command        string
	WorkingDir     string
	TimeoutSeconds int
}

type ListDirectoryArgs struct {
	Path string
}

type FileExistsArgs struct {
	Path string
}

type FileInfoArgs struct {
	Path string
}

type WebFetchArgs struct {
	URL      string
	Selector string
}

type GitStatusArgs struct{}

type GitCreateBranchArgs struct {
	Name string
}

type GitCheckoutArgs struct {
	Branch string
}

type GitStageArgs struct {
	Patterns []string
}

type GitCommitArgs struct {
	Message string
}

type GitLogArgs struct {
	Limit int
}

type NoteArgs struct {
	Text string
}

func (WriteFileArgs) isArgs()       {}
func (ReadFileArgs) isArgs()        {}
func (EditFileArgs) isArgs()        {}
func (RunCommandArgs) isArgs()      {}
func (ListDirectoryArgs) isArgs()   {}
func (FileExistsArgs) isArgs()      {}
func (FileInfoArgs) isArgs()        {}
func (WebFetchArgs) isArgs()        {}
func (GitStatusArgs) isArgs()       {}
func (GitCreateBranchArgs) isArgs() {}
func (GitCheckoutArgs) isArgs()     {}
func (GitStageArgs) isArgs()        {}
func (GitCommitArgs) isArgs()       {}
func (GitLogArgs) isArgs()          {}
func (NoteArgs) isArgs()            {}

// Step is one atomic action within a plan. Seq numbers steps 1..N and only
// serves to correlate execution results back to their steps.
type Step struct {
	Seq         int
	Action      Action
	Args        Args
	Description string
}

// FileTarget returns the workspace path a step writes to, for side-effect
// tracking. Only file-mutating actions report a target.
func (s Step) FileTarget() (string, bool) {
	switch args := s.Args.(type) {
	case WriteFileArgs:
		return args.Path, args.Path != ""
	case EditFileArgs:
		return args.Path, args.Path != ""
	default:
		return "", false
	}
}

// Diagnostic builds the single-step substitute plan used when the planner
// output violates its contract.
func Diagnostic(reason string) []Step {
	return []Step{{
		Seq:         1,
		Action:      ActionNote,
		Args:        NoteArgs{Text: reason},
		Description: "report planner contract violation",
	}}
}

// rawStep mirrors the JSON shape the model is asked to produce.
type rawStep struct {
	Step        int            `json:"step"`
	Action      string         `json:"action"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description"`
}

// Parse decodes and structurally validates a JSON plan. Steps are
// renumbered 1..N in the order produced regardless of the numbers in the
// payload. Any unknown action or missing required argument fails the whole
// plan; the caller decides how to degrade.
func Parse(data []byte) ([]Step, error) {
	var raw []rawStep
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("plan is not a JSON array of steps: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("plan is empty")
	}
	steps := make([]Step, 0, len(raw))
	for i, r := range raw {
		args, err := decodeArgs(Action(r.Action), r.Args)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
		steps = append(steps, Step{
			Seq:         i + 1,
			Action:      Action(r.Action),
			Args:        args,
			Description: strings.TrimSpace(r.Description),
		})
	}
	return steps, nil
}

func decodeArgs(action Action, args map[string]any) (Args, error) {
	if args == nil {
		args = map[string]any{}
	}
	switch action {
	case ActionWriteFile:
		path, err := requireString(args, "file_path", "path")
		if err != nil {
			return nil, err
		}
		content, ok := stringArg(args, "content")
		if !ok {
			return nil, fmt.Errorf("write_file requires content")
		}
		return WriteFileArgs{Path: path, Content: content}, nil
	case ActionReadFile:
		path, err := requireString(args, "file_path", "path")
		if err != nil {
			return nil, err
		}
		return ReadFileArgs{Path: path}, nil
	case ActionEditFile:
		path, err := requireString(args, "file_path", "path")
		if err != nil {
			return nil, err
		}
		oldContent, ok := stringArg(args, "old_content")
		if !ok {
			return nil, fmt.Errorf("edit_file requires old_content")
		}
		newContent, ok := stringArg(args, "new_content")
		if !ok {
			return nil, fmt.Errorf("edit_file requires new_content")
		}
		return EditFileArgs{Path: path, OldContent: oldContent, NewContent: newContent}, nil
	case ActionRunCommand:
		command, err := requireString(args, "command")
		if err != nil {
			return nil, err
		}
		wd, _ := stringArg(args, "working_dir")
		return RunCommandArgs{
			Command:        command,
			WorkingDir:     wd,
			TimeoutSeconds: intArg(args, "timeout", 0),
		}, nil
	case ActionListDirectory:
		path, _ := stringArg(args, "directory_path")
		if path == "" {
			path, _ = stringArg(args, "path")
		}
		return ListDirectoryArgs{Path: path}, nil
	case ActionFileExists:
		path, err := requireString(args, "file_path", "path")
		if err != nil {
			return nil, err
		}
		return FileExistsArgs{Path: path}, nil
	case ActionFileInfo:
		path, err := requireString(args, "file_path", "path")
		if err != nil {
			return nil, err
		}
		return FileInfoArgs{Path: path}, nil
	case ActionWebFetch:
		url, err := requireString(args, "url")
		if err != nil {
			return nil, err
		}
		selector, _ := stringArg(args, "selector")
		return WebFetchArgs{URL: url, Selector: selector}, nil
	case ActionGitStatus:
		return GitStatusArgs{}, nil
	case ActionGitCreateBranch:
		name, err := requireString(args, "branch_name", "feature_name", "name")
		if err != nil {
			return nil, err
		}
		return GitCreateBranchArgs{Name: name}, nil
	case ActionGitCheckout:
		branch, err := requireString(args, "branch_name", "branch")
		if err != nil {
			return nil, err
		}
		return GitCheckoutArgs{Branch: branch}, nil
	case ActionGitStage:
		patterns, _ := stringSliceArg(args, "files")
		if patterns == nil {
			patterns, _ = stringSliceArg(args, "file_patterns")
		}
		return GitStageArgs{Patterns: patterns}, nil
	case ActionGitCommit:
		message, err := requireString(args, "message")
		if err != nil {
			return nil, err
		}
		return GitCommitArgs{Message: message}, nil
	case ActionGitLog:
		return GitLogArgs{Limit: intArg(args, "limit", 10)}, nil
	case ActionNote:
		text, _ := stringArg(args, "text")
		return NoteArgs{Text: text}, nil
	default:
		return nil, fmt.Errorf("unknown action %q", action)
	}
}

// requireString returns the first present, non-blank key among aliases.
func requireString(args map[string]any, keys ...string) (string, error) {
	for _, key := range keys {
		if val, ok := stringArg(args, key); ok && strings.TrimSpace(val) != "" {
			return val, nil
		}
	}
	return "", fmt.Errorf("missing required argument %s", keys[0])
}

func stringArg(args map[string]any, key string) (string, bool) {
	val, ok := args[key]
	if !ok {
		return "", false
	}
	switch cast := val.(type) {
	case string:
		return cast, true
	default:
		return fmt.Sprintf("%v", cast), true
	}
}

func intArg(args map[string]any, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch cast := val.(type) {
	case int:
		return cast
	case float64:
		return int(cast)
	default:
		return defaultVal
	}
}

func stringSliceArg(args map[string]any, key string) ([]string, bool) {
	raw, ok := args[key]
	if !ok {
		return nil, false
	}
	switch v := raw.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	default:
		return nil, false
	}
}
