package runner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
)

// CLIRunner runs sessions through the claude CLI in print mode with
// stream-json output. Stream events are mirrored to the debug log so a hung
// session can be diagnosed from the log alone.
type CLIRunner struct {
	// Binary is the CLI executable name. Defaults to "claude".
	Binary string
	// DefaultModel is used when the request does not name a model.
	DefaultModel string
	// AllowedTools is passed through to --allowedTools.
	AllowedTools string
	Logger       Logger
}

// NewCLIRunner creates a CLIRunner with standard settings.
func NewCLIRunner(defaultModel string, logger Logger) *CLIRunner {
	return &CLIRunner{
		Binary:       "claude",
		DefaultModel: defaultModel,
		AllowedTools: "Read,Write,Edit,Bash,Glob,Grep,WebFetch",
		Logger:       logger,
	}
}

// CheckCLI verifies the claude CLI is installed and reachable.
func (r *CLIRunner) CheckCLI() error {
	binary := r.Binary
	if binary == "" {
		binary = "claude"
	}
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%s CLI not found in PATH: %w", binary, err)
	}
	return nil
}

// streamLine is the subset of a stream-json event the runner cares about.
type streamLine struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Result  string `json:"result,omitempty"`
}

// Run launches the CLI subprocess, drains its output, and reads the report
// file the session wrote. A session that exits without a valid report is
// recorded as an ERROR outcome rather than failing the run loop.
func (r *CLIRunner) Run(ctx context.Context, req Request) (*Result, error) {
	binary := r.Binary
	if binary == "" {
		binary = "claude"
	}
	model := req.Model
	if model == "" {
		model = r.DefaultModel
	}

	args := []string{
		"--output-format", "stream-json",
		"--print",
		"--verbose",
	}
	if r.AllowedTools != "" {
		args = append(args, "--allowedTools", r.AllowedTools)
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, "-p", req.Instructions)

	cmd := exec.CommandContext(ctx, binary, args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	go r.drain(stderr, "stderr")

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event streamLine
		if err := json.Unmarshal(line, &event); err != nil {
			r.logf("session %d: unparseable stream line: %v", req.SessionID, err)
			continue
		}
		if event.Type == "result" {
			r.logf("session %d: result (error=%v)", req.SessionID, event.IsError)
		}
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.logf("session %d: process exited with error: %v", req.SessionID, err)
		return errorResult(err), nil
	}

	result, err := readReport(req.ReportPath)
	if err != nil {
		r.logf("session %d: %v", req.SessionID, err)
		return errorResult(err), nil
	}
	return result, nil
}

func (r *CLIRunner) logf(format string, args ...interface{}) {
	if r.Logger != nil {
		r.Logger.Log(format, args...)
	}
}

// drain logs a secondary output stream line by line.
func (r *CLIRunner) drain(src interface{ Read([]byte) (int, error) }, name string) {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 16*1024), 256*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			r.logf("[%s] %s", name, scanner.Text())
		}
	}
}
