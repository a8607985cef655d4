package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

// APIConfig configures the direct-API session runner.
type APIConfig struct {
	// Model is the Claude model to use.
	Model string
	// APIKey is the Anthropic API key. If empty, uses ANTHROPIC_API_KEY.
	APIKey string
	// UseAWSBedrock routes requests through AWS Bedrock instead of the
	// Anthropic API.
	UseAWSBedrock bool
	// AWSRegion is the Bedrock region.
	AWSRegion string
	// AWSProfile is the optional AWS shared-config profile.
	AWSProfile string
	// MaxTurns caps the tool-use loop per session.
	MaxTurns int
}

// APIRunner runs sessions directly against the Anthropic API with a small
// filesystem/shell tool loop, instead of shelling out to the claude CLI.
type APIRunner struct {
	client   anthropic.Client
	model    anthropic.Model
	maxTurns int
	logger   Logger
}

// NewAPIRunner creates an APIRunner for the configured backend.
func NewAPIRunner(cfg APIConfig, logger Logger) (*APIRunner, error) {
	var opts []option.RequestOption

	if cfg.UseAWSBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
		}
		opts = append(opts, option.WithAPIKey(apiKey))
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = bedrockModel(model)
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 200
	}

	return &APIRunner{
		client:   anthropic.NewClient(opts...),
		model:    model,
		maxTurns: maxTurns,
		logger:   logger,
	}, nil
}

func (r *APIRunner) logf(format string, args ...interface{}) {
	if r.logger != nil {
		r.logger.Log(format, args...)
	}
}

// bedrockModel converts a standard model name into the cross-region Bedrock
// inference profile format.
func bedrockModel(model anthropic.Model) anthropic.Model {
	s := string(model)
	if strings.HasPrefix(s, "us.anthropic.") {
		return model
	}
	return anthropic.Model("us.anthropic." + s + "-v1:0")
}

// Run drives the tool-use conversation until the model stops, then reads
// the session report the model wrote via the write_file tool.
func (r *APIRunner) Run(ctx context.Context, req Request) (*Result, error) {
	model := r.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(req.Instructions)),
	}

	for turn := 0; turn < r.maxTurns; turn++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		resp, err := r.client.Messages.New(ctx, anthropic.MessageNewParams{
			Model:     model,
			MaxTokens: 8192,
			System: []anthropic.TextBlockParam{
				{Text: "You are an autonomous coding agent working inside a git repository. Use the tools to inspect and change code, then write your session report where instructed."},
			},
			Messages: messages,
			Tools:    sessionTools(),
		})
		if err != nil {
			r.logf("session %d: API error: %v", req.SessionID, err)
			return errorResult(err), nil
		}

		var assistantBlocks []anthropic.ContentBlockParamUnion
		var toolResultBlocks []anthropic.ContentBlockParamUnion

		for _, block := range resp.Content {
			switch variant := block.AsAny().(type) {
			case anthropic.TextBlock:
				assistantBlocks = append(assistantBlocks, anthropic.NewTextBlock(variant.Text))
			case anthropic.ToolUseBlock:
				content, isErr := executeTool(ctx, req.WorkDir, variant.Name, variant.Input)
				assistantBlocks = append(assistantBlocks,
					anthropic.NewToolUseBlock(variant.ID, variant.Input, variant.Name))
				toolResultBlocks = append(toolResultBlocks,
					anthropic.NewToolResultBlock(variant.ID, content, isErr))
			}
		}

		if resp.StopReason == anthropic.StopReasonEndTurn {
			result, err := readReport(req.ReportPath)
			if err != nil {
				r.logf("session %d: %v", req.SessionID, err)
				return errorResult(err), nil
			}
			return result, nil
		}

		messages = append(messages, anthropic.NewAssistantMessage(assistantBlocks...))
		if len(toolResultBlocks) > 0 {
			messages = append(messages, anthropic.NewUserMessage(toolResultBlocks...))
		}
	}

	return errorResult(fmt.Errorf("session exceeded %d turns", r.maxTurns)), nil
}

// sessionTools returns the tool schemas offered to the model.
func sessionTools() []anthropic.ToolUnionParam {
	return []anthropic.ToolUnionParam{
		{
			OfTool: &anthropic.ToolParam{
				Name:        "bash",
				Description: anthropic.String("Run a shell command in the repository and return its combined output."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"command": map[string]interface{}{
							"type":        "string",
							"description": "The shell command to run",
						},
					},
					Required: []string{"command"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "read_file",
				Description: anthropic.String("Read a file and return its contents."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "File path, relative to the repository root",
						},
					},
					Required: []string{"path"},
				},
			},
		},
		{
			OfTool: &anthropic.ToolParam{
				Name:        "write_file",
				Description: anthropic.String("Write content to a file, creating parent directories as needed."),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: map[string]interface{}{
						"path": map[string]interface{}{
							"type":        "string",
							"description": "File path, relative to the repository root",
						},
						"content": map[string]interface{}{
							"type":        "string",
							"description": "Content to write",
						},
					},
					Required: []string{"path", "content"},
				},
			},
		},
	}
}

// executeTool runs one tool call. Errors are returned as tool results so
// the model can react to them.
func executeTool(ctx context.Context, workDir, name string, input json.RawMessage) (string, bool) {
	switch name {
	case "bash":
		var args struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return fmt.Sprintf("invalid input: %v", err), true
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", args.Command)
		cmd.Dir = workDir
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Sprintf("%s\ncommand failed: %v", out, err), true
		}
		return string(out), false

	case "read_file":
		var args struct {
			Path string `json:"path"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return fmt.Sprintf("invalid input: %v", err), true
		}
		data, err := os.ReadFile(resolvePath(workDir, args.Path))
		if err != nil {
			return err.Error(), true
		}
		return string(data), false

	case "write_file":
		var args struct {
			Path    string `json:"path"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(input, &args); err != nil {
			return fmt.Sprintf("invalid input: %v", err), true
		}
		path := resolvePath(workDir, args.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return err.Error(), true
		}
		if err := os.WriteFile(path, []byte(args.Content), 0644); err != nil {
			return err.Error(), true
		}
		return fmt.Sprintf("wrote %s", args.Path), false

	default:
		return fmt.Sprintf("unknown tool %q", name), true
	}
}

func resolvePath(workDir, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(workDir, path)
}
