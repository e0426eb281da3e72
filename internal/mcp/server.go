// Package mcp exposes research tasks as MCP (Model Context Protocol) tools
// so that coding assistants can start and inspect research.
package mcp

import (
	"context"
	"errors"
	"fmt"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/dumplingcafe/research/internal/models"
	"github.com/dumplingcafe/research/internal/research"
)

// Service is the part of the orchestrator the tools drive.
type Service interface {
	StartResearch(ctx context.Context, req research.Request) (string, error)
	Task(ctx context.Context, id string) (*models.ResearchTask, error)
	Tasks() []*models.ResearchTask
	DeleteTask(ctx context.Context, id string) error
}

var _ Service = (*research.Orchestrator)(nil)

// Server wraps the research service as MCP tools.
type Server struct {
	server        *gomcp.Server
	svc           Service
	catalog       *models.Catalog
	defaultPreset string
}

// NewServer creates a new MCP server. Requests without a preset use
// defaultPreset.
func NewServer(svc Service, catalog *models.Catalog, defaultPreset, version string) *Server {
	if version == "" {
		version = "dev"
	}
	s := &Server{svc: svc, catalog: catalog, defaultPreset: defaultPreset}
	s.server = gomcp.NewServer(&gomcp.Implementation{Name: "research", Version: version}, nil)
	s.registerTools()
	return s
}

// Run serves on stdio until the client disconnects or ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type startResearchInput struct {
	Query         string `json:"query" jsonschema:"the research question"`
	Mode          string `json:"mode,omitempty" jsonschema:"quick for a single web search call or deep for the multi-agent pipeline (default deep)"`
	Preset        string `json:"preset,omitempty" jsonschema:"model preset: fast, balanced, quality or custom"`
	Planner       string `json:"planner,omitempty" jsonschema:"planner model id override"`
	Researcher    string `json:"researcher,omitempty" jsonschema:"researcher model id override"`
	Writer        string `json:"writer,omitempty" jsonschema:"writer model id override"`
	Critic        string `json:"critic,omitempty" jsonschema:"critic model id override"`
	CriticEnabled *bool  `json:"critic_enabled,omitempty" jsonschema:"run the critic review loop in deep mode"`
}

type startResearchOutput struct {
	TaskID string                `json:"task_id"`
	Mode   string                `json:"mode"`
	Models models.ResearchModels `json:"models"`
}

type taskIDInput struct {
	TaskID string `json:"task_id" jsonschema:"the research task id"`
}

type logOutput struct {
	Agent     string `json:"agent"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type taskOutput struct {
	ID            string                `json:"id"`
	Query         string                `json:"query"`
	Mode          string                `json:"mode"`
	Status        string                `json:"status"`
	Progress      int                   `json:"progress"`
	TotalCost     float64               `json:"total_cost"`
	CriticEnabled bool                  `json:"critic_enabled"`
	Models        models.ResearchModels `json:"models"`
	Results       []string              `json:"results,omitempty"`
	Logs          []logOutput           `json:"logs,omitempty"`
	Timestamp     int64                 `json:"timestamp"`
	UpdatedAt     int64                 `json:"updated_at"`
}

type listResearchInput struct {
	Status string `json:"status,omitempty" jsonschema:"filter by status (pending, researching, completed, failed)"`
}

type listResearchOutput struct {
	Tasks []taskOutput `json:"tasks,omitempty"`
	Count int          `json:"count"`
}

type deleteResearchOutput struct {
	Message string `json:"message"`
}

type listModelsInput struct {
	Capability string `json:"capability,omitempty" jsonschema:"only models tagged with this capability (reasoning, search, agentic, writing, research)"`
}

type modelOutput struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Tier             string   `json:"tier"`
	Capabilities     []string `json:"capabilities,omitempty"`
	InputPerMillion  float64  `json:"input_per_million"`
	OutputPerMillion float64  `json:"output_per_million"`
}

type listModelsOutput struct {
	Models  []modelOutput `json:"models,omitempty"`
	Presets []string      `json:"presets,omitempty"`
	Count   int           `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "start_research",
		Description: "Start a research task in the background. Returns the task id; poll get_research for progress and results.",
	}, s.handleStartResearch)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_research",
		Description: "Get a research task by id, including status, progress, cost, result sections and the activity log.",
	}, s.handleGetResearch)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_research",
		Description: "List research tasks newest first, without logs, with an optional status filter.",
	}, s.handleListResearch)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_research",
		Description: "Delete a research task. A running pipeline stops recording progress for it.",
	}, s.handleDeleteResearch)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_models",
		Description: "List selectable models with prices per million tokens, and the available presets.",
	}, s.handleListModels)
}

// --- Tool handlers ---

func (s *Server) handleStartResearch(ctx context.Context, _ *gomcp.CallToolRequest, input startResearchInput) (*gomcp.CallToolResult, startResearchOutput, error) {
	mode := models.Mode(input.Mode)
	if mode == "" {
		mode = models.ModeDeep
	}
	resolved, err := s.catalog.ResolveModels(input.Preset, s.defaultPreset, models.ResearchModels{
		Planner:    input.Planner,
		Researcher: input.Researcher,
		Writer:     input.Writer,
		Critic:     input.Critic,
	})
	if err != nil {
		return errorResult(err.Error()), startResearchOutput{}, nil
	}

	id, err := s.svc.StartResearch(ctx, research.Request{
		Query:         input.Query,
		Mode:          mode,
		Models:        resolved,
		CriticEnabled: input.CriticEnabled,
	})
	if err != nil {
		return errorResult(fmt.Sprintf("starting research: %s", err)), startResearchOutput{}, nil
	}
	return nil, startResearchOutput{TaskID: id, Mode: string(mode), Models: resolved}, nil
}

func (s *Server) handleGetResearch(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, taskOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), taskOutput{}, nil
	}
	task, err := s.svc.Task(ctx, input.TaskID)
	if err != nil {
		return errorResult(fmt.Sprintf("getting research task %s: %s", input.TaskID, err)), taskOutput{}, nil
	}
	return nil, taskToOutput(task, true), nil
}

func (s *Server) handleListResearch(_ context.Context, _ *gomcp.CallToolRequest, input listResearchInput) (*gomcp.CallToolResult, listResearchOutput, error) {
	var out listResearchOutput
	for _, t := range s.svc.Tasks() {
		if input.Status != "" && string(t.Status) != input.Status {
			continue
		}
		out.Tasks = append(out.Tasks, taskToOutput(t, false))
	}
	out.Count = len(out.Tasks)
	return nil, out, nil
}

func (s *Server) handleDeleteResearch(ctx context.Context, _ *gomcp.CallToolRequest, input taskIDInput) (*gomcp.CallToolResult, deleteResearchOutput, error) {
	if input.TaskID == "" {
		return errorResult("task_id is required"), deleteResearchOutput{}, nil
	}
	err := s.svc.DeleteTask(ctx, input.TaskID)
	if errors.Is(err, research.ErrTaskNotFound) {
		return errorResult(fmt.Sprintf("research task %s not found", input.TaskID)), deleteResearchOutput{}, nil
	}
	if err != nil {
		return errorResult(fmt.Sprintf("deleting research task %s: %s", input.TaskID, err)), deleteResearchOutput{}, nil
	}
	return nil, deleteResearchOutput{Message: fmt.Sprintf("research task %s deleted", input.TaskID)}, nil
}

func (s *Server) handleListModels(_ context.Context, _ *gomcp.CallToolRequest, input listModelsInput) (*gomcp.CallToolResult, listModelsOutput, error) {
	list := s.catalog.All()
	if input.Capability != "" {
		list = s.catalog.ModelsFor(input.Capability)
	}
	out := listModelsOutput{Models: make([]modelOutput, len(list)), Count: len(list)}
	for i, m := range list {
		out.Models[i] = modelOutput{
			ID:               m.ID,
			Name:             m.Name,
			Tier:             m.Tier,
			Capabilities:     m.Capabilities,
			InputPerMillion:  m.InputPerMillion,
			OutputPerMillion: m.OutputPerMillion,
		}
	}
	for _, p := range s.catalog.Presets() {
		out.Presets = append(out.Presets, p.Name)
	}
	return nil, out, nil
}

// --- Helpers ---

func taskToOutput(t *models.ResearchTask, withLogs bool) taskOutput {
	out := taskOutput{
		ID:            t.ID,
		Query:         t.Query,
		Mode:          string(t.Mode),
		Status:        string(t.Status),
		Progress:      t.Progress,
		TotalCost:     t.TotalCost,
		CriticEnabled: t.CriticEnabled,
		Models:        t.Models,
		Results:       t.Results,
		Timestamp:     t.Timestamp,
		UpdatedAt:     t.UpdatedAt,
	}
	if withLogs {
		for _, l := range t.Logs {
			out.Logs = append(out.Logs, logOutput{Agent: l.Agent, Message: l.Message, Timestamp: l.Timestamp})
		}
	}
	return out
}

func errorResult(msg string) *gomcp.CallToolResult {
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
