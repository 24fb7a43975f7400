package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mesolimbo/igg/pkg/markov"
	"github.com/mesolimbo/igg/pkg/templating"
)

// Tool input types.

type generateIdeasInput struct {
	ModelName string `json:"model_name" jsonschema:"Name of the markov model to generate from"`
	Count     int    `json:"count,omitempty" jsonschema:"Number of ideas to generate (default 5)"`
}

type generateWithTemplateInput struct {
	ModelName string `json:"model_name" jsonschema:"Name of the markov model to generate from"`
	Template  string `json:"template" jsonschema:"Template with $1, $2, ... placeholders, one per model column"`
	Count     int    `json:"count,omitempty" jsonschema:"Number of ideas to generate (default 5)"`
}

type listModelsInput struct{}

// MCPServer exposes idea generation over the Model Context Protocol, both
// as a streamable HTTP endpoint and over stdio.
type MCPServer struct {
	store    *markov.Store
	composer *templating.Composer
	stats    *StatsAPI
	maxIdeas int
	logger   *slog.Logger
	server   *sdkmcp.Server
}

func NewMCPServer(store *markov.Store, composer *templating.Composer, stats *StatsAPI, maxIdeas int, logger *slog.Logger) *MCPServer {
	m := &MCPServer{
		store:    store,
		composer: composer,
		stats:    stats,
		maxIdeas: maxIdeas,
		logger:   logger,
	}

	m.server = sdkmcp.NewServer(
		&sdkmcp.Implementation{
			Name:    "igg-markov",
			Version: Version,
		},
		nil,
	)
	m.registerTools()

	return m
}

// registerTools adds all MCP tools to the server.
func (m *MCPServer) registerTools() {
	sdkmcp.AddTool(m.server, &sdkmcp.Tool{
		Name:        "list_models",
		Description: "List the markov models available for idea generation, both on the remote origin and in the local cache.",
	}, m.handleListModels)

	sdkmcp.AddTool(m.server, &sdkmcp.Tool{
		Name:        "generate_ideas",
		Description: "Generate invention ideas from a markov model. Each idea is one phrase per model column joined with spaces.",
	}, m.handleGenerateIdeas)

	sdkmcp.AddTool(m.server, &sdkmcp.Tool{
		Name:        "generate_with_template",
		Description: "Generate invention ideas and render each one through a template. Placeholders $1, $2, ... are replaced with the phrase from the matching model column.",
	}, m.handleGenerateWithTemplate)
}

// HTTPHandler returns the streamable HTTP handler for the MCP endpoint.
func (m *MCPServer) HTTPHandler() http.Handler {
	return sdkmcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *sdkmcp.Server { return m.server },
		nil,
	)
}

// RunStdio serves the MCP server over stdin/stdout until ctx is canceled.
func (m *MCPServer) RunStdio(ctx context.Context) error {
	return m.server.Run(ctx, &sdkmcp.StdioTransport{})
}

func (m *MCPServer) handleListModels(ctx context.Context, _ *sdkmcp.CallToolRequest, _ listModelsInput) (*sdkmcp.CallToolResult, any, error) {
	index, err := m.store.List(ctx)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to list models: %v", err)), nil, nil
	}
	return textResult(writeToolJSON(index)), nil, nil
}

func (m *MCPServer) handleGenerateIdeas(ctx context.Context, _ *sdkmcp.CallToolRequest, input generateIdeasInput) (*sdkmcp.CallToolResult, any, error) {
	ideas, err := m.generate(ctx, "generate_ideas", input.ModelName, "", input.Count)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	resp := struct {
		Model string   `json:"model"`
		Count int      `json:"count"`
		Ideas []string `json:"ideas"`
	}{
		Model: input.ModelName,
		Count: len(ideas),
		Ideas: ideas,
	}
	return textResult(writeToolJSON(resp)), nil, nil
}

func (m *MCPServer) handleGenerateWithTemplate(ctx context.Context, _ *sdkmcp.CallToolRequest, input generateWithTemplateInput) (*sdkmcp.CallToolResult, any, error) {
	if input.Template == "" {
		return errorResult("template must not be empty"), nil, nil
	}

	ideas, err := m.generate(ctx, "generate_with_template", input.ModelName, input.Template, input.Count)
	if err != nil {
		return errorResult(err.Error()), nil, nil
	}

	resp := struct {
		Model    string   `json:"model"`
		Template string   `json:"template"`
		Count    int      `json:"count"`
		Ideas    []string `json:"ideas"`
	}{
		Model:    input.ModelName,
		Template: input.Template,
		Count:    len(ideas),
		Ideas:    ideas,
	}
	return textResult(writeToolJSON(resp)), nil, nil
}

// generate loads the named model and produces count ideas, recording the
// call in the generation log.
func (m *MCPServer) generate(ctx context.Context, tool, modelName, template string, count int) ([]string, error) {
	if err := markov.ValidateModelName(modelName); err != nil {
		return nil, fmt.Errorf("invalid model name %q", modelName)
	}

	if count <= 0 {
		count = 5
	}
	if count > m.maxIdeas {
		count = m.maxIdeas
	}

	models, err := m.store.Get(ctx, modelName)
	if err != nil {
		if errors.Is(err, markov.ErrModelNotFound) {
			return nil, fmt.Errorf("model %q not found", modelName)
		}
		return nil, fmt.Errorf("failed to load model %q: %v", modelName, err)
	}

	start := time.Now()
	ideas, err := m.composer.GenerateRows(models, template, count)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ideas: %v", err)
	}
	if m.stats != nil {
		m.stats.LogGeneration(ctx, tool, modelName, len(ideas), time.Since(start))
	}
	return ideas, nil
}

// textResult creates a successful CallToolResult with text content.
func textResult(text string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{
			&sdkmcp.TextContent{Text: text},
		},
	}
}

// errorResult creates an error CallToolResult with text content.
func errorResult(msg string) *sdkmcp.CallToolResult {
	return &sdkmcp.CallToolResult{
		Content: []sdkmcp.Content{
			&sdkmcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

func writeToolJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return `{"error":"failed to marshal response"}`
	}
	return string(data)
}
