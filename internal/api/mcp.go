package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/profile"
	"github.com/kalambet/kidsworld/internal/vocab"
)

// Adviser answers health and study questions.
type Adviser interface {
	AskHealth(ctx context.Context, req pipeline.HealthRequest) (*pipeline.Answer, error)
	AskStudy(ctx context.Context, req pipeline.StudyRequest) (*pipeline.Answer, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Adviser Adviser
	Profile *profile.Manager
	Vocab   *vocab.Store
}

// NewMCPServer creates an MCP server with the kidsworld tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"kidsworld",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kidsworld: child-friendly health and study answers with pictures, plus the saved vocabulary list."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ask_health_adviser",
			mcp.WithDescription("Answer a child's health or body question in simple words, with an illustrating image."),
			mcp.WithString("question", mcp.Description("The child's question"), mcp.Required()),
			mcp.WithString("language", mcp.Description("Answer language (defaults to the learner profile, then English)")),
		),
		mcpAskHealth(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_study_buddy",
			mcp.WithDescription("Explain a school topic to a child, with an illustrating image."),
			mcp.WithString("question", mcp.Description("The question or topic"), mcp.Required()),
			mcp.WithString("subject", mcp.Description("School subject, e.g. math, biology, medicine")),
			mcp.WithString("language", mcp.Description("Answer language (defaults to the learner profile, then English)")),
		),
		mcpAskStudy(deps),
	)

	s.AddTool(
		mcp.NewTool("list_vocab",
			mcp.WithDescription("List the saved vocabulary word lists, most recent first."),
		),
		mcpListVocab(deps),
	)

	s.AddTool(
		mcp.NewTool("delete_vocab",
			mcp.WithDescription("Delete a saved vocabulary entry by id."),
			mcp.WithString("id", mcp.Description("Vocabulary entry id"), mcp.Required()),
		),
		mcpDeleteVocab(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"vocab://saved",
			"Saved Vocabulary",
			mcp.WithResourceDescription("Saved word lists without their pictures"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceVocab(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"learner://profile",
			"Learner Profile",
			mcp.WithResourceDescription("Current learner profile as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceProfile(deps),
	)

	return s
}

// learnerDefaults returns the language to use and the profile summary.
func (d MCPDeps) learnerDefaults(lang string) (string, string) {
	if d.Profile == nil {
		return lang, ""
	}
	p, err := d.Profile.GetProfile()
	if err != nil {
		return lang, ""
	}
	if lang == "" {
		lang = p.Language
	}
	return lang, profile.Summarize(p)
}

func mcpAskHealth(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}
		lang, learner := deps.learnerDefaults(req.GetString("language", ""))

		// A client hanging up does not abort a generation.
		ans, err := deps.Adviser.AskHealth(context.WithoutCancel(ctx), pipeline.HealthRequest{
			Question: question,
			Language: lang,
			Learner:  learner,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("health adviser failed: %v", err)), nil
		}
		return mcpJSON(ans)
	}
}

func mcpAskStudy(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || strings.TrimSpace(question) == "" {
			return mcpError("question is required"), nil
		}
		lang, learner := deps.learnerDefaults(req.GetString("language", ""))

		ans, err := deps.Adviser.AskStudy(context.WithoutCancel(ctx), pipeline.StudyRequest{
			Question: question,
			Subject:  req.GetString("subject", ""),
			Language: lang,
			Learner:  learner,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("study buddy failed: %v", err)), nil
		}
		return mcpJSON(ans)
	}
}

func mcpListVocab(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return mcpJSON(vocabSummaries(deps.Vocab.List()))
	}
}

func mcpDeleteVocab(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		deps.Vocab.Remove(id)
		return mcpText(fmt.Sprintf("Deleted vocabulary entry %s", id)), nil
	}
}

func mcpResourceVocab(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(vocabSummaries(deps.Vocab.List()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal vocabulary: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceProfile(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		p, err := deps.Profile.GetProfile()
		if err != nil {
			return nil, fmt.Errorf("failed to get profile: %w", err)
		}

		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal profile: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

type vocabSummary struct {
	ID        string   `json:"id"`
	Words     []string `json:"words"`
	Timestamp int64    `json:"timestamp"`
}

// vocabSummaries drops the pictures, which are too large for a tool result.
func vocabSummaries(items []vocab.Item) []vocabSummary {
	out := make([]vocabSummary, len(items))
	for i, it := range items {
		out[i] = vocabSummary{ID: it.ID, Words: it.Words, Timestamp: it.Timestamp}
	}
	return out
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
