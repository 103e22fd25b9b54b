package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/kidsworld/internal/pipeline"
	"github.com/kalambet/kidsworld/internal/profile"
	"github.com/kalambet/kidsworld/internal/vocab"
)

// --- mocks ---

type mockAdviser struct {
	mu        sync.Mutex
	healthReq pipeline.HealthRequest
	studyReq  pipeline.StudyRequest
	ctxErr    error
	answer    *pipeline.Answer
	err       error
}

func (m *mockAdviser) AskHealth(ctx context.Context, req pipeline.HealthRequest) (*pipeline.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthReq = req
	m.ctxErr = ctx.Err()
	return m.answer, m.err
}

func (m *mockAdviser) AskStudy(ctx context.Context, req pipeline.StudyRequest) (*pipeline.Answer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.studyReq = req
	m.ctxErr = ctx.Err()
	return m.answer, m.err
}

type mockKV struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *mockKV) GetValue(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *mockKV) SetValue(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

type mockProfileStore struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *mockProfileStore) SetProfileKey(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *mockProfileStore) GetAllProfileKeys() (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(map[string]string, len(m.data))
	for k, v := range m.data {
		cp[k] = v
	}
	return cp, nil
}

// --- helpers ---

func newTestMCPDeps(t *testing.T) (MCPDeps, *mockAdviser) {
	t.Helper()
	adviser := &mockAdviser{answer: &pipeline.Answer{Answer: "Germs tickle your nose.", ImageURL: "data:image/jpeg;base64,AA=="}}
	return MCPDeps{
		Adviser: adviser,
		Profile: profile.NewManager(&mockProfileStore{data: map[string]string{}}),
		Vocab:   vocab.New(&mockKV{values: map[string]string{}}, vocab.WithLogger(quietLogger)),
	}, adviser
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	if s := NewMCPServer(deps); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_AskHealth(t *testing.T) {
	deps, adviser := newTestMCPDeps(t)
	deps.Profile.Update(profile.Profile{Name: "Mia", Language: "Spanish"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := mcpAskHealth(deps)(ctx, makeCallToolRequest("ask_health_adviser", map[string]any{
		"question": "Why do we sneeze?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var ans pipeline.Answer
	if err := json.Unmarshal([]byte(toolText(t, result)), &ans); err != nil {
		t.Fatalf("parsing answer: %v", err)
	}
	if ans.Answer != "Germs tickle your nose." {
		t.Errorf("answer = %q", ans.Answer)
	}
	if adviser.healthReq.Language != "Spanish" {
		t.Errorf("language = %q, want profile default Spanish", adviser.healthReq.Language)
	}
	if !strings.Contains(adviser.healthReq.Learner, "Mia") {
		t.Errorf("learner = %q, want profile summary", adviser.healthReq.Learner)
	}
	if adviser.ctxErr != nil {
		t.Errorf("adviser saw cancelled context: %v", adviser.ctxErr)
	}
}

func TestMCPTool_AskHealth_Errors(t *testing.T) {
	deps, adviser := newTestMCPDeps(t)
	handler := mcpAskHealth(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask_health_adviser", map[string]any{}))
	if err != nil || !result.IsError {
		t.Fatalf("missing question: result = %+v, err = %v", result, err)
	}

	adviser.err = errors.New("429 quota")
	result, err = handler(context.Background(), makeCallToolRequest("ask_health_adviser", map[string]any{"question": "q"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "quota") {
		t.Errorf("expected tool error mentioning quota, got %q", toolText(t, result))
	}
}

func TestMCPTool_AskStudy(t *testing.T) {
	deps, adviser := newTestMCPDeps(t)

	result, err := mcpAskStudy(deps)(context.Background(), makeCallToolRequest("ask_study_buddy", map[string]any{
		"question": "What is photosynthesis?",
		"subject":  "biology",
		"language": "German",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if adviser.studyReq.Subject != "biology" || adviser.studyReq.Language != "German" {
		t.Errorf("request = %+v", adviser.studyReq)
	}
}

func TestMCPTool_Vocab(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	item := deps.Vocab.Add([]string{"sun", "sea", "sand"}, "data:image/jpeg;base64,AAAA")

	result, err := mcpListVocab(deps)(context.Background(), makeCallToolRequest("list_vocab", nil))
	if err != nil || result.IsError {
		t.Fatalf("list_vocab: %v %+v", err, result)
	}
	text := toolText(t, result)
	if strings.Contains(text, "base64") {
		t.Errorf("list_vocab should omit images: %s", text)
	}
	if !strings.Contains(text, item.ID) {
		t.Errorf("list_vocab missing %s: %s", item.ID, text)
	}

	result, err = mcpDeleteVocab(deps)(context.Background(), makeCallToolRequest("delete_vocab", map[string]any{"id": item.ID}))
	if err != nil || result.IsError {
		t.Fatalf("delete_vocab: %v %+v", err, result)
	}
	if n := len(deps.Vocab.List()); n != 0 {
		t.Errorf("vocab has %d items after delete, want 0", n)
	}

	result, _ = mcpDeleteVocab(deps)(context.Background(), makeCallToolRequest("delete_vocab", map[string]any{}))
	if !result.IsError {
		t.Error("delete_vocab without id should fail")
	}
}

func TestMCPResource_Vocab(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Vocab.Add([]string{"a", "b", "c"}, "data:image/jpeg;base64,AAAA")

	contents, err := mcpResourceVocab(deps)(context.Background(), makeReadResourceRequest("vocab://saved"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	var items []map[string]any
	if err := json.Unmarshal([]byte(tc.Text), &items); err != nil {
		t.Fatalf("parsing resource: %v", err)
	}
	if len(items) != 1 || tc.URI != "vocab://saved" {
		t.Errorf("resource = %s (uri %s)", tc.Text, tc.URI)
	}
}

func TestMCPResource_Profile(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	deps.Profile.SetField(profile.KeyName, "Leo")

	contents, err := mcpResourceProfile(deps)(context.Background(), makeReadResourceRequest("learner://profile"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	tc := contents[0].(mcp.TextResourceContents)
	if !strings.Contains(tc.Text, `"name":"Leo"`) {
		t.Errorf("profile resource = %s", tc.Text)
	}
}
