package engine

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

type mockChecker struct {
	missing map[string]bool
	checked []string
}

func (m *mockChecker) CheckModel(_ context.Context, name string) error {
	m.checked = append(m.checked, name)
	if m.missing[name] {
		return errors.New("404 model not found")
	}
	return nil
}

func TestEnsureReady_AllModelsPresent(t *testing.T) {
	m := &mockChecker{}
	var out bytes.Buffer
	err := EnsureReady(context.Background(), m, []string{"gemini-2.5-flash", "imagen-4.0-generate-001"}, &out)
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.checked) != 2 {
		t.Errorf("checked = %v, want 2 models", m.checked)
	}
	if !strings.Contains(out.String(), "model imagen-4.0-generate-001: ready") {
		t.Errorf("output = %q, missing ready line", out.String())
	}
}

func TestEnsureReady_SkipsDuplicatesAndEmpty(t *testing.T) {
	m := &mockChecker{}
	err := EnsureReady(context.Background(), m, []string{"a", "", "a", "b"}, &bytes.Buffer{})
	if err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if strings.Join(m.checked, ",") != "a,b" {
		t.Errorf("checked = %v, want [a b]", m.checked)
	}
}

func TestEnsureReady_MissingModel(t *testing.T) {
	m := &mockChecker{missing: map[string]bool{"b": true}}
	var out bytes.Buffer
	err := EnsureReady(context.Background(), m, []string{"a", "b", "c"}, &out)
	if err == nil {
		t.Fatal("expected error for missing model")
	}
	if !strings.Contains(err.Error(), "model b") {
		t.Errorf("err = %v, want mention of model b", err)
	}
	if len(m.checked) != 2 {
		t.Errorf("checked = %v, want to stop at the first failure", m.checked)
	}
}
