package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/heychef/pkg/provider/llm"
)

func TestConvertMessage(t *testing.T) {
	for _, role := range []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant} {
		got := convertMessage(llm.Message{Role: role, Content: "Rest the chicken."})
		if got.Role != role {
			t.Errorf("role = %q, want %q", got.Role, role)
		}
		if got.ContentString() != "Rest the chicken." {
			t.Errorf("%s: content = %q", role, got.ContentString())
		}
	}
}

func TestBuildParams(t *testing.T) {
	p := &Provider{model: "llama3.2"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "You are ChefBot.",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "how long?"}},
		Temperature:  0.2,
		MaxTokens:    150,
	})
	if params.Model != "llama3.2" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("messages = %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0.2 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 150 {
		t.Errorf("max tokens = %v", params.MaxTokens)
	}

	zero := p.buildParams(llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "x"}}})
	if zero.Temperature != nil || zero.MaxTokens != nil {
		t.Error("zero temperature/max tokens must be left to the backend default")
	}
}

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model      string
		wantWindow int
	}{
		{"gpt-4o-mini", 128_000},
		{"claude-3-5-haiku-latest", 200_000},
		{"gemini-2.0-flash", 1_048_576},
		{"llama3.2", 128_000},
		{"tinyllama", 8_192},
	}
	for _, tt := range tests {
		if got := modelCapabilities(tt.model).ContextWindow; got != tt.wantWindow {
			t.Errorf("%s: window = %d, want %d", tt.model, got, tt.wantWindow)
		}
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty backend")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "m", anyllmlib.WithAPIKey("k")); err == nil {
		t.Error("expected error for unsupported backend")
	}
}

func TestNew_Backends(t *testing.T) {
	p, err := New("openai", "gpt-4o", anyllmlib.WithAPIKey("sk-test"))
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if p.model != "gpt-4o" {
		t.Errorf("model = %q", p.model)
	}
	if _, err := New("ollama", "llama3.2"); err != nil {
		t.Errorf("ollama without key: %v", err)
	}
}

func TestNew_MissingAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := New("openai", "gpt-4o"); err == nil {
		t.Fatal("expected error for missing API key")
	}
}
