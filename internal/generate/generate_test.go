package generate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/heychef/pkg/provider/llm"
	llmmock "github.com/MrWong99/heychef/pkg/provider/llm/mock"
)

const recipe = "Roast chicken at 180 °C for 75 minutes."

func TestBuildMessages_WithoutHistory(t *testing.T) {
	t.Parallel()
	msgs := BuildMessages(Request{
		Recipe:   recipe,
		Question: "what temperature",
		Profile:  Profile{SystemPrompt: "be helpful"},
		History:  []llm.Message{{Role: llm.RoleUser, Content: "ignored"}},
	})
	if len(msgs) != 2 {
		t.Fatalf("len = %d, want 2", len(msgs))
	}
	if msgs[0].Role != llm.RoleSystem || msgs[0].Content != "be helpful" {
		t.Errorf("system = %+v", msgs[0])
	}
	want := "Here is my recipe:\n" + recipe + "\n\nQuestion: what temperature"
	if msgs[1].Role != llm.RoleUser || msgs[1].Content != want {
		t.Errorf("user = %+v, want %q", msgs[1], want)
	}
}

func TestBuildMessages_WithHistory(t *testing.T) {
	t.Parallel()
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "how long"},
		{Role: llm.RoleAssistant, Content: "75 minutes"},
	}
	msgs := BuildMessages(Request{
		Recipe:     recipe,
		Question:   "and the temperature?",
		Profile:    Profile{SystemPrompt: "be helpful"},
		History:    history,
		UseHistory: true,
	})
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if !strings.HasPrefix(msgs[0].Content, "be helpful") || !strings.Contains(msgs[0].Content, recipe) {
		t.Errorf("system message must carry prompt and recipe, got %q", msgs[0].Content)
	}
	if msgs[1] != history[0] || msgs[2] != history[1] {
		t.Errorf("history not preserved in order: %+v", msgs[1:3])
	}
	if msgs[3] != (llm.Message{Role: llm.RoleUser, Content: "and the temperature?"}) {
		t.Errorf("last = %+v", msgs[3])
	}
}

func TestGenerate_Batch(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " 180 degrees Celsius \n"}}
	g, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := g.Generate(context.Background(), Request{Recipe: recipe, Question: "what temperature", Profile: DefaultProfiles()[ModeNormal]})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "180 degrees Celsius" {
		t.Errorf("answer = %q", got)
	}
	calls := p.CompleteCalls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	msgs := calls[0].Req.Messages
	if last := msgs[len(msgs)-1]; last.Role != llm.RoleUser || !strings.HasSuffix(last.Content, "Question: what temperature") {
		t.Errorf("last user message = %+v", last)
	}
}

func TestGenerate_ProfileDrivesRequest(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	g, _ := New(p)
	table := DefaultProfiles()
	for _, m := range []Mode{ModeNormal, ModeSassy} {
		if _, err := g.Generate(context.Background(), Request{Question: "q", Profile: table[m]}); err != nil {
			t.Fatalf("Generate(%s): %v", m, err)
		}
	}
	calls := p.CompleteCalls()
	normal, sassy := calls[0].Req, calls[1].Req
	if normal.Temperature != 0.2 || normal.MaxTokens != 150 {
		t.Errorf("normal request = %v/%d", normal.Temperature, normal.MaxTokens)
	}
	if sassy.Temperature != 0.7 || sassy.MaxTokens != 100 {
		t.Errorf("sassy request = %v/%d", sassy.Temperature, sassy.MaxTokens)
	}
	if normal.Messages[0].Content == sassy.Messages[0].Content {
		t.Error("system prompts must differ between modes")
	}
}

func TestGenerate_ClampsMaxTokens(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		CompleteResponse:  &llm.CompletionResponse{Content: "ok"},
		ModelCapabilities: llm.ModelCapabilities{MaxOutputTokens: 64},
	}
	g, _ := New(p)
	_, _ = g.Generate(context.Background(), Request{Profile: Profile{MaxTokens: 150}})
	if got := p.CompleteCalls()[0].Req.MaxTokens; got != 64 {
		t.Errorf("MaxTokens = %d, want 64", got)
	}
}

func TestGenerate_Errors(t *testing.T) {
	t.Parallel()
	provErr := errors.New("429")
	for name, p := range map[string]*llmmock.Provider{
		"provider error": {CompleteErr: provErr},
		"nil response":   {},
		"blank content":  {CompleteResponse: &llm.CompletionResponse{Content: "  "}},
	} {
		g, _ := New(p)
		_, err := g.Generate(context.Background(), Request{})
		if !errors.Is(err, ErrServiceFailure) {
			t.Errorf("%s: err = %v, want ErrServiceFailure", name, err)
		}
	}
}

func collect(t *testing.T, ch <-chan Chunk) []Chunk {
	t.Helper()
	var out []Chunk
	timeout := time.After(2 * time.Second)
	for {
		select {
		case c, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, c)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func TestGenerateStream_WellFormed(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{StreamChunks: []llm.Chunk{
		{Text: "The chi"}, {Text: ""}, {Text: "cken is "}, {Text: "done."}, {Text: " Rest it.", FinishReason: llm.FinishStop},
	}}
	g, _ := New(p)
	ch, err := g.GenerateStream(context.Background(), Request{Profile: DefaultProfiles()[ModeSassy]})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	chunks := collect(t, ch)
	if len(chunks) != 4 {
		t.Fatalf("chunks = %+v, want 4", chunks)
	}
	var text strings.Builder
	finals := 0
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("chunk %d Seq = %d", i, c.Seq)
		}
		if c.Err != nil {
			t.Errorf("chunk %d Err = %v", i, c.Err)
		}
		if c.IsFinal {
			finals++
		}
		text.WriteString(c.Text)
	}
	if finals != 1 || !chunks[3].IsFinal {
		t.Errorf("want exactly one final chunk at the end, got %d", finals)
	}
	if text.String() != "The chicken is done. Rest it." {
		t.Errorf("text = %q", text.String())
	}
	if req := p.StreamCalls()[0].Req; req.Temperature != 0.7 || req.MaxTokens != 100 {
		t.Errorf("stream request = %v/%d, want sassy profile", req.Temperature, req.MaxTokens)
	}
}

func TestGenerateStream_Failures(t *testing.T) {
	t.Parallel()
	tests := map[string][]llm.Chunk{
		"closed without finish": {{Text: "The chi"}},
		"finish error":          {{Text: "The chi"}, {Text: "connection reset", FinishReason: llm.FinishError}},
	}
	for name, script := range tests {
		t.Run(name, func(t *testing.T) {
			g, _ := New(&llmmock.Provider{StreamChunks: script})
			ch, err := g.GenerateStream(context.Background(), Request{})
			if err != nil {
				t.Fatalf("GenerateStream: %v", err)
			}
			chunks := collect(t, ch)
			last := chunks[len(chunks)-1]
			if last.IsFinal {
				t.Error("failed stream must not carry a final chunk")
			}
			if !errors.Is(last.Err, ErrServiceFailure) {
				t.Errorf("last.Err = %v, want ErrServiceFailure", last.Err)
			}
			if last.Seq != len(chunks)-1 {
				t.Errorf("last.Seq = %d, want %d", last.Seq, len(chunks)-1)
			}
		})
	}
}

func TestGenerateStream_OpenError(t *testing.T) {
	t.Parallel()
	g, _ := New(&llmmock.Provider{StreamErr: errors.New("401")})
	if _, err := g.GenerateStream(context.Background(), Request{}); !errors.Is(err, ErrServiceFailure) {
		t.Errorf("err = %v, want ErrServiceFailure", err)
	}
}

func TestGenerateStream_Cancel(t *testing.T) {
	t.Parallel()
	p := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "a"}, {Text: "b"}, {Text: "c", FinishReason: llm.FinishStop}},
		ChunkDelay:   50 * time.Millisecond,
	}
	g, _ := New(p)
	ctx, cancel := context.WithCancel(context.Background())
	ch, err := g.GenerateStream(ctx, Request{})
	if err != nil {
		t.Fatalf("GenerateStream: %v", err)
	}
	first := <-ch
	cancel()
	if first.Text != "a" {
		t.Errorf("first = %+v", first)
	}
	for c := range ch {
		if c.IsFinal || c.Err != nil {
			t.Errorf("unexpected terminal chunk after cancel: %+v", c)
		}
	}
}
