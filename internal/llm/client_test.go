package llm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestOpenAIClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header: %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"Mutated Code\n"}}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Model: "gpt-4o", APIKey: "test-key", APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	resp, err := c.Chat(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "Mutated Code\n" || resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("response: %+v", resp)
	}
}

func TestAnthropicClient_ErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{Model: "claude-sonnet-4", APIKey: "k", APIURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Chat(context.Background(), "", "hi"); err == nil {
		t.Fatal("want error from API error payload")
	}
}

func TestNewClient_ProviderInference(t *testing.T) {
	c, err := NewClient(Config{Model: "claude-opus-4"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := c.(*anthropicClient); !ok {
		t.Errorf("claude- model should infer anthropic, got %T", c)
	}

	c, err = NewClient(Config{Model: "deepseek-chat"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := c.(*openaiClient); !ok {
		t.Errorf("default provider should be openai, got %T", c)
	}
}

func TestFencedBlocks(t *testing.T) {
	content := "Mutated Code\n```rust\nfn main() {}\n```\nnotes\n```\nplain\n```\n"
	got := FencedBlocks(content, "rust")
	want := []string{"fn main() {}\n"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("rust blocks mismatch (-want +got):\n%s", diff)
	}

	all := FencedBlocks(content, "")
	if len(all) != 2 {
		t.Errorf("want 2 blocks, got %d", len(all))
	}

	if FirstFencedBlock("no fences here", "rust") != "" {
		t.Error("want empty for fence-less content")
	}
}
