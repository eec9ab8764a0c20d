package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voiceforge/voiceforge/internal/llm"
	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

func TestChatSendsExpectedPayload(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"message": map[string]string{"role": "assistant", "content": "你好！"},
		})
	}))
	t.Cleanup(srv.Close)

	c := llm.NewOllamaClient(srv.URL, "gemma3:4b")
	reply, err := c.Chat(context.Background(), []models.ChatMessage{
		{Role: models.RoleUser, Content: "hi"},
	}, models.ChatOptions{Temperature: 0.7, TopP: 0.9, MaxTokens: 80})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply != "你好！" {
		t.Errorf("Chat() = %q, want %q", reply, "你好！")
	}

	if got["model"] != "gemma3:4b" {
		t.Errorf("request model = %v, want gemma3:4b", got["model"])
	}
	if got["stream"] != false {
		t.Errorf("request stream = %v, want false", got["stream"])
	}
	opts, ok := got["options"].(map[string]interface{})
	if !ok {
		t.Fatalf("request options missing: %v", got)
	}
	if opts["num_predict"] != float64(80) {
		t.Errorf("options.num_predict = %v, want 80", opts["num_predict"])
	}
}

func TestChatNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	c := llm.NewOllamaClient(srv.URL, "missing")
	_, err := c.Chat(context.Background(), nil, models.ChatOptions{})

	var remoteErr *contracts.RemoteCallError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Chat() error = %v, want *RemoteCallError", err)
	}
	if remoteErr.Status != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", remoteErr.Status)
	}
}

func TestChatTransportFailure(t *testing.T) {
	c := llm.NewOllamaClient("http://127.0.0.1:1", "gemma3:4b")
	_, err := c.Chat(context.Background(), nil, models.ChatOptions{})

	var remoteErr *contracts.RemoteCallError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("Chat() error = %v, want *RemoteCallError", err)
	}
	if remoteErr.Status != 0 {
		t.Errorf("Status = %d, want 0 for transport failure", remoteErr.Status)
	}
}

func TestChatInlineError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"error": "out of memory"})
	}))
	t.Cleanup(srv.Close)

	c := llm.NewOllamaClient(srv.URL, "gemma3:4b")
	_, err := c.Chat(context.Background(), nil, models.ChatOptions{})
	if err == nil {
		t.Fatal("Chat() succeeded, want error from inline error field")
	}
}

func TestPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q, want /api/tags", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"models": []string{}})
	}))
	t.Cleanup(srv.Close)

	c := llm.NewOllamaClient(srv.URL, "gemma3:4b")
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
