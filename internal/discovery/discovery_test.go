package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/a2aproject/a2a-go/a2a"
)

func validAgentCard(name string) a2a.AgentCard {
	return a2a.AgentCard{
		Name:        name,
		Description: "Test agent",
		URL:         "http://should-be-overridden/a2a/invoke",
		Skills: []a2a.AgentSkill{
			{ID: name + "-skill", Name: "test", Description: "test skill"},
		},
	}
}

func agentCardServer(t *testing.T, card a2a.AgentCard) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/agent-card.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(card)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestDiscover_Success(t *testing.T) {
	srv := agentCardServer(t, validAgentCard("kubesage"))

	agent, err := (&Client{}).Discover(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if agent.Name != "kubesage" {
		t.Errorf("agent.Name = %q, want %q", agent.Name, "kubesage")
	}

	// The invoke URL keeps the card's path but uses the discovery host.
	want := srv.URL + "/a2a/invoke"
	if agent.InvokeURL != want {
		t.Errorf("agent.InvokeURL = %q, want %q", agent.InvokeURL, want)
	}
	if agent.Card.URL != want {
		t.Errorf("agent.Card.URL = %q, want %q", agent.Card.URL, want)
	}
}

func TestDiscover_TrailingSlashStripped(t *testing.T) {
	srv := agentCardServer(t, validAgentCard("kubesage"))

	agent, err := (&Client{}).Discover(context.Background(), srv.URL+"/")
	if err != nil {
		t.Fatalf("Discover() error: %v", err)
	}
	if agent.InvokeURL != srv.URL+"/a2a/invoke" {
		t.Errorf("InvokeURL = %q", agent.InvokeURL)
	}
}

func TestDiscover_Failures(t *testing.T) {
	badJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer badJSON.Close()

	serverError := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer serverError.Close()

	noURL := validAgentCard("kubesage")
	noURL.URL = ""
	incomplete := agentCardServer(t, noURL)

	tests := []struct {
		name, url, want string
	}{
		{"unreachable", "http://127.0.0.1:1", "fetching agent card"},
		{"invalid json", badJSON.URL, "parsing agent card"},
		{"non-200", serverError.URL, "HTTP 500"},
		{"incomplete card", incomplete.URL, "no name or URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&Client{}).Discover(context.Background(), tt.url)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestCardURL(t *testing.T) {
	if got := CardURL("http://kubesage:8000/"); got != "http://kubesage:8000/.well-known/agent-card.json" {
		t.Errorf("CardURL = %q", got)
	}
}

func TestResponseText_Artifacts(t *testing.T) {
	// ADK agents store their response in Artifacts, not History or Status.Message.
	task := &a2a.Task{
		ID: "task-1",
		Artifacts: []*a2a.Artifact{
			{ID: "artifact-1", Parts: a2a.ContentParts{a2a.TextPart{Text: "pod web-1 is OOMKilled"}}},
		},
	}
	if got := ResponseText(task); got != "pod web-1 is OOMKilled" {
		t.Errorf("ResponseText(artifacts) = %q", got)
	}
}

func TestResponseText_StatusMessage(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "error details"})
	task := &a2a.Task{ID: "task-2", Status: a2a.TaskStatus{Message: msg}}
	if got := ResponseText(task); got != "error details" {
		t.Errorf("ResponseText(status.message) = %q", got)
	}
}

func TestResponseText_History(t *testing.T) {
	task := &a2a.Task{
		ID: "task-3",
		History: []*a2a.Message{
			a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: "user turn"}),
			a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: "agent turn"}),
		},
	}
	if got := ResponseText(task); got != "agent turn" {
		t.Errorf("ResponseText(history) = %q", got)
	}
}

func TestResponseText_Message(t *testing.T) {
	msg := a2a.NewMessage(a2a.MessageRoleAgent,
		a2a.TextPart{Text: "hello"},
		a2a.DataPart{Data: map[string]any{"key": "val"}},
		a2a.TextPart{Text: "world"},
	)
	if got := ResponseText(msg); got != "hello\nworld" {
		t.Errorf("ResponseText(*Message) = %q", got)
	}
}

func TestResponseText_Empty(t *testing.T) {
	if got := ResponseText(&a2a.Task{ID: "task-5"}); got != "" {
		t.Errorf("ResponseText(empty task) = %q, want empty", got)
	}
}
