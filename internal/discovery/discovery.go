// Package discovery finds a remote KubeSage agent by its A2A card and sends
// it questions.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"
	"github.com/a2aproject/a2a-go/a2asrv"
)

// Agent holds the discovered agent metadata.
type Agent struct {
	Name      string
	InvokeURL string
	Card      *a2a.AgentCard
}

// Client fetches cards over HTTP. The zero value uses a 5 second timeout.
type Client struct {
	HTTP *http.Client
}

func (c *Client) httpClient() *http.Client {
	if c != nil && c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 5 * time.Second}
}

// CardURL is where baseURL publishes its agent card.
func CardURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + a2asrv.WellKnownAgentCardPath
}

// Discover fetches the agent card published under baseURL.
func (c *Client) Discover(ctx context.Context, baseURL string) (*Agent, error) {
	cardURL := CardURL(baseURL)
	slog.Debug("discovering agent", "url", cardURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cardURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building card request: %w", err)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching agent card from %s: %w", cardURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading agent card from %s: %w", cardURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching agent card from %s: HTTP %d", cardURL, resp.StatusCode)
	}

	var card a2a.AgentCard
	if err := json.Unmarshal(body, &card); err != nil {
		return nil, fmt.Errorf("parsing agent card from %s: %w", cardURL, err)
	}
	if card.Name == "" || card.URL == "" {
		return nil, fmt.Errorf("agent card from %s has no name or URL", cardURL)
	}

	// The card advertises the URL the server believes it has; callers reach
	// it through baseURL, so keep the path and take scheme and host from there.
	card.URL = rebase(baseURL, card.URL)

	slog.Debug("discovered agent", "name", card.Name, "invoke_url", card.URL)
	return &Agent{Name: card.Name, InvokeURL: card.URL, Card: &card}, nil
}

func rebase(baseURL, invokeURL string) string {
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return invokeURL
	}
	u, err := url.Parse(invokeURL)
	if err != nil {
		return invokeURL
	}
	u.Scheme = base.Scheme
	u.Host = base.Host
	return u.String()
}

// Ask discovers the agent under baseURL and sends it question.
func (c *Client) Ask(ctx context.Context, baseURL, question string) (string, error) {
	agent, err := c.Discover(ctx, baseURL)
	if err != nil {
		return "", err
	}

	client, err := a2aclient.NewFromCard(ctx, agent.Card)
	if err != nil {
		return "", fmt.Errorf("creating A2A client for %s: %w", agent.InvokeURL, err)
	}

	msg := a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: question})
	result, err := client.SendMessage(ctx, &a2a.MessageSendParams{Message: msg})
	if err != nil {
		return "", fmt.Errorf("A2A call to %s failed: %w", agent.Name, err)
	}

	text := ResponseText(result)
	if text == "" {
		return "", fmt.Errorf("agent %s returned no text", agent.Name)
	}
	return text, nil
}

// ResponseText pulls the answer out of a SendMessageResult. ADK agents put
// it in artifacts; other agents use the status message or the history.
func ResponseText(result a2a.SendMessageResult) string {
	switch v := result.(type) {
	case *a2a.Task:
		var parts []string
		for _, art := range v.Artifacts {
			if t := partsText(art.Parts); t != "" {
				parts = append(parts, t)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
		if v.Status.Message != nil {
			if t := partsText(v.Status.Message.Parts); t != "" {
				return t
			}
		}
		for i := len(v.History) - 1; i >= 0; i-- {
			if v.History[i].Role == a2a.MessageRoleAgent {
				if t := partsText(v.History[i].Parts); t != "" {
					return t
				}
			}
		}
	case *a2a.Message:
		return partsText(v.Parts)
	}
	return ""
}

func partsText(parts a2a.ContentParts) string {
	var texts []string
	for _, p := range parts {
		if tp, ok := p.(a2a.TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, "\n")
}
