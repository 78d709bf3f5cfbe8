package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ozlevka/KubeSage/internal/assistant"
	"github.com/ozlevka/KubeSage/internal/metrics"
)

// Chat socket messages.
const (
	wsGreeting     = "Kubernetes Chat Assistant started! Type 'exit' to close."
	wsClosing      = "Closing connection."
	wsExitHint     = "Type 'exit' to quit."
	wsEmptyCommand = "Please type a question, 'get pods', 'get services', 'get deployments' or 'exit'."
)

const wsWriteWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// chatConn is one chat socket. Messages are handled one at a time, in order.
type chatConn struct {
	conn      *websocket.Conn
	server    *Server
	model     string
	sessionID string
	ready     bool
}

// handleWebSocket serves the interactive chat. An optional ?model= selects
// the model for the whole connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "err", err)
		return
	}
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()

	c := &chatConn{
		conn:   conn,
		server: s,
		model:  strings.TrimSpace(r.URL.Query().Get("model")),
	}
	slog.Info("websocket connected", "remote", r.RemoteAddr, "model", c.model)
	c.serve(r.Context())
	slog.Info("websocket closed", "remote", r.RemoteAddr, "session", c.sessionID)
}

// serve reads frames on a separate goroutine so that a disconnect cancels
// whatever the handler loop is waiting on.
func (c *chatConn) serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.conn.Close()

	if err := c.send(wsGreeting); err != nil {
		return
	}

	messages := make(chan string)
	go func() {
		defer cancel()
		for {
			kind, data, err := c.conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Debug("websocket read failed", "err", err)
				}
				return
			}
			if kind != websocket.TextMessage {
				continue
			}
			select {
			case messages <- string(data):
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-messages:
			if !c.handle(ctx, msg) {
				return
			}
		}
	}
}

// handle answers one message and reports whether the connection stays open.
func (c *chatConn) handle(ctx context.Context, msg string) bool {
	text := strings.TrimSpace(msg)

	var reply string
	switch strings.ToLower(text) {
	case "exit":
		c.send(wsClosing)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(wsWriteWait))
		return false
	case "":
		reply = wsEmptyCommand
	case "get pods":
		reply = c.server.podLines(ctx)
	case "get services":
		reply = c.server.serviceLines(ctx)
	case "get deployments":
		reply = c.server.deploymentLines(ctx)
	default:
		c.ask(ctx, text)
		return ctx.Err() == nil
	}

	return c.send(reply) == nil
}

// ask initialises the model on first use and forwards the question. Failures
// are reported to the user and the loop continues.
func (c *chatConn) ask(ctx context.Context, query string) {
	s := c.server
	if !c.ready {
		modelName, err := s.assistant.Init(ctx, c.model)
		if err != nil {
			slog.Warn("agent initialisation failed", "model", c.model, "err", err)
			c.send(s.errorMessage(err))
			c.send(wsExitHint)
			return
		}
		c.ready = true
		c.send(fmt.Sprintf("LLM initialized with %s! You can now ask questions.", modelName))
	}

	resp, err := s.assistant.Query(ctx, assistant.Request{
		Query:     query,
		Model:     c.model,
		SessionID: c.sessionID,
		Origin:    "websocket",
	})
	if resp.SessionID != "" {
		c.sessionID = resp.SessionID
	}
	if err != nil {
		c.send("Query processing error: " + s.errorMessage(err))
		return
	}
	if resp.Output == "" {
		c.send("The assistant returned no answer.")
		return
	}
	c.send(resp.Output)
}

func (c *chatConn) send(text string) error {
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		slog.Debug("websocket write failed", "err", err)
		return err
	}
	return nil
}

// --- Chat commands ---

func (s *Server) podLines(ctx context.Context) string {
	res, err := s.reader.Pods(ctx)
	if err != nil {
		return "Error: " + err.Error()
	}
	if len(res.Pods) == 0 {
		return "No pods found."
	}
	lines := make([]string, 0, len(res.Pods))
	for _, p := range res.Pods {
		lines = append(lines, fmt.Sprintf("Pod: %s (Status: %s)", p.Name, p.Status))
	}
	return strings.Join(lines, "\n")
}

func (s *Server) serviceLines(ctx context.Context) string {
	res, err := s.reader.Services(ctx)
	if err != nil {
		return "Error: " + err.Error()
	}
	if len(res.Services) == 0 {
		return "No services found."
	}
	lines := make([]string, 0, len(res.Services))
	for _, svc := range res.Services {
		lines = append(lines, "Service: "+svc.Name)
	}
	return strings.Join(lines, "\n")
}

func (s *Server) deploymentLines(ctx context.Context) string {
	res, err := s.reader.Deployments(ctx)
	if err != nil {
		return "Error: " + err.Error()
	}
	if len(res.Deployments) == 0 {
		return "No deployments found."
	}
	lines := make([]string, 0, len(res.Deployments))
	for _, d := range res.Deployments {
		lines = append(lines, "Deployment: "+d.Name)
	}
	return strings.Join(lines, "\n")
}
