// Package main runs the KubeSage server: the cluster REST endpoints, the
// agent query API, the chat WebSocket and, optionally, an A2A endpoint.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ozlevka/KubeSage/agentutil"
	"github.com/ozlevka/KubeSage/internal/assistant"
	"github.com/ozlevka/KubeSage/internal/audit"
	"github.com/ozlevka/KubeSage/internal/k8s"
	"github.com/ozlevka/KubeSage/internal/logging"
	"github.com/ozlevka/KubeSage/internal/tools"
)

func main() {
	_ = godotenv.Load()
	logging.InitLogging(os.Args[1:])

	cfg, err := agentutil.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reader := k8s.NewReader(k8s.NewProvider(cfg.KubeContext))

	var (
		store       *audit.Store
		toolAuditor *audit.ToolAuditor
	)
	if cfg.AuditDSN != "" {
		store, err = audit.NewStore(ctx, audit.StoreConfig{DSN: cfg.AuditDSN})
		if err != nil {
			slog.Error("failed to initialize audit store", "err", err)
			os.Exit(1)
		}
		defer store.Close()
		toolAuditor = audit.NewToolAuditor(store)
		slog.Info("audit logging enabled", "postgres", store.IsPostgres())
	}

	registry, err := tools.New(reader, tools.Options{
		Policy: tools.Policy{
			DeniedTools:      cfg.DeniedTools,
			DeniedNamespaces: cfg.DeniedNamespaces,
		},
		Auditor: toolAuditor,
	})
	if err != nil {
		slog.Error("failed to build tools", "err", err)
		os.Exit(1)
	}

	asst := assistant.New(assistant.Options{
		Config:  cfg,
		Tools:   registry.ADKTools(),
		Auditor: toolAuditor,
	})

	srv := NewServer(cfg, reader, registry, asst)
	if store != nil {
		srv.SetAuditor(store)
	}

	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)
	if cfg.A2AEnabled {
		mountA2A(ctx, mux, cfg, asst)
	}

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down KubeSage server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	slog.Info("starting KubeSage server",
		"addr", cfg.ListenAddr,
		"model", cfg.ModelName,
		"vendor", cfg.ModelVendor,
		"tools", len(registry.Catalog()),
		"in_cluster", k8s.InCluster())

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "err", err)
		os.Exit(1)
	}
	slog.Info("KubeSage server stopped")
}

// mountA2A exposes the agent over A2A. The default model is initialised
// up front so the card can list the agent's skills; failure leaves the rest
// of the server running.
func mountA2A(ctx context.Context, mux *http.ServeMux, cfg agentutil.Config, asst *assistant.Assistant) {
	ag, err := asst.Agent(ctx, "")
	if err != nil {
		slog.Warn("A2A disabled: agent initialisation failed", "err", err)
		return
	}
	base, err := url.Parse(publicURL(cfg))
	if err != nil {
		slog.Warn("A2A disabled: invalid public URL", "url", cfg.PublicURL, "err", err)
		return
	}
	agentutil.MountA2A(mux, ag, base, asst.Sessions(), agentutil.CardOptions{
		Version: "1.0.0",
		SkillTags: map[string][]string{
			assistant.AgentName: {"kubernetes", "troubleshooting"},
		},
		SkillExamples: map[string][]string{
			assistant.AgentName: {
				"Why is my app crashing?",
				"Which pods are not running?",
				"Show the warning events in namespace payments.",
			},
		},
	})
}

// publicURL is where A2A clients reach this server.
func publicURL(cfg agentutil.Config) string {
	if cfg.PublicURL != "" {
		return cfg.PublicURL
	}
	addr := cfg.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
