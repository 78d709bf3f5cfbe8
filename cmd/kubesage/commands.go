package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ozlevka/KubeSage/agentutil"
	"github.com/ozlevka/KubeSage/internal/assistant"
	"github.com/ozlevka/KubeSage/internal/audit"
	"github.com/ozlevka/KubeSage/internal/discovery"
	"github.com/ozlevka/KubeSage/internal/k8s"
	"github.com/ozlevka/KubeSage/internal/tools"
)

// app carries what the commands share.
type app struct {
	cfg    agentutil.Config
	reader *k8s.Reader
	// newLLM overrides model construction; nil uses the configured vendor.
	newLLM assistant.LLMFactory
	remote *discovery.Client
}

func (a *app) checkHealth(ctx context.Context, w io.Writer) error {
	res, err := a.reader.Nodes(ctx)
	if err != nil {
		fmt.Fprintf(w, "Error accessing Kubernetes API: %v\n", err)
		return nil
	}
	if len(res.Nodes) == 0 {
		fmt.Fprintln(w, "No nodes found.")
		return nil
	}
	for _, n := range res.Nodes {
		fmt.Fprintf(w, "Node: %s, Status: %s\n", n.Name, n.Status)
	}
	return nil
}

// openAudit returns the tool auditor for cfg.AuditDSN and a close func; both
// are no-ops when auditing is off.
func (a *app) openAudit(ctx context.Context) (*audit.ToolAuditor, func(), error) {
	if a.cfg.AuditDSN == "" {
		return nil, func() {}, nil
	}
	store, err := audit.NewStore(ctx, audit.StoreConfig{DSN: a.cfg.AuditDSN})
	if err != nil {
		return nil, nil, err
	}
	return audit.NewToolAuditor(store), func() { store.Close() }, nil
}

func (a *app) registry(auditor *audit.ToolAuditor) (*tools.Registry, error) {
	return tools.New(a.reader, tools.Options{
		Policy: tools.Policy{
			DeniedTools:      a.cfg.DeniedTools,
			DeniedNamespaces: a.cfg.DeniedNamespaces,
		},
		Auditor: auditor,
	})
}

func (a *app) ask(ctx context.Context, w io.Writer, query, modelName string) error {
	auditor, closeAudit, err := a.openAudit(ctx)
	if err != nil {
		return err
	}
	defer closeAudit()

	reg, err := a.registry(auditor)
	if err != nil {
		return err
	}
	asst := assistant.New(assistant.Options{
		Config:  a.cfg,
		Tools:   reg.ADKTools(),
		Auditor: auditor,
		NewLLM:  a.newLLM,
	})

	resp, err := asst.Query(ctx, assistant.Request{Query: query, Model: modelName, Origin: "cli"})
	if err != nil {
		return fmt.Errorf("%s: %w", assistant.ErrorKind(err), err)
	}
	fmt.Fprintln(w, resp.Output)
	return nil
}

func (a *app) askRemote(ctx context.Context, w io.Writer, baseURL, query string) error {
	answer, err := a.remote.Ask(ctx, baseURL, query)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, answer)
	return nil
}

func (a *app) listTools(w io.Writer) error {
	reg, err := a.registry(nil)
	if err != nil {
		return err
	}

	groups := []struct {
		group tools.Group
		title string
	}{
		{tools.GroupBroad, "Broad insights"},
		{tools.GroupDeep, "Deep dive"},
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for i, g := range groups {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s:\n", g.title)
		for _, info := range reg.Catalog() {
			if info.Group == g.group {
				fmt.Fprintf(tw, "  %s\t%s\n", info.Name, info.Title)
			}
		}
	}
	return tw.Flush()
}

func (a *app) callTool(ctx context.Context, w io.Writer, name, params string) error {
	auditor, closeAudit, err := a.openAudit(ctx)
	if err != nil {
		return err
	}
	defer closeAudit()

	reg, err := a.registry(auditor)
	if err != nil {
		return err
	}
	result, err := reg.Invoke(ctx, name, params)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (a *app) history(ctx context.Context, w io.Writer, limit int) error {
	if a.cfg.AuditDSN == "" {
		return errors.New("audit logging is not enabled (set KUBESAGE_AUDIT_DSN)")
	}
	store, err := audit.NewStore(ctx, audit.StoreConfig{DSN: a.cfg.AuditDSN})
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := audit.Recent(ctx, store, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No audit events recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSTATUS\tDETAIL")
	for _, ev := range events {
		status := ""
		if ev.Outcome != nil {
			status = ev.Outcome.Status
		}
		detail := ev.Input.UserQuery
		if ev.Tool != nil {
			detail = ev.Tool.Name
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			ev.Timestamp.Local().Format(time.DateTime), ev.EventType, status, oneLine(detail, 80))
	}
	return tw.Flush()
}

// oneLine flattens s and cuts it to max runes.
func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max-3]) + "..."
	}
	return s
}

func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}
