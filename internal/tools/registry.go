// Package tools exposes the read-only cluster operations as named, described
// tools, both to the agent (as ADK function tools) and to direct callers.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"google.golang.org/adk/tool"
	"google.golang.org/adk/tool/functiontool"
	"google.golang.org/genai"

	"github.com/ozlevka/KubeSage/internal/audit"
	"github.com/ozlevka/KubeSage/internal/k8s"
	"github.com/ozlevka/KubeSage/internal/metrics"
)

// Group separates whole-cluster overviews from single-resource inspection.
type Group string

const (
	GroupBroad Group = "broad"
	GroupDeep  Group = "deep"
)

// ErrUnknownTool is returned by Invoke for a name not in the registry.
var ErrUnknownTool = errors.New("unknown tool")

// ErrDenied marks calls refused by the access policy.
var ErrDenied = errors.New("denied by policy")

// Info describes one tool for catalogues.
type Info struct {
	Name        string `json:"name"`
	Title       string `json:"title"`
	Group       Group  `json:"group"`
	Description string `json:"description"`
	Parameters  any    `json:"parameters,omitempty"`
}

// Policy restricts which tools may run and which namespaces they may read.
type Policy struct {
	DeniedTools      []string
	DeniedNamespaces []string
}

func (p Policy) check(name string, args any) error {
	if slices.Contains(p.DeniedTools, name) {
		return fmt.Errorf("%w: tool %s is disabled by configuration", ErrDenied, name)
	}
	if n, ok := args.(namespaced); ok {
		if ns := n.targetNamespace(); ns != "" && slices.Contains(p.DeniedNamespaces, ns) {
			return fmt.Errorf("%w: access to namespace '%s' is not allowed", ErrDenied, ns)
		}
	}
	return nil
}

// Options configures a Registry.
type Options struct {
	Policy  Policy
	Auditor *audit.ToolAuditor
}

// Registry holds every tool in catalogue order: broad tools first.
type Registry struct {
	reader  *k8s.Reader
	policy  Policy
	auditor *audit.ToolAuditor

	entries []*entry
	byName  map[string]*entry
}

type entry struct {
	info   Info
	tool   tool.Tool
	invoke func(ctx context.Context, params map[string]any) (map[string]any, error)
}

// New builds the registry over reader.
func New(reader *k8s.Reader, opts Options) (*Registry, error) {
	r := &Registry{
		reader:  reader,
		policy:  opts.Policy,
		auditor: opts.Auditor,
		byName:  make(map[string]*entry),
	}

	// Broad insights.
	errs := []error{
		define(r, Info{Name: "get_all_pods", Title: "Get All Pods with Resource Usage", Group: GroupBroad,
			Description: "List all pods in every namespace with status, node, readiness, restarts, age, and CPU and memory usage when metrics-server is available."},
			noArgs(reader.Pods)),
		define(r, Info{Name: "get_all_services", Title: "Get All Services", Group: GroupBroad,
			Description: "List all services in every namespace with their type, cluster IP and ports."},
			noArgs(reader.Services)),
		define(r, Info{Name: "get_all_deployments", Title: "Get All Deployments", Group: GroupBroad,
			Description: "List all deployments with desired, ready and available replica counts."},
			noArgs(reader.Deployments)),
		define(r, Info{Name: "get_all_nodes", Title: "Get All Nodes", Group: GroupBroad,
			Description: "List cluster nodes with readiness, roles, kubelet version, internal IP and CPU/memory capacity."},
			noArgs(reader.Nodes)),
		define(r, Info{Name: "get_all_endpoints", Title: "Get All Endpoints", Group: GroupBroad,
			Description: "List endpoints for every service with ready and not-ready pod addresses. Empty endpoints mean no ready pods match the service selector."},
			noArgs(reader.Endpoints)),
		define(r, Info{Name: "get_cluster_events", Title: "Get Cluster Events", Group: GroupBroad,
			Description: "List the 10 most recent cluster events, newest first. Optionally filter by namespace and by type (Warning for failures)."},
			func(ctx context.Context, a EventsArgs) (k8s.EventsResult, error) {
				return reader.Events(ctx, a.Namespace, a.Type)
			}),
		define(r, Info{Name: "get_namespace_list", Title: "Get Namespace List", Group: GroupBroad,
			Description: "List all namespaces and their phase."},
			noArgs(reader.Namespaces)),
	}

	// Deep dive.
	errs = append(errs,
		define(r, Info{Name: "describe_pod", Title: "Describe Pod with Restart Count", Group: GroupDeep,
			Description: "Describe one pod: phase, node, conditions, container images and total restart count."},
			func(ctx context.Context, a PodArgs) (k8s.PodDescription, error) {
				return reader.DescribePod(ctx, a.Namespace, a.PodName)
			}),
		define(r, Info{Name: "get_pod_logs", Title: "Get Pod Logs", Group: GroupDeep,
			Description: "Fetch the last 10 log lines of a pod, optionally for a specific container."},
			func(ctx context.Context, a PodLogsArgs) (k8s.PodLogsResult, error) {
				return reader.PodLogs(ctx, a.Namespace, a.PodName, a.Container)
			}),
		define(r, Info{Name: "describe_service", Title: "Describe Service", Group: GroupDeep,
			Description: "Describe one service: type, cluster IP, selector and port mappings."},
			func(ctx context.Context, a ServiceArgs) (k8s.ServiceDescription, error) {
				return reader.DescribeService(ctx, a.Namespace, a.ServiceName)
			}),
		define(r, Info{Name: "describe_deployment", Title: "Describe Deployment", Group: GroupDeep,
			Description: "Describe one deployment: replica counts and container images."},
			func(ctx context.Context, a DeploymentArgs) (k8s.DeploymentDescription, error) {
				return reader.DescribeDeployment(ctx, a.Namespace, a.DeploymentName)
			}),
		define(r, Info{Name: "get_node_status", Title: "Get Node Status & Capacity", Group: GroupDeep,
			Description: "Show a node's conditions (Ready, MemoryPressure, DiskPressure, PIDPressure) and its capacity."},
			func(ctx context.Context, a NodeArgs) (k8s.NodeStatusResult, error) {
				return reader.NodeStatus(ctx, a.NodeName)
			}),
		define(r, Info{Name: "check_rbac_bindings", Title: "Check RBAC Events & Role Bindings", Group: GroupDeep,
			Description: "List events reporting denied access together with all role bindings and cluster role bindings."},
			noArgs(reader.RBAC)),
		define(r, Info{Name: "get_persistent_volumes", Title: "Get Persistent Volumes & Claims", Group: GroupDeep,
			Description: "List persistent volumes and persistent volume claims with capacity, access modes and binding status."},
			noArgs(reader.Volumes)),
		define(r, Info{Name: "get_running_jobs", Title: "Get Running Jobs & CronJobs", Group: GroupDeep,
			Description: "List jobs with active pods and all cronjobs with schedule, suspension and last run."},
			noArgs(reader.Jobs)),
		define(r, Info{Name: "get_ingress_resources", Title: "Get Ingress Resources & Annotations", Group: GroupDeep,
			Description: "List ingress resources with class, hosts and annotations."},
			noArgs(reader.Ingresses)),
		define(r, Info{Name: "check_pod_affinity", Title: "Check Pod Affinity & Anti-Affinity", Group: GroupDeep,
			Description: "Show a pod's node affinity, pod affinity, pod anti-affinity, node selector and tolerations."},
			func(ctx context.Context, a PodArgs) (k8s.PodAffinityResult, error) {
				return reader.PodAffinity(ctx, a.Namespace, a.PodName)
			}),
		define(r, Info{Name: "get_object_yaml", Title: "Get Object YAML", Group: GroupDeep,
			Description: "Return the full YAML manifest of one object (pod, deployment, service, configmap, node, and other common kinds)."},
			func(ctx context.Context, a ObjectArgs) (k8s.ObjectYAMLResult, error) {
				return reader.ObjectYAML(ctx, a.ResourceType, a.Name, a.Namespace)
			}),
	)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("creating tools: %w", err)
	}
	return r, nil
}

func noArgs[R any](fn func(context.Context) (R, error)) func(context.Context, NoArgs) (R, error) {
	return func(ctx context.Context, _ NoArgs) (R, error) { return fn(ctx) }
}

// define registers one tool. The same typed handler backs both the ADK
// function tool and direct invocation.
func define[A, R any](r *Registry, info Info, fn func(context.Context, A) (R, error)) error {
	adkTool, err := functiontool.New(functiontool.Config{
		Name:        info.Name,
		Description: info.Description,
	}, func(tc tool.Context, args A) (map[string]any, error) {
		return execute(r, tc, tc.SessionID(), info.Name, args, fn), nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", info.Name, err)
	}

	if d, ok := adkTool.(interface {
		Declaration() *genai.FunctionDeclaration
	}); ok {
		if decl := d.Declaration(); decl != nil {
			if decl.ParametersJsonSchema != nil {
				info.Parameters = decl.ParametersJsonSchema
			} else if decl.Parameters != nil {
				info.Parameters = decl.Parameters
			}
		}
	}

	e := &entry{
		info: info,
		tool: adkTool,
		invoke: func(ctx context.Context, params map[string]any) (map[string]any, error) {
			var args A
			if err := decodeArgs(params, &args); err != nil {
				return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, info.Name, err)
			}
			if v, ok := any(args).(validator); ok {
				if err := v.validate(); err != nil {
					return nil, fmt.Errorf("%w for %s: %v", ErrInvalidParams, info.Name, err)
				}
			}
			return execute(r, ctx, "", info.Name, args, fn), nil
		},
	}
	r.entries = append(r.entries, e)
	r.byName[info.Name] = e
	return nil
}

// execute runs one tool call under the access policy and records it.
// Failures come back as a status "error" result, never as a Go error, so the
// model can read and react to them.
func execute[A, R any](r *Registry, ctx context.Context, sessionID, name string, args A, fn func(context.Context, A) (R, error)) map[string]any {
	start := time.Now()

	var out map[string]any
	runErr := r.policy.check(name, any(args))
	if runErr == nil {
		if v, ok := any(args).(validator); ok {
			runErr = v.validate()
		}
	}
	if runErr == nil {
		var res R
		res, runErr = fn(ctx, args)
		var convErr error
		if out, convErr = toMap(res); convErr != nil {
			runErr = errors.Join(runErr, convErr)
			out = nil
		}
	}
	if out == nil {
		out = errorResult(runErr)
	}

	duration := time.Since(start)
	metrics.ObserveTool(name, runErr != nil, duration)

	var errMsg string
	if runErr != nil {
		errMsg = runErr.Error()
		slog.Warn("tool call failed", "tool", name, "duration", duration, "err", runErr)
	} else {
		slog.Debug("tool call", "tool", name, "duration", duration)
	}
	if r.auditor.Enabled() {
		params, _ := toMap(args)
		summary, _ := json.Marshal(out)
		r.auditor.RecordToolCall(ctx,
			audit.ToolCall{Name: name, Parameters: params, SessionID: sessionID},
			audit.ToolResult{Output: string(summary), Error: errMsg},
			duration,
		)
	}
	return out
}

func errorResult(err error) map[string]any {
	return map[string]any{"status": k8s.StatusError, "message": err.Error()}
}

// ADKTools returns the tools for an ADK agent.
func (r *Registry) ADKTools() []tool.Tool {
	out := make([]tool.Tool, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.tool
	}
	return out
}

// Catalog describes every tool in catalogue order.
func (r *Registry) Catalog() []Info {
	out := make([]Info, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.info
	}
	return out
}

// Lookup returns the description of the named tool.
func (r *Registry) Lookup(name string) (Info, bool) {
	e, ok := r.byName[name]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// Invoke runs the named tool with params (see ParseParams for the accepted
// forms). It returns an error only for an unknown tool or unusable
// parameters; cluster and policy failures are reported in the result.
func (r *Registry) Invoke(ctx context.Context, name string, params any) (map[string]any, error) {
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	p, err := ParseParams(params)
	if err != nil {
		return nil, err
	}
	return e.invoke(ctx, p)
}
