// Package main provides the kubesage CLI.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ozlevka/KubeSage/agentutil"
	"github.com/ozlevka/KubeSage/internal/k8s"
	"github.com/ozlevka/KubeSage/internal/logging"
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
	}
	args := logging.InitLogging(os.Args[1:])

	cfg, err := agentutil.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	a := &app{
		cfg:    cfg,
		reader: k8s.NewReader(k8s.NewProvider(cfg.KubeContext)),
	}
	root := newRootCmd(a)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "kubesage",
		Short: "KubeSage - AI-Powered Kubernetes Troubleshooting Tool",
		Long: `KubeSage inspects a Kubernetes cluster with read-only tools and
answers troubleshooting questions with an LLM agent.

Cluster credentials come from the in-cluster service account or the local
kubeconfig (KUBECONFIG, KUBESAGE_KUBE_CONTEXT). The model is configured with
KUBESAGE_MODEL_VENDOR, KUBESAGE_MODEL_NAME and the vendor's API key variable.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(checkHealthCmd(a))
	root.AddCommand(askCmd(a))
	root.AddCommand(toolsCmd(a))
	root.AddCommand(callCmd(a))
	root.AddCommand(historyCmd(a))
	return root
}

func checkHealthCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-health",
		Short: "Check cluster health using the Kubernetes API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.checkHealth(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func askCmd(a *app) *cobra.Command {
	var modelName, remote string
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask the troubleshooting agent one question",
		Long: `Ask the agent a question about the cluster. The agent chooses which
read-only tools to run and prints its final answer.

With --remote the question goes to a running KubeSage server over A2A
instead, and no local model or cluster credentials are needed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remote != "" {
				return a.askRemote(cmd.Context(), cmd.OutOrStdout(), remote, joinArgs(args))
			}
			return a.ask(cmd.Context(), cmd.OutOrStdout(), joinArgs(args), modelName)
		},
	}
	cmd.Flags().StringVarP(&modelName, "model", "m", "", "Model to use (default from KUBESAGE_MODEL_NAME)")
	cmd.Flags().StringVar(&remote, "remote", "", "Base URL of a KubeSage server with A2A enabled")
	cmd.MarkFlagsMutuallyExclusive("model", "remote")
	return cmd
}

func toolsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List the agent's tools by group",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.listTools(cmd.OutOrStdout())
		},
	}
}

func callCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "call [tool] [json-params]",
		Short: "Run one tool directly and print its JSON result",
		Example: `  kubesage call get_all_pods
  kubesage call describe_pod '{"pod_name": "web-1", "namespace": "shop"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			params := ""
			if len(args) == 2 {
				params = args[1]
			}
			return a.callTool(cmd.Context(), cmd.OutOrStdout(), args[0], params)
		},
	}
}

func historyCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent audited queries and tool calls",
		Long: `Show the newest events from the audit log named by KUBESAGE_AUDIT_DSN
(a SQLite path or a postgres:// URL).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.history(cmd.Context(), cmd.OutOrStdout(), limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to show")
	return cmd
}
