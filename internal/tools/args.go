package tools

import (
	"errors"

	"github.com/ozlevka/KubeSage/internal/k8s"
)

// NoArgs is the argument type of the whole-cluster tools.
type NoArgs struct{}

// EventsArgs defines arguments for the get_cluster_events tool.
type EventsArgs struct {
	Namespace string `json:"namespace,omitempty" jsonschema:"Namespace to read events from. Empty reads all namespaces."`
	Type      string `json:"type,omitempty" jsonschema:"Optional event type filter: Normal or Warning."`
}

func (a EventsArgs) targetNamespace() string { return a.Namespace }

// PodArgs defines arguments for tools that inspect one pod.
type PodArgs struct {
	Namespace string `json:"namespace,omitempty" jsonschema:"Namespace of the pod. Defaults to 'default'."`
	PodName   string `json:"pod_name" jsonschema:"Name of the pod."`
}

func (a PodArgs) targetNamespace() string { return orDefault(a.Namespace) }

func (a PodArgs) validate() error { return required("pod_name", a.PodName) }

// PodLogsArgs defines arguments for the get_pod_logs tool.
type PodLogsArgs struct {
	Namespace string `json:"namespace,omitempty" jsonschema:"Namespace of the pod. Defaults to 'default'."`
	PodName   string `json:"pod_name" jsonschema:"Name of the pod."`
	Container string `json:"container,omitempty" jsonschema:"Container to read. Required only for multi-container pods."`
}

func (a PodLogsArgs) targetNamespace() string { return orDefault(a.Namespace) }

func (a PodLogsArgs) validate() error { return required("pod_name", a.PodName) }

// ServiceArgs defines arguments for the describe_service tool.
type ServiceArgs struct {
	Namespace   string `json:"namespace,omitempty" jsonschema:"Namespace of the service. Defaults to 'default'."`
	ServiceName string `json:"service_name" jsonschema:"Name of the service."`
}

func (a ServiceArgs) targetNamespace() string { return orDefault(a.Namespace) }

func (a ServiceArgs) validate() error { return required("service_name", a.ServiceName) }

// DeploymentArgs defines arguments for the describe_deployment tool.
type DeploymentArgs struct {
	Namespace      string `json:"namespace,omitempty" jsonschema:"Namespace of the deployment. Defaults to 'default'."`
	DeploymentName string `json:"deployment_name" jsonschema:"Name of the deployment."`
}

func (a DeploymentArgs) targetNamespace() string { return orDefault(a.Namespace) }

func (a DeploymentArgs) validate() error { return required("deployment_name", a.DeploymentName) }

// NodeArgs defines arguments for the get_node_status tool.
type NodeArgs struct {
	NodeName string `json:"node_name" jsonschema:"Name of the node."`
}

func (a NodeArgs) validate() error { return required("node_name", a.NodeName) }

// ObjectArgs defines arguments for the get_object_yaml tool.
type ObjectArgs struct {
	ResourceType string `json:"resource_type" jsonschema:"Kind of object, e.g. pod, deployment, service, configmap, node. Secrets are not supported."`
	Name         string `json:"name" jsonschema:"Name of the object."`
	Namespace    string `json:"namespace,omitempty" jsonschema:"Namespace of the object. Defaults to 'default'; ignored for cluster-scoped kinds."`
}

func (a ObjectArgs) targetNamespace() string {
	return k8s.ObjectNamespace(a.ResourceType, a.Namespace)
}

func (a ObjectArgs) validate() error {
	return errors.Join(required("resource_type", a.ResourceType), required("name", a.Name))
}

// namespaced is implemented by arguments that target a single namespace.
// An empty result means no particular namespace.
type namespaced interface {
	targetNamespace() string
}

// validator is implemented by arguments with required fields.
type validator interface {
	validate() error
}

func required(field, value string) error {
	if value == "" {
		return errors.New(field + " is required")
	}
	return nil
}

func orDefault(ns string) string {
	if ns == "" {
		return "default"
	}
	return ns
}
