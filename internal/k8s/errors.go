package k8s

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// NotFoundError reports a named object that does not exist.
type NotFoundError struct {
	Kind      string
	Name      string
	Namespace string
}

func (e *NotFoundError) Error() string {
	if e.Namespace == "" {
		return fmt.Sprintf("%s '%s' not found", e.Kind, e.Name)
	}
	return fmt.Sprintf("%s '%s' not found in namespace '%s'", e.Kind, e.Name, e.Namespace)
}

// UnsupportedTypeError reports a resource type ObjectYAML cannot fetch.
type UnsupportedTypeError struct {
	Type string
}

func (e *UnsupportedTypeError) Error() string {
	return fmt.Sprintf("Unsupported resource type: %s (supported: %s)",
		e.Type, strings.Join(SupportedObjectTypes(), ", "))
}

// lookupError converts a failed Get into a NotFoundError when the object is
// missing and into a diagnosed error otherwise.
func lookupError(err error, kind, name, namespace string) error {
	if apierrors.IsNotFound(err) {
		return &NotFoundError{Kind: kind, Name: name, Namespace: namespace}
	}
	return diagnoseClientError(err)
}

const (
	hintUnreachable = "Cannot reach the Kubernetes API server. " +
		"Check network connectivity, verify the cluster is running, " +
		"and confirm the server address in kubeconfig is correct."
	hintRefused = "Connection refused by the Kubernetes API server. " +
		"The cluster may be down, the API server address may be wrong, " +
		"or a VPN/tunnel may need to be active."
)

// diagnoseClientError turns client-go failures into messages an operator can
// act on. The raw error is kept at the end of the message and in the chain.
func diagnoseClientError(err error) error {
	if err == nil {
		return nil
	}
	var nf *NotFoundError
	var ut *UnsupportedTypeError
	if errors.As(err, &nf) || errors.As(err, &ut) {
		return err
	}

	lower := strings.ToLower(err.Error())
	hint := func(h string) error {
		return fmt.Errorf("%s\n\nRaw error: %w", h, err)
	}

	switch {
	case strings.Contains(lower, "context") && strings.Contains(lower, "does not exist"):
		return hint("The requested kubeconfig context does not exist. " +
			"Run 'kubectl config get-contexts' to list contexts or set KUBESAGE_KUBE_CONTEXT.")
	case strings.Contains(lower, "connection refused"):
		return hint(hintRefused)
	case isNetError(err), strings.Contains(lower, "unable to connect to the server"):
		return hint(hintUnreachable)
	}

	var statusErr *apierrors.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case apierrors.IsUnauthorized(statusErr):
			return hint("Authentication to the cluster failed. " +
				"Credentials may have expired; re-authenticate and refresh the kubeconfig.")
		case apierrors.IsForbidden(statusErr):
			return hint("Permission denied. The current user or service account lacks " +
				"the RBAC permissions for this read.")
		case apierrors.IsNotFound(statusErr):
			if strings.Contains(lower, "namespace") {
				return hint("The namespace does not exist in this cluster. " +
					"Run 'kubectl get namespaces' to list namespaces.")
			}
			return hint("The requested resource was not found in the cluster.")
		}
	}

	switch {
	case os.IsTimeout(err), strings.Contains(lower, "deadline exceeded"), strings.Contains(lower, "i/o timeout"):
		return hint("Request to the Kubernetes API server timed out. " +
			"The cluster may be overloaded or the network may be degraded.")
	case strings.Contains(lower, "certificate") && (strings.Contains(lower, "expired") ||
		strings.Contains(lower, "invalid") || strings.Contains(lower, "unknown authority")):
		return hint("TLS certificate error talking to the cluster. " +
			"Re-fetch cluster credentials or update the kubeconfig CA data.")
	case strings.Contains(lower, "no configuration"), strings.Contains(lower, "invalid configuration"):
		return hint("The kubeconfig file is invalid or missing. " +
			"Check ~/.kube/config or point KUBECONFIG at the right file.")
	}

	return err
}

func isNetError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// SupportedObjectTypes lists the canonical type names ObjectYAML accepts.
func SupportedObjectTypes() []string {
	names := make([]string, 0, len(objectKinds))
	for name := range objectKinds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
