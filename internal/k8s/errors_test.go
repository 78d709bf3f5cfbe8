package k8s

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestDiagnoseClientError(t *testing.T) {
	gr := schema.GroupResource{Resource: "pods"}
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing context", fmt.Errorf("context \"bad-ctx\" does not exist"), "context does not exist"},
		{"refused", fmt.Errorf("dial tcp 127.0.0.1:6443: connection refused"), "Connection refused"},
		{"net op", &net.OpError{Op: "dial", Net: "tcp", Err: fmt.Errorf("network unreachable")}, "Cannot reach"},
		{"unable to connect", fmt.Errorf("unable to connect to the server: eof"), "Cannot reach"},
		{"unauthorized", apierrors.NewUnauthorized("token expired"), "Authentication to the cluster failed"},
		{"forbidden", apierrors.NewForbidden(gr, "web", fmt.Errorf("rbac")), "Permission denied"},
		{"not found", apierrors.NewNotFound(gr, "web"), "not found"},
		{"timeout", fmt.Errorf("context deadline exceeded"), "timed out"},
		{"certificate", fmt.Errorf("x509: certificate has expired"), "TLS certificate error"},
		{"no config", fmt.Errorf("no configuration has been provided"), "kubeconfig file is invalid or missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := diagnoseClientError(tt.err)
			if got == nil || !strings.Contains(got.Error(), tt.want) {
				t.Fatalf("diagnoseClientError(%v) = %v, want message containing %q", tt.err, got, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Errorf("diagnosed error should wrap the original")
			}
		})
	}
}

func TestDiagnoseClientError_PassThrough(t *testing.T) {
	if got := diagnoseClientError(nil); got != nil {
		t.Errorf("diagnoseClientError(nil) = %v, want nil", got)
	}

	orig := fmt.Errorf("some random error")
	if got := diagnoseClientError(orig); got != orig {
		t.Errorf("unknown errors should pass through unchanged, got %v", got)
	}

	nf := &NotFoundError{Kind: "pod", Name: "web", Namespace: "default"}
	if got := diagnoseClientError(nf); got != error(nf) {
		t.Errorf("NotFoundError should pass through, got %v", got)
	}
}

func TestLookupError(t *testing.T) {
	err := lookupError(apierrors.NewNotFound(schema.GroupResource{Resource: "nodes"}, "n1"), "node", "n1", "")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("lookupError = %T, want *NotFoundError", err)
	}
	if err.Error() != "node 'n1' not found" {
		t.Errorf("message = %q", err.Error())
	}

	other := lookupError(fmt.Errorf("connection refused"), "node", "n1", "")
	if errors.As(other, &nf) {
		t.Error("non-404 errors should not become NotFoundError")
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Now()
	tests := []struct {
		created time.Time
		want    string
	}{
		{now.Add(-30 * time.Second), "30s"},
		{now.Add(-5 * time.Minute), "5m"},
		{now.Add(-3 * time.Hour), "3h"},
		{now.Add(-48 * time.Hour), "2d"},
		{time.Time{}, ""},
	}
	for _, tt := range tests {
		if got := formatAge(tt.created); got != tt.want {
			t.Errorf("formatAge(%v) = %q, want %q", tt.created, got, tt.want)
		}
	}
}

func TestNodeStatusString(t *testing.T) {
	tests := []struct {
		name          string
		conditions    []corev1.NodeCondition
		unschedulable bool
		want          string
	}{
		{"ready", []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}}, false, "Ready"},
		{"not ready", []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionFalse}}, false, "NotReady"},
		{"cordoned", []corev1.NodeCondition{{Type: corev1.NodeReady, Status: corev1.ConditionTrue}}, true, "Ready,SchedulingDisabled"},
		{"no ready condition", nil, false, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := nodeStatus(tt.conditions, tt.unschedulable); got != tt.want {
				t.Errorf("nodeStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInt32OrNA(t *testing.T) {
	three := int32(3)
	if got := int32OrNA(&three); got != "3" {
		t.Errorf("int32OrNA(3) = %q", got)
	}
	if got := int32OrNA(nil); got != "N/A" {
		t.Errorf("int32OrNA(nil) = %q", got)
	}
}
