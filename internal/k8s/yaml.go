package k8s

import (
	"context"
	"fmt"
	"strings"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/client-go/kubernetes"
	"sigs.k8s.io/yaml"
)

type getFunc func(ctx context.Context, cs kubernetes.Interface, namespace, name string) (runtime.Object, error)

type objectKind struct {
	kind       string
	apiVersion string
	namespaced bool
	get        getFunc
}

// objectKinds maps canonical lowercase type names to typed getters.
// Secrets are left out on purpose.
var objectKinds = map[string]objectKind{
	"pod": {"Pod", "v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.CoreV1().Pods(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"service": {"Service", "v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.CoreV1().Services(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"configmap": {"ConfigMap", "v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.CoreV1().ConfigMaps(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"serviceaccount": {"ServiceAccount", "v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.CoreV1().ServiceAccounts(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"persistentvolumeclaim": {"PersistentVolumeClaim", "v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.CoreV1().PersistentVolumeClaims(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"persistentvolume": {"PersistentVolume", "v1", false, func(ctx context.Context, cs kubernetes.Interface, _, name string) (runtime.Object, error) {
		return cs.CoreV1().PersistentVolumes().Get(ctx, name, metav1.GetOptions{})
	}},
	"node": {"Node", "v1", false, func(ctx context.Context, cs kubernetes.Interface, _, name string) (runtime.Object, error) {
		return cs.CoreV1().Nodes().Get(ctx, name, metav1.GetOptions{})
	}},
	"namespace": {"Namespace", "v1", false, func(ctx context.Context, cs kubernetes.Interface, _, name string) (runtime.Object, error) {
		return cs.CoreV1().Namespaces().Get(ctx, name, metav1.GetOptions{})
	}},
	"deployment": {"Deployment", "apps/v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.AppsV1().Deployments(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"statefulset": {"StatefulSet", "apps/v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.AppsV1().StatefulSets(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"daemonset": {"DaemonSet", "apps/v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.AppsV1().DaemonSets(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"replicaset": {"ReplicaSet", "apps/v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.AppsV1().ReplicaSets(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"job": {"Job", "batch/v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.BatchV1().Jobs(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"cronjob": {"CronJob", "batch/v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.BatchV1().CronJobs(ns).Get(ctx, name, metav1.GetOptions{})
	}},
	"ingress": {"Ingress", "networking.k8s.io/v1", true, func(ctx context.Context, cs kubernetes.Interface, ns, name string) (runtime.Object, error) {
		return cs.NetworkingV1().Ingresses(ns).Get(ctx, name, metav1.GetOptions{})
	}},
}

var objectAliases = map[string]string{
	"po": "pod", "pods": "pod",
	"svc": "service", "services": "service",
	"cm": "configmap", "configmaps": "configmap",
	"sa": "serviceaccount", "serviceaccounts": "serviceaccount",
	"pvc": "persistentvolumeclaim", "persistentvolumeclaims": "persistentvolumeclaim",
	"pv": "persistentvolume", "persistentvolumes": "persistentvolume",
	"no": "node", "nodes": "node",
	"ns": "namespace", "namespaces": "namespace",
	"deploy": "deployment", "deployments": "deployment",
	"sts": "statefulset", "statefulsets": "statefulset",
	"ds": "daemonset", "daemonsets": "daemonset",
	"rs": "replicaset", "replicasets": "replicaset",
	"jobs": "job",
	"cj": "cronjob", "cronjobs": "cronjob",
	"ing": "ingress", "ingresses": "ingress",
}

// canonicalType resolves a user-supplied type name or alias.
func canonicalType(t string) (string, bool) {
	t = strings.ToLower(strings.TrimSpace(t))
	if _, ok := objectKinds[t]; ok {
		return t, true
	}
	if c, ok := objectAliases[t]; ok {
		return c, true
	}
	return "", false
}

// ObjectNamespace returns the namespace ObjectYAML would read resourceType
// from: "" for cluster-scoped or unknown types, "default" when ns is empty.
func ObjectNamespace(resourceType, ns string) string {
	canonical, ok := canonicalType(resourceType)
	if !ok || !objectKinds[canonical].namespaced {
		return ""
	}
	return defaultNamespace(ns)
}

// ObjectYAML fetches one object and renders its manifest as YAML, with
// apiVersion and kind filled in and managedFields dropped.
func (r *Reader) ObjectYAML(ctx context.Context, resourceType, name, namespace string) (ObjectYAMLResult, error) {
	res := ObjectYAMLResult{ResourceType: resourceType, Name: name, Namespace: namespace}

	canonical, ok := canonicalType(resourceType)
	if !ok {
		err := &UnsupportedTypeError{Type: resourceType}
		res.Outcome = failed(err)
		return res, err
	}
	kind := objectKinds[canonical]
	res.ResourceType = canonical
	if kind.namespaced {
		namespace = defaultNamespace(namespace)
	} else {
		namespace = ""
	}
	res.Namespace = namespace

	cs, err := r.kube()
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}

	obj, err := kind.get(ctx, cs, namespace, name)
	if err != nil {
		err = lookupError(err, canonical, name, namespace)
		res.Outcome = failed(err)
		return res, err
	}

	out, err := renderYAML(obj, kind)
	if err != nil {
		res.Outcome = failed(err)
		return res, err
	}
	res.YAMLContent = out
	res.Outcome = succeeded()
	return res, nil
}

func renderYAML(obj runtime.Object, kind objectKind) (string, error) {
	obj = obj.DeepCopyObject()
	obj.GetObjectKind().SetGroupVersionKind(schema.FromAPIVersionAndKind(kind.apiVersion, kind.kind))
	if accessor, err := meta.Accessor(obj); err == nil {
		accessor.SetManagedFields(nil)
	}
	out, err := yaml.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("rendering %s as YAML: %w", kind.kind, err)
	}
	return string(out), nil
}
